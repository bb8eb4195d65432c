// Package browser connects the recorder to a real Chromium with the
// recording extension loaded, using go-rod.
//
// Chromium only lets the extension capture tabs when its id is
// whitelisted, and the id is only known after the extension is loaded. The
// bridge therefore launches twice: once to discover the id from the
// extension's background page, once more with --whitelisted-extension-id.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"replaycap/internal/recorder"
	"replaycap/pkg/logx"
)

type Config struct {
	// Bin is the Chromium executable; empty lets rod locate one.
	Bin          string
	ExtensionDir string
	// Headless must stay false for the extension to run.
	Headless    bool
	UserDataDir string
	// HiddenEnv lists variable name prefixes kept out of the browser's
	// environment.
	HiddenEnv []string
}

const backgroundPageType = "background_page"

var ErrExtensionNotFound = errors.New("browser: recorder extension background page not found")

// Bridge owns the browser process. It implements recorder.Browser.
type Bridge struct {
	cfg Config
	log logx.Logger

	mu          sync.Mutex
	launcher    *launcher.Launcher
	browser     *rod.Browser
	background  *rod.Page
	extensionID string
}

// Launch starts Chromium with the recording extension whitelisted.
func Launch(ctx context.Context, cfg Config, log logx.Logger) (*Bridge, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir, err := filepath.Abs(cfg.ExtensionDir)
	if err != nil {
		return nil, err
	}
	cfg.ExtensionDir = dir
	name, err := extensionName(dir)
	if err != nil {
		return nil, err
	}

	b := &Bridge{cfg: cfg, log: log}
	if err := b.start(ctx, name, ""); err != nil {
		return nil, err
	}
	id := b.extensionID
	b.shutdown()

	if err := b.start(ctx, name, id); err != nil {
		return nil, err
	}
	log.Info("browser ready", logx.String("extension_id", id))
	return b, nil
}

func (b *Bridge) start(ctx context.Context, extName, whitelist string) error {
	l := launcher.New().
		Context(ctx).
		Headless(b.cfg.Headless).
		Set(flags.NoSandbox).
		Set(flags.Flag("disable-setuid-sandbox")).
		Set(flags.Flag("disable-dev-shm-usage")).
		Delete(flags.Flag("disable-extensions")).
		Set(flags.Flag("load-extension"), b.cfg.ExtensionDir).
		Set(flags.Flag("disable-extensions-except"), b.cfg.ExtensionDir).
		Env(filteredEnv(os.Environ(), b.cfg.HiddenEnv)...)
	if b.cfg.Bin != "" {
		l = l.Bin(b.cfg.Bin)
	}
	if b.cfg.UserDataDir != "" {
		l = l.UserDataDir(b.cfg.UserDataDir)
	}
	if whitelist != "" {
		l = l.Set(flags.Flag("whitelisted-extension-id"), whitelist)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}
	br := rod.New().ControlURL(u)
	if err := br.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("browser: connect: %w", err)
	}

	info, err := findBackground(br, extName)
	if err != nil {
		_ = br.Close()
		l.Kill()
		return err
	}
	bg, err := br.PageFromTarget(info.TargetID)
	if err != nil {
		_ = br.Close()
		l.Kill()
		return fmt.Errorf("browser: attach background page: %w", err)
	}

	b.mu.Lock()
	b.launcher = l
	b.browser = br
	b.background = bg
	b.extensionID = extensionID(info.URL)
	b.mu.Unlock()
	b.log.Debug("browser launched", logx.String("control_url", u), logx.Bool("whitelisted", whitelist != ""))
	return nil
}

func findBackground(br *rod.Browser, extName string) (*proto.TargetTargetInfo, error) {
	res, err := proto.TargetGetTargets{}.Call(br)
	if err != nil {
		return nil, fmt.Errorf("browser: list targets: %w", err)
	}
	for _, info := range res.TargetInfos {
		if string(info.Type) == backgroundPageType && info.Title == extName {
			return info, nil
		}
	}
	return nil, ErrExtensionNotFound
}

// extensionID pulls the id out of chrome-extension://<id>/background.html.
func extensionID(u string) string {
	id := strings.TrimPrefix(u, "chrome-extension://")
	if i := strings.IndexByte(id, '/'); i >= 0 {
		id = id[:i]
	}
	return id
}

func extensionName(dir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return "", fmt.Errorf("browser: read extension manifest: %w", err)
	}
	var m struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("browser: parse extension manifest: %w", err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return "", errors.New("browser: extension manifest has no name")
	}
	return m.Name, nil
}

func filteredEnv(env, hidden []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		keep := true
		for _, p := range hidden {
			if p != "" && strings.HasPrefix(name, p) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, kv)
		}
	}
	return out
}

func (b *Bridge) ExtensionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extensionID
}

func (b *Bridge) NewPage(ctx context.Context) (recorder.Page, error) {
	b.mu.Lock()
	br := b.browser
	b.mu.Unlock()
	if br == nil {
		return nil, errors.New("browser: not running")
	}
	p, err := br.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	return &page{p: p}, nil
}

func (b *Bridge) Agent(ctx context.Context) (recorder.Agent, error) {
	b.mu.Lock()
	bg := b.background
	b.mu.Unlock()
	if bg == nil {
		return nil, ErrExtensionNotFound
	}
	return &agent{bg: bg}, nil
}

func (b *Bridge) shutdown() {
	b.mu.Lock()
	br, l := b.browser, b.launcher
	b.browser, b.launcher, b.background = nil, nil, nil
	b.mu.Unlock()
	if br != nil {
		_ = br.Close()
	}
	if l != nil {
		l.Kill()
	}
}

func (b *Bridge) Close() error {
	b.shutdown()
	b.log.Info("browser closed")
	return nil
}
