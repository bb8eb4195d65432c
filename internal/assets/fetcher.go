// Package assets mirrors a replay's presentation files to local disk.
//
// Fetch runs two phases. The first downloads a fixed list of well-known
// files. The second reads the slide manifest (shapes.svg), collects every
// referenced image and downloads those concurrently. A file that already
// exists with a non-zero size is never fetched again, and a failed download
// never leaves a partial file behind.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"replaycap/pkg/logx"
)

// File is one entry of the fixed download list.
type File struct {
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

type Config struct {
	Files    []File
	Manifest string
	// Concurrency bounds parallel downloads within one Fetch call.
	Concurrency int
	// RatePerSec limits request starts per Fetch call; 0 disables it.
	RatePerSec float64
	// Timeout bounds a single file download; 0 means no bound.
	Timeout time.Duration
}

// DefaultFiles is the known replay file set. Only the metadata and the
// slide manifest are fetched unless configured otherwise.
func DefaultFiles() []File {
	return []File{
		{Path: "metadata.xml", Enabled: true},
		{Path: "shapes.svg", Enabled: true},
		{Path: "captions.json"},
		{Path: "cursor.xml"},
		{Path: "deskshare.xml"},
		{Path: "panzooms.xml"},
		{Path: "presentation_text.json"},
		{Path: "slides_new.xml"},
		{Path: "video/webcams.webm"},
		{Path: "video/webcams.mp4"},
		{Path: "video/deskshare.webm"},
		{Path: "video/deskshare.mp4"},
	}
}

const DefaultManifest = "shapes.svg"

func (c Config) withDefaults() Config {
	if c.Files == nil {
		c.Files = DefaultFiles()
	}
	if strings.TrimSpace(c.Manifest) == "" {
		c.Manifest = DefaultManifest
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// FetchError describes one failed asset. The batch continues past it.
type FetchError struct {
	URL  string
	Path string
	Err  error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

var errEscapesDir = errors.New("path escapes target directory")

// Result summarizes a Fetch call.
type Result struct {
	Fetched int
	Skipped int
	Failed  int
	Errors  []error
}

type Fetcher struct {
	mu     sync.RWMutex
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, client *http.Client, log logx.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{cfg: cfg.withDefaults(), client: client, log: log}
}

// Apply swaps the configuration for subsequent Fetch calls.
func (f *Fetcher) Apply(cfg Config) {
	f.mu.Lock()
	f.cfg = cfg.withDefaults()
	f.mu.Unlock()
}

func (f *Fetcher) config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// Fetch mirrors baseURL into targetDir. Individual failures are logged and
// reported in the Result; Fetch itself does not fail.
func (f *Fetcher) Fetch(ctx context.Context, baseURL, targetDir string) Result {
	cfg := f.config()
	run := &batch{
		f:       f,
		base:    strings.TrimRight(baseURL, "/"),
		dir:     targetDir,
		timeout: cfg.Timeout,
	}
	if cfg.RatePerSec > 0 {
		run.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec)))
	}

	var fixed []string
	for _, file := range cfg.Files {
		if file.Enabled && strings.TrimSpace(file.Path) != "" {
			fixed = append(fixed, file.Path)
		}
	}
	for _, rel := range fixed {
		run.one(ctx, rel)
	}

	refs, err := readManifest(filepath.Join(targetDir, filepath.FromSlash(cfg.Manifest)))
	switch {
	case errors.Is(err, os.ErrNotExist):
		f.log.Debug("no slide manifest", logx.String("dir", targetDir))
	case err != nil:
		f.log.Warn("slide manifest unreadable", logx.String("dir", targetDir), logx.Err(err))
	default:
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for _, rel := range refs {
			rel := rel
			g.Go(func() error {
				run.one(gctx, rel)
				return nil
			})
		}
		_ = g.Wait()
	}

	res := run.result()
	f.log.Info("assets fetched",
		logx.String("base", run.base),
		logx.Int("fetched", res.Fetched),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
	)
	return res
}

// batch carries the per-Fetch state shared by concurrent downloads.
type batch struct {
	f       *Fetcher
	base    string
	dir     string
	timeout time.Duration
	limiter *rate.Limiter

	mu  sync.Mutex
	res Result
}

func (b *batch) result() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.res
}

func (b *batch) one(ctx context.Context, rel string) {
	u := b.base + "/" + strings.TrimLeft(rel, "/")
	dst, err := b.resolve(rel)
	if err == nil {
		var skipped bool
		skipped, err = b.download(ctx, u, dst)
		if err == nil {
			b.mu.Lock()
			if skipped {
				b.res.Skipped++
			} else {
				b.res.Fetched++
			}
			b.mu.Unlock()
			return
		}
	}
	fe := &FetchError{URL: u, Path: dst, Err: err}
	b.f.log.Warn("asset fetch failed", logx.String("url", u), logx.Err(err))
	b.mu.Lock()
	b.res.Failed++
	b.res.Errors = append(b.res.Errors, fe)
	b.mu.Unlock()
}

func (b *batch) resolve(rel string) (string, error) {
	slashed := strings.ReplaceAll(rel, `\`, "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", errEscapesDir
		}
	}
	clean := path.Clean("/" + slashed)
	if clean == "/" {
		return "", errEscapesDir
	}
	return filepath.Join(b.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// download returns skipped=true when dst is already complete.
func (b *batch) download(ctx context.Context, u, dst string) (skipped bool, err error) {
	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		return true, nil
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := b.f.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return false, err
	}
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return false, err
	}
	return false, nil
}
