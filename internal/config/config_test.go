package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const jsonConfig = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "sqlite", "path": "./replaycap.db"},
  "scheduler": {"capacity": 3, "poll_interval": "2s"},
  "recorder": {"extension_dir": "./extension", "play_timeout": "45s"},
  "assets": {"concurrency": 4, "files": [{"path": "metadata.xml", "enabled": true}]},
  "http": {"enabled": true, "addr": "127.0.0.1:9090"}
}`

const yamlConfig = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: sqlite
  path: ./replaycap.db
scheduler:
  capacity: 3
  poll_interval: 2s
recorder:
  extension_dir: ./extension
  play_timeout: 45s
assets:
  concurrency: 4
  files:
    - path: metadata.xml
      enabled: true
http:
  enabled: true
  addr: 127.0.0.1:9090
`

const tomlConfig = `
[logging]
level = "debug"
console = true
[logging.file]
enabled = false
path = ""

[storage]
driver = "sqlite"
path = "./replaycap.db"

[scheduler]
capacity = 3
poll_interval = "2s"

[recorder]
extension_dir = "./extension"
play_timeout = "45s"

[assets]
concurrency = 4
[[assets.files]]
path = "metadata.xml"
enabled = true

[http]
enabled = true
addr = "127.0.0.1:9090"
`

func noEnv(string) (string, bool) { return "", false }

func writeConfig(t *testing.T, name, body string) *ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.SetEnv(noEnv)
	return m
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name, file, body string
	}{
		{"json", "config.json", jsonConfig},
		{"yaml", "config.yaml", yamlConfig},
		{"toml", "config.toml", tomlConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := writeConfig(t, tt.file, tt.body).Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if cfg.Scheduler.Capacity != 3 || cfg.Scheduler.PollInterval != "2s" {
				t.Fatalf("scheduler = %+v", cfg.Scheduler)
			}
			if cfg.Recorder.ExtensionDir != "./extension" || cfg.Recorder.PlayTimeout != "45s" {
				t.Fatalf("recorder = %+v", cfg.Recorder)
			}
			if len(cfg.Assets.Files) != 1 || cfg.Assets.Files[0].Path != "metadata.xml" || !cfg.Assets.Files[0].Enabled {
				t.Fatalf("assets.files = %+v", cfg.Assets.Files)
			}
			if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:9090" {
				t.Fatalf("http = %+v", cfg.HTTP)
			}
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, "config.json", `{"scheduler": {"capacity": 1, "workers": 4}}`)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "workers") {
		t.Fatalf("Parse err = %v, want unknown field", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := writeConfig(t, "config.json", `{} {}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok", Config{}, ""},
		{"postgres without dsn", Config{Storage: StorageConfig{Driver: "postgres"}}, "storage.dsn"},
		{"unknown driver", Config{Storage: StorageConfig{Driver: "mongo"}}, "unknown driver"},
		{"bad duration", Config{Scheduler: SchedulerConfig{PollInterval: "soon"}}, "scheduler.poll_interval"},
		{"negative capacity", Config{Scheduler: SchedulerConfig{Capacity: -1}}, "capacity"},
		{"empty asset path", Config{Assets: AssetsConfig{Files: []AssetFile{{Enabled: true}}}}, "assets.files[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"REPLAYCAP_DB_DRIVER":    "postgres",
		"REPLAYCAP_DB_DSN":       "postgres://localhost/replaycap",
		"REPLAYCAP_STORAGE_ROOT": "/var/lib/replaycap",
		"REPLAYCAP_CAPACITY":     "4",
		"REPLAYCAP_HTTP_ADDR":    " ",
	}
	cfg := Config{HTTP: HTTPConfig{Addr: "127.0.0.1:8080"}}
	ApplyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://localhost/replaycap" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Assets.StorageRoot != "/var/lib/replaycap" || cfg.Scheduler.Capacity != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Fatalf("blank override replaced http.addr: %q", cfg.HTTP.Addr)
	}
}

func TestApplyEnvTLSPaths(t *testing.T) {
	env := map[string]string{
		"REPLAYCAP_SSL_CERT_PATH": "/etc/replaycap/cert.pem",
		"REPLAYCAP_SSL_KEY_PATH":  "/etc/replaycap/key.pem",
	}
	var cfg Config
	ApplyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.HTTP.TLSCert != "/etc/replaycap/cert.pem" || cfg.HTTP.TLSKey != "/etc/replaycap/key.pem" || !cfg.HTTP.TLS() {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
}

func TestValidateTLS(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	for _, p := range []string{cert, key} {
		if err := os.WriteFile(p, []byte("pem"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	tests := []struct {
		name      string
		cert, key string
		wantErr   string
	}{
		{name: "plain http", cert: "", key: ""},
		{name: "both present", cert: cert, key: key},
		{name: "key only", cert: "", key: key, wantErr: "together"},
		{name: "missing cert", cert: filepath.Join(dir, "nope.pem"), key: key, wantErr: "http.tls_cert"},
		{name: "directory key", cert: cert, key: dir, wantErr: "directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{HTTP: HTTPConfig{TLSCert: tt.cert, TLSKey: tt.key}}
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("REPLAYCAP_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("REPLAYCAP_TEST_DOTENV") })

	got, err := LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	if err != nil || got != path {
		t.Fatalf("LoadDotEnv = %q, %v", got, err)
	}
	if v := os.Getenv("REPLAYCAP_TEST_DOTENV"); v != "from-file" {
		t.Fatalf("env = %q", v)
	}
}

func TestReloadPublishes(t *testing.T) {
	m := writeConfig(t, "config.json", `{"scheduler": {"capacity": 1}}`)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if _, err := m.Reload(context.Background()); !errors.Is(err, ErrUnchanged) {
		t.Fatalf("Reload err = %v, want ErrUnchanged", err)
	}
	if err := os.WriteFile(m.Path(), []byte(`{"scheduler": {"capacity": 5}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Scheduler.Capacity != 5 {
			t.Fatalf("published capacity = %d", cfg.Scheduler.Capacity)
		}
	default:
		t.Fatal("no config published")
	}
	if m.Get().Scheduler.Capacity != 5 {
		t.Fatal("reloaded config not committed")
	}
}

func TestReloadValidatorRejects(t *testing.T) {
	m := writeConfig(t, "config.json", `{"scheduler": {"capacity": 1}}`)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Scheduler.Capacity > 2 {
			return errors.New("too many")
		}
		return nil
	})
	if err := os.WriteFile(m.Path(), []byte(`{"scheduler": {"capacity": 9}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected validator rejection")
	}
	if m.Get().Scheduler.Capacity != 1 {
		t.Fatal("rejected config was committed")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	m := writeConfig(t, "config.json", `{"scheduler": {"capacity": 1}}`)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(600 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Scheduler.Capacity != 7 {
				t.Fatalf("capacity = %d", cfg.Scheduler.Capacity)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees it.
			if err := os.WriteFile(m.Path(), []byte(`{"scheduler": {"capacity": 7}}`), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("watch did not publish")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{Storage: StorageConfig{Driver: "postgres", DSN: "postgres://a"}}
	next := &Config{
		Storage:   StorageConfig{Driver: "postgres", DSN: "postgres://b"},
		Scheduler: SchedulerConfig{Capacity: 4},
		Recorder:  RecorderConfig{PlayTimeout: "10s"},
	}
	changed, _ := SummarizeConfigChange(old, next)
	if strings.Join(changed, ",") != "recorder,scheduler,storage" {
		t.Fatalf("changed = %v", changed)
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("restart required = %v", got)
	}
}

func TestDurationOr(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Second},
		{"0s", time.Second},
		{"250ms", 250 * time.Millisecond},
		{"bogus", time.Second},
	}
	for _, tt := range tests {
		if got := DurationOr(tt.raw, time.Second); got != tt.want {
			t.Fatalf("DurationOr(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}
