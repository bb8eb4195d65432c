package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config is the on-disk configuration. All durations are Go duration
// strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Recorder  RecorderConfig  `json:"recorder"`
	Assets    AssetsConfig    `json:"assets"`
	HTTP      HTTPConfig      `json:"http"`

	// PIDFile is written by `replaycap run` and read by `replaycap reload`.
	PIDFile string `json:"pid_file,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Format is "console" (default) or "json".
	Format  string      `json:"format,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the capture store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./replaycap.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int    `json:"max_conns,omitempty"`
}

type SchedulerConfig struct {
	// Capacity is the number of concurrent recordings. Default 10.
	Capacity     int    `json:"capacity,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"` // default "1s"
}

type RecorderConfig struct {
	PlaySelector string `json:"play_selector,omitempty"`
	PlayTimeout  string `json:"play_timeout,omitempty"` // default "30s"

	ChromeBin    string `json:"chrome_bin,omitempty"`
	ExtensionDir string `json:"extension_dir"`
	Headless     bool   `json:"headless,omitempty"`
	UserDataDir  string `json:"user_data_dir,omitempty"`
	// HiddenEnv lists environment variable prefixes withheld from Chromium.
	HiddenEnv []string `json:"hidden_env,omitempty"`
}

type AssetFile struct {
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

type AssetsConfig struct {
	StorageRoot string  `json:"storage_root,omitempty"` // default "storage"
	Concurrency int     `json:"concurrency,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	Manifest    string  `json:"manifest,omitempty"`
	// Files overrides the built-in fixed file list when non-empty.
	Files []AssetFile `json:"files,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"

	// Pprof mounts /debug/pprof/ on the API listener. A non-loopback addr
	// needs PprofToken.
	Pprof      bool   `json:"pprof,omitempty"`
	PprofToken string `json:"pprof_token,omitempty"` // never logged

	// TLSCert and TLSKey switch the listener to HTTPS. Both or neither.
	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`
}

// TLS reports whether the API is served over HTTPS.
func (h HTTPConfig) TLS() bool {
	return strings.TrimSpace(h.TLSCert) != "" && strings.TrimSpace(h.TLSKey) != ""
}

const (
	DefaultStorageRoot = "storage"
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultPIDFile     = "replaycap.pid"
)

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	case "postgres", "postgresql", "pq":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Scheduler.Capacity < 0 {
		errs = append(errs, errors.New("scheduler.capacity must be >= 0"))
	}
	if c.Assets.Concurrency < 0 {
		errs = append(errs, errors.New("assets.concurrency must be >= 0"))
	}
	if c.Assets.RatePerSec < 0 {
		errs = append(errs, errors.New("assets.rate_per_sec must be >= 0"))
	}
	for i, f := range c.Assets.Files {
		if strings.TrimSpace(f.Path) == "" {
			errs = append(errs, fmt.Errorf("assets.files[%d]: path is required", i))
		}
	}
	errs = append(errs, c.HTTP.validateTLS())
	for path, raw := range map[string]string{
		"storage.busy_timeout":    c.Storage.BusyTimeout,
		"scheduler.poll_interval": c.Scheduler.PollInterval,
		"recorder.play_timeout":   c.Recorder.PlayTimeout,
		"assets.timeout":          c.Assets.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h HTTPConfig) validateTLS() error {
	cert, key := strings.TrimSpace(h.TLSCert), strings.TrimSpace(h.TLSKey)
	if cert == "" && key == "" {
		return nil
	}
	if cert == "" || key == "" {
		return errors.New("http.tls_cert and http.tls_key must be set together")
	}
	var errs []error
	for field, path := range map[string]string{"http.tls_cert": cert, "http.tls_key": key} {
		if st, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		} else if st.IsDir() {
			errs = append(errs, fmt.Errorf("%s: %s is a directory", field, path))
		}
	}
	return errors.Join(errs...)
}
