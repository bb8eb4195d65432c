package app

import (
	"fmt"
	"strings"
	"time"

	"replaycap/internal/assets"
	"replaycap/internal/browser"
	"replaycap/internal/config"
	"replaycap/internal/recorder"
	"replaycap/internal/scheduler"
	"replaycap/internal/storage"
	"replaycap/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "replaycap.db"
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy <= 0 {
			busy = time.Second
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "file":
		if path == "" {
			path = "replaycap_store"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "postgres", "postgresql", "pq":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN, MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	root := strings.TrimSpace(cfg.Assets.StorageRoot)
	if root == "" {
		root = config.DefaultStorageRoot
	}
	return scheduler.Config{
		Capacity:     cfg.Scheduler.Capacity,
		PollInterval: config.DurationOr(cfg.Scheduler.PollInterval, scheduler.DefaultPollInterval),
		AssetRoot:    root,
		Session: recorder.Options{
			PlaySelector: cfg.Recorder.PlaySelector,
			PlayTimeout:  config.DurationOr(cfg.Recorder.PlayTimeout, recorder.DefaultPlayTimeout),
		},
	}
}

func mapAssetsConfig(cfg *config.Config) assets.Config {
	ac := assets.Config{
		Manifest:    strings.TrimSpace(cfg.Assets.Manifest),
		Concurrency: cfg.Assets.Concurrency,
		RatePerSec:  cfg.Assets.RatePerSec,
		Timeout:     config.DurationOr(cfg.Assets.Timeout, 0),
	}
	if len(cfg.Assets.Files) > 0 {
		ac.Files = make([]assets.File, 0, len(cfg.Assets.Files))
		for _, f := range cfg.Assets.Files {
			ac.Files = append(ac.Files, assets.File{Path: strings.TrimSpace(f.Path), Enabled: f.Enabled})
		}
	}
	return ac
}

func mapBrowserConfig(cfg *config.Config) browser.Config {
	hidden := cfg.Recorder.HiddenEnv
	if len(hidden) == 0 {
		hidden = []string{config.EnvPrefix}
	}
	return browser.Config{
		Bin:          strings.TrimSpace(cfg.Recorder.ChromeBin),
		ExtensionDir: strings.TrimSpace(cfg.Recorder.ExtensionDir),
		Headless:     cfg.Recorder.Headless,
		UserDataDir:  strings.TrimSpace(cfg.Recorder.UserDataDir),
		HiddenEnv:    hidden,
	}
}

func httpAddr(cfg *config.Config) string {
	if a := strings.TrimSpace(cfg.HTTP.Addr); a != "" {
		return a
	}
	return config.DefaultHTTPAddr
}
