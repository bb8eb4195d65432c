package config

import (
	"reflect"
	"sort"
	"strings"

	"replaycap/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets (storage.dsn) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(o.Driver) != strings.TrimSpace(n.Driver) ||
		strings.TrimSpace(o.Path) != strings.TrimSpace(n.Path) ||
		o.DSN != n.DSN ||
		o.BusyTimeout != n.BusyTimeout ||
		o.MaxConns != n.MaxConns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(n.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(n.DSN) != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.capacity", newCfg.Scheduler.Capacity),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
		)
	}

	or, nr := oldCfg.Recorder, newCfg.Recorder
	if or.PlaySelector != nr.PlaySelector || or.PlayTimeout != nr.PlayTimeout {
		changed = append(changed, "recorder")
		attrs = append(attrs,
			logx.String("recorder.play_selector", nr.PlaySelector),
			logx.String("recorder.play_timeout", nr.PlayTimeout),
		)
	}
	if or.ChromeBin != nr.ChromeBin || or.ExtensionDir != nr.ExtensionDir ||
		or.Headless != nr.Headless || or.UserDataDir != nr.UserDataDir ||
		!reflect.DeepEqual(or.HiddenEnv, nr.HiddenEnv) {
		changed = append(changed, "browser")
		attrs = append(attrs,
			logx.String("recorder.extension_dir", nr.ExtensionDir),
			logx.Bool("recorder.headless", nr.Headless),
		)
	}

	if !reflect.DeepEqual(oldCfg.Assets, newCfg.Assets) {
		changed = append(changed, "assets")
		attrs = append(attrs,
			logx.Int("assets.concurrency", newCfg.Assets.Concurrency),
			logx.Any("assets.rate_per_sec", newCfg.Assets.RatePerSec),
			logx.Int("assets.files", len(newCfg.Assets.Files)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.tls", newCfg.HTTP.TLS()),
		)
	}

	if oldCfg.PIDFile != newCfg.PIDFile {
		changed = append(changed, "pid_file")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports changed sections that only take effect after a
// restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "browser", "http", "pid_file":
			out = append(out, s)
		}
	}
	return out
}
