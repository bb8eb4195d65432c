package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every override variable. Variables with this prefix
// are also withheld from the browser's environment by default.
const EnvPrefix = "REPLAYCAP_"

// LoadDotEnv loads the first existing file of paths into the process
// environment. Variables already set win. Missing files are not an error.
func LoadDotEnv(paths ...string) (string, error) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return p, err
		}
		return p, nil
	}
	return "", nil
}

// ApplyEnv overlays REPLAYCAP_* variables on cfg. lookup is usually
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DB_DRIVER", &cfg.Storage.Driver)
	str("DB_PATH", &cfg.Storage.Path)
	str("DB_DSN", &cfg.Storage.DSN)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("STORAGE_ROOT", &cfg.Assets.StorageRoot)
	str("CHROME_BIN", &cfg.Recorder.ChromeBin)
	str("EXTENSION_DIR", &cfg.Recorder.ExtensionDir)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("PID_FILE", &cfg.PIDFile)
	str("SSL_CERT_PATH", &cfg.HTTP.TLSCert)
	str("SSL_KEY_PATH", &cfg.HTTP.TLSKey)
	if v, ok := lookup(EnvPrefix + "CAPACITY"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Scheduler.Capacity = n
		}
	}
}
