package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/qmuxd/internal/config"
	"github.com/rs/zerolog/log"
)

// fileSettings carries what the file said beyond the config itself.
type fileSettings struct {
	logLevelSet bool
}

// loadServiceConfig decodes path over the defaults. A missing file at the
// default location is not an error.
func loadServiceConfig(path string, explicit bool) (config.Config, fileSettings, error) {
	cfg := config.Default()
	var fs fileSettings

	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("qmuxd.config not found, using defaults")
			return cfg, fs, nil
		}
		return config.Config{}, fs, fmt.Errorf("load qmuxd config: %w", err)
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return config.Config{}, fs, fmt.Errorf("load qmuxd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		log.Warn().Str("keys", strings.Join(keys, ",")).Msg("qmuxd.config unknown keys ignored")
	}
	if meta.IsDefined("debug", "log_level") {
		fs.logLevelSet = strings.TrimSpace(cfg.Debug.LogLevel) != ""
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(cfg.Admin.CorsOrigins)
	}
	return cfg, fs, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		v := strings.TrimSpace(o)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
