package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the defaults as a TOML file.
func Template() (string, error) {
	b, err := toml.Marshal(Default())
	if err != nil {
		return "", err
	}
	return templateHeader + string(b), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const templateHeader = `# qmuxd configuration. Durations use Go syntax (500ms, 5s).
# [debug] trace lists services to dump at startup, e.g. ["wms", "voice"].

`
