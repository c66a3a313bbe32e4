package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// ConfigFileNames are probed, in order, under <cwd>/.pi/rlm/.
var ConfigFileNames = []string{"config.json", "config.json5", "config.yaml", "config.yml"}

// Load starts from the defaults and overlays the first config file found
// under dir. A missing file is not an error; a malformed one is.
func Load(dir string) (Config, error) {
	cfg := Default()
	for _, name := range ConfigFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := unmarshalInto(&cfg, name, data); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	return cfg, nil
}

func unmarshalInto(cfg *Config, name string, data []byte) error {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json", ".json5":
		return json5.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}
