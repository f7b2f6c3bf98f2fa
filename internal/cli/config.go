package cli

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/xxxsen/romscraper/internal/config"
)

const (
	defaultConfigName = "config.json"
	systemConfigPath  = "/etc/romscraper.json"
)

// LoadConfig resolves the configuration file. An explicit path must exist;
// otherwise ./config.json and /etc/romscraper.json are tried and the
// defaults are used when neither exists.
func LoadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		if err != nil {
			return nil, "", err
		}
		return cfg, explicit, nil
	}

	searchPaths := make([]string, 0, 2)
	if wd, err := os.Getwd(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(wd, defaultConfigName))
	}
	searchPaths = append(searchPaths, systemConfigPath)

	cfg, path, err := config.LoadFirst(searchPaths...)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
