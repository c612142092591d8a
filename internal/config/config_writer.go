package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Write renders cfg to path, as TOML when the path ends in .toml and YAML
// otherwise. An existing file is left untouched unless overwrite is set.
func Write(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		_, err := os.Stat(path)
		if err == nil {
			return fmt.Errorf("config %q already exists", path)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("check config %q: %w", path, err)
		}
	}

	data, err := marshal(path, cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure config dir %q: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write temp config %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit config %q: %w", path, err)
	}

	return nil
}

func marshal(path string, cfg Config) ([]byte, error) {
	if isTOML(path) {
		data, err := toml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal toml config: %w", err)
		}
		return data, nil
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml config: %w", err)
	}
	return data, nil
}
