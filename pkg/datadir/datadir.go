// Package datadir manages the agent's data directory: the persistent config
// file and the activation lock file living next to it.
package datadir

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/npcnix/npcnix/pkg/config"
	"github.com/npcnix/npcnix/pkg/fsutil"
	"github.com/pkg/errors"
)

const (
	// DefaultPath is where the agent keeps its state unless told otherwise.
	DefaultPath = "/var/lib/npcnix"

	configFileName = "config.json"
	lockFileName   = "activate.lock"
)

type DataDir struct {
	path string
	now  func() time.Time
}

func New(path string) *DataDir {
	return &DataDir{path: path, now: time.Now}
}

func (d *DataDir) Path() string {
	return d.path
}

func (d *DataDir) ConfigPath() string {
	return filepath.Join(d.path, configFileName)
}

func (d *DataDir) LockPath() string {
	return filepath.Join(d.path, lockFileName)
}

// ConfigExists reports whether a config has ever been stored.
func (d *DataDir) ConfigExists() (bool, error) {
	_, err := os.Stat(d.ConfigPath())
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	}
	return false, errors.Wrap(err, "failed to stat config")
}

// LoadConfig reads the stored config, or returns the default config if none
// was stored yet.
func (d *DataDir) LoadConfig() (config.Config, error) {
	data, err := os.ReadFile(d.ConfigPath())
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	if err != nil {
		return config.Config{}, errors.Wrap(err, "failed to load config")
	}
	var c config.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return config.Config{}, errors.Wrapf(err, "failed to parse config %s", d.ConfigPath())
	}
	return c, nil
}

// StoreConfig atomically replaces the stored config. Expired state is dropped
// before writing.
func (d *DataDir) StoreConfig(c config.Config) error {
	if err := os.MkdirAll(d.path, 0755); err != nil {
		return errors.Wrapf(err, "failed to create data directory %s", d.path)
	}
	return errors.WithMessage(fsutil.WriteJSON(d.ConfigPath(), c.Normalize(d.now())), "failed to store config")
}

// Update loads the config, applies fn and stores the result.
func (d *DataDir) Update(fn func(config.Config) (config.Config, error)) (config.Config, error) {
	c, err := d.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	c, err = fn(c)
	if err != nil {
		return config.Config{}, err
	}
	if err := d.StoreConfig(c); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

// UpdateLastReconfiguration records a successful activation of configuration
// at fingerprint.
func (d *DataDir) UpdateLastReconfiguration(configuration, fingerprint string) error {
	_, err := d.Update(func(c config.Config) (config.Config, error) {
		return c.WithLastReconfiguration(configuration, fingerprint, d.now()), nil
	})
	return err
}

// CurrentRemote returns override when given, the configured remote otherwise.
func (d *DataDir) CurrentRemote(override *url.URL) (*url.URL, error) {
	if override != nil {
		return override, nil
	}
	c, err := d.LoadConfig()
	if err != nil {
		return nil, err
	}
	return c.Remote()
}

// CurrentConfiguration returns override when given, the configured name
// otherwise.
func (d *DataDir) CurrentConfiguration(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	c, err := d.LoadConfig()
	if err != nil {
		return "", err
	}
	return c.Configuration()
}
