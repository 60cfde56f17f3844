// Package settings loads the optional machine-wide settings file, which holds
// defaults an operator would otherwise repeat on every invocation.
package settings

import (
	"os"

	"github.com/npcnix/npcnix/pkg/activate"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// DefaultPath is read unless another path is given.
const DefaultPath = "/etc/npcnix/npcnix.toml"

// Activate holds options passed to every activation.
type Activate struct {
	ExtraSubstituters      []string `toml:"extra-substituters"`
	ExtraTrustedPublicKeys []string `toml:"extra-trusted-public-keys"`
}

// Settings is the content of the settings file.
type Settings struct {
	S3Backend string   `toml:"s3-backend"`
	Activate  Activate `toml:"activate"`
}

// Options converts the activation settings.
func (s Settings) Options() activate.Options {
	return activate.Options{
		ExtraSubstituters:      s.Activate.ExtraSubstituters,
		ExtraTrustedPublicKeys: s.Activate.ExtraTrustedPublicKeys,
	}
}

// Load reads the settings file at path. A missing file yields empty settings.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, errors.Wrapf(err, "failed to read settings %s", path)
	}
	var s Settings
	if err := toml.Unmarshal(raw, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "failed to parse settings %s", path)
	}
	return s, nil
}
