// Package config holds the persistent, per machine agent configuration.
//
// A Config is an immutable value: every change goes through a With* transition
// that returns a new Config, and the result is written back to disk as a
// whole by the data directory.
package config

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultMinSleep is the poll interval right after a reconfiguration.
	DefaultMinSleep = time.Minute
	// DefaultMaxSleep is the poll interval once the configuration has been
	// stable for DefaultMaxSleepAfter.
	DefaultMaxSleep = time.Hour
	// DefaultMaxSleepAfter is the ramp window between min and max sleep.
	DefaultMaxSleepAfter = 48 * time.Hour
)

var (
	ErrRemoteNotSet        = errors.New("remote not set")
	ErrConfigurationNotSet = errors.New("configuration not set")
)

// Config is the persistent agent config stored as config.json in the data
// directory.
type Config struct {
	remote        *url.URL
	configuration string

	lastConfiguration   string
	lastFingerprint     string
	lastReconfiguration time.Time

	minSleep      time.Duration
	maxSleep      time.Duration
	maxSleepAfter time.Duration

	paused *Pause
}

// Default returns the config used when no config file exists yet.
func Default() Config {
	return Config{
		minSleep:      DefaultMinSleep,
		maxSleep:      DefaultMaxSleep,
		maxSleepAfter: DefaultMaxSleepAfter,
	}
}

// ParseRemote validates a remote locator. Only absolute URLs with a scheme are
// accepted since the scheme selects the transport.
func ParseRemote(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid remote %q", raw)
	}
	if u.Scheme == "" {
		return nil, errors.Errorf("remote %q has no scheme", raw)
	}
	return u, nil
}

func (c Config) Remote() (*url.URL, error) {
	if c.remote == nil {
		return nil, ErrRemoteNotSet
	}
	u := *c.remote
	return &u, nil
}

func (c Config) HasRemote() bool {
	return c.remote != nil
}

func (c Config) Configuration() (string, error) {
	if c.configuration == "" {
		return "", ErrConfigurationNotSet
	}
	return c.configuration, nil
}

func (c Config) HasConfiguration() bool {
	return c.configuration != ""
}

func (c Config) LastConfiguration() string {
	return c.lastConfiguration
}

func (c Config) LastFingerprint() string {
	return c.lastFingerprint
}

// LastReconfiguration is the time of the last activation. The zero time means
// the machine was never reconfigured by the agent.
func (c Config) LastReconfiguration() time.Time {
	return c.lastReconfiguration
}

func (c Config) MinSleep() time.Duration      { return c.minSleep }
func (c Config) MaxSleep() time.Duration      { return c.maxSleep }
func (c Config) MaxSleepAfter() time.Duration { return c.maxSleepAfter }

// Paused returns the stored pause state, expired or not.
func (c Config) Paused() (Pause, bool) {
	if c.paused == nil {
		return Pause{}, false
	}
	return *c.paused, true
}

// IsPaused reports whether a pause is in effect at now.
func (c Config) IsPaused(now time.Time) bool {
	return c.paused != nil && c.paused.Active(now)
}

func (c Config) WithRemote(remote *url.URL) Config {
	u := *remote
	c.remote = &u
	return c
}

// WithRemoteMaybeInit sets the remote, unless init is set and a remote is
// already configured.
func (c Config) WithRemoteMaybeInit(remote *url.URL, init bool) Config {
	if init && c.remote != nil {
		return c
	}
	return c.WithRemote(remote)
}

func (c Config) WithConfiguration(configuration string) (Config, error) {
	if configuration == "" {
		return c, errors.New("configuration name must not be empty")
	}
	c.configuration = configuration
	return c, nil
}

// WithConfigurationMaybeInit sets the configuration name, unless init is set
// and a name is already configured.
func (c Config) WithConfigurationMaybeInit(configuration string, init bool) (Config, error) {
	if init && c.configuration != "" {
		return c, nil
	}
	return c.WithConfiguration(configuration)
}

// WithLastReconfiguration records a successful activation. The recorded time
// never moves backwards.
func (c Config) WithLastReconfiguration(configuration, fingerprint string, at time.Time) Config {
	c.lastConfiguration = configuration
	c.lastFingerprint = fingerprint
	if at.After(c.lastReconfiguration) {
		c.lastReconfiguration = at
	}
	return c
}

// checkWholeSeconds rejects durations the wire format cannot hold, which
// stores sleep settings as whole seconds.
func checkWholeSeconds(what string, d time.Duration) error {
	if d < time.Second {
		return errors.Errorf("%s must be at least 1s, got %s", what, d)
	}
	if d%time.Second != 0 {
		return errors.Errorf("%s must be a whole number of seconds, got %s", what, d)
	}
	return nil
}

func (c Config) WithMinSleep(d time.Duration) (Config, error) {
	if err := checkWholeSeconds("min sleep", d); err != nil {
		return c, err
	}
	c.minSleep = d
	return c, nil
}

func (c Config) WithMaxSleep(d time.Duration) (Config, error) {
	if err := checkWholeSeconds("max sleep", d); err != nil {
		return c, err
	}
	c.maxSleep = d
	return c, nil
}

func (c Config) WithMaxSleepAfter(d time.Duration) (Config, error) {
	if err := checkWholeSeconds("max sleep after", d); err != nil {
		return c, err
	}
	c.maxSleepAfter = d
	return c, nil
}

func (c Config) WithPause(p Pause) Config {
	c.paused = &p
	return c
}

func (c Config) WithoutPause() Config {
	c.paused = nil
	return c
}

// Normalize drops state that is no longer meaningful at now: an expired pause
// is cleared. The data directory normalizes every config before storing it.
func (c Config) Normalize(now time.Time) Config {
	if c.paused != nil && !c.paused.Active(now) {
		c.paused = nil
	}
	return c
}

type wireConfig struct {
	Remote              *string    `json:"remote"`
	Configuration       *string    `json:"configuration"`
	LastReconfiguration *time.Time `json:"last_reconfiguration,omitempty"`
	LastConfiguration   string     `json:"last_configuration,omitempty"`
	LastFingerprint     string     `json:"last_fingerprint,omitempty"`
	MinSleepSecs        uint64     `json:"min_sleep_secs,omitempty"`
	MaxSleepSecs        uint64     `json:"max_sleep_secs,omitempty"`
	MaxSleepAfterSecs   uint64     `json:"max_sleep_after_secs,omitempty"`
	Paused              *wirePause `json:"paused,omitempty"`
}

func (c Config) MarshalJSON() ([]byte, error) {
	w := wireConfig{
		LastConfiguration: c.lastConfiguration,
		LastFingerprint:   c.lastFingerprint,
		MinSleepSecs:      uint64(c.minSleep / time.Second),
		MaxSleepSecs:      uint64(c.maxSleep / time.Second),
		MaxSleepAfterSecs: uint64(c.maxSleepAfter / time.Second),
	}
	if c.remote != nil {
		s := c.remote.String()
		w.Remote = &s
	}
	if c.configuration != "" {
		s := c.configuration
		w.Configuration = &s
	}
	if !c.lastReconfiguration.IsZero() {
		t := c.lastReconfiguration.UTC()
		w.LastReconfiguration = &t
	}
	if c.paused != nil {
		w.Paused = c.paused.wire()
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a stored config. Fields missing from older files fall
// back to their defaults; present fields are validated so that a decoded
// Config is never partially constructed.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w wireConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Default()
	if w.Remote != nil {
		u, err := ParseRemote(*w.Remote)
		if err != nil {
			return err
		}
		out.remote = u
	}
	if w.Configuration != nil {
		if *w.Configuration == "" {
			return errors.New("stored configuration name is empty")
		}
		out.configuration = *w.Configuration
	}
	if w.LastReconfiguration != nil {
		out.lastReconfiguration = *w.LastReconfiguration
	}
	out.lastConfiguration = w.LastConfiguration
	out.lastFingerprint = w.LastFingerprint
	if w.MinSleepSecs > 0 {
		out.minSleep = time.Duration(w.MinSleepSecs) * time.Second
	}
	if w.MaxSleepSecs > 0 {
		out.maxSleep = time.Duration(w.MaxSleepSecs) * time.Second
	}
	if w.MaxSleepAfterSecs > 0 {
		out.maxSleepAfter = time.Duration(w.MaxSleepAfterSecs) * time.Second
	}
	if w.Paused != nil {
		p, err := w.Paused.pause()
		if err != nil {
			return err
		}
		out.paused = &p
	}
	*c = out
	return nil
}

// String renders the config the way it is stored, for display.
func (c Config) String() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<invalid config: " + err.Error() + ">"
	}
	return string(b)
}
