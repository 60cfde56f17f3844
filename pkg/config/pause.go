package config

import (
	"time"

	"github.com/pkg/errors"
)

// Pause suspends remote checks and activations, either indefinitely or until
// a point in time.
type Pause struct {
	indefinite bool
	until      time.Time
}

func Indefinitely() Pause {
	return Pause{indefinite: true}
}

func Until(t time.Time) Pause {
	return Pause{until: t}
}

// For pauses for d starting at now.
func For(now time.Time, d time.Duration) Pause {
	return Until(now.Add(d))
}

func (p Pause) Indefinite() bool {
	return p.indefinite
}

// Until returns the expiry of a timed pause.
func (p Pause) Until() (time.Time, bool) {
	if p.indefinite {
		return time.Time{}, false
	}
	return p.until, true
}

// Active reports whether the pause is still in effect at now.
func (p Pause) Active(now time.Time) bool {
	return p.indefinite || now.Before(p.until)
}

func (p Pause) String() string {
	if p.indefinite {
		return "indefinitely"
	}
	return "until " + p.until.Format(time.RFC3339)
}

type wirePause struct {
	Indefinite bool       `json:"indefinite,omitempty"`
	Until      *time.Time `json:"until,omitempty"`
}

func (p Pause) wire() *wirePause {
	if p.indefinite {
		return &wirePause{Indefinite: true}
	}
	t := p.until.UTC()
	return &wirePause{Until: &t}
}

func (w *wirePause) pause() (Pause, error) {
	switch {
	case w.Indefinite && w.Until != nil:
		return Pause{}, errors.New("paused must be either indefinite or until a time, not both")
	case w.Indefinite:
		return Indefinitely(), nil
	case w.Until != nil:
		return Until(*w.Until), nil
	}
	return Pause{}, errors.New("paused must be either indefinite or until a time")
}
