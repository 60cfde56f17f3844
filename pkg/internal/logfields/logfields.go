package logfields

import (
	"net/url"
	"time"

	"github.com/npcnix/npcnix/pkg/config"
	"github.com/sirupsen/logrus"
)

func Target(remote *url.URL, configuration string) logrus.Fields {
	return logrus.Fields{
		"remote":        remote.String(),
		"configuration": configuration,
	}
}

// LastReconfiguration describes the last recorded activation of c.
func LastReconfiguration(c config.Config) logrus.Fields {
	fields := logrus.Fields{
		"last_configuration": c.LastConfiguration(),
		"last_fingerprint":   c.LastFingerprint(),
	}
	if at := c.LastReconfiguration(); !at.IsZero() {
		fields["last_reconfiguration"] = at.Format(time.RFC3339)
	}
	return fields
}
