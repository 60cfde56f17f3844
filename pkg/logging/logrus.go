package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// SubComponentField names a finer grained part of a component, such as a
// transport backend or the lock used by the agent.
const SubComponentField = "subcomponent"

type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: func() *logrus.Logger {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		return l
	}(),
	mutex: &sync.Mutex{},
}

type Logger interface {
	logrus.FieldLogger
}

func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		// no errors handling for now
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.DebugLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Output directs all log output to w.
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}

// JSON switches the root logger to line delimited JSON, which suits journald
// and log shippers better than the text formatter.
func JSON() Setter {
	return func(r *logrus.Logger) error {
		r.SetFormatter(&logrus.JSONFormatter{})
		return nil
	}
}
