package testoutput

import (
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/sirupsen/logrus"
)

// New returns a writer that writes strings (assuming lines) to the testing
// logger.
func New(t testing.TB) io.Writer {
	return &testoutput{t}
}

// Logger wraps a logger at the call point to collect its downstream calls.
func Logger(t testing.TB, logger logging.Logger) logging.Logger {
	l := logger.WithFields(logrus.Fields{})
	_ = logging.Set(Setter(t))
	t.Cleanup(func() { _ = logging.Set(Revert()) })
	return l
}

// Setter may be given to logging to configure the output to be sent to the
// testing facade to be interlaced with test output. You should not use parallel
// tests with this set as they would conflict in that they'd write to the wrong
// test or write to the Revert'd output if they aren't synchronous.
func Setter(t testing.TB) func(*logrus.Logger) error {
	return func(l *logrus.Logger) error {
		l.SetOutput(New(t))
		l.SetLevel(logrus.DebugLevel)
		return nil
	}
}

// Revert restores the logger output to write to stderr.
func Revert() func(*logrus.Logger) error {
	return func(l *logrus.Logger) error {
		l.SetOutput(os.Stderr)
		return nil
	}
}

// Recorder captures formatted log lines so tests can assert on messages that
// were emitted, in addition to forwarding them to the test log.
type Recorder struct {
	t     testing.TB
	mu    sync.Mutex
	lines []string
}

// Record installs a Recorder as the root logger output for the duration of the
// test.
func Record(t testing.TB) *Recorder {
	r := &Recorder{t: t}
	_ = logging.Set(func(l *logrus.Logger) error {
		l.SetOutput(r)
		l.SetLevel(logrus.DebugLevel)
		return nil
	})
	t.Cleanup(func() { _ = logging.Set(Revert()) })
	return r
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.lines = append(r.lines, string(p))
	r.mu.Unlock()
	r.t.Logf("%s", p)
	return len(p), nil
}

// Lines returns the recorded log lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any recorded line contains msg.
func (r *Recorder) Contains(msg string) bool {
	for _, line := range r.Lines() {
		if strings.Contains(line, msg) {
			return true
		}
	}
	return false
}

type testoutput struct {
	t testing.TB
}

func (l *testoutput) Write(p []byte) (n int, err error) {
	l.t.Logf("%s", p)
	return len(p), nil
}
