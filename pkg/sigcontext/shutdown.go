package sigcontext

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/npcnix/npcnix/pkg/logging"
	"golang.org/x/sys/unix"
)

// ExitCode is used when a second signal forces the process to exit.
const ExitCode = 130

// TerminationSignals are the signals a daemon treats as shutdown requests.
var TerminationSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// Shutdown is a two phase shutdown controller for a long running loop.
//
// The first signal only requests a shutdown: the loop is expected to check
// Requested at a safe point and stop there, so in-flight work completes. A
// signal received while the loop is in Sleep wakes it up instead. A second
// signal received outside of Sleep exits the process immediately.
type Shutdown struct {
	log  logging.Logger
	exit func(code int)

	requested chan struct{}
	once      sync.Once

	mu       sync.Mutex
	signals  int
	sleeping bool
}

func NewShutdown(log logging.Logger) *Shutdown {
	return &Shutdown{
		log:       log,
		exit:      os.Exit,
		requested: make(chan struct{}),
	}
}

// Notify delivers sigs to s until the returned stop function is called.
func (s *Shutdown) Notify(sigs ...os.Signal) (stop func()) {
	sigchan := make(chan os.Signal, len(sigs)+1)
	signal.Notify(sigchan, sigs...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigchan:
				s.handle(sig)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigchan)
			close(done)
		})
	}
}

func (s *Shutdown) handle(sig os.Signal) {
	s.mu.Lock()
	s.signals++
	soft := s.signals == 1 || s.sleeping
	s.mu.Unlock()

	log := s.log.WithField("signal", sig.String())
	if soft {
		log.Info("shutdown requested, stopping after the current cycle")
		s.Request()
		return
	}
	log.Warn("received another signal, exiting immediately")
	s.exit(ExitCode)
}

// Request asks the loop to stop at its next safe point.
func (s *Shutdown) Request() {
	s.once.Do(func() { close(s.requested) })
}

// Requested reports whether a shutdown was requested.
func (s *Shutdown) Requested() bool {
	select {
	case <-s.requested:
		return true
	default:
		return false
	}
}

// Done is closed once a shutdown is requested.
func (s *Shutdown) Done() <-chan struct{} {
	return s.requested
}

// Sleep waits for d. It returns false without waiting the full duration if a
// shutdown is requested.
func (s *Shutdown) Sleep(d time.Duration) bool {
	if s.Requested() {
		return false
	}
	s.setSleeping(true)
	defer s.setSleeping(false)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.requested:
		return false
	}
}

func (s *Shutdown) setSleeping(v bool) {
	s.mu.Lock()
	s.sleeping = v
	s.mu.Unlock()
}
