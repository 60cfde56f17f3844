package agent

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/npcnix/npcnix/pkg/activate"
	"github.com/npcnix/npcnix/pkg/config"
	"github.com/npcnix/npcnix/pkg/datadir"
	"github.com/npcnix/npcnix/pkg/deploy"
	"github.com/npcnix/npcnix/pkg/internal/logfields"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/npcnix/npcnix/pkg/metrics"
	"github.com/npcnix/npcnix/pkg/transport"
	"github.com/pkg/errors"
)

// Cycle outcomes, also used as metric labels.
const (
	OutcomePaused    = "paused"
	OutcomeUnchanged = "unchanged"
	OutcomeActivated = "activated"
	OutcomeFailed    = "failed"
)

// Options adjust what the agent follows and when it stops.
type Options struct {
	// Remote overrides the stored remote.
	Remote *url.URL
	// Configuration overrides the stored configuration name.
	Configuration string
	// IgnoreFingerprint activates on every cycle even if the remote did not
	// change.
	IgnoreFingerprint bool
	Once              Once
	Activate          activate.Options
}

// Shutdown tells the agent when to stop.
type Shutdown interface {
	// Requested is checked before every cycle.
	Requested() bool
	// Sleep waits between cycles and returns false if interrupted.
	Sleep(d time.Duration) bool
}

// Notifier reports the agent's state to the service manager.
type Notifier interface {
	Notify(state string) error
}

type Agent struct {
	log       logging.Logger
	dataDir   *datadir.DataDir
	transport transport.Transport
	activator deploy.Activator
	shutdown  Shutdown
	notifier  Notifier
	metrics   metrics.Metrics
	opts      Options

	rand *rand.Rand
	now  func() time.Time
}

func New(log logging.Logger, d *datadir.DataDir, t transport.Transport, act deploy.Activator, sd Shutdown, opts Options) (*Agent, error) {
	switch {
	case d == nil:
		return nil, errors.New("data directory is nil")
	case t == nil:
		return nil, errors.New("transport is nil")
	case act == nil:
		return nil, errors.New("activator is nil")
	case sd == nil:
		return nil, errors.New("shutdown controller is nil")
	}
	return &Agent{
		log:       log,
		dataDir:   d,
		transport: t,
		activator: act,
		shutdown:  sd,
		notifier:  systemdNotifier{},
		metrics:   metrics.Noop{},
		opts:      opts,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}, nil
}

// SetMetrics replaces the default no-op metrics.
func (a *Agent) SetMetrics(m metrics.Metrics) {
	a.metrics = m
}

// Run follows the remote until a shutdown is requested or the Once policy is
// satisfied. Failed cycles are logged and retried after the next sleep.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("following remote")
	defer a.log.Info("stopped following remote")
	a.notify(daemon.SdNotifyReady)
	defer a.notify(daemon.SdNotifyStopping)

	for {
		if a.shutdown.Requested() || ctx.Err() != nil {
			a.log.Info("shutdown requested")
			return nil
		}

		log := a.log.WithField("cycle", uuid.New().String())
		outcome, err := a.cycle(ctx, log)
		if err != nil {
			log.WithError(err).Error("cycle failed")
			outcome = OutcomeFailed
		}
		a.metrics.IncCycles(outcome)

		if a.opts.Once.satisfiedBy(outcome) {
			a.flushMetrics()
			log.WithField("outcome", outcome).Info("stopping after first success")
			return nil
		}

		d := a.sleepDuration()
		a.metrics.SetLastSleep(d)
		a.flushMetrics()
		a.notify(fmt.Sprintf("STATUS=last cycle %s, next check in %s", outcome, d))
		log.WithField("sleep", d.String()).Info("sleeping")
		if !a.shutdown.Sleep(d) {
			a.log.Info("shutdown requested during sleep")
			return nil
		}
	}
}

func (a *Agent) cycle(ctx context.Context, log logging.Logger) (string, error) {
	guard, err := a.dataDir.ActivateLock(ctx, log)
	if err != nil {
		return OutcomeFailed, err
	}
	defer guard.Release()

	c, err := a.dataDir.LoadConfig()
	if err != nil {
		return OutcomeFailed, err
	}
	if c.IsPaused(a.now()) {
		p, _ := c.Paused()
		log.WithField("paused", p.String()).Info("paused")
		return OutcomePaused, nil
	}

	remote := a.opts.Remote
	if remote == nil {
		if remote, err = c.Remote(); err != nil {
			return OutcomeFailed, err
		}
	}
	configuration := a.opts.Configuration
	if configuration == "" {
		if configuration, err = c.Configuration(); err != nil {
			return OutcomeFailed, err
		}
	}
	log = log.WithFields(logfields.Target(remote, configuration))

	fingerprint, err := a.transport.Fingerprint(ctx, remote)
	if err != nil {
		return OutcomeFailed, errors.WithMessage(err, "failed to check remote")
	}
	log = log.WithField("fingerprint", fingerprint)
	if !a.opts.IgnoreFingerprint && c.LastConfiguration() == configuration && c.LastFingerprint() == fingerprint {
		log.Info("remote not changed")
		return OutcomeUnchanged, nil
	}
	log.WithFields(logfields.LastReconfiguration(c)).Info("remote changed")

	dir, err := os.MkdirTemp("", "npcnix-")
	if err != nil {
		return OutcomeFailed, errors.Wrap(err, "failed to create source directory")
	}
	defer os.RemoveAll(dir)

	if err := deploy.Pull(ctx, a.transport, remote, dir); err != nil {
		return OutcomeFailed, errors.WithMessage(err, "failed to pull remote")
	}
	if err := a.activator.Activate(ctx, dir, configuration, a.opts.Activate); err != nil {
		return OutcomeFailed, err
	}
	if err := a.dataDir.UpdateLastReconfiguration(configuration, fingerprint); err != nil {
		return OutcomeFailed, errors.WithMessage(err, "activated but failed to record it")
	}
	a.metrics.IncActivations(configuration)
	a.metrics.SetLastActivation(a.now())
	return OutcomeActivated, nil
}

// sleepDuration uses the config as stored after the cycle, which may have
// just recorded a reconfiguration.
func (a *Agent) sleepDuration() time.Duration {
	c, err := a.dataDir.LoadConfig()
	if err != nil {
		a.log.WithError(err).Warn("could not load config for sleep, using defaults")
		c = config.Default()
	}
	return c.RandomSleepDuration(a.now(), a.rand)
}

func (a *Agent) flushMetrics() {
	if err := a.metrics.Flush(); err != nil {
		a.log.WithError(err).Warn("could not write metrics")
	}
}

func (a *Agent) notify(state string) {
	if err := a.notifier.Notify(state); err != nil {
		a.log.WithError(err).Debug("could not notify service manager")
	}
}

type systemdNotifier struct{}

// Notify is a no-op outside of a systemd notify service.
func (systemdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}
