// Package lock provides the advisory, file based lock serializing
// activations between agent processes sharing a data directory.
package lock

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/pkg/errors"
)

// retryDelay is how often a blocked acquisition re-attempts the lock.
const retryDelay = 250 * time.Millisecond

// Guard is a held lock. A nil Guard is valid and releases nothing.
type Guard struct {
	fl *flock.Flock
}

// Release unlocks the guard. It is safe to call on a nil Guard and more than
// once.
func (g *Guard) Release() error {
	if g == nil || g.fl == nil {
		return nil
	}
	err := g.fl.Unlock()
	g.fl = nil
	return errors.Wrap(err, "failed to release activation lock")
}

// Acquire takes an exclusive lock on path. A non-blocking attempt is made
// first so that contention can be reported; only then does Acquire wait for
// the holder to release it or for ctx to be done.
func Acquire(ctx context.Context, log logging.Logger, path string) (*Guard, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock %s", path)
	}
	if ok {
		return &Guard{fl: fl}, nil
	}

	log.WithField("lock", path).Warn("waiting for another instance to finish")
	ok, err = fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, "failed waiting for lock %s", path)
	}
	if !ok {
		return nil, errors.Errorf("could not lock %s", path)
	}
	log.WithField("lock", path).Debug("acquired lock after waiting")
	return &Guard{fl: fl}, nil
}
