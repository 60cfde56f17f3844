package datadir

import (
	"context"

	"github.com/npcnix/npcnix/pkg/lock"
	"github.com/npcnix/npcnix/pkg/logging"
)

// ActivateLock takes the activation lock of the data directory. Before any
// config has been stored there is nothing to serialize against, so the lock
// step is skipped and a nil Guard is returned.
func (d *DataDir) ActivateLock(ctx context.Context, log logging.Logger) (*lock.Guard, error) {
	exists, err := d.ConfigExists()
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Debug("no config stored yet, skipping activation lock")
		return nil, nil
	}
	return lock.Acquire(ctx, log, d.LockPath())
}
