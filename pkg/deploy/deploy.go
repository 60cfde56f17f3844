// Package deploy implements the one-shot operations moving a configuration
// source between a directory, an archive and a remote, and activating it.
package deploy

import (
	"context"
	"io"
	"net/url"

	"github.com/npcnix/npcnix/pkg/activate"
	"github.com/npcnix/npcnix/pkg/archive"
	"github.com/npcnix/npcnix/pkg/datadir"
	"github.com/npcnix/npcnix/pkg/fsutil"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/npcnix/npcnix/pkg/transport"
	"github.com/npcnix/npcnix/pkg/workgroup"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Activator switches the system to a configuration from a source tree.
type Activator interface {
	Activate(ctx context.Context, src, configuration string, opts activate.Options) error
}

var _ Activator = (*activate.Engine)(nil)

// PackToFile writes the archive of src to dst. dst is replaced only once the
// archive is complete.
func PackToFile(src string, include archive.IncludeSet, dst string) error {
	if err := activate.VerifySource(src); err != nil {
		return err
	}
	logging.New("deploy").WithFields(logrus.Fields{
		"src": src,
		"dst": dst,
	}).Info("packing")
	return fsutil.WriteAtomic(dst, 0644, func(w io.Writer) error {
		return archive.Pack(src, include, w)
	})
}

// Push packs src and streams the archive to remote while it is produced.
func Push(ctx context.Context, t transport.Transport, src string, include archive.IncludeSet, remote *url.URL) error {
	if err := activate.VerifySource(src); err != nil {
		return err
	}
	logging.New("deploy").WithFields(logrus.Fields{
		"src":    src,
		"remote": remote.String(),
	}).Info("pushing")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	group := workgroup.WithContext(ctx)
	group.Work(func(context.Context) error {
		err := archive.Pack(src, include, pw)
		if err != nil {
			// Abort the upload before its reader sees the end of the
			// stream, so partial output is never committed.
			cancel()
		}
		pw.CloseWithError(err)
		return errors.WithMessage(err, "failed to pack")
	})
	group.Work(func(ctx context.Context) error {
		err := t.Store(ctx, remote, pr)
		if err != nil {
			// Unblock the packer, which may still be writing.
			pr.CloseWithError(err)
			return errors.WithMessagef(err, "failed to upload to %s", remote)
		}
		return pr.Close()
	})
	return group.Wait()
}

// Pull fetches the archive at remote and unpacks it into dst.
func Pull(ctx context.Context, t transport.Transport, remote *url.URL, dst string) error {
	logging.New("deploy").WithFields(logrus.Fields{
		"remote": remote.String(),
		"dst":    dst,
	}).Debug("pulling")
	rc, err := t.Fetch(ctx, remote)
	if err != nil {
		return err
	}
	err = archive.Unpack(rc, dst)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = errors.WithMessagef(cerr, "failed to fetch %s", remote)
	}
	return err
}

// Activate activates configuration from src while holding the data
// directory's activation lock, then records it as the last reconfiguration.
// No fingerprint is recorded, so a following agent re-applies the remote.
func Activate(ctx context.Context, d *datadir.DataDir, engine Activator, src, configuration string, opts activate.Options) error {
	log := logging.New("deploy")
	guard, err := d.ActivateLock(ctx, log)
	if err != nil {
		return err
	}
	defer guard.Release()

	if err := engine.Activate(ctx, src, configuration, opts); err != nil {
		return err
	}
	return d.UpdateLastReconfiguration(configuration, "")
}
