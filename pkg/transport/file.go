package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/npcnix/npcnix/pkg/fsutil"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var _ Transport = (*File)(nil)

// File implements file:// remotes on a local or mounted filesystem. It lets
// a machine follow an archive dropped on shared storage, and is handy for
// trying the agent without object storage.
type File struct{}

func localPath(remote *url.URL) (string, error) {
	if remote.Host != "" && remote.Host != "localhost" {
		return "", errors.Errorf("file remote %s must not name a host", remote)
	}
	if remote.Path == "" {
		return "", errors.Errorf("file remote %s has no path", remote)
	}
	return remote.Path, nil
}

func (File) Fetch(_ context.Context, remote *url.URL) (io.ReadCloser, error) {
	path, err := localPath(remote)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return f, nil
}

func (File) Store(_ context.Context, remote *url.URL, r io.Reader) error {
	path, err := localPath(remote)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, 0644, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return errors.Wrapf(err, "failed to write %s", path)
	})
}

// Fingerprint identifies the file by its metadata without reading it. Store
// replaces the file through a rename, so every store yields a new inode.
func (File) Fingerprint(_ context.Context, remote *url.URL) (string, error) {
	path, err := localPath(remote)
	if err != nil {
		return "", err
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", errors.Wrapf(&os.PathError{Op: "stat", Path: path, Err: err}, "failed to stat %s", path)
	}
	return fmt.Sprintf("%x-%x-%x.%09d", st.Ino, st.Size, st.Mtim.Sec, st.Mtim.Nsec), nil
}
