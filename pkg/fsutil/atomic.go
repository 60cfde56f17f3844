// Package fsutil holds the file primitives shared by the config store, the
// archive packer and the local transport.
package fsutil

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteAtomic replaces the file at path with the content produced by fn. The
// content is written to a temporary file in the same directory, flushed,
// synced and then renamed over path, so readers observe either the old or the
// new file and never a partial one. On any failure the temporary file is
// removed and path is left untouched.
func WriteAtomic(path string, perm os.FileMode, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = fn(buf); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write temporary file %s", tmp.Name())
	}
	if err = tmp.Chmod(perm); err != nil {
		return errors.Wrapf(err, "failed to set mode on temporary file %s", tmp.Name())
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync temporary file %s", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close temporary file %s", tmp.Name())
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to rename %s to %s", tmp.Name(), path)
	}
	return nil
}

// WriteJSON atomically stores v as indented JSON at path.
func WriteJSON(path string, v interface{}) error {
	return WriteAtomic(path, 0644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "failed to marshal JSON")
	})
}
