package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/pkg/errors"
)

// Unpack extracts the archive read from r into dst, creating dst first when
// needed. Archive content is trusted; only entries that would land outside of
// dst are rejected, either by name or by passing through a symlink.
func Unpack(r io.Reader, dst string) error {
	log := logging.New("archive").WithField("dst", dst)

	if err := os.MkdirAll(dst, 0755); err != nil {
		return errors.Wrapf(err, "failed to create destination %s", dst)
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "failed to create zstd decoder")
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read archive")
		}
		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return errors.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		target := filepath.Join(dst, name)
		if err := checkParents(dst, name); err != nil {
			return err
		}
		log.WithField("path", target).Trace("unpacking entry")

		switch hdr.Typeflag {
		case tar.TypeDir:
			if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				return errors.Errorf("archive entry %q replaces a symlink with a directory", hdr.Name)
			}
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()|0700); err != nil {
				return errors.Wrapf(err, "failed to create directory %s", target)
			}
		case tar.TypeReg:
			if err := unpackFile(tr, hdr, target); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return errors.Wrapf(err, "failed to create directory for %s", target)
			}
			if err := os.RemoveAll(target); err != nil {
				return errors.Wrapf(err, "failed to replace %s", target)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.Wrapf(err, "failed to create symlink %s", target)
			}
		default:
			log.WithField("path", target).WithField("type", string(hdr.Typeflag)).Warn("ignoring unsupported archive entry")
		}
	}
}

// checkParents refuses entries whose parent directories inside dst already
// exist as symlinks, since writing below them would follow the link.
func checkParents(dst, name string) error {
	dir := dst
	parts := strings.Split(filepath.Dir(name), string(filepath.Separator))
	for _, part := range parts {
		if part == "." || part == "" {
			continue
		}
		dir = filepath.Join(dir, part)
		fi, err := os.Lstat(dir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to inspect %s", dir)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return errors.Errorf("archive entry %q passes through symlink %s", name, dir)
		}
	}
	return nil
}

func unpackFile(r io.Reader, hdr *tar.Header, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", target)
	}
	// Never write through an existing link.
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return errors.Wrapf(err, "failed to replace %s", target)
		}
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", target)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", target)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", target)
	}
	return errors.Wrapf(os.Chtimes(target, hdr.ModTime, hdr.ModTime), "failed to set times on %s", target)
}
