// Package archive packs a configuration source tree into a zstd compressed
// tar stream and unpacks such streams.
package archive

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// IncludeSet names the top level directories to pack. An empty set includes
// every directory.
type IncludeSet map[string]struct{}

func NewIncludeSet(names ...string) IncludeSet {
	s := make(IncludeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s IncludeSet) includes(name string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[name]
	return ok
}

// Pack writes the archive of src to w. Top level directories are filtered by
// include; regular files and relative symlinks are always packed. Absolute
// symlinks and special files are skipped anywhere in the tree. Any I/O error
// aborts packing, and whatever was written to w must then be discarded.
func Pack(src string, include IncludeSet, w io.Writer) error {
	log := logging.New("archive").WithField("src", src)

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return errors.Wrap(err, "failed to create zstd encoder")
	}
	tw := tar.NewWriter(enc)

	entries, err := os.ReadDir(src)
	if err != nil {
		enc.Close()
		return errors.Wrapf(err, "failed to read source directory %s", src)
	}
	p := &packer{tw: tw, log: log}
	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(src, name)
		log.WithField("path", full).Trace("considering path for archive inclusion")
		if entry.IsDir() && !include.includes(name) {
			log.WithField("path", full).Debug("ignoring directory not in include set")
			continue
		}
		if err := p.add(full, name); err != nil {
			enc.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return errors.Wrap(err, "failed to finish tar stream")
	}
	return errors.Wrap(enc.Close(), "failed to finish zstd stream")
}

type packer struct {
	tw  *tar.Writer
	log logrus.FieldLogger
}

// add packs the file at full under the archive name, recursing into
// directories.
func (p *packer) add(full, name string) error {
	info, err := os.Lstat(full)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", full)
	}
	log := p.log.WithField("path", full)

	switch mode := info.Mode(); {
	case mode.IsDir():
		log.Trace("packing directory")
		if err := p.header(info, name+"/", ""); err != nil {
			return err
		}
		children, err := os.ReadDir(full)
		if err != nil {
			return errors.Wrapf(err, "failed to read directory %s", full)
		}
		for _, child := range children {
			if err := p.add(filepath.Join(full, child.Name()), path.Join(name, child.Name())); err != nil {
				return err
			}
		}
		return nil

	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return errors.Wrapf(err, "failed to read symlink %s", full)
		}
		if filepath.IsAbs(target) {
			log.WithField("target", target).Warn("ignoring absolute symlink")
			return nil
		}
		log.WithField("target", target).Trace("packing relative symlink")
		return p.header(info, name, target)

	case mode.IsRegular():
		log.Trace("packing file")
		if err := p.header(info, name, ""); err != nil {
			return err
		}
		f, err := os.Open(full)
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", full)
		}
		defer f.Close()
		if _, err := io.Copy(p.tw, f); err != nil {
			return errors.Wrapf(err, "failed to pack %s", full)
		}
		return nil
	}

	log.WithField("mode", info.Mode().String()).Warn("ignoring unknown file type")
	return nil
}

func (p *packer) header(info fs.FileInfo, name, link string) error {
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return errors.Wrapf(err, "failed to build tar header for %s", name)
	}
	hdr.Name = name
	return errors.Wrapf(p.tw.WriteHeader(hdr), "failed to write tar header for %s", name)
}
