package archive

import (
	"archive/tar"
	"io"
	"time"
)

func newTarWriter(w io.Writer) *tar.Writer {
	return tar.NewWriter(w)
}

func regularHeader(name string, size int64) *tar.Header {
	return &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     size,
		ModTime:  time.Unix(0, 0),
	}
}

func symlinkHeader(name, target string) *tar.Header {
	return &tar.Header{
		Name:     name,
		Typeflag: tar.TypeSymlink,
		Linkname: target,
		Mode:     0777,
		ModTime:  time.Unix(0, 0),
	}
}
