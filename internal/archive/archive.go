// Package archive packs a publish directory into a single distributable file.
package archive

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/qiniu/x/log"
	"github.com/ulikunitz/xz"
)

// Format is an archive layout selected by file extension.
type Format string

const (
	Zip    Format = ".zip"
	Tar    Format = ".tar"
	TarGz  Format = ".tar.gz"
	TarZst Format = ".tar.zst"
	TarXz  Format = ".tar.xz"
)

var formats = []Format{TarGz, TarZst, TarXz, Tar, Zip}

// FormatOf returns the format named by the extension of path.
func FormatOf(path string) (Format, error) {
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".tgz") {
		return TarGz, nil
	}
	for _, f := range formats {
		if strings.HasSuffix(name, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown archive format: %s", filepath.Base(path))
}

// skip reports whether an entry is build bookkeeping: hash records and
// lock markers are hidden files.
func skip(rel string) bool {
	return strings.HasPrefix(filepath.Base(rel), ".")
}

// Pack writes the contents of srcDir to dest in the format named by dest's
// extension. dest is replaced only once the archive is complete.
func Pack(srcDir, dest string) (err error) {
	format, err := FormatOf(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if format == Zip {
		err = zipDir(srcDir, tmp)
	} else {
		err = tarDir(srcDir, tmp, format)
	}
	if err != nil {
		return fmt.Errorf("pack %s: %w", dest, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	log.Infof("packed %s into %s", srcDir, dest)
	return nil
}

func zipDir(srcDir string, out io.Writer) error {
	w := zip.NewWriter(out)
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if info.IsDir() || skip(rel) {
			return nil
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		return copyFile(writer, path)
	})
	if err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func compressor(out io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case TarGz:
		return pgzip.NewWriter(out), nil
	case TarZst:
		return zstd.NewWriter(out)
	case TarXz:
		return xz.NewWriter(out)
	}
	return nopCloser{out}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func tarDir(srcDir string, out io.Writer, format Format) error {
	cw, err := compressor(out, format)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." || skip(rel) {
			return nil
		}
		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(tw, path)
	})
	if err != nil {
		tw.Close()
		cw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
