package build

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goplus/vbuild/internal/fsutil"
)

// Every output directory holds one hash record per arch, .<arch>.md5,
// next to the <arch>/ directory it describes. A record is written only
// after the arch was built or published successfully.
const recordExt = ".md5"

// legacyRecord is a whole-directory marker from older layouts. It is
// dropped whenever the directory is rebuilt.
const legacyRecord = ".vendor.sha1"

func recordPath(dir, arch string) string {
	return filepath.Join(dir, "."+arch+recordExt)
}

// ReadRecord returns the hash record of arch in dir, or "" when there is
// none.
func ReadRecord(dir, arch string) string {
	return strings.TrimSpace(fsutil.ReadString(recordPath(dir, arch)))
}

func writeRecord(dir, arch, value string) error {
	return fsutil.WriteFileAtomic(recordPath(dir, arch), []byte(value))
}

// purge removes the output of arch in dir along with its record.
func purge(dir, arch string) error {
	if err := os.Remove(recordPath(dir, arch)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.RemoveAll(filepath.Join(dir, arch))
}

// recordStamp returns the record content and modification time, the inputs
// of an aggregate composite hash. A missing record contributes nothing.
func recordStamp(dir, arch string) string {
	path := recordPath(dir, arch)
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fsutil.ReadString(path) + strconv.FormatInt(fi.ModTime().UnixNano(), 10)
}

func isRecord(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, recordExt)
}

// hasRecord reports whether a hash record exists anywhere under dir.
func hasRecord(dir string) bool {
	found := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && isRecord(d.Name()) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
