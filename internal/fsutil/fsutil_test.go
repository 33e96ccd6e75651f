package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".x64.md5")
	if err := WriteFileAtomic(path, []byte("first")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second")); err != nil {
		t.Fatalf("WriteFileAtomic overwrite: %v", err)
	}
	if got := ReadString(path); got != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %v", entries)
	}
}

func TestReadStringMissing(t *testing.T) {
	if got := ReadString(filepath.Join(t.TempDir(), "nope")); got != "" {
		t.Errorf("ReadString(missing) = %q, want empty", got)
	}
}

func TestCopyPath(t *testing.T) {
	src := t.TempDir()
	os.MkdirAll(filepath.Join(src, "a", "b"), 0o755)
	os.WriteFile(filepath.Join(src, "a", "b", "x.h"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(src, "top.a"), []byte("lib"), 0o644)

	dst := filepath.Join(t.TempDir(), "out")
	if err := CopyPath(src, dst); err != nil {
		t.Fatalf("CopyPath dir: %v", err)
	}
	if got := ReadString(filepath.Join(dst, "a", "b", "x.h")); got != "x" {
		t.Errorf("nested file = %q", got)
	}

	// file onto existing file replaces it
	os.WriteFile(filepath.Join(dst, "top.a"), []byte("stale-and-longer"), 0o644)
	if err := CopyPath(filepath.Join(src, "top.a"), filepath.Join(dst, "top.a")); err != nil {
		t.Fatalf("CopyPath file: %v", err)
	}
	if got := ReadString(filepath.Join(dst, "top.a")); got != "lib" {
		t.Errorf("replaced file = %q, want %q", got, "lib")
	}

	if err := CopyPath(filepath.Join(src, "missing"), dst); err == nil {
		t.Error("CopyPath(missing) = nil, want error")
	}
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b/libz.a", "a/libpng.a", "a/.DS_Store", "c/readme.txt"} {
		p := filepath.Join(dir, name)
		os.MkdirAll(filepath.Dir(p), 0o755)
		os.WriteFile(p, nil, 0o644)
	}
	got, err := FindFiles(dir, func(p string) bool { return strings.HasSuffix(p, ".a") })
	if err != nil {
		t.Fatalf("FindFiles: %v", err)
	}
	want := []string{filepath.Join(dir, "a/libpng.a"), filepath.Join(dir, "b/libz.a")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("FindFiles = %v, want %v", got, want)
	}

	got, err = FindFiles(filepath.Join(dir, "missing"), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("FindFiles(missing) = %v, %v; want empty, nil", got, err)
	}
}

func TestRemoveEmptyDir(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	full := filepath.Join(dir, "full")
	os.MkdirAll(empty, 0o755)
	os.MkdirAll(full, 0o755)
	os.WriteFile(filepath.Join(full, "f"), nil, 0o644)

	RemoveEmptyDir(empty)
	RemoveEmptyDir(full)
	if Exists(empty) {
		t.Error("empty dir not removed")
	}
	if !Exists(full) {
		t.Error("non-empty dir removed")
	}
}
