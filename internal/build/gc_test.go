package build

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCollectGarbage(t *testing.T) {
	h := newHarness(t, `{
  "source": "src", "out": "out",
  "vendors": [
    {"name": "zlib", "cmake": {"targets": ["z"]}},
    {"name": "metal", "cmake": {"targets": ["m"], "platforms": ["ios"]}}
  ]
}`, "x64")
	root := h.graph.OutRoot
	write := func(rel string) {
		path := filepath.Join(root, rel)
		os.MkdirAll(filepath.Dir(path), 0o755)
		os.WriteFile(path, nil, 0o644)
	}
	write("removed/linux/.x64.md5")
	write("removed/linux/x64/libremoved.a")
	write("notes/readme.md")
	write("notes/.hidden.txt")
	write("metal/ios/.arm64.md5")
	write("engine/.x64.md5")
	write("stray.md5")

	sum, err := h.orchestrator().BuildAll(context.Background(), nil, filepath.Join(root, "engine"))
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{filepath.Join(root, "removed")}; !reflect.DeepEqual(sum.Removed, want) {
		t.Errorf("removed = %v, want %v", sum.Removed, want)
	}
	for _, kept := range []string{"notes", "metal", "engine", "zlib", "stray.md5"} {
		if _, err := os.Stat(filepath.Join(root, kept)); err != nil {
			t.Errorf("%s was removed: %v", kept, err)
		}
	}
	if !reflect.DeepEqual(h.rec.removed, sum.Removed) {
		t.Errorf("recorder saw %v", h.rec.removed)
	}
}

func TestCollectGarbageMissingRoot(t *testing.T) {
	h := newHarness(t, `{"source": "src", "out": "out", "vendors": []}`, "x64")
	removed, err := h.orchestrator().CollectGarbage("")
	if err != nil || len(removed) != 0 {
		t.Errorf("CollectGarbage() = %v, %v", removed, err)
	}
}

func TestRecords(t *testing.T) {
	dir := t.TempDir()
	if ReadRecord(dir, "x64") != "" || hasRecord(dir) {
		t.Fatalf("empty dir has a record")
	}
	if err := writeRecord(dir, "x64", "fp\n"); err != nil {
		t.Fatal(err)
	}
	if got := ReadRecord(dir, "x64"); got != "fp" {
		t.Errorf("ReadRecord() = %q", got)
	}
	if filepath.Base(recordPath(dir, "x64")) != ".x64.md5" {
		t.Errorf("record name = %s", recordPath(dir, "x64"))
	}
	os.MkdirAll(filepath.Join(dir, "x64"), 0o755)
	if err := purge(dir, "x64"); err != nil {
		t.Fatal(err)
	}
	if hasRecord(dir) || recordStamp(dir, "x64") != "" {
		t.Errorf("purge left the record")
	}
	if _, err := os.Stat(filepath.Join(dir, "x64")); !os.IsNotExist(err) {
		t.Errorf("purge left the arch dir")
	}
}
