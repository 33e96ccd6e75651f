package build

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/qiniu/x/log"
)

// CollectGarbage removes every directory directly under the graph's output
// root whose name the manifest no longer declares, provided it holds a hash
// record somewhere below it. Directories without a record were not produced
// by a build and are left alone, as is anything containing keep.
func (o *Orchestrator) CollectGarbage(keep string) ([]string, error) {
	root := o.graph.OutRoot
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if keep != "" {
		if keep, err = filepath.Abs(keep); err != nil {
			return nil, err
		}
	}
	var removed []string
	for _, e := range entries {
		if !e.IsDir() || o.graph.Declared(e.Name()) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if keep != "" && contains(dir, keep) {
			continue
		}
		if !hasRecord(dir) {
			continue
		}
		log.Infof("Removing unused vendor output: %s", dir)
		if err := os.RemoveAll(dir); err != nil {
			return removed, err
		}
		o.rec.Removed(dir)
		removed = append(removed, dir)
	}
	return removed, nil
}

// contains reports whether path is dir or lies below it.
func contains(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
