package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/fingerprint"
	"github.com/goplus/vbuild/internal/lockedfile"
)

// composite hashes, for one arch, the records of every contributing
// directory together with their modification times. A rebuild rewrites a
// record and so changes the composite even when the fingerprint is equal.
func (o *Orchestrator) composite(dirs []string, arch string) string {
	var sb strings.Builder
	sb.WriteString(o.graph.Platform)
	for _, dir := range dirs {
		sb.WriteString(recordStamp(dir, arch))
	}
	return fingerprint.Sum([]byte(sb.String()))
}

func (o *Orchestrator) changedArchs(dirs []string, publishDir string) (archs []string, hashes map[string]string) {
	hashes = make(map[string]string, len(o.archs))
	for _, arch := range o.archs {
		h := o.composite(dirs, arch)
		hashes[arch] = h
		if ReadRecord(publishDir, arch) != h {
			archs = append(archs, arch)
		}
	}
	return archs, hashes
}

// publish republishes into publishDir the archs whose composite hash
// changed and returns them.
func (o *Orchestrator) publish(ctx context.Context, names, dirs []string, publishDir string) ([]string, error) {
	if o.pub == nil {
		return nil, fmt.Errorf("publish %s: no publisher", publishDir)
	}
	publishDir, err := filepath.Abs(publishDir)
	if err != nil {
		return nil, err
	}
	if archs, _ := o.changedArchs(dirs, publishDir); len(archs) == 0 {
		log.Debugf("%s is up to date", publishDir)
		return nil, nil
	}

	var published []string
	err = lockedfile.WithLock(publishDir, o.lock, func() error {
		archs, hashes := o.changedArchs(dirs, publishDir)
		if len(archs) == 0 {
			return nil
		}
		for _, arch := range archs {
			if err := purge(publishDir, arch); err != nil {
				return err
			}
		}
		log.Infof("Publishing vendor libraries: %s into %s", joinNames(names), publishDir)
		if err := o.pub.Publish(ctx, dirs, publishDir, archs); err != nil {
			return fmt.Errorf("publish %s: %w", publishDir, err)
		}
		for _, arch := range archs {
			if err := writeRecord(publishDir, arch, hashes[arch]); err != nil {
				return err
			}
		}
		published = archs
		o.rec.Published(len(archs))
		return nil
	})
	return published, err
}
