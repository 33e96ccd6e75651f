package publish

import (
	"context"
	"errors"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/platform"
)

// Progress receives one step per published arch. Its total is reset to the
// number of archs of each Publish call.
type Progress interface {
	ChangeMax(max int)
	Add(n int) error
}

// Aggregator publishes the combined libraries of several vendors.
type Aggregator struct {
	Tool platform.LibraryTool
	// XCFramework additionally packages the published libraries as
	// xcframeworks next to the per-arch directories.
	XCFramework bool
	Progress    Progress
}

// Publish combines the static libraries of libraryDirs into outPath for
// each of archs.
func (a *Aggregator) Publish(ctx context.Context, libraryDirs []string, outPath string, archs []string) error {
	if a.Progress != nil {
		a.Progress.ChangeMax(len(archs))
	}
	for _, arch := range archs {
		if _, err := PublishLibraries(ctx, a.Tool, libraryDirs, outPath, []string{arch}); err != nil {
			return err
		}
		if a.Progress != nil {
			if err := a.Progress.Add(1); err != nil {
				log.Debugf("progress: %v", err)
			}
		}
	}
	if !a.XCFramework {
		return nil
	}
	err := a.Tool.CreateXCFramework(ctx, outPath, "", outPath)
	if errors.Is(err, platform.ErrUnsupported) {
		log.Warnf("skipping xcframework: %v", err)
		return nil
	}
	return err
}
