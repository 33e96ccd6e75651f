// Package fingerprint computes the cache key of a vendor build.
package fingerprint

import (
	"encoding/hex"
	"slices"
	"strings"

	"lukechampine.com/blake3"

	"github.com/goplus/vbuild/internal/fsutil"
	"github.com/goplus/vbuild/internal/manifest"
	"github.com/goplus/vbuild/internal/vcs"
)

// Size is the length in bytes of a fingerprint digest.
const Size = 32

// Engine computes and memoizes vendor fingerprints for one process run.
// It is not safe for concurrent use.
type Engine struct {
	toolVersion string
	revision    func(dir string) string
	memo        map[*manifest.Vendor]string
	active      map[*manifest.Vendor]bool
	stack       []string
}

// New returns an Engine keyed on toolVersion that reads source revisions
// from version control metadata.
func New(toolVersion string) *Engine {
	return NewWithRevision(toolVersion, vcs.Revision)
}

// NewWithRevision is like New with a custom revision reader.
func NewWithRevision(toolVersion string, revision func(dir string) string) *Engine {
	return &Engine{
		toolVersion: toolVersion,
		revision:    revision,
		memo:        make(map[*manifest.Vendor]string),
		active:      make(map[*manifest.Vendor]bool),
	}
}

// Fingerprint returns the hex digest identifying v's build inputs: the tool
// version, the source revision, every dependency's fingerprint and the
// build recipe. Once computed it never changes for the life of e.
func (e *Engine) Fingerprint(v *manifest.Vendor) (string, error) {
	if fp, ok := e.memo[v]; ok {
		return fp, nil
	}
	if e.active[v] {
		return "", manifest.CycleError(e.stack, v.Name)
	}
	e.active[v] = true
	e.stack = append(e.stack, v.Name)
	defer func() {
		delete(e.active, v)
		e.stack = e.stack[:len(e.stack)-1]
	}()

	var sb strings.Builder
	sb.WriteString(e.toolVersion)
	sb.WriteString(e.revision(v.Source))
	for _, d := range v.Deps {
		fp, err := e.Fingerprint(d.Vendor)
		if err != nil {
			return "", err
		}
		sb.WriteString(fp)
	}
	writeRecipe(&sb, v)

	sum := blake3.Sum256([]byte(sb.String()))
	fp := hex.EncodeToString(sum[:])
	e.memo[v] = fp
	return fp, nil
}

func writeRecipe(sb *strings.Builder, v *manifest.Vendor) {
	if v.Script != nil {
		sb.WriteString(fsutil.ReadString(v.Script.File))
		return
	}
	c := v.CMake
	if c == nil {
		return
	}
	sb.WriteString("targets:")
	sb.WriteString(strings.Join(c.Targets, ","))
	if len(c.Arguments) > 0 {
		args := slices.Clone(c.Arguments)
		slices.Sort(args)
		sb.WriteString("arguments:")
		sb.WriteString(strings.Join(args, ","))
	}
	if len(c.Includes) > 0 {
		sb.WriteString("includes:")
		sb.WriteString(strings.Join(c.Includes, ","))
	}
	if c.Native {
		sb.WriteString("native")
	}
}

// Sum returns the hex digest of data. It keys records that are derived
// from other records rather than from a vendor.
func Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
