// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vcs

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Revision returns the revision marker of the git checkout at dir.
//
// The marker is the commit list recorded by a shallow clone (.git/shallow)
// when present, otherwise the commit HEAD resolves to. A directory without
// usable git metadata yields "" rather than an error.
func Revision(dir string) string {
	gitDir := gitDirOf(dir)
	if gitDir == "" {
		return ""
	}
	if shallow := readTrimmed(filepath.Join(gitDir, "shallow")); shallow != "" {
		return shallow
	}
	return resolveHead(gitDir)
}

// gitDirOf locates the git directory for a work tree. It follows the
// "gitdir: <path>" indirection used by worktrees and submodules.
func gitDirOf(dir string) string {
	dotGit := filepath.Join(dir, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return ""
	}
	if info.IsDir() {
		return dotGit
	}
	content := readTrimmed(dotGit)
	target, ok := strings.CutPrefix(content, "gitdir:")
	if !ok {
		return ""
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	return target
}

func resolveHead(gitDir string) string {
	head := readTrimmed(filepath.Join(gitDir, "HEAD"))
	ref, ok := strings.CutPrefix(head, "ref:")
	if !ok {
		// detached HEAD holds the commit itself
		return head
	}
	ref = strings.TrimSpace(ref)
	if commit := readTrimmed(filepath.Join(gitDir, filepath.FromSlash(ref))); commit != "" {
		return commit
	}
	// worktrees keep branch refs in the common dir
	if common := readTrimmed(filepath.Join(gitDir, "commondir")); common != "" {
		if !filepath.IsAbs(common) {
			common = filepath.Join(gitDir, common)
		}
		if commit := readTrimmed(filepath.Join(common, filepath.FromSlash(ref))); commit != "" {
			return commit
		}
		gitDir = common
	}
	return packedRef(filepath.Join(gitDir, "packed-refs"), ref)
}

func packedRef(path, ref string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		// format: <hash> <ref>
		hash, name, ok := strings.Cut(line, " ")
		if ok && name == ref {
			return hash
		}
	}
	return ""
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
