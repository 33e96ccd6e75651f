// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vcs

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	commitA = "1111111111111111111111111111111111111111"
	commitB = "2222222222222222222222222222222222222222"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRevision(t *testing.T) {
	t.Run("no git metadata", func(t *testing.T) {
		if got := Revision(t.TempDir()); got != "" {
			t.Errorf("Revision = %q, want empty", got)
		}
	})

	t.Run("shallow wins", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ".git", "shallow"), commitA+"\n")
		writeFile(t, filepath.Join(dir, ".git", "HEAD"), commitB+"\n")
		if got := Revision(dir); got != commitA {
			t.Errorf("Revision = %q, want %q", got, commitA)
		}
	})

	t.Run("detached head", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ".git", "HEAD"), commitB+"\n")
		if got := Revision(dir); got != commitB {
			t.Errorf("Revision = %q, want %q", got, commitB)
		}
	})

	t.Run("loose ref", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main\n")
		writeFile(t, filepath.Join(dir, ".git", "refs", "heads", "main"), commitA+"\n")
		if got := Revision(dir); got != commitA {
			t.Errorf("Revision = %q, want %q", got, commitA)
		}
	})

	t.Run("packed ref", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main\n")
		writeFile(t, filepath.Join(dir, ".git", "packed-refs"),
			"# pack-refs with: peeled fully-peeled sorted\n"+
				commitB+" refs/heads/dev\n"+
				commitA+" refs/heads/main\n")
		if got := Revision(dir); got != commitA {
			t.Errorf("Revision = %q, want %q", got, commitA)
		}
	})

	t.Run("gitdir indirection", func(t *testing.T) {
		root := t.TempDir()
		real := filepath.Join(root, "modules", "zlib")
		work := filepath.Join(root, "zlib")
		writeFile(t, filepath.Join(real, "HEAD"), commitB)
		writeFile(t, filepath.Join(work, ".git"), "gitdir: ../modules/zlib\n")
		if got := Revision(work); got != commitB {
			t.Errorf("Revision = %q, want %q", got, commitB)
		}
	})

	t.Run("dangling ref", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/gone\n")
		if got := Revision(dir); got != "" {
			t.Errorf("Revision = %q, want empty", got)
		}
	})
}
