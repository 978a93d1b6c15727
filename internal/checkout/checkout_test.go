package checkout

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
}

func TestDirName(t *testing.T) {
	cases := map[string]domain.Repository{
		"api":                 {CloneURL: "https://github.com/acme/api.git"},
		"web":                 {CloneURL: "git@github.com:acme/web.git"},
		"internal-tool":       {ID: "x", CloneURL: "ssh://git@host:2222/team/internal-tool"},
		"github.com_acme_cli": {ID: "github.com/acme/cli"},
	}
	for want, repo := range cases {
		assert.Equal(t, want, DirName(repo), "%+v", repo)
	}
}

func TestProfile(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"main.go":                     "package main\n\nfunc main() {}\n",
		"pkg/util.go":                 "package pkg\n",
		"scripts/build.py":            "print('hi')\n",
		"vendor/github.com/x/y/y.go":  "package y\n",
		"node_modules/left-pad/i.js":  "module.exports = 1\n",
		".git/HEAD":                   "ref: refs/heads/main\n",
		"README.md":                   "# readme\n",
	})

	p, err := Profile(dir, 100)
	require.NoError(t, err)

	assert.Equal(t, 6, p.Files, ".git is not counted")
	assert.Equal(t, 2, p.VendorFiles)
	assert.Equal(t, 2, p.Languages["Go"])
	assert.Equal(t, 1, p.Languages["Python"])
	assert.False(t, p.Truncated)
	assert.Greater(t, p.Bytes, int64(0))
}

func TestProfile_Truncates(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.go": "package a\n", "b.go": "package b\n", "c.go": "package c\n"})

	p, err := Profile(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Files)
	assert.True(t, p.Truncated)
}

// Test: a descriptor without a clone URL only profiles the directory.
func TestPrepare_NoCloneURL(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"main.go": "package main\n"})

	p, err := NewGitCheckout(0, zap.NewNop()).Prepare(context.Background(), domain.Repository{ID: "local"}, dir)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Files)
}

// Test: an unreachable clone URL is a setup failure for that job only.
func TestPrepare_CloneFailureIsSetupFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	_, err := NewGitCheckout(0, zap.NewNop()).Prepare(context.Background(),
		domain.Repository{CloneURL: missing}, t.TempDir())

	assert.ErrorIs(t, err, domain.ErrSetupFailure)
}

func TestPrepare_ClonesLocalRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available for the file transport")
	}
	src := t.TempDir()
	repo, err := git.PlainInit(src, false)
	require.NoError(t, err)
	writeTree(t, src, map[string]string{"main.go": "package main\n", "lib/lib.go": "package lib\n"})
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "clone")
	p, err := NewGitCheckout(0, zap.NewNop()).Prepare(context.Background(),
		domain.Repository{ID: "local/repo", CloneURL: src}, dst)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dst, "lib", "lib.go"))
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Languages["Go"])
}
