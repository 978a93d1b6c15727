// Package checkout prepares the shared working directory of a job and
// profiles it for diagnostics.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
	"github.com/go-git/go-git/v5"
	giturls "github.com/whilp/git-urls"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

const (
	// DefaultProfileFiles caps how many files Profile inspects.
	DefaultProfileFiles = 20_000
	sniffBytes          = 8 * 1024
)

// GitCheckout clones repositories with go-git.
type GitCheckout struct {
	maxProfileFiles int
	logger          *zap.Logger
}

// NewGitCheckout creates a cloner.
func NewGitCheckout(maxProfileFiles int, logger *zap.Logger) *GitCheckout {
	if maxProfileFiles <= 0 {
		maxProfileFiles = DefaultProfileFiles
	}
	return &GitCheckout{maxProfileFiles: maxProfileFiles, logger: logger}
}

// Prepare clones repo into dir, which must be empty, and profiles the result.
// A descriptor without a clone URL leaves dir empty.
func (g *GitCheckout) Prepare(ctx context.Context, repo domain.Repository, dir string) (*domain.Profile, error) {
	if repo.CloneURL != "" {
		opts := &git.CloneOptions{
			URL:          repo.CloneURL,
			SingleBranch: true,
		}
		// Local clones go through the file transport, which has no shallow support.
		if !isLocal(repo.CloneURL) {
			opts.Depth = 1
		}
		if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: clone %s: %v", domain.ErrSetupFailure, repo.CloneURL, err)
		}
		g.logger.Debug("Repository cloned", zap.String("repo_id", repo.Key()), zap.String("dir", dir))
	}

	p, err := Profile(dir, g.maxProfileFiles)
	if err != nil {
		// The profile only feeds diagnostics.
		g.logger.Warn("Failed to profile checkout", zap.String("repo_id", repo.Key()), zap.Error(err))
		return nil, nil
	}
	return p, nil
}

// DirName returns a short directory prefix for repo, e.g. "api" for
// https://github.com/acme/api.git.
func DirName(repo domain.Repository) string {
	name := ""
	if repo.CloneURL != "" {
		if u, err := giturls.Parse(repo.CloneURL); err == nil {
			name = strings.TrimSuffix(path.Base(strings.TrimSuffix(u.Path, "/")), ".git")
		}
	}
	if name == "" || name == "." || name == "/" {
		name = repo.Slug()
	}
	return domain.Repository{ID: name}.Slug()
}

func isLocal(url string) bool {
	if strings.HasPrefix(url, "file://") {
		return true
	}
	u, err := giturls.Parse(url)
	if err != nil {
		return false
	}
	return u.Scheme == "file" || u.Host == ""
}

// Profile walks dir and summarises file count, size, vendored share and
// detected languages. It stops after maxFiles files.
func Profile(dir string, maxFiles int) (*domain.Profile, error) {
	p := &domain.Profile{Languages: make(map[string]int)}
	errStop := errors.New("stop")

	err := filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(dir, full)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if p.Files >= maxFiles {
			p.Truncated = true
			return errStop
		}

		p.Files++
		if info, err := d.Info(); err == nil {
			p.Bytes += info.Size()
		}
		if enry.IsVendor(rel) {
			p.VendorFiles++
			return nil
		}
		if enry.IsDotFile(rel) || enry.IsConfiguration(rel) || enry.IsDocumentation(rel) {
			return nil
		}
		if lang := enry.GetLanguage(d.Name(), sniff(full)); lang != "" {
			p.Languages[lang]++
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("checkout: profile: %w", err)
	}
	return p, nil
}

func sniff(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, sniffBytes)
	n, _ := io.ReadFull(f, buf)
	return buf[:n]
}
