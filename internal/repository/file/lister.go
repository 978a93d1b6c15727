// Package file reads repository lists and scanner manifests from YAML or
// JSON files.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
)

var _ repository.Lister = (*Lister)(nil)

// Lister reads repository descriptors from a file. The file is either a
// list of descriptors, a list of clone URLs, or a mapping with a
// "repositories" key holding either.
type Lister struct {
	path string
}

// NewLister creates a lister for path.
func NewLister(path string) *Lister {
	return &Lister{path: path}
}

type repoEntry struct {
	domain.Repository
}

// UnmarshalYAML accepts a bare clone URL as shorthand.
func (e *repoEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.CloneURL = strings.TrimSpace(n.Value)
		return nil
	}
	return n.Decode(&e.Repository)
}

type repoFile struct {
	Repositories []repoEntry `yaml:"repositories"`
}

// List returns the descriptors in file order, dropping duplicates by key.
func (l *Lister) List(ctx context.Context) ([]domain.Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("file: read repositories: %w", err)
	}

	var entries []repoEntry
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("file: parse %s: %w", l.path, err)
	}
	if len(root.Content) > 0 {
		switch root.Content[0].Kind {
		case yaml.SequenceNode:
			err = root.Content[0].Decode(&entries)
		case yaml.MappingNode:
			var f repoFile
			err = root.Content[0].Decode(&f)
			entries = f.Repositories
		default:
			err = fmt.Errorf("expected a list or a mapping")
		}
		if err != nil {
			return nil, fmt.Errorf("file: parse %s: %w", l.path, err)
		}
	}

	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.Repository, 0, len(entries))
	for i, e := range entries {
		if e.CloneURL == "" && e.ID == "" {
			return nil, fmt.Errorf("file: %s: entry %d has neither id nor clone_url", l.path, i)
		}
		key := e.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e.Repository)
	}
	return out, nil
}

type manifest struct {
	Scanners []domain.ScannerSpec `yaml:"scanners"`
}

// LoadScanners reads the ordered scanner manifest.
func LoadScanners(path string) ([]domain.ScannerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("file: read scanners: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("file: parse %s: %w", path, err)
	}
	if len(m.Scanners) == 0 {
		return nil, fmt.Errorf("file: %s defines no scanners", path)
	}
	ids := make(map[string]struct{}, len(m.Scanners))
	for i, s := range m.Scanners {
		if s.ID == "" {
			return nil, fmt.Errorf("file: %s: scanner %d has no id", path, i)
		}
		if len(s.Argv) == 0 {
			return nil, fmt.Errorf("file: %s: scanner %q has an empty argv", path, s.ID)
		}
		if _, dup := ids[s.ID]; dup {
			return nil, fmt.Errorf("file: %s: duplicate scanner id %q", path, s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	return m.Scanners, nil
}
