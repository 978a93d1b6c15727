package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLister_YAMLList(t *testing.T) {
	path := write(t, "repos.yaml", `
- id: api
  clone_url: https://github.com/acme/api.git
- https://github.com/acme/web.git
- git@github.com:acme/web.git
`)
	repos, err := NewLister(path).List(context.Background())
	require.NoError(t, err)

	require.Len(t, repos, 2, "ssh and https forms of the same repository collapse")
	assert.Equal(t, "api", repos[0].Key())
	assert.Equal(t, "github.com/acme/web", repos[1].Key())
}

func TestLister_JSONMapping(t *testing.T) {
	path := write(t, "repos.json", `{"repositories":[{"id":"a","clone_url":"https://x/a.git"},{"id":"b","clone_url":"https://x/b.git"}]}`)
	repos, err := NewLister(path).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Repository{
		{ID: "a", CloneURL: "https://x/a.git"},
		{ID: "b", CloneURL: "https://x/b.git"},
	}, repos)
}

func TestLister_Errors(t *testing.T) {
	_, err := NewLister(filepath.Join(t.TempDir(), "missing.yaml")).List(context.Background())
	assert.Error(t, err)

	_, err = NewLister(write(t, "bad.yaml", "- {}\n")).List(context.Background())
	assert.Error(t, err)

	_, err = NewLister(write(t, "scalar.yaml", "just a string\n")).List(context.Background())
	assert.Error(t, err)
}

func TestLister_Empty(t *testing.T) {
	repos, err := NewLister(write(t, "empty.yaml", "")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestLoadScanners(t *testing.T) {
	path := write(t, "scanners.yaml", `
scanners:
  - id: gitleaks
    argv: [gitleaks, detect, --source, "{workdir}", --report-path, "{output}/gitleaks.json"]
    reports: [gitleaks.json]
  - id: semgrep
    argv: [semgrep, --json, -o, "{output}/semgrep.json", "{workdir}"]
    env:
      SEMGREP_SEND_METRICS: "off"
`)
	scanners, err := LoadScanners(path)
	require.NoError(t, err)
	require.Len(t, scanners, 2)
	assert.Equal(t, "gitleaks", scanners[0].ID)
	assert.Equal(t, []string{"gitleaks.json"}, scanners[0].Reports)
	assert.Equal(t, "off", scanners[1].Env["SEMGREP_SEND_METRICS"])
}

func TestLoadScanners_Invalid(t *testing.T) {
	cases := map[string]string{
		"none":      "scanners: []\n",
		"no id":     "scanners:\n  - argv: [x]\n",
		"no argv":   "scanners:\n  - id: x\n",
		"duplicate": "scanners:\n  - id: x\n    argv: [x]\n  - id: x\n    argv: [y]\n",
	}
	for name, body := range cases {
		_, err := LoadScanners(write(t, "s.yaml", body))
		assert.Error(t, err, name)
	}
}
