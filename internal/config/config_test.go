package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	v := viper.New()
	require.NoError(t, v.BindPFlags(fs))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t), "")
	require.NoError(t, err)

	o := cfg.Orchestrator
	assert.Zero(t, o.RepoTimeout)
	assert.Equal(t, 30*time.Minute, o.ScannerTimeout)
	assert.Equal(t, 300*time.Second, o.InitialStepDeadline)
	assert.True(t, o.ContinueOnTimeout)
	assert.Equal(t, 30*time.Second, o.ProgressCheckInterval)
	assert.Equal(t, 300*time.Second, o.MaxIdleTime)
	assert.Equal(t, 1.0, o.MinCPUThreshold)
	assert.Equal(t, 4, o.MaxWorkers)
	assert.False(t, o.OverrideScan)
	assert.Equal(t, 256*1024, o.MaxOutputBytes)

	assert.Equal(t, "state/ledger.json", cfg.Paths.LedgerPath)
	assert.Equal(t, "reports", cfg.Paths.OutputDir)
	assert.False(t, cfg.AI.Enabled)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 6000, cfg.AI.MaxPromptTokens)
	assert.Equal(t, 240*time.Minute, cfg.AI.MaxTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Redis.ClaimTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FlagsOverrideFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"max-workers: 8\nscanner-timeout: 10\nquarantine: [acme/api, acme/web]\ndatabase-url: postgres://x\n",
	), 0o644))
	t.Setenv("SCANORCH_MAX_IDLE_TIME", "600")
	t.Setenv("SCANORCH_AI_API_KEY", "sk-test")

	cfg, err := Load(newViper(t, "--max-workers=2", "--override-scan"), file)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Orchestrator.MaxWorkers)
	assert.True(t, cfg.Orchestrator.OverrideScan)
	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.ScannerTimeout)
	assert.Equal(t, []string{"acme/api", "acme/web"}, cfg.Orchestrator.Quarantine)
	assert.Equal(t, 600*time.Second, cfg.Orchestrator.MaxIdleTime)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.Equal(t, "postgres://x", cfg.Database.URL)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(newViper(t), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no workers", []string{"--max-workers=0"}, KeyMaxWorkers},
		{"idle below interval", []string{"--max-idle-time=10", "--progress-check-interval=30"}, KeyMaxIdleTime},
		{"cpu out of range", []string{"--min-cpu-threshold=150"}, KeyMinCPUThreshold},
		{"unknown provider", []string{"--ai-agent", "--ai-provider=claude"}, KeyAIProvider},
		{"remediate without agent", []string{"--ai-auto-remediate"}, KeyAIAutoRemediate},
		{"negative timeout", []string{"--repo-timeout=-1"}, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.args...), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStepCeiling(t *testing.T) {
	o := OrchestratorConfig{ScannerTimeout: 30 * time.Minute}
	assert.Equal(t, 30*time.Minute, o.StepCeiling(0))
	assert.Equal(t, 30*time.Minute, o.StepCeiling(10*time.Minute))
	assert.Equal(t, time.Hour, o.StepCeiling(time.Hour))

	unlimited := OrchestratorConfig{}
	assert.Zero(t, unlimited.StepCeiling(time.Hour))
}
