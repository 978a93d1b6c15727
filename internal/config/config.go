package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for one orchestrator run. It is built once
// at startup and never mutated afterwards.
type Config struct {
	Orchestrator OrchestratorConfig
	Paths        PathsConfig
	AI           AIConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	RabbitMQ     RabbitMQConfig
	Metrics      MetricsConfig
	LogLevel     string
}

type OrchestratorConfig struct {
	RepoTimeout           time.Duration // 0 = unlimited
	ScannerTimeout        time.Duration // 0 = unlimited
	InitialStepDeadline   time.Duration
	ContinueOnTimeout     bool
	ProgressCheckInterval time.Duration
	MaxIdleTime           time.Duration
	MinCPUThreshold       float64
	MaxWorkers            int
	OverrideScan          bool
	ShutdownGrace         time.Duration
	KillWait              time.Duration
	MaxOutputBytes        int
	Quarantine            []string
	KeepWorkdirs          bool
}

type PathsConfig struct {
	ReposFile    string
	ScannersFile string
	LedgerPath   string
	OutputDir    string
	WorkDir      string
}

type AIConfig struct {
	Enabled          bool
	AutoRemediate    bool
	Provider         string
	Model            string
	APIKey           string
	MaxTokens        int
	MaxCostUSD       float64
	MaxPromptTokens  int
	MaxTimeout       time.Duration
	CostPerMTokenUSD float64
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL      string
	ClaimTTL time.Duration
}

type RabbitMQConfig struct {
	URL string
}

type MetricsConfig struct {
	Port int
}

// Flag and viper keys.
const (
	KeyRepoTimeout           = "repo-timeout"
	KeyScannerTimeout        = "scanner-timeout"
	KeyInitialStepDeadline   = "initial-step-deadline"
	KeyContinueOnTimeout     = "continue-on-timeout"
	KeyProgressCheckInterval = "progress-check-interval"
	KeyMaxIdleTime           = "max-idle-time"
	KeyMinCPUThreshold       = "min-cpu-threshold"
	KeyMaxWorkers            = "max-workers"
	KeyOverrideScan          = "override-scan"
	KeyShutdownGrace         = "shutdown-grace"
	KeyKillWait              = "kill-wait"
	KeyMaxOutputBytes        = "max-output-bytes"
	KeyQuarantine            = "quarantine"
	KeyKeepWorkdirs          = "keep-workdirs"
	KeyReposFile             = "repos-file"
	KeyScannersFile          = "scanners-file"
	KeyLedgerPath            = "ledger-path"
	KeyOutputDir             = "output-dir"
	KeyWorkDir               = "work-dir"
	KeyAIAgent               = "ai-agent"
	KeyAIAutoRemediate       = "ai-auto-remediate"
	KeyAIProvider            = "ai-provider"
	KeyAIModel               = "ai-model"
	KeyAIAPIKey              = "ai-api-key"
	KeyAIMaxTokens           = "ai-max-tokens"
	KeyAIMaxCostUSD          = "ai-max-cost-usd"
	KeyAIMaxPromptTokens     = "ai-max-prompt-tokens"
	KeyAIMaxTimeout          = "ai-max-timeout"
	KeyAICostPerMToken       = "ai-cost-per-mtoken-usd"
	KeyDatabaseURL           = "database-url"
	KeyRedisURL              = "redis-url"
	KeyRedisClaimTTL         = "redis-claim-ttl"
	KeyRabbitMQURL           = "rabbitmq-url"
	KeyMetricsPort           = "metrics-port"
	KeyLogLevel              = "log-level"
)

// EnvPrefix is prepended to every environment variable, e.g. SCANORCH_MAX_WORKERS.
const EnvPrefix = "SCANORCH"

// RegisterFlags declares the command-line surface of a run.
// Durations are expressed in the units operators already use: minutes for
// timeouts, seconds for the sampling knobs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Float64(KeyRepoTimeout, 0, "per-repository deadline in minutes (0 = unlimited)")
	fs.Float64(KeyScannerTimeout, 30, "per-scanner hard ceiling in minutes (0 = unlimited)")
	fs.Float64(KeyInitialStepDeadline, 300, "initial adaptive step deadline in seconds")
	fs.Bool(KeyContinueOnTimeout, true, "keep scanning other repositories after a timeout or error")
	fs.Float64(KeyProgressCheckInterval, 30, "progress sampling interval in seconds")
	fs.Float64(KeyMaxIdleTime, 300, "kill a scanner after this many idle seconds")
	fs.Float64(KeyMinCPUThreshold, 1.0, "cpu percent above which an interval counts as active")
	fs.Int(KeyMaxWorkers, 4, "maximum repositories scanned concurrently")
	fs.Bool(KeyOverrideScan, false, "rescan repositories already recorded in the ledger")
	fs.Float64(KeyShutdownGrace, 30, "seconds to wait for workers after a shutdown signal")
	fs.Float64(KeyKillWait, 5, "seconds to wait for output pipes after a kill")
	fs.Int(KeyMaxOutputBytes, 256*1024, "bytes of stdout/stderr retained per step")
	fs.StringSlice(KeyQuarantine, nil, "repository ids never retried automatically after a timeout")
	fs.Bool(KeyKeepWorkdirs, false, "keep clone directories after a job finishes")
	fs.String(KeyReposFile, "repos.yaml", "repository list (yaml or json)")
	fs.String(KeyScannersFile, "scanners.yaml", "scanner manifest (yaml or json)")
	fs.String(KeyLedgerPath, "state/ledger.json", "resume ledger file")
	fs.String(KeyOutputDir, "reports", "directory for reports and diagnostics")
	fs.String(KeyWorkDir, "", "directory for clones (default: system temp)")
	fs.Bool(KeyAIAgent, false, "diagnose stuck jobs with the AI provider")
	fs.Bool(KeyAIAutoRemediate, false, "apply scoped AI remediations (timeout, path exclusion)")
	fs.String(KeyAIProvider, "openai", "AI provider: openai or gemini")
	fs.String(KeyAIModel, "", "AI model (provider default when empty)")
	fs.Int(KeyAIMaxTokens, 50000, "token budget for AI diagnosis per run")
	fs.Float64(KeyAIMaxCostUSD, 1.0, "cost budget for AI diagnosis per run")
	fs.Int(KeyMetricsPort, 0, "prometheus metrics port (0 disables)")
	fs.String(KeyLogLevel, "info", "log level: debug, info, warn, error")
}

// Load reads configuration from flags, environment variables and an optional
// config file, in that order of precedence, and validates it.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	BindEnv(v)

	// Keys without a flag.
	v.SetDefault(KeyAIAPIKey, "")
	v.SetDefault(KeyAIMaxPromptTokens, 6000)
	v.SetDefault(KeyAIMaxTimeout, 240)
	v.SetDefault(KeyAICostPerMToken, 0.60)
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyRedisClaimTTL, 6*time.Hour)
	v.SetDefault(KeyRabbitMQURL, "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	cfg.Orchestrator.RepoTimeout = minutes(v.GetFloat64(KeyRepoTimeout))
	cfg.Orchestrator.ScannerTimeout = minutes(v.GetFloat64(KeyScannerTimeout))
	cfg.Orchestrator.InitialStepDeadline = seconds(v.GetFloat64(KeyInitialStepDeadline))
	cfg.Orchestrator.ContinueOnTimeout = v.GetBool(KeyContinueOnTimeout)
	cfg.Orchestrator.ProgressCheckInterval = seconds(v.GetFloat64(KeyProgressCheckInterval))
	cfg.Orchestrator.MaxIdleTime = seconds(v.GetFloat64(KeyMaxIdleTime))
	cfg.Orchestrator.MinCPUThreshold = v.GetFloat64(KeyMinCPUThreshold)
	cfg.Orchestrator.MaxWorkers = v.GetInt(KeyMaxWorkers)
	cfg.Orchestrator.OverrideScan = v.GetBool(KeyOverrideScan)
	cfg.Orchestrator.ShutdownGrace = seconds(v.GetFloat64(KeyShutdownGrace))
	cfg.Orchestrator.KillWait = seconds(v.GetFloat64(KeyKillWait))
	cfg.Orchestrator.MaxOutputBytes = v.GetInt(KeyMaxOutputBytes)
	cfg.Orchestrator.Quarantine = v.GetStringSlice(KeyQuarantine)
	cfg.Orchestrator.KeepWorkdirs = v.GetBool(KeyKeepWorkdirs)

	cfg.Paths.ReposFile = v.GetString(KeyReposFile)
	cfg.Paths.ScannersFile = v.GetString(KeyScannersFile)
	cfg.Paths.LedgerPath = v.GetString(KeyLedgerPath)
	cfg.Paths.OutputDir = v.GetString(KeyOutputDir)
	cfg.Paths.WorkDir = v.GetString(KeyWorkDir)

	cfg.AI.Enabled = v.GetBool(KeyAIAgent)
	cfg.AI.AutoRemediate = v.GetBool(KeyAIAutoRemediate)
	cfg.AI.Provider = strings.ToLower(v.GetString(KeyAIProvider))
	cfg.AI.Model = v.GetString(KeyAIModel)
	cfg.AI.APIKey = v.GetString(KeyAIAPIKey)
	cfg.AI.MaxTokens = v.GetInt(KeyAIMaxTokens)
	cfg.AI.MaxCostUSD = v.GetFloat64(KeyAIMaxCostUSD)
	cfg.AI.MaxPromptTokens = v.GetInt(KeyAIMaxPromptTokens)
	cfg.AI.MaxTimeout = minutes(v.GetFloat64(KeyAIMaxTimeout))
	cfg.AI.CostPerMTokenUSD = v.GetFloat64(KeyAICostPerMToken)

	cfg.Database.URL = v.GetString(KeyDatabaseURL)
	cfg.Redis.URL = v.GetString(KeyRedisURL)
	cfg.Redis.ClaimTTL = v.GetDuration(KeyRedisClaimTTL)
	cfg.RabbitMQ.URL = v.GetString(KeyRabbitMQURL)
	cfg.Metrics.Port = v.GetInt(KeyMetricsPort)
	cfg.LogLevel = v.GetString(KeyLogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BindEnv makes every key readable from SCANORCH_* environment variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	o := c.Orchestrator
	var errs []error
	if o.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", KeyMaxWorkers, o.MaxWorkers))
	}
	if o.ProgressCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0", KeyProgressCheckInterval))
	}
	if o.MaxIdleTime < o.ProgressCheckInterval {
		errs = append(errs, fmt.Errorf("%s (%s) must be >= %s (%s)",
			KeyMaxIdleTime, o.MaxIdleTime, KeyProgressCheckInterval, o.ProgressCheckInterval))
	}
	if o.InitialStepDeadline <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0", KeyInitialStepDeadline))
	}
	if o.RepoTimeout < 0 || o.ScannerTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	if o.MinCPUThreshold < 0 || o.MinCPUThreshold > 100 {
		errs = append(errs, fmt.Errorf("%s must be within [0, 100], got %v", KeyMinCPUThreshold, o.MinCPUThreshold))
	}
	if o.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0", KeyMaxOutputBytes))
	}
	if c.Paths.LedgerPath == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyLedgerPath))
	}
	if c.AI.Enabled {
		switch c.AI.Provider {
		case "openai", "gemini":
		default:
			errs = append(errs, fmt.Errorf("%s must be openai or gemini, got %q", KeyAIProvider, c.AI.Provider))
		}
	}
	if c.AI.AutoRemediate && !c.AI.Enabled {
		errs = append(errs, fmt.Errorf("%s requires %s", KeyAIAutoRemediate, KeyAIAgent))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// StepCeiling returns the hard ceiling for one step, honouring a remediated
// per-repository override when it is larger.
func (o OrchestratorConfig) StepCeiling(override time.Duration) time.Duration {
	if override > o.ScannerTimeout && o.ScannerTimeout > 0 {
		return override
	}
	return o.ScannerTimeout
}

func minutes(f float64) time.Duration { return time.Duration(f * float64(time.Minute)) }

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
