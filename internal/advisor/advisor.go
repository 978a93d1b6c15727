// Package advisor diagnoses stuck jobs with an AI provider and, when allowed,
// applies the scoped remediations it suggests.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/fsutil"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/llm"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/metrics"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/remediation"
)

// Remediation actions a diagnosis may carry.
const (
	ActionRaiseTimeout = "raise_timeout"
	ActionExcludePaths = "exclude_paths"
	ActionSkip         = "skip"
	ActionNone         = "none"
)

// Diagnosis sources.
const (
	SourceProvider = "provider"
	SourceNeutral  = "neutral"
)

// MinApplyConfidence is the confidence below which nothing is applied.
const MinApplyConfidence = 0.5

// DefaultMaxOutputTokens bounds one diagnosis answer.
const DefaultMaxOutputTokens = 600

type Suggestion struct {
	Action         string   `json:"action"`
	TimeoutMinutes float64  `json:"timeout_minutes,omitempty"`
	Paths          []string `json:"paths,omitempty"`
}

// Diagnosis is the structured answer for one stuck job.
type Diagnosis struct {
	RepoID      string     `json:"repo_id"`
	EntryID     string     `json:"entry_id"`
	RootCause   string     `json:"root_cause"`
	Remediation Suggestion `json:"remediation"`
	Skip        bool       `json:"skip"`
	Confidence  float64    `json:"confidence"`
	Source      string     `json:"source"`
	Tokens      int        `json:"tokens,omitempty"`
	Applied     bool       `json:"applied"`
	Note        string     `json:"note,omitempty"`
	At          time.Time  `json:"at"`
}

// Neutral is the diagnosis returned whenever the provider cannot be asked.
func Neutral(e domain.StuckJobEntry, note string) Diagnosis {
	return Diagnosis{
		RepoID:      e.RepoID,
		EntryID:     e.ID.String(),
		RootCause:   "unknown",
		Remediation: Suggestion{Action: ActionNone},
		Source:      SourceNeutral,
		Note:        note,
	}
}

// Options configure an Advisor.
type Options struct {
	AutoRemediate   bool
	MaxPromptTokens int
	MaxOutputTokens int
	// LogPath receives one JSON line per diagnosis; empty disables it.
	LogPath string
}

// RemediationStore is the subset of remediation.Store the advisor writes to.
type RemediationStore interface {
	Apply(repoID string, r remediation.Remediation) (remediation.Remediation, error)
}

type Advisor struct {
	client  llm.Client
	counter Counter
	budget  *Budget
	store   RemediationStore
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func New(client llm.Client, counter Counter, budget *Budget, store RemediationStore, opts Options, logger *zap.Logger) *Advisor {
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return &Advisor{
		client:  client,
		counter: counter,
		budget:  budget,
		store:   store,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Eligible reports whether e is worth a provider call: timeouts, and
// anything that already failed on an earlier run.
func Eligible(e domain.StuckJobEntry) bool {
	return e.Status == domain.JobTimedOut || e.Attempts >= 2
}

// Diagnose asks the provider about e. It never fails: budget exhaustion,
// provider errors and malformed answers all yield a neutral diagnosis.
func (a *Advisor) Diagnose(ctx context.Context, e domain.StuckJobEntry) Diagnosis {
	d := a.diagnose(ctx, e)
	d.At = a.now().UTC()
	metrics.AdvisorDiagnoses.WithLabelValues(d.Source).Inc()

	if a.opts.AutoRemediate && d.Source == SourceProvider {
		a.apply(&d)
	}
	a.record(d)
	return d
}

func (a *Advisor) diagnose(ctx context.Context, e domain.StuckJobEntry) Diagnosis {
	log := a.logger.With(zap.String("repo_id", e.RepoID))
	prompt := BuildPrompt(e, a.counter, a.opts.MaxPromptTokens)
	estimate := a.counter.Count(prompt) + a.opts.MaxOutputTokens

	if !a.budget.Reserve(estimate) {
		log.Warn("Diagnosis budget exhausted", zap.Int("estimated_tokens", estimate))
		return Neutral(e, "budget exhausted")
	}

	c, err := a.client.Complete(ctx, prompt, a.opts.MaxOutputTokens)
	if err != nil {
		log.Warn("Diagnosis request failed", zap.Error(err))
		return Neutral(e, "provider error")
	}
	tokens := c.TotalTokens
	if tokens == 0 {
		tokens = estimate
	}
	a.budget.Charge(tokens)
	metrics.AdvisorTokens.Add(float64(tokens))

	d, err := ParseDiagnosis(c.Text)
	if err != nil {
		log.Warn("Unusable diagnosis", zap.Error(err))
		n := Neutral(e, "malformed answer")
		n.Tokens = tokens
		return n
	}
	d.RepoID = e.RepoID
	d.EntryID = e.ID.String()
	d.Source = SourceProvider
	d.Tokens = tokens
	return d
}

// apply turns an approved suggestion into a stored remediation. Only
// timeout and path exclusion are ever applied; skip is reported only.
func (a *Advisor) apply(d *Diagnosis) {
	if a.store == nil || d.Confidence < MinApplyConfidence {
		return
	}
	var r remediation.Remediation
	switch d.Remediation.Action {
	case ActionRaiseTimeout:
		if d.Remediation.TimeoutMinutes <= 0 {
			return
		}
		r.StepTimeout = time.Duration(d.Remediation.TimeoutMinutes * float64(time.Minute))
	case ActionExcludePaths:
		if len(d.Remediation.Paths) == 0 {
			return
		}
		r.ExcludePaths = d.Remediation.Paths
	default:
		return
	}
	r.Source = "advisor"
	r.Reason = d.RootCause

	if _, err := a.store.Apply(d.RepoID, r); err != nil {
		a.logger.Warn("Remediation not applied",
			zap.String("repo_id", d.RepoID),
			zap.String("action", d.Remediation.Action),
			zap.Error(err),
		)
		d.Note = err.Error()
		return
	}
	d.Applied = true
}

func (a *Advisor) record(d Diagnosis) {
	a.logger.Info("Stuck job diagnosed",
		zap.String("repo_id", d.RepoID),
		zap.String("source", d.Source),
		zap.String("root_cause", d.RootCause),
		zap.String("action", d.Remediation.Action),
		zap.Float64("confidence", d.Confidence),
		zap.Bool("skip", d.Skip),
		zap.Bool("applied", d.Applied),
	)
	if a.opts.LogPath == "" {
		return
	}
	line, err := json.Marshal(d)
	if err == nil {
		err = fsutil.AppendLine(a.opts.LogPath, line)
	}
	if err != nil {
		a.logger.Error("Failed to record diagnosis", zap.Error(err))
	}
}

// ParseDiagnosis decodes a provider answer. Surrounding prose or code fences
// are tolerated; the first JSON object wins.
func ParseDiagnosis(text string) (Diagnosis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Diagnosis{}, fmt.Errorf("advisor: no JSON object in answer")
	}
	var d Diagnosis
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return Diagnosis{}, fmt.Errorf("advisor: decode diagnosis: %w", err)
	}
	d.Remediation.Action = strings.ToLower(strings.TrimSpace(d.Remediation.Action))
	switch d.Remediation.Action {
	case ActionRaiseTimeout, ActionExcludePaths, ActionSkip, ActionNone:
	case "":
		d.Remediation.Action = ActionNone
	default:
		return Diagnosis{}, fmt.Errorf("advisor: unknown action %q", d.Remediation.Action)
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	if d.Remediation.Action == ActionSkip {
		d.Skip = true
	}
	return d, nil
}
