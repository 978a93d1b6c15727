package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts repository jobs by terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanorch_jobs_total",
			Help: "Total number of repository jobs by outcome",
		},
		[]string{"status"},
	)

	// JobDuration tracks the wall-clock duration of repository jobs in seconds.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanorch_job_duration_seconds",
			Help:    "Duration of repository jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9h
		},
		[]string{"status"},
	)

	// StepDuration tracks scanner step durations by scanner and final state.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanorch_step_duration_seconds",
			Help:    "Duration of scanner steps in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"scanner", "state"},
	)

	// WorkersActive tracks the number of workers currently running a job.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanorch_workers_active",
			Help: "Number of workers currently running a repository job",
		},
	)

	// StepsKilled counts scanner process groups killed by the timeout controller.
	StepsKilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanorch_steps_killed_total",
			Help: "Scanner steps killed for lack of progress or reaching their ceiling",
		},
		[]string{"reason"},
	)

	// DeadlineExtensions counts adaptive deadline extensions.
	DeadlineExtensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanorch_deadline_extensions_total",
			Help: "Total number of adaptive step deadline extensions",
		},
	)

	// LedgerWrites counts resume ledger persists, labelled by result.
	LedgerWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanorch_ledger_writes_total",
			Help: "Resume ledger writes",
		},
		[]string{"result"},
	)

	// AdvisorTokens counts tokens spent on AI diagnosis.
	AdvisorTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanorch_advisor_tokens_total",
			Help: "Tokens consumed by stuck-job diagnosis",
		},
	)

	// AdvisorDiagnoses counts diagnoses by source (provider, neutral).
	AdvisorDiagnoses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanorch_advisor_diagnoses_total",
			Help: "Stuck-job diagnoses by source",
		},
		[]string{"source"},
	)
)
