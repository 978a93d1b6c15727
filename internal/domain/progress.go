package domain

import "time"

// Activity is the classification of one sampling interval.
type Activity int

const (
	Idle Activity = iota
	Active
)

func (a Activity) String() string {
	if a == Active {
		return "active"
	}
	return "idle"
}

// ProgressSample is one measurement of a running subprocess group.
type ProgressSample struct {
	At               time.Time `json:"at"`
	CPUPercent       float64   `json:"cpu_percent"`
	IOBytesDelta     uint64    `json:"io_bytes_delta"`
	OutputBytesDelta uint64    `json:"output_bytes_delta"`
	Activity         Activity  `json:"activity"`
}
