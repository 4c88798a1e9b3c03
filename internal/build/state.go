package build

import (
	"fmt"
	"time"

	"github.com/conneroisu/tramline/internal/errors"
)

// Phase is the orchestrator's coarse state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBuilding
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBuilding:
		return "building"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is Idle, Building(gen), Succeeded(gen) or Failed(gen, err).
type State struct {
	Phase      Phase
	Generation uint64
	Err        error
}

func (s State) String() string {
	switch s.Phase {
	case PhaseIdle:
		return "idle"
	case PhaseFailed:
		return fmt.Sprintf("failed(%d): %v", s.Generation, s.Err)
	default:
		return fmt.Sprintf("%s(%d)", s.Phase, s.Generation)
	}
}

// Result describes how one generation ended.
type Result struct {
	Generation uint64
	Err        error
	// Superseded generations were cancelled by a newer request or by
	// shutdown; their outcome is never published.
	Superseded bool
	Duration   time.Duration
}

// Status is the snapshot served to clients of the dev server.
type Status struct {
	Success     bool                `json:"success"`
	Phase       string              `json:"phase"`
	Generation  uint64              `json:"generation"`
	Published   uint64              `json:"published"`
	Diagnostics []errors.Diagnostic `json:"diagnostics"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Builds      StatusCounters      `json:"builds"`
}

// StatusCounters summarizes BuildMetrics for clients.
type StatusCounters struct {
	Total             int64   `json:"total"`
	Succeeded         int64   `json:"succeeded"`
	Failed            int64   `json:"failed"`
	Superseded        int64   `json:"superseded"`
	LastDurationMs    int64   `json:"last_duration_ms"`
	AverageDurationMs int64   `json:"average_duration_ms"`
	SuccessRate       float64 `json:"success_rate"`
}
