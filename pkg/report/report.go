package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mfbutner/pl-autograders/pkg/errors"
)

// Status is the terminal state of a single test.
type Status string

const (
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
	StatusErrored    Status = "errored"
	StatusTimedOut   Status = "timed-out"
	StatusSkipped    Status = "skipped"
	StatusBuildError Status = "build-error"
)

var statuses = []Status{
	StatusPassed,
	StatusFailed,
	StatusErrored,
	StatusTimedOut,
	StatusSkipped,
	StatusBuildError,
}

func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	if s == "timeout" || s == "timed_out" {
		return StatusTimedOut, nil
	}
	return "", fmt.Errorf("%w: unknown test status %q", errors.ErrInvalidConfig, s)
}

// RunStatus is the overall state of a grading run.
type RunStatus string

const (
	RunStatusGraded     RunStatus = "graded"
	RunStatusBuildError RunStatus = "build-error"
	RunStatusUngradable RunStatus = "ungradable"
)

// TestOutcome is created exactly once per test case and never changed after
// it is handed to the aggregator.
type TestOutcome struct {
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       Status  `json:"status"`
	Stdout       string  `json:"stdout,omitempty"`
	Stderr       string  `json:"stderr,omitempty"`
	Truncated    bool    `json:"truncated,omitempty"`
	ExitCode     *int    `json:"exit_code,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
	Points       float64 `json:"points"`
	MaxPoints    float64 `json:"max_points"`
	Message      string  `json:"message,omitempty"`
	Output       string  `json:"output,omitempty"`
	MemoryErrors string  `json:"memory_errors,omitempty"`
	Hidden       bool    `json:"hidden,omitempty"`

	// PointsLostOnFailure is the penalty applied when the test fails.
	PointsLostOnFailure float64 `json:"-"`
}

type Summary struct {
	Total         int `json:"total"`
	Passed        int `json:"passed"`
	Failed        int `json:"failed"`
	Errored       int `json:"errored"`
	TimedOut      int `json:"timed_out"`
	Skipped       int `json:"skipped"`
	VisibleTotal  int `json:"visible_total"`
	VisiblePassed int `json:"visible_passed"`
	HiddenTotal   int `json:"hidden_total"`
	HiddenPassed  int `json:"hidden_passed"`
}

// Report is the single persisted artifact of a grading run.
type Report struct {
	SchemaVersion    int           `json:"schema_version"`
	RunID            string        `json:"run_id"`
	Gradable         bool          `json:"gradable"`
	Status           RunStatus     `json:"status"`
	Score            float64       `json:"score"`
	Points           float64       `json:"points"`
	MaxPoints        float64       `json:"max_points"`
	Message          string        `json:"message"`
	Output           string        `json:"output,omitempty"`
	SubmissionDigest string        `json:"submission_digest,omitempty"`
	Summary          Summary       `json:"summary"`
	Tests            []TestOutcome `json:"tests"`
}

// ScoringPolicy decides how outcomes turn into points.
type ScoringPolicy struct {
	// PartialCredit maps a non-passed status to the fraction of max points it earns.
	PartialCredit map[Status]float64
	Floor         float64
	Ceiling       float64
}

func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		PartialCredit: map[Status]float64{},
		Floor:         0,
		Ceiling:       1,
	}
}

func (p ScoringPolicy) Validate() error {
	if p.Floor < 0 || p.Floor > 1 {
		return fmt.Errorf("%w: score floor %v outside [0, 1]", errors.ErrInvalidConfig, p.Floor)
	}
	if p.Ceiling < 0 || p.Ceiling > 1 {
		return fmt.Errorf("%w: score ceiling %v outside [0, 1]", errors.ErrInvalidConfig, p.Ceiling)
	}
	if p.Floor > p.Ceiling {
		return fmt.Errorf("%w: score floor %v above ceiling %v", errors.ErrInvalidConfig, p.Floor, p.Ceiling)
	}
	for st, frac := range p.PartialCredit {
		if st == StatusPassed {
			return fmt.Errorf("%w: partial credit cannot be set for %q", errors.ErrInvalidConfig, st)
		}
		if frac < 0 || frac > 1 {
			return fmt.Errorf("%w: partial credit for %q must be in [0, 1], got %v", errors.ErrInvalidConfig, st, frac)
		}
	}
	return nil
}

// Credits reports whether outcomes with the given status contribute points.
func (p ScoringPolicy) Credits(st Status) bool {
	if st == StatusPassed {
		return true
	}
	_, ok := p.PartialCredit[st]
	return ok
}

// ParsePartialCredit parses "timed-out=0.5,errored=0" into a partial-credit map.
func ParsePartialCredit(s string) (map[Status]float64, error) {
	out := make(map[Status]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: partial credit entry %q is not status=fraction", errors.ErrInvalidConfig, part)
		}
		st, err := ParseStatus(key)
		if err != nil {
			return nil, err
		}
		frac, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: partial credit for %q: %v", errors.ErrInvalidConfig, key, err)
		}
		out[st] = frac
	}
	return out, nil
}
