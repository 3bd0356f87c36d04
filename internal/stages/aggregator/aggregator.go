package aggregator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/mfbutner/pl-autograders/pkg/constants"
	"github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/report"
	"github.com/mfbutner/pl-autograders/utils"
)

var messageTemplate = template.Must(template.New("results").Funcs(template.FuncMap{
	"points": formatPoints,
}).Parse(
	`{{- with .Visible}}{{if .Total}}Visible tests: {{.Passed}} of {{.Total}} passed, {{points .Earned}} of {{points .Available}} points
{{end}}{{end -}}
{{- with .Hidden}}{{if .Total}}Hidden tests: {{.Passed}} of {{.Total}} passed, {{points .Earned}} of {{points .Available}} points
{{end}}{{end -}}
Total: {{points .Total.Earned}} of {{points .Total.Available}} points
Score: {{printf "%.2f" .Percent}}%`,
))

type tally struct {
	Total     int
	Passed    int
	Earned    float64
	Available float64
}

func (t *tally) add(o report.TestOutcome) {
	t.Total++
	if o.Status == report.StatusPassed {
		t.Passed++
	}
	t.Earned += o.Points
	t.Available += o.MaxPoints
}

// Award returns the points an outcome earns under the policy. Only a failed
// test with a configured penalty goes below zero.
func Award(o report.TestOutcome, policy report.ScoringPolicy) float64 {
	if !policy.Credits(o.Status) {
		if o.Status == report.StatusFailed && o.PointsLostOnFailure > 0 {
			return -o.PointsLostOnFailure
		}
		return 0
	}
	if o.Status == report.StatusPassed {
		return o.MaxPoints
	}
	return o.MaxPoints * policy.PartialCredit[o.Status]
}

// Aggregate turns outcomes into a graded report. It does not mutate outcomes.
func Aggregate(outcomes []report.TestOutcome, policy report.ScoringPolicy) report.Report {
	rep := report.Report{
		SchemaVersion: constants.ReportSchemaVersion,
		Gradable:      true,
		Status:        report.RunStatusGraded,
		Tests:         make([]report.TestOutcome, 0, len(outcomes)),
	}

	var visible, hidden, total tally
	hiddenSeen := 0
	for _, o := range outcomes {
		o.Points = Award(o, policy)
		rep.Points += o.Points
		rep.MaxPoints += o.MaxPoints
		countStatus(&rep.Summary, o.Status)
		total.add(o)

		if o.Hidden {
			hidden.add(o)
			hiddenSeen++
			o = redact(o, hiddenSeen)
		} else {
			visible.add(o)
		}
		rep.Tests = append(rep.Tests, o)
	}

	rep.Summary.Total = len(outcomes)
	rep.Summary.VisibleTotal, rep.Summary.VisiblePassed = visible.Total, visible.Passed
	rep.Summary.HiddenTotal, rep.Summary.HiddenPassed = hidden.Total, hidden.Passed
	rep.Score = Score(rep.Points, rep.MaxPoints, policy)

	if len(outcomes) == 0 {
		rep.Message = constants.ReportMessageNoTests
		return rep
	}
	rep.Message = renderMessage(visible, hidden, total, rep.Score)
	return rep
}

// Score is the clamped fraction of points earned. A suite worth nothing scores 0.
func Score(points, maxPoints float64, policy report.ScoringPolicy) float64 {
	if maxPoints <= 0 {
		return 0
	}
	score := points / maxPoints
	score = max(score, policy.Floor)
	return min(score, policy.Ceiling)
}

// BuildFailure is the report of a submission that did not build. It holds a
// single outcome standing in for every test of the suite and scores zero even
// when the suite sets a score floor.
func BuildFailure(diagnostic string, maxPoints float64) report.Report {
	outcome := report.TestOutcome{
		Name:      constants.ReportMessageBuildOutcome,
		Status:    report.StatusBuildError,
		MaxPoints: maxPoints,
		Message:   constants.ReportMessageBuildError,
		Output:    diagnostic,
	}
	return report.Report{
		SchemaVersion: constants.ReportSchemaVersion,
		Gradable:      true,
		Status:        report.RunStatusBuildError,
		Score:         0,
		MaxPoints:     maxPoints,
		Message:       constants.ReportMessageBuildError,
		Output:        diagnostic,
		Summary:       report.Summary{Total: 1, Failed: 1, VisibleTotal: 1},
		Tests:         []report.TestOutcome{outcome},
	}
}

// Ungradable is the report of a run that could not grade the submission at all.
func Ungradable(err error) report.Report {
	return report.Report{
		SchemaVersion: constants.ReportSchemaVersion,
		Gradable:      false,
		Status:        report.RunStatusUngradable,
		Message:       constants.ReportMessageUngradable,
		Output:        err.Error(),
		Tests:         []report.TestOutcome{},
	}
}

// Persist writes the report atomically; readers see the old file or the complete new one.
func Persist(path string, rep report.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode report: %v", errors.ErrResultPersistence, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.ResultsDirMode); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrResultPersistence, err)
	}
	if err := utils.WriteFileAtomic(path, append(data, '\n'), constants.ResultFileMode); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrResultPersistence, err)
	}
	return nil
}

func countStatus(s *report.Summary, st report.Status) {
	switch st {
	case report.StatusPassed:
		s.Passed++
	case report.StatusFailed, report.StatusBuildError:
		s.Failed++
	case report.StatusErrored:
		s.Errored++
	case report.StatusTimedOut:
		s.TimedOut++
	case report.StatusSkipped:
		s.Skipped++
	}
}

func redact(o report.TestOutcome, n int) report.TestOutcome {
	return report.TestOutcome{
		Name:       fmt.Sprintf(constants.ReportMessageHiddenTest, n),
		Status:     o.Status,
		DurationMs: o.DurationMs,
		Points:     o.Points,
		MaxPoints:  o.MaxPoints,
		Hidden:     true,
	}
}

func renderMessage(visible, hidden, total tally, score float64) string {
	var b strings.Builder
	err := messageTemplate.Execute(&b, struct {
		Visible, Hidden, Total tally
		Percent                float64
	}{visible, hidden, total, score * 100})
	if err != nil {
		return fmt.Sprintf("Score: %.2f%%", score*100)
	}
	return b.String()
}

func formatPoints(p float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", p), "0"), ".")
}
