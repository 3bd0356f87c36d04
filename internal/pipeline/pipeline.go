package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/config"
	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/internal/sandbox"
	"github.com/mfbutner/pl-autograders/internal/stages/aggregator"
	"github.com/mfbutner/pl-autograders/internal/stages/compiler"
	"github.com/mfbutner/pl-autograders/internal/stages/discovery"
	"github.com/mfbutner/pl-autograders/internal/stages/executor"
	"github.com/mfbutner/pl-autograders/internal/stages/packager"
	customErr "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/languages"
	"github.com/mfbutner/pl-autograders/pkg/report"
)

type Packager interface {
	PrepareWorkspace(cfg *config.Config, runID string) (*packager.Workspace, error)
	Cleanup(ws *packager.Workspace)
}

type Discoverer interface {
	Discover(ws *packager.Workspace) (*discovery.Result, error)
}

type Compiler interface {
	Build(ctx context.Context, submissionPath string, profile languages.Profile) compiler.BuildResult
}

type TestExecutor interface {
	RunTests(ctx context.Context, req executor.Request) []report.TestOutcome
}

type Notifier interface {
	Notify(runID string, rep report.Report) error
	Close() error
}

// Runners builds the stages that spawn untrusted code. It is called once the
// restricted identity is known.
type Runners func(runID string, identity sandbox.Identity) (Compiler, TestExecutor)

type Grader interface {
	// Grade runs one submission through the pipeline. A non-nil error is fatal:
	// either no report was written or the sandbox could not be set up.
	Grade(ctx context.Context) (report.Report, error)
}

type grader struct {
	cfg        *config.Config
	packager   Packager
	discoverer Discoverer
	separator  sandbox.PrivilegeSeparator
	runners    Runners
	notifier   Notifier
	logger     *zap.SugaredLogger
}

// NewGrader wires the stages together. notifier may be nil.
func NewGrader(
	cfg *config.Config,
	packager Packager,
	discoverer Discoverer,
	separator sandbox.PrivilegeSeparator,
	runners Runners,
	notifier Notifier,
) Grader {
	return &grader{
		cfg:        cfg,
		packager:   packager,
		discoverer: discoverer,
		separator:  separator,
		runners:    runners,
		notifier:   notifier,
		logger:     logger.NewNamedLogger("pipeline"),
	}
}

func (g *grader) Grade(ctx context.Context) (report.Report, error) {
	runID := uuid.NewString()
	m := NewMachine()
	g.logger.Infof("Starting grading run [RunID: %s]", runID)

	// Without a workspace the submission cannot be handed to the restricted
	// identity, so this fails like privilege setup.
	ws, err := g.packager.PrepareWorkspace(g.cfg, runID)
	if err != nil {
		return g.fail(m, runID, fmt.Errorf("%w: %w", customErr.ErrPermissionSetup, err))
	}
	defer g.packager.Cleanup(ws)

	found, discErr := g.discoverer.Discover(ws)
	if discErr != nil {
		g.logger.Errorf("Test discovery failed: %s [RunID: %s]", discErr, runID)
	}

	identity, err := g.separator.Setup(ctx, layoutOf(ws, found))
	if err != nil {
		return g.fail(m, runID, err)
	}

	rep, err := g.grade(ctx, m, ws, found, discErr, identity)
	if err != nil {
		return g.fail(m, runID, err)
	}
	if err := m.Advance(StateAggregated); err != nil {
		return g.fail(m, runID, err)
	}
	rep.RunID = runID
	rep.SubmissionDigest = ws.SubmissionDigest

	if err := aggregator.Persist(ws.ResultsFile, rep); err != nil {
		return g.fail(m, runID, err)
	}
	if err := m.Advance(StatePersisted); err != nil {
		return g.fail(m, runID, err)
	}
	g.logger.Infof("Report written to %s: %s, score %.4f [RunID: %s]", ws.ResultsFile, rep.Status, rep.Score, runID)

	g.notify(runID, rep)
	return rep, nil
}

// grade produces the report of a run whose sandbox is ready.
func (g *grader) grade(
	ctx context.Context,
	m *Machine,
	ws *packager.Workspace,
	found *discovery.Result,
	discErr error,
	identity sandbox.Identity,
) (report.Report, error) {
	if discErr != nil {
		if err := m.Advance(StateUngradable); err != nil {
			return report.Report{}, err
		}
		return aggregator.Ungradable(discErr), nil
	}

	comp, tests := g.runners(ws.RunID, identity)

	build := comp.Build(ctx, ws.StudentDir, found.Profile)
	if !build.Succeeded() {
		g.logger.Infof("Build failed in %s [RunID: %s]", build.Duration, ws.RunID)
		if err := m.Advance(StateBuildFailed); err != nil {
			return report.Report{}, err
		}
		return aggregator.BuildFailure(build.Diagnostic, found.Suite.MaxPoints()), nil
	}
	if err := m.Advance(StateBuilt); err != nil {
		return report.Report{}, err
	}

	outcomes := tests.RunTests(ctx, executor.Request{
		RunID:     ws.RunID,
		Suite:     found.Suite,
		Profile:   found.Profile,
		Workspace: ws,
	})
	if err := m.Advance(StateTestsRun); err != nil {
		return report.Report{}, err
	}
	return aggregator.Aggregate(outcomes, found.Policy), nil
}

func (g *grader) fail(m *Machine, runID string, err error) (report.Report, error) {
	if advanceErr := m.Advance(StateFailed); advanceErr != nil {
		g.logger.Errorf("Cannot mark run as failed: %s [RunID: %s]", advanceErr, runID)
	}
	g.logger.Errorf("Grading run failed: %s [RunID: %s]", err, runID)
	return report.Report{}, fmt.Errorf("grading run %s: %w", runID, err)
}

func (g *grader) notify(runID string, rep report.Report) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Notify(runID, rep); err != nil {
		g.logger.Warnf("Failed to publish report: %s [RunID: %s]", err, runID)
	}
}

// layoutOf lists the paths privilege setup locks down. The suite's extra
// grants apply only when discovery succeeded.
func layoutOf(ws *packager.Workspace, found *discovery.Result) sandbox.Layout {
	layout := sandbox.Layout{
		GradeDir:   ws.GradeDir,
		TestsDir:   ws.TestsDir,
		StudentDir: ws.StudentDir,
		ResultsDir: filepath.Dir(ws.ResultsFile),
		SearchPath: ws.SearchPath,

		FixturesDir: ws.FixturesDir,
	}
	if found != nil && found.Suite != nil {
		layout.Grants = found.Suite.FilesAccessible
	}
	return layout
}
