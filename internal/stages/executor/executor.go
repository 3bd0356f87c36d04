package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/internal/sandbox"
	"github.com/mfbutner/pl-autograders/internal/scheduler"
	"github.com/mfbutner/pl-autograders/internal/stages/packager"
	"github.com/mfbutner/pl-autograders/internal/stages/verifier"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	customErr "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/languages"
	"github.com/mfbutner/pl-autograders/pkg/report"
	"github.com/mfbutner/pl-autograders/pkg/suite"
)

// Request is everything needed to run a suite against a built submission.
type Request struct {
	RunID     string
	Suite     *suite.Suite
	Profile   languages.Profile
	Workspace *packager.Workspace
}

type Executor interface {
	// RunTests returns one outcome per test case, in declaration order.
	RunTests(ctx context.Context, req Request) []report.TestOutcome
}

type executor struct {
	sandbox   sandbox.Executor
	verifier  verifier.Verifier
	scheduler scheduler.Scheduler
	logger    *zap.SugaredLogger
}

// NewExecutor returns an executor spawning tests through sb. Reference
// programs go through the same executor as trusted commands.
func NewExecutor(sb sandbox.Executor, v verifier.Verifier, s scheduler.Scheduler) Executor {
	return &executor{
		sandbox:   sb,
		verifier:  v,
		scheduler: s,
		logger:    logger.NewNamedLogger("test-executor"),
	}
}

func (e *executor) RunTests(ctx context.Context, req Request) []report.TestOutcome {
	tests := req.Suite.Tests
	outcomes := make([]report.TestOutcome, len(tests))
	done := make([]bool, len(tests))

	e.logger.Infof("Running %d tests on %d workers [RunID: %s]", len(tests), e.scheduler.MaxWorkers(), req.RunID)
	e.scheduler.Run(ctx, len(tests), func(ctx context.Context, idx int) {
		outcomes[idx] = e.runTest(ctx, req, tests[idx])
		done[idx] = true
	})

	// A slot is left empty only when its job panicked.
	for i, ok := range done {
		if !ok {
			outcomes[i] = errored(baseOutcome(tests[i]),
				fmt.Errorf("%w: test runner crashed", customErr.ErrTestExecution))
		}
	}
	e.logger.Debugf("Workers after run: %v [RunID: %s]", e.scheduler.GetWorkersStatus(), req.RunID)
	return outcomes
}

func baseOutcome(tc suite.TestCase) report.TestOutcome {
	return report.TestOutcome{
		Name:                tc.Name,
		Description:         tc.Description,
		MaxPoints:           tc.MaxPoints(),
		Hidden:              tc.Hidden,
		PointsLostOnFailure: tc.PointsLostOnFailure,
	}
}

func skipped(out report.TestOutcome, message string) report.TestOutcome {
	out.Status = report.StatusSkipped
	out.Message = message
	return out
}

func errored(out report.TestOutcome, err error) report.TestOutcome {
	out.Status = report.StatusErrored
	out.Message = constants.TestCaseMessageInternalError
	out.Output = err.Error()
	return out
}

func (e *executor) runTest(ctx context.Context, req Request, tc suite.TestCase) report.TestOutcome {
	out := baseOutcome(tc)
	if tc.Skip != "" {
		return skipped(out, fmt.Sprintf(constants.TestCaseMessageSkipped, tc.Skip))
	}
	if ctx.Err() != nil {
		return skipped(out, constants.TestCaseMessageCancelled)
	}

	e.logger.Debugf("Running test %q [RunID: %s]", tc.Name, req.RunID)

	stdin, err := readStdin(tc)
	if err != nil {
		return errored(out, err)
	}
	env := environment(req.Workspace, tc)

	expected, err := e.expectation(ctx, req, tc, stdin, env)
	if err != nil {
		if ctx.Err() != nil {
			return skipped(out, constants.TestCaseMessageCancelled)
		}
		e.logger.Warnf("Failed to resolve expectation of test %q: %s [RunID: %s]", tc.Name, err, req.RunID)
		return errored(out, err)
	}

	dir, err := workDir(req.Workspace.StudentDir, tc.WorkDir)
	if err != nil {
		return errored(out, err)
	}

	tool := MemcheckTool(req.Profile, tc)
	argv, env := WrapCommand(tool, tc.Command, env)

	limits := sandbox.DefaultLimits()
	limits.CPUTime = tc.Timeout.Duration() + time.Second
	if tool != languages.MemcheckNone {
		limits.AddressSpace = 0
	}

	res, err := e.sandbox.Run(ctx, sandbox.Command{
		Argv:    argv,
		Dir:     dir,
		Env:     env,
		Stdin:   stdin,
		Timeout: tc.Timeout.Duration(),
		Limits:  limits,
		Inputs:  inputs(req.Workspace),
	})
	if err != nil {
		if ctx.Err() != nil {
			return skipped(out, constants.TestCaseMessageCancelled)
		}
		e.logger.Warnf("Failed to run test %q: %s [RunID: %s]", tc.Name, err, req.RunID)
		return errored(out, err)
	}

	programStderr, memReport := SplitToolOutput(tool, res.ExitCode, res.Stderr)
	res.Stderr = programStderr

	exitCode := res.ExitCode
	out.ExitCode = &exitCode
	out.Stdout = res.Stdout
	out.Stderr = res.Stderr
	out.Truncated = res.StdoutTruncated || res.StderrTruncated
	out.DurationMs = res.Duration.Milliseconds()

	message := runMessage(tc.Command, stdin)

	if res.TimedOut {
		e.logger.Infof("Test %q: %s, workers: %v [RunID: %s]", tc.Name,
			fmt.Errorf("%w after %s", customErr.ErrTestTimeout, tc.Timeout.Duration()),
			e.scheduler.GetWorkersStatus(), req.RunID)
		out.Status = report.StatusTimedOut
		timeout := fmt.Sprintf(constants.TestCaseMessageTimeOut, tc.Timeout.Duration())
		out.Message = joinLines(timeout, verifier.ExpectedOutput(expected), message)
		out.Output = strings.Join(verifier.ProgramOutput(expected, res), "\n\n")
		return out
	}

	verdict, err := e.verifier.Verify(ctx, verifier.Input{
		TestName:   tc.Name,
		Expected:   expected,
		Observed:   res,
		ScratchDir: req.Workspace.ScratchDir,
		CheckerDir: suiteDir(req),
	})
	if err != nil {
		if ctx.Err() != nil {
			return skipped(out, constants.TestCaseMessageCancelled)
		}
		e.logger.Warnf("Failed to verify test %q: %s [RunID: %s]", tc.Name, err, req.RunID)
		return errored(out, err)
	}

	out.Status = report.StatusFailed
	if verdict.Passed {
		out.Status = report.StatusPassed
	}
	out.Output = verdict.Output

	var notes []string
	if MemoryViolation(tool, res.ExitCode, memReport) {
		out.Status = report.StatusFailed
		out.MemoryErrors = memReport
		notes = append(notes, constants.TestCaseMessageMemoryErrors)
	} else if res.Signal != "" {
		notes = append(notes, constants.TestCaseMessageCrashed)
	}
	if out.Truncated {
		notes = append(notes, fmt.Sprintf(constants.TestCaseMessageTruncatedOutput, e.truncatedStreams(res)))
	}
	out.Message = joinLines(append(notes, verifier.ExpectedOutput(expected), message)...)
	return out
}

func (e *executor) truncatedStreams(res sandbox.Result) string {
	var streams []string
	if res.StdoutTruncated {
		streams = append(streams, "stdout")
	}
	if res.StderrTruncated {
		streams = append(streams, "stderr")
	}
	return strings.Join(streams, " and ")
}

// expectation resolves fixture files and runs the reference program, if any.
func (e *executor) expectation(
	ctx context.Context,
	req Request,
	tc suite.TestCase,
	stdin []byte,
	env []string,
) (verifier.Expected, error) {
	exp := verifier.Expected{
		ExitCode:          tc.Expect.ExitCode,
		Stdout:            tc.Expect.Stdout,
		Stderr:            tc.Expect.Stderr,
		EnforceWhitespace: tc.Expect.EnforceWhitespace,
		Checker:           tc.Expect.Checker,
	}

	if tc.Expect.StdoutFile != "" {
		data, err := os.ReadFile(tc.Expect.StdoutFile)
		if err != nil {
			return exp, fmt.Errorf("%w: read expected output: %v", customErr.ErrTestExecution, err)
		}
		s := string(data)
		exp.Stdout = &s
	}
	if tc.Expect.StderrFile != "" {
		data, err := os.ReadFile(tc.Expect.StderrFile)
		if err != nil {
			return exp, fmt.Errorf("%w: read expected error: %v", customErr.ErrTestExecution, err)
		}
		s := string(data)
		exp.Stderr = &s
	}

	if len(tc.Reference) == 0 {
		return exp, nil
	}

	res, err := e.sandbox.Run(ctx, sandbox.Command{
		Argv:    tc.Reference,
		Dir:     suiteDir(req),
		Env:     env,
		Stdin:   stdin,
		Timeout: tc.Timeout.Duration(),
		Trusted: true,
	})
	if err != nil {
		return exp, fmt.Errorf("%w: reference program: %w", customErr.ErrTestExecution, err)
	}
	if res.TimedOut {
		return exp, fmt.Errorf("%w: reference program took longer than %s", customErr.ErrTestExecution, tc.Timeout.Duration())
	}
	if res.Signal != "" {
		return exp, fmt.Errorf("%w: reference program was killed by %s", customErr.ErrTestExecution, res.Signal)
	}

	code := res.ExitCode
	stdout := res.Stdout
	exp.ExitCode = &code
	exp.Stdout = &stdout
	return exp, nil
}

func readStdin(tc suite.TestCase) ([]byte, error) {
	if tc.Stdin != nil {
		return []byte(*tc.Stdin), nil
	}
	if tc.StdinFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(tc.StdinFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read stdin fixture: %v", customErr.ErrTestExecution, err)
	}
	return data, nil
}

// environment is the sorted environment of a test: a fixed base, then the
// test's own variables.
func environment(ws *packager.Workspace, tc suite.TestCase) []string {
	vars := map[string]string{
		"PATH":                      constants.DefaultSandboxPath,
		"HOME":                      ws.StudentDir,
		constants.SearchPathEnvName: strings.Join(ws.SearchPath, constants.SearchPathSeparator),
	}
	if ws.FixturesDir != "" {
		vars[constants.FixturesDirEnvName] = ws.FixturesDir
	}
	for k, v := range tc.Env {
		vars[k] = v
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// workDir resolves a test's working directory inside the submission.
func workDir(studentDir, rel string) (string, error) {
	if rel == "" {
		return studentDir, nil
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: workdir %q must be relative to the submission", customErr.ErrTestExecution, rel)
	}
	dir := filepath.Join(studentDir, rel)
	if r, err := filepath.Rel(studentDir, dir); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: workdir %q leaves the submission", customErr.ErrTestExecution, rel)
	}
	return dir, nil
}

// inputs are the directories a containerised test needs: the submission,
// every shared search-path entry and the fixtures. The tests directory is
// never exposed.
func inputs(ws *packager.Workspace) []string {
	testsDir := filepath.Clean(ws.TestsDir)
	dirs := []string{ws.StudentDir}
	for _, dir := range ws.SearchPath {
		if filepath.Clean(dir) == testsDir {
			continue
		}
		dirs = append(dirs, dir)
	}
	if ws.FixturesDir != "" && filepath.Clean(ws.FixturesDir) != testsDir && !slices.Contains(dirs, ws.FixturesDir) {
		if info, err := os.Stat(ws.FixturesDir); err == nil && info.IsDir() {
			dirs = append(dirs, ws.FixturesDir)
		}
	}
	return dirs
}

func suiteDir(req Request) string {
	if req.Suite.Source != "" {
		return filepath.Dir(req.Suite.Source)
	}
	return req.Workspace.TestsDir
}

func runMessage(argv suite.Args, stdin []byte) string {
	lines := []string{fmt.Sprintf(constants.TestCaseMessageRunAs, argv.String())}
	if stdin != nil {
		lines = append(lines, fmt.Sprintf(constants.TestCaseMessageInput, string(stdin)))
	}
	return strings.Join(lines, "\n")
}

func joinLines(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
