package verifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/internal/sandbox"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	customErr "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/suite"
	"github.com/mfbutner/pl-autograders/utils"
)

// Expected is a resolved expectation: fixture files are already read and
// reference programs already run.
type Expected struct {
	ExitCode          *int
	Stdout            *string
	Stderr            *string
	EnforceWhitespace bool
	Checker           []string
}

func (e Expected) predicate() suite.Expectation {
	return suite.Expectation{
		ExitCode: e.ExitCode,
		Stdout:   e.Stdout,
		Stderr:   e.Stderr,
		Checker:  e.Checker,
	}
}

type Input struct {
	TestName string
	Expected Expected
	Observed sandbox.Result

	// ScratchDir receives the files handed to checker programs and diff.
	ScratchDir string
	// CheckerDir is the working directory of checker programs.
	CheckerDir string
}

type Verdict struct {
	Passed bool
	// Output lists the individual checks followed by what the program produced.
	Output string
}

type Verifier interface {
	Verify(ctx context.Context, in Input) (Verdict, error)
}

type verifier struct {
	executor    sandbox.Executor
	flags       []string
	outputLimit int
	logger      *zap.SugaredLogger
}

// NewVerifier returns a verifier running checker programs through executor as
// trusted commands. flags are passed to diff for mismatch diagnostics.
func NewVerifier(executor sandbox.Executor, flags []string, outputLimit int) Verifier {
	return &verifier{
		executor:    executor,
		flags:       flags,
		outputLimit: outputLimit,
		logger:      logger.NewNamedLogger("verifier"),
	}
}

func (v *verifier) Verify(ctx context.Context, in Input) (Verdict, error) {
	exp := in.Expected
	obs := in.Observed
	if exp.predicate().IsZero() {
		zero := constants.ExitCodeSuccess
		exp.ExitCode = &zero
	}

	passed := true
	var checks, details []string

	if exp.ExitCode != nil {
		if obs.ExitCode == *exp.ExitCode {
			checks = append(checks, constants.TestCaseMessageReturnCodeOK)
		} else {
			checks = append(checks, constants.TestCaseMessageReturnCodeBad)
			passed = false
		}
	}

	if exp.Stdout != nil {
		if Equal(*exp.Stdout, obs.Stdout, exp.EnforceWhitespace) {
			checks = append(checks, constants.TestCaseMessageOutputOK)
		} else {
			checks = append(checks, constants.TestCaseMessageOutputBad)
			passed = false
			if diff := v.diff(ctx, in.ScratchDir, *exp.Stdout, obs.Stdout); diff != "" {
				details = append(details, diff)
			}
		}
	}

	if exp.Stderr != nil {
		if Equal(*exp.Stderr, obs.Stderr, exp.EnforceWhitespace) {
			checks = append(checks, constants.TestCaseMessageStderrOK)
		} else {
			checks = append(checks, constants.TestCaseMessageStderrBad)
			passed = false
		}
	}

	if len(exp.Checker) > 0 {
		accepted, feedback, err := v.runChecker(ctx, in)
		if err != nil {
			return Verdict{}, err
		}
		if accepted {
			checks = append(checks, constants.TestCaseMessageCheckerOK)
		} else {
			checks = append(checks, constants.TestCaseMessageCheckerRejected)
			passed = false
		}
		if feedback != "" {
			details = append(details, feedback)
		}
	}

	sections := []string{strings.Join(checks, "\n")}
	sections = append(sections, ProgramOutput(exp, obs)...)
	sections = append(sections, details...)
	return Verdict{Passed: passed, Output: strings.Join(sections, "\n\n")}, nil
}

// Equal compares program output. Unless whitespace is enforced every
// whitespace character is ignored.
func Equal(expected, actual string, enforceWhitespace bool) bool {
	if enforceWhitespace {
		return expected == actual
	}
	return stripWhitespace(expected) == stripWhitespace(actual)
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ProgramOutput describes what the program produced. Everything is shown when
// the program exited abnormally, otherwise only the checked streams.
func ProgramOutput(exp Expected, obs sandbox.Result) []string {
	returnCode := fmt.Sprintf(constants.TestCaseMessageReturnCode, obs.ExitCode)
	output := fmt.Sprintf(constants.TestCaseMessageOutput, obs.Stdout)
	stderr := fmt.Sprintf(constants.TestCaseMessageError, obs.Stderr)

	if obs.ExitCode != 0 {
		return []string{returnCode, output, stderr}
	}
	var out []string
	if exp.ExitCode != nil {
		out = append(out, returnCode)
	}
	if exp.Stdout != nil && *exp.Stdout != "" {
		out = append(out, output)
	}
	if exp.Stderr != nil && *exp.Stderr != "" {
		out = append(out, stderr)
	}
	return out
}

// ExpectedOutput describes the expectation for the test's message.
func ExpectedOutput(exp Expected) string {
	var lines []string
	if exp.ExitCode != nil {
		lines = append(lines, fmt.Sprintf(constants.TestCaseMessageExpectedCode, *exp.ExitCode))
	}
	if exp.Stdout != nil && *exp.Stdout != "" {
		lines = append(lines, fmt.Sprintf(constants.TestCaseMessageExpectedOutput, *exp.Stdout))
	}
	if exp.Stderr != nil && *exp.Stderr != "" {
		lines = append(lines, fmt.Sprintf(constants.TestCaseMessageExpectedError, *exp.Stderr))
	}
	return strings.Join(lines, "\n")
}

// runChecker hands the observed run to an instructor program. Exit code 0 accepts.
func (v *verifier) runChecker(ctx context.Context, in Input) (bool, string, error) {
	stdoutPath, err := writeScratch(in.ScratchDir, "stdout-*", in.Observed.Stdout)
	if err != nil {
		return false, "", fmt.Errorf("%w: checker input: %v", customErr.ErrTestExecution, err)
	}
	defer os.Remove(stdoutPath)
	stderrPath, err := writeScratch(in.ScratchDir, "stderr-*", in.Observed.Stderr)
	if err != nil {
		return false, "", fmt.Errorf("%w: checker input: %v", customErr.ErrTestExecution, err)
	}
	defer os.Remove(stderrPath)

	res, err := v.executor.Run(ctx, sandbox.Command{
		Argv: in.Expected.Checker,
		Dir:  in.CheckerDir,
		Env: []string{
			"PATH=" + constants.DefaultSandboxPath,
			constants.CheckerStdoutEnvName + "=" + stdoutPath,
			constants.CheckerStderrEnvName + "=" + stderrPath,
			constants.CheckerExitCodeEnvName + "=" + strconv.Itoa(in.Observed.ExitCode),
			constants.CheckerTestNameEnvName + "=" + in.TestName,
		},
		Timeout: constants.CheckerTimeout,
		Trusted: true,
	})
	if err != nil {
		return false, "", fmt.Errorf("%w: checker %s: %v", customErr.ErrTestExecution, in.Expected.Checker[0], err)
	}
	if res.TimedOut {
		return false, "", fmt.Errorf("%w: checker %s timed out", customErr.ErrTestExecution, in.Expected.Checker[0])
	}
	if res.Signal != "" {
		return false, "", fmt.Errorf("%w: checker %s crashed with %s", customErr.ErrTestExecution, in.Expected.Checker[0], res.Signal)
	}

	feedback, _ := utils.Truncate(strings.TrimSpace(res.Stdout), v.outputLimit)
	return res.ExitCode == 0, feedback, nil
}

// diff runs the diff tool over the expected and observed output. Failures
// only cost the diagnostic.
func (v *verifier) diff(ctx context.Context, scratchDir, expected, actual string) string {
	if scratchDir == "" {
		return ""
	}
	expectedPath, err := writeScratch(scratchDir, "expected-*", expected)
	if err != nil {
		v.logger.Warnf("Failed to write expected output for diff: %s", err)
		return ""
	}
	defer os.Remove(expectedPath)
	actualPath, err := writeScratch(scratchDir, "actual-*", actual)
	if err != nil {
		v.logger.Warnf("Failed to write program output for diff: %s", err)
		return ""
	}
	defer os.Remove(actualPath)

	args := append(append([]string{}, v.flags...), expectedPath, actualPath)
	out, err := exec.CommandContext(ctx, "diff", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != constants.ExitCodeDifference {
			v.logger.Warnf("diff could not compare outputs: %s", err)
			return ""
		}
	}

	text := strings.ReplaceAll(string(out), expectedPath, "expected")
	text = strings.ReplaceAll(text, actualPath, "actual")
	bounded, _ := utils.Truncate(strings.TrimRight(text, "\n"), v.outputLimit)
	return bounded
}

func writeScratch(dir, pattern, content string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return filepath.Clean(name), nil
}
