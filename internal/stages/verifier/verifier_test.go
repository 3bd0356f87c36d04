package verifier_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	gomock "go.uber.org/mock/gomock"

	"github.com/mfbutner/pl-autograders/internal/sandbox"
	. "github.com/mfbutner/pl-autograders/internal/stages/verifier"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/tests/mocks"
)

func ptr[T any](v T) *T {
	return &v
}

func newVerifier(t *testing.T) (Verifier, *mocks.MockExecutor) {
	ctrl := gomock.NewController(t)
	executor := mocks.NewMockExecutor(ctrl)
	return NewVerifier(executor, []string{"-u"}, 4096), executor
}

func TestVerify_DefaultsToExitCodeZero(t *testing.T) {
	v, _ := newVerifier(t)

	verdict, err := v.Verify(context.Background(), Input{Observed: sandbox.Result{ExitCode: 0}})
	if err != nil || !verdict.Passed {
		t.Fatalf("expected pass, got %+v, %v", verdict, err)
	}
	if !strings.HasPrefix(verdict.Output, constants.TestCaseMessageReturnCodeOK) {
		t.Fatalf("unexpected output %q", verdict.Output)
	}

	verdict, err = v.Verify(context.Background(), Input{Observed: sandbox.Result{ExitCode: 2, Stderr: "boom"}})
	if err != nil || verdict.Passed {
		t.Fatalf("expected failure, got %+v, %v", verdict, err)
	}
	for _, want := range []string{
		constants.TestCaseMessageReturnCodeBad,
		"Your Program's Return Code: 2",
		"Your Program's Error: boom",
	} {
		if !strings.Contains(verdict.Output, want) {
			t.Fatalf("output %q is missing %q", verdict.Output, want)
		}
	}
}

func TestVerify_OutputComparison(t *testing.T) {
	cases := []struct {
		name     string
		expected Expected
		observed sandbox.Result
		passed   bool
		contains []string
	}{
		{
			name:     "exact match",
			expected: Expected{Stdout: ptr("3\n")},
			observed: sandbox.Result{Stdout: "3\n"},
			passed:   true,
			contains: []string{constants.TestCaseMessageOutputOK, "Your Program's Output: 3"},
		},
		{
			name:     "whitespace ignored by default",
			expected: Expected{Stdout: ptr("1 2 3\n")},
			observed: sandbox.Result{Stdout: "1  2\t3"},
			passed:   true,
		},
		{
			name:     "whitespace enforced",
			expected: Expected{Stdout: ptr("1 2 3\n"), EnforceWhitespace: true},
			observed: sandbox.Result{Stdout: "1  2\t3"},
			passed:   false,
			contains: []string{constants.TestCaseMessageOutputBad},
		},
		{
			name:     "stderr mismatch",
			expected: Expected{ExitCode: ptr(1), Stderr: ptr("usage\n")},
			observed: sandbox.Result{ExitCode: 1, Stderr: "error\n"},
			passed:   false,
			contains: []string{constants.TestCaseMessageReturnCodeOK, constants.TestCaseMessageStderrBad},
		},
		{
			name:     "no predicate expects exit code 0",
			expected: Expected{EnforceWhitespace: true},
			observed: sandbox.Result{ExitCode: 2, Stdout: "anything"},
			passed:   false,
			contains: []string{constants.TestCaseMessageReturnCodeBad},
		},
		{
			name:     "no predicate passes on exit code 0",
			expected: Expected{},
			observed: sandbox.Result{Stdout: "anything"},
			passed:   true,
			contains: []string{constants.TestCaseMessageReturnCodeOK},
		},
		{
			name:     "all checks",
			expected: Expected{ExitCode: ptr(0), Stdout: ptr("ok"), Stderr: ptr("")},
			observed: sandbox.Result{Stdout: "ok\n"},
			passed:   true,
			contains: []string{
				constants.TestCaseMessageReturnCodeOK,
				constants.TestCaseMessageOutputOK,
				constants.TestCaseMessageStderrOK,
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newVerifier(t)
			verdict, err := v.Verify(context.Background(), Input{
				Expected:   tt.expected,
				Observed:   tt.observed,
				ScratchDir: t.TempDir(),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verdict.Passed != tt.passed {
				t.Fatalf("expected passed=%v, got %+v", tt.passed, verdict)
			}
			for _, want := range tt.contains {
				if !strings.Contains(verdict.Output, want) {
					t.Fatalf("output %q is missing %q", verdict.Output, want)
				}
			}
		})
	}
}

func TestVerify_AttachesDiff(t *testing.T) {
	if _, err := exec.LookPath("diff"); err != nil {
		t.Skip("diff is not installed")
	}
	v, _ := newVerifier(t)
	scratch := t.TempDir()

	verdict, err := v.Verify(context.Background(), Input{
		Expected:   Expected{Stdout: ptr("hello\nworld\n")},
		Observed:   sandbox.Result{Stdout: "hello\nthere\n"},
		ScratchDir: scratch,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Passed {
		t.Fatalf("expected mismatch")
	}
	if !strings.Contains(verdict.Output, "-world") || !strings.Contains(verdict.Output, "+there") {
		t.Fatalf("expected unified diff in output, got %q", verdict.Output)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("diff inputs must be removed, found %d files", len(entries))
	}
}

func TestVerify_Checker(t *testing.T) {
	v, executor := newVerifier(t)
	checkerDir := t.TempDir()

	executor.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd sandbox.Command) (sandbox.Result, error) {
			if !cmd.Trusted {
				t.Fatalf("checkers run as the harness")
			}
			if cmd.Dir != checkerDir || cmd.Argv[0] != "./check.py" {
				t.Fatalf("unexpected checker command %+v", cmd)
			}
			env := map[string]string{}
			for _, kv := range cmd.Env {
				k, val, _ := strings.Cut(kv, "=")
				env[k] = val
			}
			if env[constants.CheckerExitCodeEnvName] != "0" || env[constants.CheckerTestNameEnvName] != "primes" {
				t.Fatalf("unexpected checker env %v", cmd.Env)
			}
			data, err := os.ReadFile(env[constants.CheckerStdoutEnvName])
			if err != nil || string(data) != "2 3 5 7\n" {
				t.Fatalf("checker must see the program output, got %q, %v", data, err)
			}
			return sandbox.Result{ExitCode: 1, Stdout: "expected 4 primes below 10, got 4 but unsorted\n"}, nil
		})

	verdict, err := v.Verify(context.Background(), Input{
		TestName:   "primes",
		Expected:   Expected{Checker: []string{"./check.py"}},
		Observed:   sandbox.Result{Stdout: "2 3 5 7\n"},
		ScratchDir: t.TempDir(),
		CheckerDir: checkerDir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Passed {
		t.Fatalf("checker rejection must fail the test")
	}
	if !strings.Contains(verdict.Output, constants.TestCaseMessageCheckerRejected) ||
		!strings.Contains(verdict.Output, "unsorted") {
		t.Fatalf("unexpected output %q", verdict.Output)
	}
}

func TestVerify_CheckerFaults(t *testing.T) {
	cases := []struct {
		name   string
		result sandbox.Result
		err    error
	}{
		{name: "spawn failure", err: pkgerrors.ErrTestExecution},
		{name: "timeout", result: sandbox.Result{ExitCode: -1, TimedOut: true}},
		{name: "crash", result: sandbox.Result{ExitCode: -1, Signal: "SIGSEGV"}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			v, executor := newVerifier(t)
			executor.EXPECT().Run(gomock.Any(), gomock.Any()).Return(tt.result, tt.err)

			_, err := v.Verify(context.Background(), Input{
				Expected:   Expected{Checker: []string{"./check"}},
				ScratchDir: t.TempDir(),
			})
			if !errors.Is(err, pkgerrors.ErrTestExecution) {
				t.Fatalf("expected ErrTestExecution, got %v", err)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	cases := []struct {
		expected, actual string
		enforce          bool
		want             bool
	}{
		{"a b\n", "a b\n", true, true},
		{"a b\n", "a b", true, false},
		{"a b\n", "ab", false, true},
		{"a\r\nb\r\n", "a\nb", false, true},
		{"a b", "a c", false, false},
		{"", "  \n\t", false, true},
	}
	for _, tt := range cases {
		if got := Equal(tt.expected, tt.actual, tt.enforce); got != tt.want {
			t.Errorf("Equal(%q, %q, %v) = %v, want %v", tt.expected, tt.actual, tt.enforce, got, tt.want)
		}
	}
}

func TestExpectedOutput(t *testing.T) {
	got := ExpectedOutput(Expected{ExitCode: ptr(0), Stdout: ptr("42\n"), Stderr: ptr("")})
	want := "Expected Return Code: 0\nExpected Output: 42\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
