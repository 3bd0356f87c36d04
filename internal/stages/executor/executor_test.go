package executor_test

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	gomock "go.uber.org/mock/gomock"

	"github.com/mfbutner/pl-autograders/internal/sandbox"
	"github.com/mfbutner/pl-autograders/internal/scheduler"
	. "github.com/mfbutner/pl-autograders/internal/stages/executor"
	"github.com/mfbutner/pl-autograders/internal/stages/packager"
	"github.com/mfbutner/pl-autograders/internal/stages/verifier"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/languages"
	"github.com/mfbutner/pl-autograders/pkg/report"
	"github.com/mfbutner/pl-autograders/pkg/suite"
	"github.com/mfbutner/pl-autograders/tests"
	"github.com/mfbutner/pl-autograders/tests/mocks"
)

func ptr[T any](v T) *T {
	return &v
}

type fixture struct {
	ws      *packager.Workspace
	sandbox *mocks.MockExecutor
	exec    Executor
}

func newFixture(t *testing.T, workers int) *fixture {
	ctrl := gomock.NewController(t)
	sb := mocks.NewMockExecutor(ctrl)

	testsDir := t.TempDir()
	shared := t.TempDir()
	ws := &packager.Workspace{
		RunID:      "run-1",
		TestsDir:   testsDir,
		StudentDir: t.TempDir(),
		SearchPath: []string{testsDir, shared},
		ScratchDir: t.TempDir(),
	}

	return &fixture{
		ws:      ws,
		sandbox: sb,
		exec:    NewExecutor(sb, verifier.NewVerifier(sb, []string{"-u"}, 4096), scheduler.NewScheduler(workers)),
	}
}

func (f *fixture) request(profile languages.Profile, cases ...suite.TestCase) Request {
	for i := range cases {
		if cases[i].Timeout == 0 {
			cases[i].Timeout = suite.Duration(2 * time.Second)
		}
		if cases[i].Points == nil {
			cases[i].Points = ptr(1.0)
		}
	}
	return Request{
		RunID:     f.ws.RunID,
		Suite:     &suite.Suite{Source: filepath.Join(f.ws.TestsDir, "suite.yaml"), Tests: cases},
		Profile:   profile,
		Workspace: f.ws,
	}
}

func TestRunTests_KeepsDeclarationOrder(t *testing.T) {
	f := newFixture(t, 3)

	f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd sandbox.Command) (sandbox.Result, error) {
			switch cmd.Argv[1] {
			case "pass":
				return sandbox.Result{Stdout: "3\n"}, nil
			case "fail":
				return sandbox.Result{Stdout: "4\n"}, nil
			case "slow":
				return sandbox.Result{ExitCode: constants.ExitCodeKilled, Signal: "SIGKILL", TimedOut: true}, nil
			}
			t.Fatalf("unexpected command %v", cmd.Argv)
			return sandbox.Result{}, nil
		}).Times(3)

	outcomes := f.exec.RunTests(context.Background(), f.request(languages.Profile{},
		suite.TestCase{Name: "pass", Command: suite.Args{"./prog", "pass"}, Expect: suite.Expectation{Stdout: ptr("3")}},
		suite.TestCase{Name: "fail", Command: suite.Args{"./prog", "fail"}, Expect: suite.Expectation{Stdout: ptr("3")}},
		suite.TestCase{Name: "skipped", Command: suite.Args{"./prog", "skip"}, Skip: "not graded yet"},
		suite.TestCase{Name: "slow", Command: suite.Args{"./prog", "slow"}, Timeout: suite.Duration(time.Second)},
	))

	want := []struct {
		name   string
		status report.Status
	}{
		{"pass", report.StatusPassed},
		{"fail", report.StatusFailed},
		{"skipped", report.StatusSkipped},
		{"slow", report.StatusTimedOut},
	}
	if len(outcomes) != len(want) {
		t.Fatalf("expected %d outcomes, got %d", len(want), len(outcomes))
	}
	for i, w := range want {
		if outcomes[i].Name != w.name || outcomes[i].Status != w.status {
			t.Fatalf("outcome %d = %s/%s, want %s/%s", i, outcomes[i].Name, outcomes[i].Status, w.name, w.status)
		}
		if outcomes[i].MaxPoints != 1 {
			t.Fatalf("outcome %d lost its max points", i)
		}
	}

	if !strings.Contains(outcomes[2].Message, "not graded yet") {
		t.Fatalf("skip reason missing from %q", outcomes[2].Message)
	}
	if !strings.HasPrefix(outcomes[3].Message, "Your program took longer than 1s to complete.") {
		t.Fatalf("unexpected timeout message %q", outcomes[3].Message)
	}
	if !strings.Contains(outcomes[1].Message, "Expected Output: 3") ||
		!strings.Contains(outcomes[1].Message, "Your program was run as: ./prog fail") {
		t.Fatalf("unexpected failure message %q", outcomes[1].Message)
	}
}

func TestRunTests_CommandShape(t *testing.T) {
	f := newFixture(t, 1)
	stdinFile := tests.WriteFile(t, f.ws.TestsDir, "in/1.txt", "1 2\n")

	f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd sandbox.Command) (sandbox.Result, error) {
			if cmd.Trusted {
				t.Fatalf("submissions never run as the harness")
			}
			if cmd.Dir != filepath.Join(f.ws.StudentDir, "build") {
				t.Fatalf("unexpected dir %s", cmd.Dir)
			}
			if string(cmd.Stdin) != "1 2\n" {
				t.Fatalf("unexpected stdin %q", cmd.Stdin)
			}
			if cmd.Timeout != 3*time.Second || cmd.Limits.CPUTime != 4*time.Second {
				t.Fatalf("unexpected time limits %s / %s", cmd.Timeout, cmd.Limits.CPUTime)
			}
			if cmd.Limits.AddressSpace == 0 {
				t.Fatalf("address space limit must apply without memcheck")
			}
			wantEnv := []string{
				constants.SearchPathEnvName + "=" + strings.Join(f.ws.SearchPath, ":"),
				"HOME=" + f.ws.StudentDir,
				"MODE=fast",
				"PATH=" + constants.DefaultSandboxPath,
			}
			if strings.Join(cmd.Env, "\n") != strings.Join(wantEnv, "\n") {
				t.Fatalf("env = %v, want %v", cmd.Env, wantEnv)
			}
			if len(cmd.Inputs) != 2 || cmd.Inputs[0] != f.ws.StudentDir || cmd.Inputs[1] != f.ws.SearchPath[1] {
				t.Fatalf("the tests dir must not be exposed, inputs = %v", cmd.Inputs)
			}
			return sandbox.Result{Stdout: "3", Duration: 1500 * time.Millisecond}, nil
		})

	outcomes := f.exec.RunTests(context.Background(), f.request(languages.Profile{},
		suite.TestCase{
			Name:      "sum",
			Command:   suite.Args{"./sum", "a b"},
			StdinFile: stdinFile,
			WorkDir:   "build",
			Env:       map[string]string{"MODE": "fast"},
			Timeout:   suite.Duration(3 * time.Second),
			Expect:    suite.Expectation{Stdout: ptr("3")},
		},
	))

	out := outcomes[0]
	if out.Status != report.StatusPassed || out.DurationMs != 1500 || *out.ExitCode != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.Contains(out.Message, `Your program was run as: ./sum "a b"`) ||
		!strings.Contains(out.Message, "It was provided the following input: 1 2") {
		t.Fatalf("unexpected message %q", out.Message)
	}
}

func TestRunTests_ExposesFixtures(t *testing.T) {
	f := newFixture(t, 1)
	tests.WriteFile(t, f.ws.TestsDir, "fixtures/words.txt", "alpha\n")
	f.ws.FixturesDir = filepath.Join(f.ws.TestsDir, "fixtures")

	f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd sandbox.Command) (sandbox.Result, error) {
			if !slices.Contains(cmd.Env, constants.FixturesDirEnvName+"="+f.ws.FixturesDir) {
				t.Fatalf("fixtures dir missing from env %v", cmd.Env)
			}
			want := []string{f.ws.StudentDir, f.ws.SearchPath[1], f.ws.FixturesDir}
			if !slices.Equal(cmd.Inputs, want) {
				t.Fatalf("inputs = %v, want %v", cmd.Inputs, want)
			}
			return sandbox.Result{}, nil
		})

	outcomes := f.exec.RunTests(context.Background(), f.request(languages.Profile{},
		suite.TestCase{Name: "words", Command: suite.Args{"./count"}},
	))
	if outcomes[0].Status != report.StatusPassed {
		t.Fatalf("expected pass, got %s: %s", outcomes[0].Status, outcomes[0].Message)
	}
}

func TestRunTests_ReferenceProgram(t *testing.T) {
	f := newFixture(t, 1)

	gomock.InOrder(
		f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, cmd sandbox.Command) (sandbox.Result, error) {
				if !cmd.Trusted || cmd.Dir != f.ws.TestsDir || cmd.Argv[0] != "./solution" {
					t.Fatalf("reference must run trusted in the tests dir, got %+v", cmd)
				}
				return sandbox.Result{Stdout: "42\n"}, nil
			}),
		f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).Return(sandbox.Result{Stdout: "41\n"}, nil),
	)

	outcomes := f.exec.RunTests(context.Background(), f.request(languages.Profile{},
		suite.TestCase{Name: "answer", Command: suite.Args{"./answer"}, Reference: suite.Args{"./solution"}, Stdin: ptr("")},
	))

	out := outcomes[0]
	if out.Status != report.StatusFailed {
		t.Fatalf("expected failure against the reference, got %s", out.Status)
	}
	if !strings.Contains(out.Message, "Expected Return Code: 0") || !strings.Contains(out.Message, "Expected Output: 42") {
		t.Fatalf("reference behaviour missing from message %q", out.Message)
	}
	if !strings.Contains(out.Output, constants.TestCaseMessageOutputBad) {
		t.Fatalf("unexpected output %q", out.Output)
	}
}

func TestRunTests_EngineFaultsAreErrored(t *testing.T) {
	cases := []struct {
		name   string
		tc     suite.TestCase
		expect func(sb *mocks.MockExecutor)
	}{
		{
			name: "spawn failure",
			tc:   suite.TestCase{Name: "t", Command: suite.Args{"./missing"}},
			expect: func(sb *mocks.MockExecutor) {
				sb.EXPECT().Run(gomock.Any(), gomock.Any()).
					Return(sandbox.Result{}, pkgerrors.ErrTestExecution)
			},
		},
		{
			name: "reference crash",
			tc:   suite.TestCase{Name: "t", Command: suite.Args{"./prog"}, Reference: suite.Args{"./ref"}},
			expect: func(sb *mocks.MockExecutor) {
				sb.EXPECT().Run(gomock.Any(), gomock.Any()).
					Return(sandbox.Result{ExitCode: -1, Signal: "SIGSEGV"}, nil)
			},
		},
		{
			name:   "missing stdin fixture",
			tc:     suite.TestCase{Name: "t", Command: suite.Args{"./prog"}, StdinFile: "/nonexistent/in.txt"},
			expect: func(*mocks.MockExecutor) {},
		},
		{
			name:   "workdir escapes submission",
			tc:     suite.TestCase{Name: "t", Command: suite.Args{"./prog"}, WorkDir: "../tests"},
			expect: func(*mocks.MockExecutor) {},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			tt.expect(f.sandbox)

			outcomes := f.exec.RunTests(context.Background(), f.request(languages.Profile{}, tt.tc))
			out := outcomes[0]
			if out.Status != report.StatusErrored {
				t.Fatalf("expected errored, got %s", out.Status)
			}
			if out.Message != constants.TestCaseMessageInternalError || out.Output == "" {
				t.Fatalf("unexpected diagnostic %+v", out)
			}
		})
	}
}

func TestRunTests_MemoryErrorsFailPassingTest(t *testing.T) {
	f := newFixture(t, 1)

	f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd sandbox.Command) (sandbox.Result, error) {
			if cmd.Argv[0] != "valgrind" || cmd.Argv[len(cmd.Argv)-1] != "./prog" {
				t.Fatalf("program must run under valgrind, argv = %v", cmd.Argv)
			}
			if cmd.Limits.AddressSpace != 0 {
				t.Fatalf("address space limit must be lifted under memcheck")
			}
			return sandbox.Result{
				ExitCode: constants.MemcheckErrorExitCode,
				Stdout:   "ok\n",
				Stderr:   "==12== Invalid read of size 4\nwarning: low battery\n==12==    at 0x1: main (main.c:3)\n",
			}, nil
		})

	outcomes := f.exec.RunTests(context.Background(), f.request(
		languages.Profile{Language: languages.C, Memcheck: languages.MemcheckValgrind},
		suite.TestCase{Name: "leaky", Command: suite.Args{"./prog"}, Expect: suite.Expectation{Stdout: ptr("ok")}},
	))

	out := outcomes[0]
	if out.Status != report.StatusFailed {
		t.Fatalf("memory errors must fail the test, got %s", out.Status)
	}
	if out.Stderr != "warning: low battery\n" {
		t.Fatalf("tool lines must be split out of stderr, got %q", out.Stderr)
	}
	if !strings.Contains(out.MemoryErrors, "Invalid read of size 4") || !strings.Contains(out.MemoryErrors, "main.c:3") {
		t.Fatalf("unexpected memcheck report %q", out.MemoryErrors)
	}
	if !strings.HasPrefix(out.Message, constants.TestCaseMessageMemoryErrors) {
		t.Fatalf("unexpected message %q", out.Message)
	}
}

func TestRunTests_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := f.exec.RunTests(ctx, f.request(languages.Profile{},
		suite.TestCase{Name: "a", Command: suite.Args{"./a"}},
		suite.TestCase{Name: "b", Command: suite.Args{"./b"}},
	))

	for _, out := range outcomes {
		if out.Status != report.StatusSkipped || out.Message != constants.TestCaseMessageCancelled {
			t.Fatalf("expected cancelled skip, got %+v", out)
		}
	}
}

func TestRunTests_CancelledWhileRunning(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ sandbox.Command) (sandbox.Result, error) {
			cancel()
			return sandbox.Result{ExitCode: -1, Signal: "SIGKILL"}, ctx.Err()
		})

	outcomes := f.exec.RunTests(ctx, f.request(languages.Profile{},
		suite.TestCase{Name: "a", Command: suite.Args{"./a"}},
		suite.TestCase{Name: "b", Command: suite.Args{"./b"}},
	))

	for _, out := range outcomes {
		if out.Status != report.StatusSkipped {
			t.Fatalf("expected skipped, got %+v", out)
		}
	}
}

func TestMemcheckTool(t *testing.T) {
	cases := []struct {
		profile  languages.MemcheckTool
		override *bool
		want     languages.MemcheckTool
	}{
		{"", nil, languages.MemcheckNone},
		{languages.MemcheckASan, nil, languages.MemcheckASan},
		{languages.MemcheckASan, ptr(false), languages.MemcheckNone},
		{languages.MemcheckNone, ptr(true), languages.MemcheckValgrind},
		{languages.MemcheckASan, ptr(true), languages.MemcheckASan},
	}
	for _, tt := range cases {
		got := MemcheckTool(languages.Profile{Memcheck: tt.profile}, suite.TestCase{Memcheck: tt.override})
		if got != tt.want {
			t.Errorf("MemcheckTool(%q, %v) = %q, want %q", tt.profile, tt.override, got, tt.want)
		}
	}
}

func TestWrapCommand_ASan(t *testing.T) {
	argv, env := WrapCommand(languages.MemcheckASan, []string{"./prog"}, []string{"PATH=/bin"})
	if len(argv) != 1 || argv[0] != "./prog" {
		t.Fatalf("sanitized binaries run unwrapped, got %v", argv)
	}
	joined := strings.Join(env, " ")
	if !strings.Contains(joined, "ASAN_OPTIONS=exitcode=86") || !strings.Contains(joined, "UBSAN_OPTIONS=") {
		t.Fatalf("sanitizer options missing from %v", env)
	}
}

func TestSplitToolOutput_Sanitizer(t *testing.T) {
	stderr := "starting\n" +
		"=================================================================\n" +
		"==7==ERROR: AddressSanitizer: heap-buffer-overflow\n" +
		"    #0 0x4011 in main main.c:9\n"

	program, diag := SplitToolOutput(languages.MemcheckASan, constants.MemcheckErrorExitCode, stderr)
	if program != "starting\n" {
		t.Fatalf("unexpected program stderr %q", program)
	}
	if !strings.HasPrefix(diag, "=====") || !strings.Contains(diag, "heap-buffer-overflow") || !strings.Contains(diag, "main.c:9") {
		t.Fatalf("unexpected report %q", diag)
	}
	if !MemoryViolation(languages.MemcheckASan, constants.MemcheckErrorExitCode, diag) {
		t.Fatalf("a sanitizer report is a violation")
	}
	if MemoryViolation(languages.MemcheckNone, constants.MemcheckErrorExitCode, "") {
		t.Fatalf("no violation without a memory checker")
	}
}

func TestSplitToolOutput_SanitizerIgnoresProgramOutput(t *testing.T) {
	cases := []struct {
		name     string
		exitCode int
		stderr   string
	}{
		{"banner on clean exit", 0, "==============================\nprogress: done\n"},
		{"runtime error text on clean exit", 0, "log: runtime error: none today\n"},
		{"banner without header", constants.MemcheckErrorExitCode, "==============================\nbye\n"},
		{"header text on other exit code", 1, "==3==ERROR: AddressSanitizer: printed by hand\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			program, diag := SplitToolOutput(languages.MemcheckASan, tc.exitCode, tc.stderr)
			if program != tc.stderr || diag != "" {
				t.Fatalf("program stderr must be kept whole, got %q / %q", program, diag)
			}
			if tc.exitCode != constants.MemcheckErrorExitCode && MemoryViolation(languages.MemcheckASan, tc.exitCode, diag) {
				t.Fatalf("exit code %d is not a sanitizer violation", tc.exitCode)
			}
		})
	}
}

func TestRunTests_SanitizerCleanRunKeepsStderr(t *testing.T) {
	f := newFixture(t, 1)
	stderr := "==============================\nprogress: done\n"

	f.sandbox.EXPECT().Run(gomock.Any(), gomock.Any()).Return(sandbox.Result{Stdout: "ok\n", Stderr: stderr}, nil)

	outcomes := f.exec.RunTests(context.Background(), f.request(
		languages.Profile{Language: languages.C, Memcheck: languages.MemcheckASan},
		suite.TestCase{Name: "clean", Command: suite.Args{"./prog"}, Expect: suite.Expectation{
			Stdout:            ptr("ok\n"),
			Stderr:            ptr(stderr),
			EnforceWhitespace: true,
		}},
	))

	out := outcomes[0]
	if out.Status != report.StatusPassed {
		t.Fatalf("a clean sanitized run must pass, got %s: %s", out.Status, out.Output)
	}
	if out.Stderr != stderr || out.MemoryErrors != "" {
		t.Fatalf("stderr must be left untouched, got %q / %q", out.Stderr, out.MemoryErrors)
	}
}

func TestRunTests_EmptySuite(t *testing.T) {
	f := newFixture(t, 4)
	outcomes := f.exec.RunTests(context.Background(), f.request(languages.Profile{}))
	if len(outcomes) != 0 {
		t.Fatalf("expected no outcomes, got %d", len(outcomes))
	}
}

func TestRunTests_VerifierFailureIsErrored(t *testing.T) {
	ctrl := gomock.NewController(t)
	sb := mocks.NewMockExecutor(ctrl)
	v := mocks.NewMockVerifier(ctrl)
	f := newFixture(t, 1)
	exec := NewExecutor(sb, v, scheduler.NewScheduler(1))

	sb.EXPECT().Run(gomock.Any(), gomock.Any()).Return(sandbox.Result{Stdout: "3\n"}, nil)
	v.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, in verifier.Input) (verifier.Verdict, error) {
			if in.TestName != "checked" || in.Observed.Stdout != "3\n" {
				t.Errorf("unexpected verifier input %+v", in)
			}
			return verifier.Verdict{}, pkgerrors.ErrTestExecution
		})

	outcomes := exec.RunTests(context.Background(), f.request(languages.Profile{},
		suite.TestCase{Name: "checked", Command: suite.Args{"./prog"}, Expect: suite.Expectation{Stdout: ptr("3")}},
	))
	if len(outcomes) != 1 || outcomes[0].Status != report.StatusErrored {
		t.Fatalf("expected an errored outcome, got %+v", outcomes)
	}
	if outcomes[0].Message != constants.TestCaseMessageInternalError {
		t.Fatalf("unexpected message %q", outcomes[0].Message)
	}
}
