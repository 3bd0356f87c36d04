//go:build e2e

package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mfbutner/pl-autograders/internal/config"
	"github.com/mfbutner/pl-autograders/internal/pipeline"
	"github.com/mfbutner/pl-autograders/internal/sandbox"
	"github.com/mfbutner/pl-autograders/internal/scheduler"
	"github.com/mfbutner/pl-autograders/internal/stages/compiler"
	"github.com/mfbutner/pl-autograders/internal/stages/discovery"
	"github.com/mfbutner/pl-autograders/internal/stages/executor"
	"github.com/mfbutner/pl-autograders/internal/stages/packager"
	"github.com/mfbutner/pl-autograders/internal/stages/verifier"
	"github.com/mfbutner/pl-autograders/pkg/report"
	"github.com/mfbutner/pl-autograders/tests"
)

type e2eTestCase struct {
	files   map[string]string
	suite   string
	wantRun report.RunStatus
	want    []report.Status
}

// gradeDir returns a grading root the restricted user can traverse.
func gradeDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "autograder-e2e-")
	if err != nil {
		t.Fatalf("failed to create grade dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	return dir
}

func runE2ETest(t *testing.T, tc e2eTestCase) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("end-to-end grading needs root to set up the sandbox user")
	}

	grade := gradeDir(t)
	for name, content := range tc.files {
		tests.WriteFile(t, filepath.Join(grade, "student"), name, content)
	}
	tests.WriteFile(t, filepath.Join(grade, "tests"), "suite.yaml", tc.suite)

	t.Setenv("GRADE_DIR", grade)
	t.Setenv("MAX_PARALLEL_TESTS", "2")
	cfg, err := config.NewConfig(nil)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	runners := func(_ string, identity sandbox.Identity) (pipeline.Compiler, pipeline.TestExecutor) {
		sb := sandbox.NewLocalExecutor(&identity, cfg.OutputLimitBytes)
		v := verifier.NewVerifier(sb, cfg.VerifierFlags, cfg.OutputLimitBytes)
		return compiler.NewCompiler(sb, cfg.OutputLimitBytes),
			executor.NewExecutor(sb, v, scheduler.NewScheduler(cfg.MaxParallelTests))
	}
	grader := pipeline.NewGrader(
		cfg,
		packager.NewPackager(),
		discovery.NewDiscoverer(cfg),
		sandbox.NewPrivilegeSeparator(cfg.SandboxUser, cfg.SandboxCreateUser),
		runners,
		nil,
	)

	if _, err := grader.Grade(context.Background()); err != nil {
		t.Fatalf("Grade failed: %v", err)
	}

	rep := tests.ReadReport(t, cfg.ResultsFile)

	if rep.Status != tc.wantRun {
		t.Fatalf("expected run status %s, got %s (%s)", tc.wantRun, rep.Status, rep.Output)
	}
	if len(rep.Tests) != len(tc.want) {
		t.Fatalf("expected %d outcomes, got %d", len(tc.want), len(rep.Tests))
	}
	for i, st := range tc.want {
		if rep.Tests[i].Status != st {
			t.Errorf("test %d (%s): expected %s, got %s: %s", i, rep.Tests[i].Name, st, rep.Tests[i].Status, rep.Tests[i].Message)
		}
	}
}

func TestE2E_Shell(t *testing.T) {
	runE2ETest(t, e2eTestCase{
		files: map[string]string{"greet.sh": "read name\necho \"hello $name\"\n"},
		suite: `
tests:
  - name: greets
    cmd: sh greet.sh
    stdin: "world\n"
    expect:
      stdout: "hello world\n"
  - name: wrong answer
    cmd: sh greet.sh
    stdin: "there\n"
    expect:
      stdout: "hello world\n"
  - name: timeout
    cmd: sleep 5
    timeout: 200ms
`,
		wantRun: report.RunStatusGraded,
		want:    []report.Status{report.StatusPassed, report.StatusFailed, report.StatusTimedOut},
	})
}

func TestE2E_C_CompilationError(t *testing.T) {
	runE2ETest(t, e2eTestCase{
		files: map[string]string{"main.c": "int main(void) { return 0 }\n"},
		suite: `
build:
  language: c
  version: "11"
tests:
  - name: runs
    cmd: ./a.out
`,
		wantRun: report.RunStatusBuildError,
		want:    []report.Status{report.StatusBuildError},
	})
}

func TestE2E_C_Valid(t *testing.T) {
	runE2ETest(t, e2eTestCase{
		files: map[string]string{"main.c": "#include <stdio.h>\nint main(void) { printf(\"42\\n\"); return 0; }\n"},
		suite: `
build:
  language: c
  version: "11"
tests:
  - name: answer
    cmd: ./a.out
    expect:
      stdout: "42\n"
`,
		wantRun: report.RunStatusGraded,
		want:    []report.Status{report.StatusPassed},
	})
}

func TestE2E_BrokenSuiteIsUngradable(t *testing.T) {
	runE2ETest(t, e2eTestCase{
		files:   map[string]string{"greet.sh": "echo hi\n"},
		suite:   "tests: [\n",
		wantRun: report.RunStatusUngradable,
		want:    nil,
	})
}
