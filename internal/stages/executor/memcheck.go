package executor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mfbutner/pl-autograders/pkg/constants"
	"github.com/mfbutner/pl-autograders/pkg/languages"
	"github.com/mfbutner/pl-autograders/pkg/suite"
)

var (
	valgrindLineRegex    = regexp.MustCompile(`^==\d+==`)
	sanitizerHeaderRegex = regexp.MustCompile(`^(==\d+==\s*ERROR: \w+Sanitizer|\S+:\d+:\d+: runtime error: )`)
	sanitizerBannerRegex = regexp.MustCompile(`^={20,}\s*$`)
)

var valgrindArgs = []string{
	"valgrind",
	"--error-exitcode=" + strconv.Itoa(constants.MemcheckErrorExitCode),
	"--leak-check=full",
	"--track-origins=yes",
	"-q",
}

// MemcheckTool picks the instrumentation for one test. A per-test memcheck
// flag overrides the build profile; turning it on without a profile tool
// selects valgrind.
func MemcheckTool(profile languages.Profile, tc suite.TestCase) languages.MemcheckTool {
	tool := profile.Memcheck
	if tool == "" {
		tool = languages.MemcheckNone
	}
	if tc.Memcheck == nil {
		return tool
	}
	if !*tc.Memcheck {
		return languages.MemcheckNone
	}
	if tool == languages.MemcheckNone {
		return languages.MemcheckValgrind
	}
	return tool
}

// WrapCommand instruments argv and env for the given tool.
func WrapCommand(tool languages.MemcheckTool, argv, env []string) ([]string, []string) {
	switch tool {
	case languages.MemcheckValgrind:
		return append(append([]string{}, valgrindArgs...), argv...), env
	case languages.MemcheckASan:
		code := strconv.Itoa(constants.MemcheckErrorExitCode)
		return argv, append(env,
			"ASAN_OPTIONS=exitcode="+code+":detect_leaks=1",
			"UBSAN_OPTIONS=print_stacktrace=1:halt_on_error=1:exitcode="+code,
		)
	default:
		return argv, env
	}
}

// SplitToolOutput separates the memory checker's report from the program's own
// stderr. Valgrind lines carry a ==PID== prefix. A sanitizer report only exists
// when the run ended with the sanitizer exit code; it starts at the
// ==PID==ERROR header (or a UBSan "runtime error" line), together with the
// banner printed right above it, and runs to the end of the stream because the
// program halts on it.
func SplitToolOutput(tool languages.MemcheckTool, exitCode int, stderr string) (program, report string) {
	if stderr == "" {
		return stderr, ""
	}

	switch tool {
	case languages.MemcheckValgrind:
		var prog, diag strings.Builder
		for _, line := range strings.SplitAfter(stderr, "\n") {
			if valgrindLineRegex.MatchString(strings.TrimRight(line, "\n")) {
				diag.WriteString(line)
				continue
			}
			prog.WriteString(line)
		}
		return prog.String(), strings.TrimRight(diag.String(), "\n")
	case languages.MemcheckASan:
		if exitCode != constants.MemcheckErrorExitCode {
			return stderr, ""
		}
		lines := strings.SplitAfter(stderr, "\n")
		start := -1
		for i, line := range lines {
			if sanitizerHeaderRegex.MatchString(strings.TrimRight(line, "\n")) {
				start = i
				break
			}
		}
		if start < 0 {
			return stderr, ""
		}
		if start > 0 && sanitizerBannerRegex.MatchString(strings.TrimRight(lines[start-1], "\n")) {
			start--
		}
		return strings.Join(lines[:start], ""), strings.TrimRight(strings.Join(lines[start:], ""), "\n")
	default:
		return stderr, ""
	}
}

// MemoryViolation reports whether the run tripped the memory checker. Sanitizers
// are judged by their exit code alone; program output never counts.
func MemoryViolation(tool languages.MemcheckTool, exitCode int, report string) bool {
	switch tool {
	case languages.MemcheckValgrind:
		return exitCode == constants.MemcheckErrorExitCode || report != ""
	case languages.MemcheckASan:
		return exitCode == constants.MemcheckErrorExitCode
	default:
		return false
	}
}
