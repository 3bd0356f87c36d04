package constants

import (
	"encoding/json"
	"time"
)

// Report schema.
const (
	ReportSchemaVersion = 1
)

// Report messages.
const (
	ReportMessageBuildError   = "submission failed to build"
	ReportMessageUngradable   = "submission could not be graded"
	ReportMessageNoTests      = "no tests were found for this assignment"
	ReportMessageHiddenTest   = "Hidden test %d"
	ReportMessageBuildOutcome = "Build"
)

// TestOutcome messages.
const (
	TestCaseMessageTimeOut         = "Your program took longer than %s to complete."
	TestCaseMessageMemoryErrors    = "Memory errors were detected while running your program."
	TestCaseMessageCrashed         = "Your program crashed."
	TestCaseMessageSkipped         = "Test was skipped: %s"
	TestCaseMessageCancelled       = "grading was cancelled before this test ran"
	TestCaseMessageInternalError   = "Something went wrong when running the instructor's code. This did not cost you a submission."
	TestCaseMessageRunAs           = "Your program was run as: %s"
	TestCaseMessageInput           = "It was provided the following input: %s"
	TestCaseMessageExpectedCode    = "Expected Return Code: %d"
	TestCaseMessageExpectedOutput  = "Expected Output: %s"
	TestCaseMessageExpectedError   = "Expected Error: %s"
	TestCaseMessageReturnCode      = "Your Program's Return Code: %d"
	TestCaseMessageOutput          = "Your Program's Output: %s"
	TestCaseMessageError           = "Your Program's Error: %s"
	TestCaseMessageReturnCodeOK    = "Return Code: Correct"
	TestCaseMessageReturnCodeBad   = "Return Code: Mismatch"
	TestCaseMessageOutputOK        = "Output: Correct"
	TestCaseMessageOutputBad       = "Output: Mismatch"
	TestCaseMessageStderrOK        = "Standard Error: Correct"
	TestCaseMessageStderrBad       = "Standard Error: Mismatch"
	TestCaseMessageCheckerOK       = "Checker: Accepted"
	TestCaseMessageCheckerRejected = "Checker: Rejected"
	TestCaseMessageTruncated       = "\n...[%d bytes truncated]...\n"
	TestCaseMessageTruncatedOutput = "Your program's %s was too long and was truncated."
)

// Scheduler worker statuses.
type WorkerStatus int

const (
	WorkerStatusIdle WorkerStatus = iota
	WorkerStatusBusy
)

func (ws WorkerStatus) String() string {
	switch ws {
	case WorkerStatusIdle:
		return "idle"
	case WorkerStatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

func (ws WorkerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(ws.String())
}

// Process exit codes of the harness.
const (
	ExitCodeSuccess           = 0
	ExitCodeFatal             = 1
	ExitCodePermissionSetup   = 2
	ExitCodeResultPersistence = 3
	ExitCodeInvalidConfig     = 4
)

// Exit codes observed on graded processes.
const (
	ExitCodeDifference    = 1
	ExitCodeKilled        = -1
	MemcheckErrorExitCode = 86
)

// Filesystem modes applied by the privilege separator.
const (
	GradeDirMode      = 0o711
	ResultsDirMode    = 0o700
	SubmissionDirMode = 0o700
	ResultFileMode    = 0o644
)

// Configuration defaults.
const (
	DefaultGradeDir             = "/grade"
	DefaultTestsDirName         = "tests"
	DefaultStudentDirName       = "student"
	DefaultResultsDirName       = "results"
	DefaultFixturesDirName      = "fixtures"
	DefaultResultFileName       = "results.json"
	DefaultSandboxUser          = "sbuser"
	DefaultSandboxBackend       = "local"
	DefaultSandboxImage         = "python:3.12-slim"
	DefaultMaxParallelTests     = 1
	DefaultTestTimeoutSec       = 10
	DefaultBuildTimeoutSec      = 60
	DefaultOutputLimitBytes     = 64 * 1024
	DefaultVerifierFlags        = "-u"
	DefaultLogLevel             = "info"
	DefaultRabbitmqHost         = "localhost"
	DefaultRabbitmqUser         = "guest"
	DefaultRabbitmqPassword     = "guest"
	DefaultRabbitmqPort         = "5672"
	DefaultNotifyQueueName      = "grading_results"
	DefaultTestPoints           = 1.0
	SearchPathSeparator         = ":"
	SearchPathEnvName           = "AUTOGRADER_SEARCH_PATH"
	FixturesDirEnvName          = "AUTOGRADER_FIXTURES_DIR"
	CheckerStdoutEnvName        = "AUTOGRADER_STDOUT"
	CheckerStderrEnvName        = "AUTOGRADER_STDERR"
	CheckerExitCodeEnvName      = "AUTOGRADER_EXIT_CODE"
	CheckerTestNameEnvName      = "AUTOGRADER_TEST_NAME"
	DefaultSandboxPath          = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	DefaultCompiledArtifactName = "a.out"
	ContainerCleanupTimeout     = 10 * time.Second
	CheckerTimeout              = 30 * time.Second
	ProcessWaitDelay            = 2 * time.Second
	ContainerStdinMountPath     = "/autograder/stdin"
)

// Suite discovery.
var SuiteFileNames = []string{"suite.yaml", "suite.yml", "suite.json", "suite.jsonc"}

// Per-test resource limits applied to restricted processes.
const (
	RlimitOpenFiles    = 256
	RlimitProcesses    = 64
	RlimitFileSizeMB   = 64
	RlimitAddressSpace = 2 * 1024 * 1024 * 1024
)

// RabbitMQ specific constants.
const (
	RabbitMQReconnectTries = 3
	RabbitMQPublishTimeout = 5 * time.Second
)
