package errors

import "errors"

// Fatal errors. Only these abort a grading run with a non-zero exit code.
var (
	ErrPermissionSetup     = errors.New("failed to set up restricted execution identity")
	ErrResultPersistence   = errors.New("failed to persist grading report")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrIllegalTransition   = errors.New("illegal pipeline state transition")
	ErrUnsupportedPlatform = errors.New("sandbox backend is not supported on this platform")
	ErrWorkspace           = errors.New("failed to prepare grading workspace")
)

// Errors recorded against a submission or a single test.
var (
	ErrCompilationFailed   = errors.New("compilation failed")
	ErrNoSources           = errors.New("no source files found in submission")
	ErrTestTimeout         = errors.New("test exceeded its time limit")
	ErrTestExecution       = errors.New("test could not be executed")
	ErrEmptyCommand        = errors.New("command is empty")
	ErrInvalidLanguageType = errors.New("invalid language type")
	ErrInvalidVersion      = errors.New("invalid version supplied")
	ErrInvalidArch         = errors.New("invalid compiler architecture")
	ErrInvalidMemcheck     = errors.New("invalid memory checking tool")
)

// Suite discovery errors.
var (
	ErrSuiteNotFound   = errors.New("test suite definition not found")
	ErrInvalidSuite    = errors.New("invalid test suite definition")
	ErrDuplicateTest   = errors.New("duplicate test name")
	ErrFixtureNotFound = errors.New("fixture not found on search path")
	ErrIncludeCycle    = errors.New("suite include cycle")
)

// Notification errors.
var (
	ErrNotifierClosed = errors.New("notifier is closed")
)
