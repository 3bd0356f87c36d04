package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/mfbutner/pl-autograders/pkg/constants"
)

// Identity is the restricted OS account untrusted code runs as.
type Identity struct {
	Name string
	UID  uint32
	GID  uint32
}

// Limits bounds the resources of one sandboxed process. Zero fields are not applied.
type Limits struct {
	CPUTime      time.Duration
	AddressSpace uint64
	OpenFiles    uint64
	Processes    uint64
	FileSize     uint64
}

func DefaultLimits() Limits {
	return Limits{
		AddressSpace: constants.RlimitAddressSpace,
		OpenFiles:    constants.RlimitOpenFiles,
		Processes:    constants.RlimitProcesses,
		FileSize:     constants.RlimitFileSizeMB * 1024 * 1024,
	}
}

type Command struct {
	Argv []string
	Dir  string
	Env  []string

	// Stdin is fed to the process; nil means the process reads from /dev/null.
	Stdin []byte

	// Timeout bounds wall-clock time. Zero means only the parent context applies.
	Timeout time.Duration
	Limits  Limits

	// Trusted commands run as the harness identity, outside the restricted account.
	Trusted bool

	// Inputs are directories the process must see at their host paths (docker backend).
	Inputs []string

	// Collect names files, relative to Dir, copied back to the host after the
	// process exits with status 0 (docker backend).
	Collect []string
}

type Result struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Duration        time.Duration
	TimedOut        bool
	Signal          string
}

// Executor spawns commands. A returned error is a harness-side fault (the
// command could not be started) or the parent context's error. Failing,
// crashing and timed-out programs are reported through Result.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return constants.ExitCodeKilled
}

func commandEnv(cmd Command) []string {
	if cmd.Env != nil {
		return cmd.Env
	}
	return []string{"PATH=" + constants.DefaultSandboxPath}
}
