//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/utils"
)

type localExecutor struct {
	identity    *Identity
	outputLimit int
	logger      *zap.SugaredLogger
}

// NewLocalExecutor runs commands as child processes. Untrusted commands switch to
// identity before exec; a nil identity runs everything as the harness.
func NewLocalExecutor(identity *Identity, outputLimit int) Executor {
	return &localExecutor{
		identity:    identity,
		outputLimit: outputLimit,
		logger:      logger.NewNamedLogger("local-sandbox"),
	}
}

func (e *localExecutor) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Argv) == 0 {
		return Result{}, pkgerrors.ErrEmptyCommand
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	stdout := utils.NewBoundedBuffer(e.outputLimit)
	stderr := utils.NewBoundedBuffer(e.outputLimit)

	cmd := exec.CommandContext(runCtx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = commandEnv(c)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	cmd.SysProcAttr = e.sysProcAttr(c)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = constants.ProcessWaitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: start %s: %v", pkgerrors.ErrTestExecution, c.Argv[0], err)
	}
	pid := cmd.Process.Pid

	limits := c.Limits
	if c.Trusted || e.identity == nil {
		// RLIMIT_NPROC counts every process of the uid.
		limits.Processes = 0
	}
	if err := applyLimits(pid, limits); err != nil {
		e.logger.Warnf("Failed to apply resource limits to pid %d: %s", pid, err)
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	// Reap anything the program left running in its group.
	_ = killProcessGroup(pid)

	res := Result{
		ExitCode:        exitCodeFromErr(waitErr, cmd.ProcessState),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        duration,
	}
	if cmd.ProcessState != nil {
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = unix.SignalName(ws.Signal())
		}
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
	}
	return res, nil
}

func (e *localExecutor) sysProcAttr(c Command) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if c.Trusted || e.identity == nil {
		return attr
	}
	attr.Credential = &syscall.Credential{
		Uid:    e.identity.UID,
		Gid:    e.identity.GID,
		Groups: []uint32{},
	}
	return attr
}

func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func applyLimits(pid int, limits Limits) error {
	set := func(resource int, value uint64) error {
		if value == 0 {
			return nil
		}
		return unix.Prlimit(pid, resource, &unix.Rlimit{Cur: value, Max: value}, nil)
	}

	var errs []error
	if limits.CPUTime > 0 {
		secs := uint64((limits.CPUTime + time.Second - 1) / time.Second)
		errs = append(errs, set(unix.RLIMIT_CPU, secs))
	}
	errs = append(errs,
		set(unix.RLIMIT_AS, limits.AddressSpace),
		set(unix.RLIMIT_NOFILE, limits.OpenFiles),
		set(unix.RLIMIT_NPROC, limits.Processes),
		set(unix.RLIMIT_FSIZE, limits.FileSize),
	)
	return errors.Join(errs...)
}
