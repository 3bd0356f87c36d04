package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/docker"
	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/utils"
)

var containerNameRegex = regexp.MustCompile("[^a-zA-Z0-9_.-]")

type dockerExecutor struct {
	docker      docker.DockerClient
	image       string
	identity    *Identity
	trusted     Executor
	outputLimit int
	runID       string
	seq         atomic.Int64
	logger      *zap.SugaredLogger
}

// NewDockerExecutor runs every untrusted command in a fresh, network-less container.
// Trusted commands are delegated to the given host executor.
func NewDockerExecutor(
	dCli docker.DockerClient,
	image string,
	identity *Identity,
	trusted Executor,
	outputLimit int,
	runID string,
) Executor {
	return &dockerExecutor{
		docker:      dCli,
		image:       image,
		identity:    identity,
		trusted:     trusted,
		outputLimit: outputLimit,
		runID:       runID,
		logger:      logger.NewNamedLogger("docker-sandbox"),
	}
}

func (d *dockerExecutor) Run(ctx context.Context, c Command) (Result, error) {
	if c.Trusted {
		return d.trusted.Run(ctx, c)
	}
	if len(c.Argv) == 0 {
		return Result{}, pkgerrors.ErrEmptyCommand
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	containerName := SanitizeContainerName(fmt.Sprintf("%s-%d", d.runID, d.seq.Add(1)))
	containerID, err := d.docker.CreateContainer(ctx, d.containerConfig(c), d.hostConfig(c), containerName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: create container: %v", pkgerrors.ErrTestExecution, err)
	}

	defer func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), constants.ContainerCleanupTimeout)
		defer cleanupCancel()
		if err := d.docker.ContainerRemove(cleanupCtx, containerID); err != nil {
			d.logger.Warnf("Failed to remove container %s: %s", containerID, err)
		}
	}()

	if err := d.copyInputs(ctx, containerID, c); err != nil {
		return Result{}, fmt.Errorf("%w: copy inputs: %v", pkgerrors.ErrTestExecution, err)
	}

	start := time.Now()
	if err := d.docker.StartContainer(ctx, containerID); err != nil {
		return Result{}, fmt.Errorf("%w: start container: %v", pkgerrors.ErrTestExecution, err)
	}

	exitCode, waitErr := d.docker.WaitContainer(runCtx, containerID)
	duration := time.Since(start)

	res := Result{Duration: duration, ExitCode: int(exitCode)}
	if waitErr != nil {
		killCtx, killCancel := context.WithTimeout(context.Background(), constants.ContainerCleanupTimeout)
		_ = d.docker.ContainerKill(killCtx, containerID, "SIGKILL")
		killCancel()
		res.ExitCode = constants.ExitCodeKilled
		res.Signal = "SIGKILL"

		switch {
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
		default:
			return res, fmt.Errorf("%w: wait container: %v", pkgerrors.ErrTestExecution, waitErr)
		}
	}

	if err := d.collectLogs(containerID, &res); err != nil {
		d.logger.Warnf("Failed to read logs of container %s: %s", containerID, err)
	}

	if !res.TimedOut && res.ExitCode == 0 {
		for _, name := range c.Collect {
			if err := d.collectFile(containerID, c.Dir, name); err != nil {
				return res, fmt.Errorf("%w: collect %s: %v", pkgerrors.ErrTestExecution, name, err)
			}
		}
	}

	return res, nil
}

func (d *dockerExecutor) containerConfig(c Command) *container.Config {
	argv := c.Argv
	if c.Stdin != nil {
		argv = append([]string{"sh", "-c", `exec "$@" < ` + constants.ContainerStdinMountPath, "sh"}, argv...)
	}

	cfg := &container.Config{
		Image:           d.image,
		Cmd:             argv,
		WorkingDir:      c.Dir,
		Env:             commandEnv(c),
		NetworkDisabled: true,
		AttachStdout:    true,
		AttachStderr:    true,
	}
	if d.identity != nil {
		cfg.User = fmt.Sprintf("%d:%d", d.identity.UID, d.identity.GID)
	}
	return cfg
}

func (d *dockerExecutor) hostConfig(c Command) *container.HostConfig {
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
	}
	if c.Limits.AddressSpace > 0 {
		hostCfg.Resources.Memory = int64(c.Limits.AddressSpace)
	}
	if c.Limits.Processes > 0 {
		pids := int64(c.Limits.Processes)
		hostCfg.Resources.PidsLimit = &pids
	}
	return hostCfg
}

// copyInputs places the working directory, every input directory and the stdin
// file inside the container at the paths the command expects.
func (d *dockerExecutor) copyInputs(ctx context.Context, containerID string, c Command) error {
	dirs := append([]string{}, c.Inputs...)
	if c.Dir != "" && !utils.Contains(dirs, c.Dir) {
		dirs = append(dirs, c.Dir)
	}

	for _, dir := range dirs {
		archive, err := utils.CreateTarArchive(dir, strings.TrimPrefix(filepath.Clean(dir), "/"))
		if err != nil {
			return err
		}
		err = d.docker.CopyToContainer(ctx, containerID, "/", archive)
		archive.Close()
		if err != nil {
			return err
		}
	}

	if c.Stdin != nil {
		archive, err := utils.SingleFileTarArchive(
			strings.TrimPrefix(constants.ContainerStdinMountPath, "/"), c.Stdin, 0o644)
		if err != nil {
			return err
		}
		if err := d.docker.CopyToContainer(ctx, containerID, "/", archive); err != nil {
			return err
		}
	}
	return nil
}

func (d *dockerExecutor) collectLogs(containerID string, res *Result) error {
	logCtx, cancel := context.WithTimeout(context.Background(), constants.ContainerCleanupTimeout)
	defer cancel()

	reader, err := d.docker.ContainerLogs(logCtx, containerID)
	if err != nil {
		return err
	}
	defer reader.Close()

	stdout := utils.NewBoundedBuffer(d.outputLimit)
	stderr := utils.NewBoundedBuffer(d.outputLimit)
	_, err = stdcopy.StdCopy(stdout, stderr, reader)

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.StdoutTruncated = stdout.Truncated()
	res.StderrTruncated = stderr.Truncated()
	return err
}

// collectFile copies dir/name out of the container into the same host path.
// The host side is checked for symlinks planted by the submission.
func (d *dockerExecutor) collectFile(containerID, dir, name string) error {
	src := filepath.Join(dir, name)
	dst := filepath.Dir(src)
	if err := utils.EnsureNoSymlinks(dir, dst); err != nil {
		return err
	}

	copyCtx, cancel := context.WithTimeout(context.Background(), constants.ContainerCleanupTimeout)
	defer cancel()

	reader, err := d.docker.CopyFromContainer(copyCtx, containerID, src)
	if err != nil {
		return err
	}
	defer reader.Close()

	return utils.ExtractTarArchive(reader, dst)
}

func SanitizeContainerName(raw string) string {
	cleaned := containerNameRegex.ReplaceAllString(raw, "-")
	if cleaned == "" {
		cleaned = "untitled"
	}
	return "autograder-" + cleaned
}
