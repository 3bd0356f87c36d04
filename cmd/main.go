package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/config"
	"github.com/mfbutner/pl-autograders/internal/docker"
	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/internal/notify"
	"github.com/mfbutner/pl-autograders/internal/pipeline"
	"github.com/mfbutner/pl-autograders/internal/sandbox"
	"github.com/mfbutner/pl-autograders/internal/scheduler"
	"github.com/mfbutner/pl-autograders/internal/stages/compiler"
	"github.com/mfbutner/pl-autograders/internal/stages/discovery"
	"github.com/mfbutner/pl-autograders/internal/stages/executor"
	"github.com/mfbutner/pl-autograders/internal/stages/packager"
	"github.com/mfbutner/pl-autograders/internal/stages/verifier"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.NewNamedLogger("main")
	defer logger.Sync()

	cfg, err := config.NewConfig(os.Args[1:])
	if err != nil {
		log.Errorf("Invalid configuration: %s", err)
		return exitCode(err)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		return constants.ExitCodeSuccess
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Warnf("Unknown log level %q, keeping info: %s", cfg.LogLevel, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	log.Infof("Starting autograder %s with %s sandbox", version, cfg.SandboxBackend)

	runners, err := newRunners(ctx, cfg)
	if err != nil {
		log.Errorf("Failed to initialize sandbox: %s", err)
		return exitCode(err)
	}

	var notifier pipeline.Notifier
	if cfg.Notify.Enabled {
		n, err := notify.Dial(cfg.Notify)
		if err != nil {
			log.Warnf("Result notification disabled: %s", err)
		} else {
			notifier = n
			defer closeNotifier(log, n)
		}
	}

	grader := pipeline.NewGrader(
		cfg,
		packager.NewPackager(),
		discovery.NewDiscoverer(cfg),
		sandbox.NewPrivilegeSeparator(cfg.SandboxUser, cfg.SandboxCreateUser),
		runners,
		notifier,
	)

	if _, err := grader.Grade(ctx); err != nil {
		return exitCode(err)
	}
	return constants.ExitCodeSuccess
}

// newRunners selects the sandbox backend. A docker backend must reach its
// daemon and image before any submission file is touched.
func newRunners(ctx context.Context, cfg *config.Config) (pipeline.Runners, error) {
	limit := cfg.OutputLimitBytes

	stages := func(sb sandbox.Executor) (pipeline.Compiler, pipeline.TestExecutor) {
		v := verifier.NewVerifier(sb, cfg.VerifierFlags, limit)
		return compiler.NewCompiler(sb, limit),
			executor.NewExecutor(sb, v, scheduler.NewScheduler(cfg.MaxParallelTests))
	}

	if cfg.SandboxBackend != "docker" {
		return func(_ string, identity sandbox.Identity) (pipeline.Compiler, pipeline.TestExecutor) {
			return stages(sandbox.NewLocalExecutor(&identity, limit))
		}, nil
	}

	dCli, err := docker.NewDockerClient()
	if err != nil {
		return nil, fmt.Errorf("%w: docker client: %v", pkgerrors.ErrPermissionSetup, err)
	}
	if err := dCli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: docker daemon unreachable: %v", pkgerrors.ErrPermissionSetup, err)
	}
	if err := dCli.EnsureImage(ctx, cfg.SandboxImage); err != nil {
		return nil, fmt.Errorf("%w: sandbox image %s: %v", pkgerrors.ErrPermissionSetup, cfg.SandboxImage, err)
	}

	return func(runID string, identity sandbox.Identity) (pipeline.Compiler, pipeline.TestExecutor) {
		trusted := sandbox.NewLocalExecutor(&identity, limit)
		return stages(sandbox.NewDockerExecutor(dCli, cfg.SandboxImage, &identity, trusted, limit, runID))
	}, nil
}

func closeNotifier(log *zap.SugaredLogger, n notify.Notifier) {
	if err := n.Close(); err != nil {
		log.Warnf("Failed to close notifier: %s", err)
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrPermissionSetup):
		return constants.ExitCodePermissionSetup
	case errors.Is(err, pkgerrors.ErrResultPersistence):
		return constants.ExitCodeResultPersistence
	case errors.Is(err, pkgerrors.ErrInvalidConfig):
		return constants.ExitCodeInvalidConfig
	default:
		return constants.ExitCodeFatal
	}
}
