package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/internal/sandbox"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	customErr "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/languages"
	"github.com/mfbutner/pl-autograders/utils"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// BuildResult is produced at most once per submission.
type BuildResult struct {
	Status     Status
	Diagnostic string
	Artifact   string
	Duration   time.Duration
}

func (r BuildResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

type Compiler interface {
	Build(ctx context.Context, submissionPath string, profile languages.Profile) BuildResult
}

// LanguageCompiler turns a profile and a source list into a toolchain invocation.
type LanguageCompiler interface {
	Command(sources []string, output string) ([]string, error)
}

type compiler struct {
	executor    sandbox.Executor
	outputLimit int
	logger      *zap.SugaredLogger
}

func NewCompiler(executor sandbox.Executor, outputLimit int) Compiler {
	return &compiler{
		executor:    executor,
		outputLimit: outputLimit,
		logger:      logger.NewNamedLogger("compiler"),
	}
}

func initializeLanguageCompiler(profile languages.Profile) (LanguageCompiler, error) {
	switch profile.Language {
	case languages.C, languages.CPP:
		return NewGccCompiler(profile)
	default:
		return nil, customErr.ErrInvalidLanguageType
	}
}

func (c *compiler) Build(ctx context.Context, submissionPath string, profile languages.Profile) BuildResult {
	if !profile.RequiresBuild() {
		c.logger.Infof("No build needed for %s", profile.Language)
		return BuildResult{Status: StatusSuccess, Artifact: submissionPath}
	}

	langCompiler, err := initializeLanguageCompiler(profile)
	if err != nil {
		return c.failure(fmt.Sprintf("cannot build %s submissions: %s", profile.Language, err), 0)
	}

	sources, err := FindSources(submissionPath, profile.SourcePatterns())
	if err != nil {
		return c.failure(err.Error(), 0)
	}

	argv, err := langCompiler.Command(sources, profile.Output)
	if err != nil {
		return c.failure(err.Error(), 0)
	}

	c.logger.Infof("Compiling %d sources: %s", len(sources), strings.Join(argv, " "))
	res, err := c.executor.Run(ctx, sandbox.Command{
		Argv: argv,
		Dir:  submissionPath,
		Env: []string{
			"PATH=" + constants.DefaultSandboxPath,
			"HOME=" + submissionPath,
		},
		Timeout: profile.BuildTimeout,
		Limits:  sandbox.DefaultLimits(),
		Collect: []string{profile.Output},
	})
	if err != nil {
		c.logger.Errorf("Could not run the compiler: %s", err)
		return c.failure(fmt.Sprintf("%s: %s", customErr.ErrCompilationFailed, err), res.Duration)
	}
	if res.TimedOut {
		return c.failure(fmt.Sprintf("compilation took longer than %s", profile.BuildTimeout), res.Duration)
	}

	diagnostic := joinOutput(res.Stderr, res.Stdout)
	if res.ExitCode != 0 {
		c.logger.Infof("Compilation failed with exit code %d", res.ExitCode)
		return c.failure(c.bound(diagnostic), res.Duration)
	}

	artifact := filepath.Join(submissionPath, profile.Output)
	if _, err := os.Stat(artifact); err != nil {
		return c.failure(fmt.Sprintf("compiler exited successfully but %s was not produced", profile.Output), res.Duration)
	}

	c.logger.Infof("Compilation successful in %s", res.Duration)
	return BuildResult{
		Status:     StatusSuccess,
		Diagnostic: c.bound(diagnostic),
		Artifact:   artifact,
		Duration:   res.Duration,
	}
}

func (c *compiler) failure(diagnostic string, d time.Duration) BuildResult {
	return BuildResult{Status: StatusFailure, Diagnostic: diagnostic, Duration: d}
}

func (c *compiler) bound(s string) string {
	bounded, _ := utils.Truncate(s, c.outputLimit)
	return bounded
}

// FindSources expands the glob patterns inside dir and returns the matches
// relative to dir, sorted and without duplicates. Every match starts with "./"
// so a submitted file name is never read as a toolchain option.
func FindSources(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var sources []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad source pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(dir, m)
			if err != nil || seen[rel] {
				continue
			}
			if info, err := os.Stat(m); err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[rel] = true
			sources = append(sources, "."+string(filepath.Separator)+rel)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w matching %s", customErr.ErrNoSources, strings.Join(patterns, ", "))
	}
	sort.Strings(sources)
	return sources, nil
}

func joinOutput(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, strings.TrimRight(p, "\n"))
		}
	}
	return strings.Join(nonEmpty, "\n")
}
