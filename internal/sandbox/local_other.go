//go:build !linux

package sandbox

import (
	"context"

	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
)

type unsupportedExecutor struct{}

// NewLocalExecutor returns an executor that refuses to run anything: restricted
// identities and process-group kills are only implemented for Linux.
func NewLocalExecutor(_ *Identity, _ int) Executor {
	return unsupportedExecutor{}
}

func (unsupportedExecutor) Run(context.Context, Command) (Result, error) {
	return Result{}, pkgerrors.ErrUnsupportedPlatform
}
