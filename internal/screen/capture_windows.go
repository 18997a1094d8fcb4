//go:build windows

package screen

import (
	"context"
	"os/exec"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

func screenshotCommand(context.Context, string) (*exec.Cmd, error) {
	return nil, apperrors.New(apperrors.CodeCaptureFailed,
		"no command backend on windows; use the native backend").WithMetadata("backend", BackendCommand)
}
