//go:build !darwin && !linux && !windows

package screen

import (
	"context"
	"os/exec"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

func screenshotCommand(context.Context, string) (*exec.Cmd, error) {
	return nil, apperrors.New(apperrors.CodeCaptureFailed,
		"no screenshot tool known for this platform").WithMetadata("backend", BackendCommand)
}
