//go:build linux

package screen

import (
	"context"
	"os/exec"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

func screenshotCommand(ctx context.Context, out string) (*exec.Cmd, error) {
	if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		return exec.CommandContext(ctx, "gnome-screenshot", "-f", out), nil
	}
	if _, err := exec.LookPath("scrot"); err == nil {
		return exec.CommandContext(ctx, "scrot", "-o", out), nil
	}
	return nil, apperrors.New(apperrors.CodeCaptureFailed,
		"no screenshot tool found (install gnome-screenshot or scrot)").WithMetadata("backend", BackendCommand)
}
