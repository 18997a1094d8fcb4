//go:build darwin

package screen

import (
	"context"
	"os/exec"
)

func screenshotCommand(ctx context.Context, out string) (*exec.Cmd, error) {
	// -x: no sound, -t png, -m: main display only
	return exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-m", out), nil
}
