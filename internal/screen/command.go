package screen

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	_ "image/jpeg" // screenshot tools may emit JPEG
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// commandBackend shells out to the platform screenshot tool and decodes the
// full-screen PNG it writes. Requests are served by cropping.
type commandBackend struct {
	tempDir string
	mu      sync.Mutex // the tool writes to a single temp file
}

func (c *commandBackend) name() string { return BackendCommand }

func (c *commandBackend) grab(ctx context.Context, _ image.Rectangle) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tmpFile := filepath.Join(c.tempDir, "screenshot.png")
	cmd, err := screenshotCommand(ctx, tmpFile)
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("screenshot tool failed", "cmd", cmd.Path, "stderr", stderr.String())
		return nil, captureFailed(err, BackendCommand, "run screenshot tool")
	}
	defer os.Remove(tmpFile)

	f, err := os.Open(tmpFile)
	if err != nil {
		return nil, captureFailed(err, BackendCommand, "open screenshot")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, captureFailed(err, BackendCommand, "decode screenshot")
	}
	return toRGBA(img), nil
}

func (c *commandBackend) cleanup() {}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

func newCommand(ctx context.Context) (Capturer, error) {
	tmpDir, err := os.MkdirTemp("", "screenpilot-screen-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create temp dir")
	}
	b := &commandBackend{tempDir: tmpDir}

	// The tool reports nothing about geometry, so size the screen from a first grab.
	first, err := b.grab(ctx, image.Rectangle{})
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	return newGuarded(b, first.Bounds(), tmpDir), nil
}
