package screen

import (
	"context"
	"image"
	"log/slog"
	"sync"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// Backend names accepted by New.
const (
	BackendAuto    = "auto"
	BackendNative  = "native"
	BackendCommand = "command"
	BackendImage   = "image"
)

// New creates a capturer for the named backend. auto prefers the native
// display API and falls back to the platform screenshot tool.
func New(ctx context.Context, kind string) (Capturer, error) {
	switch kind {
	case BackendNative:
		return newNative()
	case BackendCommand:
		return newCommand(ctx)
	case BackendAuto, "":
		c, err := newNative()
		if err == nil {
			return c, nil
		}
		slog.Warn("native capture unavailable, falling back to screenshot tool", "error", err)
		return newCommand(ctx)
	default:
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown capture backend %q", kind)
	}
}

// imageBackend serves captures from an in-memory screen, for replaying a
// saved screenshot and for tests.
type imageBackend struct {
	mu  sync.RWMutex
	img *image.RGBA
}

func (b *imageBackend) name() string { return BackendImage }

func (b *imageBackend) grab(context.Context, image.Rectangle) (*image.RGBA, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.img, nil
}

func (b *imageBackend) cleanup() {}

// ImageCapturer is a Capturer over a replaceable in-memory screen.
type ImageCapturer struct {
	*guardedCapturer
	src *imageBackend
}

// FromImage returns a capturer whose screen is img. Bounds are img's bounds.
func FromImage(img image.Image) *ImageCapturer {
	src := &imageBackend{img: toRGBA(img)}
	return &ImageCapturer{guardedCapturer: newGuarded(src, img.Bounds(), ""), src: src}
}

// SetImage swaps the screen contents. The bounds must stay the same.
func (c *ImageCapturer) SetImage(img image.Image) {
	rgba := toRGBA(img)
	c.src.mu.Lock()
	c.src.img = rgba
	c.src.mu.Unlock()
}
