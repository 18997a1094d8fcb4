// Package screen provides platform-agnostic screen capture
package screen

import (
	"context"
	"image"
	"image/draw"
	"os"

	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/resilience"
	"github.com/screenpilot/platform/internal/trace"
)

// Capturer grabs rectangles of the screen in absolute screen coordinates.
// Every returned image is a fresh allocation owned by the caller.
type Capturer interface {
	Capture(ctx context.Context, rect image.Rectangle) (*image.RGBA, error)
	Bounds() image.Rectangle
	Close()
}

// backend implements platform-specific raw capture. grab may return more than
// rect; the caller crops.
type backend interface {
	name() string
	grab(ctx context.Context, rect image.Rectangle) (*image.RGBA, error)
	cleanup()
}

// guardedCapturer clips requests to the screen and protects the backend
// with retry and a circuit breaker.
type guardedCapturer struct {
	backend
	screen  image.Rectangle
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	tempDir string
}

func newGuarded(b backend, screen image.Rectangle, tempDir string) *guardedCapturer {
	return &guardedCapturer{
		backend: b,
		screen:  screen,
		retry:   resilience.CaptureRetryConfig(),
		breaker: resilience.New(resilience.CaptureConfig(b.name())),
		tempDir: tempDir,
	}
}

func (c *guardedCapturer) Bounds() image.Rectangle { return c.screen }

func (c *guardedCapturer) Capture(ctx context.Context, rect image.Rectangle) (*image.RGBA, error) {
	ctx, span := trace.StartSpan(ctx, "screen.capture")
	span.SetAttr("backend", c.name())
	span.SetAttr("rect", rect.String())

	clipped, err := Clip(rect, c.screen)
	if err != nil {
		span.Finish(err)
		return nil, err
	}

	img, err := resilience.ExecuteWithResult(c.breaker, func() (*image.RGBA, error) {
		return resilience.RetryWithResult(ctx, c.retry, func() (*image.RGBA, error) {
			return c.grab(ctx, clipped)
		})
	})
	if err != nil {
		span.Finish(err)
		return nil, err
	}
	out := Crop(img, clipped)
	span.Finish(nil)
	return out, nil
}

func (c *guardedCapturer) Close() {
	c.cleanup()
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}

// Clip intersects rect with screen. An empty intersection is INVALID_ARGUMENT.
func Clip(rect, screen image.Rectangle) (image.Rectangle, error) {
	clipped := rect.Intersect(screen)
	if clipped.Empty() {
		return image.Rectangle{}, apperrors.Newf(apperrors.CodeInvalidArgument,
			"capture rect %v lies outside screen %v", rect, screen)
	}
	return clipped, nil
}

// Crop copies rect out of src into a new image whose bounds start at (0,0).
// Parts of rect outside src stay transparent black.
func Crop(src *image.RGBA, rect image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst
}

func captureFailed(err error, backend, msg string) *apperrors.AppError {
	return apperrors.Wrap(err, apperrors.CodeCaptureFailed, msg).WithMetadata("backend", backend)
}
