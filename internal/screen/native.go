package screen

import (
	"context"
	"image"

	"github.com/kbinani/screenshot"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// nativeBackend reads pixels through the OS display API (X11 shm, GDI,
// CoreGraphics) without spawning processes.
type nativeBackend struct{}

func (nativeBackend) name() string { return BackendNative }

func (nativeBackend) grab(_ context.Context, rect image.Rectangle) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, captureFailed(err, BackendNative, "capture rect")
	}
	// Rebase into screen coordinates; the pixel layout is unchanged.
	img.Rect = image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+img.Rect.Dx(), rect.Min.Y+img.Rect.Dy())
	return img, nil
}

func (nativeBackend) cleanup() {}

// displayBounds returns the union of all active displays.
func displayBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return image.Rectangle{}, apperrors.New(apperrors.CodeCaptureFailed, "no active displays")
	}
	var all image.Rectangle
	for i := 0; i < n; i++ {
		all = all.Union(screenshot.GetDisplayBounds(i))
	}
	return all, nil
}

func newNative() (Capturer, error) {
	bounds, err := displayBounds()
	if err != nil {
		return nil, err
	}
	return newGuarded(nativeBackend{}, bounds, ""), nil
}
