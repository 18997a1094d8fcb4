// Package change watches screen regions for visual change and stability.
package change

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/corona10/goimagehash"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/screen"
	"github.com/screenpilot/platform/internal/trace"
)

// Options tunes a single wait. Zero durations and a nil Threshold take the
// detector defaults.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	// Mean absolute difference in [0,1] a frame must exceed. 0 means any change.
	Threshold *float64
}

// Threshold returns v as an Options.Threshold.
func Threshold(v float64) *float64 { return &v }

// Detector polls regions through a Capturer.
type Detector struct {
	capturer screen.Capturer
	defaults Options
}

// New creates a detector. Zero fields in defaults fall back to package defaults.
func New(c screen.Capturer, defaults Options) *Detector {
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}
	if defaults.Interval <= 0 {
		defaults.Interval = DefaultCheckInterval
	}
	if defaults.Threshold == nil {
		defaults.Threshold = Threshold(DefaultThreshold)
	}
	return &Detector{capturer: c, defaults: defaults}
}

func (d *Detector) resolve(o Options) Options {
	if o.Timeout <= 0 {
		o.Timeout = d.defaults.Timeout
	}
	if o.Interval <= 0 {
		o.Interval = d.defaults.Interval
	}
	if o.Threshold == nil {
		o.Threshold = d.defaults.Threshold
	}
	return o
}

// WaitForChange captures a baseline of rect and reports true the first time a
// later capture differs from it by more than the threshold. It reports false
// when the timeout elapses. Samples whose size differs from the baseline are
// skipped. Errors are returned only when no baseline can be taken or the
// caller cancels.
func (d *Detector) WaitForChange(ctx context.Context, rect image.Rectangle, opts Options) (bool, error) {
	opts = d.resolve(opts)
	ctx, span := trace.StartSpan(ctx, "change.wait_for_change")
	span.SetAttr("rect", rect.String())
	threshold := *opts.Threshold
	span.SetAttr("threshold", threshold)
	log := trace.Logger(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	baseline, err := d.capturer.Capture(waitCtx, rect)
	if err != nil {
		span.Finish(err)
		return false, err
	}

	changed, err := d.poll(ctx, waitCtx, rect, opts.Interval, func(frame *image.RGBA) bool {
		diff, ok := MeanDiff(baseline, frame)
		if !ok {
			log.Debug("skipping sample with mismatched size", "baseline", baseline.Bounds().Size(), "sample", frame.Bounds().Size())
			return false
		}
		log.Debug("change sample", "diff", diff)
		return diff > threshold
	})
	span.SetAttr("changed", changed)
	span.Finish(err)
	return changed, err
}

// WaitForStable reports true once StableCountThreshold consecutive captures
// of rect have perceptual hashes within MaxHashDistance of their predecessor,
// for example when a streamed response stops growing. It reports false on
// timeout.
func (d *Detector) WaitForStable(ctx context.Context, rect image.Rectangle, opts Options) (bool, error) {
	opts = d.resolve(opts)
	ctx, span := trace.StartSpan(ctx, "change.wait_for_stable")
	span.SetAttr("rect", rect.String())
	log := trace.Logger(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var last *goimagehash.ImageHash
	stable := 0
	settled, err := d.poll(ctx, waitCtx, rect, opts.Interval, func(frame *image.RGBA) bool {
		hash, err := goimagehash.PerceptionHash(frame)
		if err != nil {
			log.Debug("perception hash failed", "error", err)
			return false
		}
		if last == nil {
			last = hash
			return false
		}
		dist, err := last.Distance(hash)
		last = hash
		if err != nil || dist > MaxHashDistance {
			stable = 0
			return false
		}
		stable++
		log.Debug("stable sample", "distance", dist, "count", stable)
		return stable >= StableCountThreshold
	})
	span.SetAttr("stable", settled)
	span.Finish(err)
	return settled, err
}

// poll captures rect at once and then every interval until done reports true
// or waitCtx ends. Expiry of waitCtx alone is a normal false; cancellation of
// the caller's ctx is an error.
func (d *Detector) poll(ctx, waitCtx context.Context, rect image.Rectangle, interval time.Duration, done func(*image.RGBA) bool) (bool, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if waitCtx.Err() == nil {
			frame, err := d.capturer.Capture(waitCtx, rect)
			switch {
			case err != nil:
				if waitCtx.Err() == nil {
					trace.Logger(ctx).Debug("capture failed while polling", "error", err)
				}
			case done(frame):
				return true, nil
			}
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return false, apperrors.Wrap(err, apperrors.CodeCancelled, "wait cancelled")
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

// MeanDiff returns the mean absolute per-channel RGB difference of a and b
// normalized to [0,1]. ok is false when the sizes differ.
func MeanDiff(a, b *image.RGBA) (diff float64, ok bool) {
	sa, sb := a.Bounds().Size(), b.Bounds().Size()
	if sa != sb || sa.X == 0 || sa.Y == 0 {
		return 0, false
	}
	rows := make([]float64, sa.Y)
	for y := 0; y < sa.Y; y++ {
		ra := a.Pix[a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y):]
		rb := b.Pix[b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y):]
		var sum int
		for x := 0; x < sa.X; x++ {
			i := x * 4
			sum += absDiff(ra[i], rb[i]) + absDiff(ra[i+1], rb[i+1]) + absDiff(ra[i+2], rb[i+2])
		}
		rows[y] = float64(sum) / float64(sa.X*3)
	}
	return stat.Mean(rows, nil) / 255, true
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
