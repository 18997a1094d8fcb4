package locator

import (
	"context"
	"math"

	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/trace"
)

// Ladder bounds the thresholds an adaptive search may relax to.
type Ladder struct {
	Min, Max, Step float64
}

// DefaultLadder returns 0.9 down to 0.5 in steps of 0.1.
func DefaultLadder() Ladder {
	return Ladder{Min: DefaultAdaptiveMin, Max: DefaultAdaptiveMax, Step: DefaultAdaptiveStep}
}

// Validate checks 0 <= Min <= Max <= 1, that Step is resolvable at the
// rounding applied to levels, and that the ladder has at most
// MaxAdaptiveLevels rungs.
func (l Ladder) Validate() error {
	if math.IsNaN(l.Step) || l.Step < minAdaptiveStep {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "adaptive step must be at least %v, got %v", minAdaptiveStep, l.Step)
	}
	if l.Min < 0 || l.Max > 1 || l.Min > l.Max || math.IsNaN(l.Min) || math.IsNaN(l.Max) {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "adaptive range [%v, %v] must lie within [0, 1]", l.Min, l.Max)
	}
	if n := (l.Max - l.Min) / l.Step; n > MaxAdaptiveLevels {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "adaptive step %v gives %.0f levels, limit is %d", l.Step, n, MaxAdaptiveLevels)
	}
	return nil
}

// Levels returns the relaxed thresholds tried after nominal fails: Max, Max-Step,
// ... down to Min inclusive, keeping only levels strictly below nominal and
// below every earlier level. Levels are computed from Max by integer
// multiples of Step so they do not drift. Call Validate first.
func (l Ladder) Levels(nominal float64) []float64 {
	var out []float64
	prev := nominal
	for k := 0; k <= MaxAdaptiveLevels; k++ {
		level := math.Round((l.Max-float64(k)*l.Step)*levelPrecision) / levelPrecision
		if level < l.Min {
			break
		}
		if level < prev {
			out = append(out, level)
			prev = level
		}
	}
	return out
}

// LocateAdaptive tries name at nominal and then at each relaxed level of
// ladder until a search finds it. It returns the result and the threshold
// that worked; on a miss at every level the result has Found false and the
// threshold is 0. Nothing is persisted; see ConfidenceStore.
func LocateAdaptive(ctx context.Context, f Finder, name string, nominal float64, ladder Ladder, opts Options) (Result, float64, error) {
	if err := ladder.Validate(); err != nil {
		return Result{Element: name}, 0, err
	}
	ctx, span := trace.StartSpan(ctx, "locator.locate_adaptive")
	span.SetAttr("element", name)
	span.SetAttr("nominal", nominal)
	log := trace.Logger(ctx)

	levels := append([]float64{nominal}, ladder.Levels(nominal)...)
	var last Result
	for i, level := range levels {
		opts.Confidence = level
		res, err := f.Locate(ctx, name, opts)
		if err != nil {
			span.Finish(err)
			return res, 0, err
		}
		if res.Found {
			if i > 0 {
				log.Info("element found at relaxed confidence", "element", name, "nominal", nominal, "confidence", level, "score", res.Score)
			}
			span.SetAttr("threshold", level)
			span.Finish(nil)
			return res, level, nil
		}
		log.Debug("not found at confidence", "element", name, "confidence", level)
		last = res
	}
	span.SetAttr("threshold", 0.0)
	span.Finish(nil)
	return last, 0, nil
}

// LocateAdaptive searches for name starting from opts.Confidence when set,
// else the threshold learned earlier in this run, else the element's own
// confidence, relaxing along ladder on a miss. The winning threshold is returned, not stored.
func (l *Locator) LocateAdaptive(ctx context.Context, name string, ladder Ladder, opts Options) (Result, float64, error) {
	el, ok := l.elements.Get(name)
	if !ok {
		return Result{Element: name}, 0, unknownElement(name)
	}
	nominal := el.Confidence
	if opts.Confidence > 0 {
		nominal = opts.Confidence
	} else if learned, ok := l.learned.Lookup(name); ok {
		nominal = learned
	}
	return LocateAdaptive(ctx, l, name, nominal, ladder, opts)
}
