package match

import (
	"context"
	"log/slog"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// Options tunes the matching cascade.
type Options struct {
	// Correlation methods run in step 2, in order.
	Methods []Method
	// Template scale factors for the multi-scale fallback.
	Scales []float64
	// Floor for the native path's score, on top of the caller's threshold.
	NativeMinScore float64
	// Peaks kept per method and scale.
	MaxCandidates int
	// IoU above which a weaker peak is suppressed.
	OverlapIoU float64
	// Return straight after a native hit instead of running correlation.
	FirstGoodMatch bool
}

// DefaultOptions returns the standard cascade: coefficient and correlation
// methods, scales 0.8-1.2, first-good-match enabled.
func DefaultOptions() Options {
	return Options{
		Methods:        []Method{MethodCCoeffNormed, MethodCCorrNormed},
		Scales:         append([]float64(nil), DefaultScales...),
		NativeMinScore: DefaultNativeMinScore,
		MaxCandidates:  DefaultMaxCandidates,
		OverlapIoU:     DefaultOverlapIoU,
		FirstGoodMatch: true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	methods := o.Methods[:0:0]
	for _, m := range o.Methods {
		if m.Valid() {
			methods = append(methods, m)
		}
	}
	if len(methods) == 0 {
		methods = d.Methods
	}
	o.Methods = methods
	if o.Scales == nil {
		o.Scales = d.Scales
	}
	if o.NativeMinScore <= 0 {
		o.NativeMinScore = d.NativeMinScore
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = d.MaxCandidates
	}
	if o.OverlapIoU <= 0 {
		o.OverlapIoU = d.OverlapIoU
	}
	return o
}

// Matcher scores templates against frames. It holds no per-call state.
type Matcher struct {
	opts Options
}

// New creates a matcher; zero fields in opts take defaults.
func New(opts Options) *Matcher {
	return &Matcher{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (m *Matcher) Options() Options { return m.opts }

// Match runs the full cascade for one template:
//  1. native whole-frame search (returns at once on a hit when FirstGoodMatch)
//  2. correlation methods at original scale
//  3. correlation at each configured scale, only if step 2 found nothing
//
// A template that does not fit the frame yields no candidates. The result is
// never nil-with-error: "not found" is an empty slice.
func (m *Matcher) Match(ctx context.Context, f *Frame, tpl *Template, minScore float64) []Candidate {
	if !f.Fits(tpl.Size()) {
		slog.Debug("template larger than frame, skipping", "reason", apperrors.CodeTemplateTooLarge,
			"template", tpl.Path, "template_size", tpl.Size(), "frame_size", f.Size())
		return nil
	}

	var out []Candidate
	if c, ok := m.Native(f, tpl, minScore); ok {
		out = append(out, c)
		if m.opts.FirstGoodMatch {
			return out
		}
	}
	if ctx.Err() != nil {
		return out
	}

	return append(out, m.Fallback(ctx, f, tpl, minScore)...)
}

// Fallback is the cascade without the native step: correlation at original
// scale, then the multi-scale search only when that found nothing.
func (m *Matcher) Fallback(ctx context.Context, f *Frame, tpl *Template, minScore float64) []Candidate {
	if corr := m.Correlate(ctx, f, tpl, minScore); len(corr) > 0 {
		return corr
	}
	if ctx.Err() != nil {
		return nil
	}
	return m.MultiScale(ctx, f, tpl, minScore)
}

// MultiScale re-runs correlation with the template resized by each configured
// factor. Scales whose template would not fit the frame are skipped.
func (m *Matcher) MultiScale(ctx context.Context, f *Frame, tpl *Template, minScore float64) []Candidate {
	var out []Candidate
	for _, s := range m.opts.Scales {
		if ctx.Err() != nil {
			break
		}
		if s <= 0 || s == 1 {
			continue
		}
		scaled := tpl.Scaled(s)
		if scaled == nil || !f.Fits(scaled.Size()) {
			slog.Debug("scaled template does not fit, skipping", "reason", apperrors.CodeTemplateTooLarge,
				"template", tpl.Path, "scale", s)
			continue
		}
		out = append(out, m.Correlate(ctx, f, scaled, minScore)...)
	}
	return out
}
