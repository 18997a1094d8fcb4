// Package locator finds UI elements on screen by matching their reference
// images inside the element's resolved search region.
package locator

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/screenpilot/platform/internal/element"
	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/match"
	"github.com/screenpilot/platform/internal/refstore"
	"github.com/screenpilot/platform/internal/screen"
	"github.com/screenpilot/platform/internal/trace"
)

// Config tunes a Locator. Zero fields take defaults.
type Config struct {
	MaxReferences  int
	ExcellentScore float64
	Timeout        time.Duration
	// Native candidates within NearScore of the best score win ties.
	NearScore float64
	Match     match.Options

	// Debug writes an annotated screenshot per search under DebugDir.
	Debug    bool
	DebugDir string
}

func (c Config) withDefaults() Config {
	if c.MaxReferences <= 0 {
		c.MaxReferences = DefaultMaxReferences
	}
	if c.ExcellentScore <= 0 {
		c.ExcellentScore = DefaultExcellentScore
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.NearScore <= 0 {
		c.NearScore = match.DefaultNearScore
	}
	if c.DebugDir == "" {
		c.DebugDir = "debug"
	}
	return c
}

// Options apply to one search.
type Options struct {
	// Confidence overrides the element's threshold when > 0.
	Confidence float64
	// Timeout overrides the locator's default when > 0.
	Timeout time.Duration
}

// Result is the outcome of a search. Found is false for a miss, which is
// not an error.
type Result struct {
	Element    string
	Found      bool
	Rect       element.Rect // absolute screen pixels
	Score      float64
	Method     match.Method
	Template   string
	Scale      float64
	Confidence float64 // threshold the search ran at
	TimedOut   bool
	Elapsed    time.Duration
}

// Finder locates a named element. *Locator implements it.
type Finder interface {
	Locate(ctx context.Context, name string, opts Options) (Result, error)
}

// Locator searches for configured elements on a live screen.
type Locator struct {
	cfg      Config
	elements element.Set
	capturer screen.Capturer
	refs     *refstore.Store
	matcher  *match.Matcher
	learned  *ConfidenceStore
}

// New creates a locator over elements.
func New(cfg Config, elements element.Set, capturer screen.Capturer, refs *refstore.Store) *Locator {
	cfg = cfg.withDefaults()
	if refs == nil {
		refs = refstore.New()
	}
	return &Locator{
		cfg:      cfg,
		elements: elements,
		capturer: capturer,
		refs:     refs,
		matcher:  match.New(cfg.Match),
		learned:  NewConfidenceStore(),
	}
}

// Config returns the effective configuration.
func (l *Locator) Config() Config { return l.cfg }

// Elements returns the configured element set.
func (l *Locator) Elements() element.Set { return l.elements }

// Learned returns the run-scoped store of adaptive thresholds.
func (l *Locator) Learned() *ConfidenceStore { return l.learned }

// Region resolves where name is searched: its configured region, or the
// full screen when it has none.
func (l *Locator) Region(name string) (image.Rectangle, error) {
	el, ok := l.elements.Get(name)
	if !ok {
		return image.Rectangle{}, unknownElement(name)
	}
	return l.region(el)
}

func (l *Locator) region(el *element.UIElement) (image.Rectangle, error) {
	bounds := l.capturer.Bounds()
	if !el.HasRegion() {
		return bounds, nil
	}
	r, err := element.Resolve(el, l.elements, bounds)
	if err != nil {
		return image.Rectangle{}, err
	}
	return r.Rectangle(), nil
}

// Locate searches for name. A miss or a timeout is reported through Result;
// errors mean the element is misconfigured, the screen could not be
// captured, or ctx was cancelled.
//
// All references first get the native exact search, which is cheap and
// trusted most. Only when none of them hits does the correlation cascade
// run. Either pass ends early on an excellent score. When the timeout
// expires the best candidate gathered so far is returned.
func (l *Locator) Locate(ctx context.Context, name string, opts Options) (Result, error) {
	el, ok := l.elements.Get(name)
	if !ok {
		return Result{Element: name}, unknownElement(name)
	}
	confidence := el.Confidence
	if opts.Confidence > 0 {
		confidence = opts.Confidence
	}
	timeout := l.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	ctx, span := trace.StartSpan(ctx, "locator.locate")
	span.SetAttr("element", name)
	span.SetAttr("confidence", confidence)
	log := trace.Logger(ctx)
	start := time.Now()
	res := Result{Element: name, Confidence: confidence}

	region, err := l.region(el)
	if err != nil {
		span.Finish(err)
		return res, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shot, err := l.capturer.Capture(searchCtx, region)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			err = cerr
		} else if searchCtx.Err() != nil {
			res.TimedOut = true
			res.Elapsed = time.Since(start)
			span.Finish(nil)
			return res, nil
		}
		span.Finish(err)
		return res, err
	}
	// Capture clips to the screen, so shot starts at the clipped origin.
	origin := region.Intersect(l.capturer.Bounds()).Min
	frame := match.NewFrame(shot)

	paths := el.ReferencePaths
	if len(paths) > l.cfg.MaxReferences {
		log.Debug("capping reference images", "available", len(paths), "limit", l.cfg.MaxReferences)
		paths = paths[:l.cfg.MaxReferences]
	}
	templates := l.refs.LoadAll(paths, 0)
	if len(templates) == 0 {
		log.Warn("element has no usable reference images", "element", name)
	}

	cands := l.search(searchCtx, frame, templates, confidence)

	if cerr := cancelled(ctx); cerr != nil {
		span.Finish(cerr)
		return res, cerr
	}
	res.TimedOut = searchCtx.Err() != nil
	res.Elapsed = time.Since(start)

	best, found := match.Best(cands, l.cfg.NearScore)
	if found {
		res.Found = true
		res.Rect = element.RectFrom(best.Location.Add(origin))
		res.Score = best.Score
		res.Method = best.Method
		res.Template = best.Template
		res.Scale = best.Scale
	}
	if l.cfg.Debug {
		l.writeDebug(ctx, name, shot, best, found)
	}

	span.SetAttr("found", res.Found)
	span.SetAttr("score", res.Score)
	span.SetAttr("method", string(res.Method))
	span.SetAttr("candidates", len(cands))
	if res.TimedOut {
		log.Info("locate timed out, returning best so far", "element", name, "found", res.Found, "timeout", timeout)
	}
	span.Finish(nil)
	return res, nil
}

func (l *Locator) search(ctx context.Context, frame *match.Frame, templates []*match.Template, confidence float64) []match.Candidate {
	log := trace.Logger(ctx)
	var cands []match.Candidate
	add := func(cs ...match.Candidate) bool {
		excellent := false
		for _, c := range cs {
			c.Seq = len(cands)
			cands = append(cands, c)
			if c.Score >= l.cfg.ExcellentScore {
				excellent = true
			}
		}
		return excellent
	}

	if !l.matcher.Options().FirstGoodMatch {
		for _, tpl := range templates {
			if ctx.Err() != nil {
				break
			}
			if add(l.matcher.Match(ctx, frame, tpl, confidence)...) {
				log.Debug("excellent match, stopping", "template", tpl.Path)
				break
			}
		}
		return cands
	}

	for _, tpl := range templates {
		if ctx.Err() != nil {
			return cands
		}
		if c, ok := l.matcher.Native(frame, tpl, confidence); ok {
			if add(c) {
				log.Debug("excellent native match, stopping", "template", tpl.Path, "score", c.Score)
				return cands
			}
		}
	}
	if len(cands) > 0 {
		return cands
	}

	for _, tpl := range templates {
		if ctx.Err() != nil {
			break
		}
		if add(l.matcher.Fallback(ctx, frame, tpl, confidence)...) {
			log.Debug("excellent match, stopping", "template", tpl.Path)
			break
		}
	}
	return cands
}

// cancelled reports a caller cancellation. Deadlines, the caller's or the
// search's own, end the search like a timeout instead.
func cancelled(ctx context.Context) error {
	err := ctx.Err()
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return apperrors.Wrap(err, apperrors.CodeCancelled, "locate cancelled")
}

func unknownElement(name string) *apperrors.AppError {
	return apperrors.Newf(apperrors.CodeConfigMissing, "element %q is not configured", name).
		WithMetadata("element", name)
}
