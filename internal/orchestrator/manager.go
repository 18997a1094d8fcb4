package orchestrator

import (
	"context"
	"image"
	"sync"

	"github.com/screenpilot/platform/internal/change"
	"github.com/screenpilot/platform/internal/config"
	"github.com/screenpilot/platform/internal/element"
	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/locator"
	"github.com/screenpilot/platform/internal/match"
	"github.com/screenpilot/platform/internal/orchestrator/history"
	"github.com/screenpilot/platform/internal/refstore"
	"github.com/screenpilot/platform/internal/screen"
	"github.com/screenpilot/platform/internal/trace"
)

// Target names what a wait watches: a configured element's search region,
// an explicit screen rectangle, or the whole screen when both are empty.
type Target struct {
	Element string
	Region  *element.Rect
}

// Manager coordinates locating and watching elements on one screen.
type Manager struct {
	cfg      *config.Config
	doc      *element.Document
	capturer screen.Capturer
	locator  *locator.Locator
	detector *change.Detector
	history  *history.MemoryStore
	ladder   locator.Ladder

	docMu sync.Mutex
}

// New builds a manager from cfg and the element document. It takes ownership
// of capturer and closes it on Close.
func New(cfg *config.Config, doc *element.Document, capturer screen.Capturer) (*Manager, error) {
	elements, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	ladder := locator.Ladder{Min: cfg.AdaptiveMin, Max: cfg.AdaptiveMax, Step: cfg.AdaptiveStep}
	if err := ladder.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "adaptive ladder")
	}

	mo := match.DefaultOptions()
	if len(cfg.MatchScales) > 0 {
		mo.Scales = append([]float64(nil), cfg.MatchScales...)
	}
	mo.NativeMinScore = cfg.NativeMinScore

	loc := locator.New(locator.Config{
		MaxReferences:  cfg.MaxReferences,
		ExcellentScore: cfg.ExcellentScore,
		Timeout:        cfg.LocateTimeout,
		Match:          mo,
		Debug:          cfg.DebugImages,
		DebugDir:       cfg.DebugDir,
	}, elements, capturer, refstore.New())

	det := change.New(capturer, change.Options{
		Timeout:   cfg.ChangeTimeout,
		Interval:  cfg.ChangeInterval,
		Threshold: change.Threshold(cfg.ChangeThreshold),
	})

	trace.Logger(context.Background()).Info("manager ready",
		"elements", len(elements), "backend", cfg.CaptureBackend, "screen", capturer.Bounds())

	return &Manager{
		cfg:      cfg,
		doc:      doc,
		capturer: capturer,
		locator:  loc,
		detector: det,
		history:  history.NewStore(HistoryMaxEntries, HistoryEventBuffer),
		ladder:   ladder,
	}, nil
}

// Elements returns the configured elements.
func (m *Manager) Elements() element.Set { return m.locator.Elements() }

// Locate finds name once at its configured confidence or, when adaptive is
// set, relaxes along the ladder and remembers the threshold that hit.
func (m *Manager) Locate(ctx context.Context, name string, adaptive bool) (locator.Result, error) {
	ctx, tc := trace.EnsureContext(ctx)

	var (
		res       locator.Result
		threshold float64
		err       error
	)
	if adaptive {
		res, threshold, err = m.locator.LocateAdaptive(ctx, name, m.ladder, locator.Options{})
		if err == nil && res.Found {
			m.locator.Learned().Remember(name, threshold)
		}
	} else {
		res, err = m.locator.Locate(ctx, name, locator.Options{})
		threshold = res.Confidence
	}

	e := history.Entry{
		Kind:      history.KindLocate,
		Element:   name,
		Found:     res.Found,
		Rect:      res.Rect,
		Score:     res.Score,
		Method:    string(res.Method),
		Threshold: threshold,
		Adaptive:  adaptive,
		TimedOut:  res.TimedOut,
		TraceID:   tc.TraceID,
		Elapsed:   res.Elapsed,
	}
	if err != nil {
		e.Error = err.Error()
	}
	m.history.Add(e)
	return res, err
}

// WaitForChange blocks until target visibly changes, opts times out, or ctx ends.
func (m *Manager) WaitForChange(ctx context.Context, target Target, opts change.Options) (bool, error) {
	return m.wait(ctx, history.KindChange, target, opts, m.detector.WaitForChange)
}

// WaitForStable blocks until target stops changing.
func (m *Manager) WaitForStable(ctx context.Context, target Target, opts change.Options) (bool, error) {
	return m.wait(ctx, history.KindStable, target, opts, m.detector.WaitForStable)
}

type waitFunc func(context.Context, image.Rectangle, change.Options) (bool, error)

func (m *Manager) wait(ctx context.Context, kind history.Kind, target Target, opts change.Options, fn waitFunc) (bool, error) {
	ctx, tc := trace.EnsureContext(ctx)
	e := history.Entry{Kind: kind, Element: target.Element, TraceID: tc.TraceID}

	rect, err := m.resolve(target)
	if err == nil {
		e.Rect = element.RectFrom(rect)
		e.Found, err = fn(ctx, rect, opts)
	}
	if err != nil {
		e.Error = err.Error()
	}
	m.history.Add(e)
	return e.Found, err
}

func (m *Manager) resolve(t Target) (image.Rectangle, error) {
	switch {
	case t.Element != "":
		return m.locator.Region(t.Element)
	case t.Region != nil:
		if t.Region.Empty() {
			return image.Rectangle{}, apperrors.Newf(apperrors.CodeInvalidArgument, "region %s has no area", t.Region)
		}
		return t.Region.Rectangle(), nil
	default:
		return m.capturer.Bounds(), nil
	}
}

// Learned returns the thresholds adaptive searches settled on this run.
func (m *Manager) Learned() map[string]float64 { return m.locator.Learned().Snapshot() }

// PersistConfidence writes the learned threshold for name into the element
// document and saves it. Without a learned threshold it fails with NOT_FOUND.
func (m *Manager) PersistConfidence(name string) error {
	thr, ok := m.locator.Learned().Lookup(name)
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "no learned confidence for %q", name)
	}

	m.docMu.Lock()
	defer m.docMu.Unlock()
	if err := m.doc.SetConfidence(name, thr); err != nil {
		return err
	}
	if err := m.doc.Save(); err != nil {
		return err
	}
	trace.Logger(context.Background()).Info("persisted learned confidence", "element", name, "confidence", thr)
	return nil
}

// Events returns the channel every recorded outcome is emitted on.
func (m *Manager) Events() <-chan history.Entry { return m.history.Events() }

// Recent returns up to n recorded outcomes, oldest first.
func (m *Manager) Recent(n int) []history.Entry {
	if n <= 0 {
		n = DefaultRecentEvents
	}
	return m.history.Recent(n)
}

// Stats summarizes locate outcomes for name.
func (m *Manager) Stats(name string) history.Stats { return m.history.Stats(name) }

// Close releases the capturer.
func (m *Manager) Close() {
	m.capturer.Close()
}
