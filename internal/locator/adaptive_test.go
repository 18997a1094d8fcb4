package locator

import (
	"context"
	"image"
	"testing"

	"github.com/screenpilot/platform/internal/element"
	apperrors "github.com/screenpilot/platform/internal/errors"
)

// stubFinder finds the element whenever the threshold is at or below matchAt.
type stubFinder struct {
	matchAt float64
	tried   []float64
}

func (s *stubFinder) Locate(_ context.Context, name string, opts Options) (Result, error) {
	s.tried = append(s.tried, opts.Confidence)
	if opts.Confidence <= s.matchAt {
		return Result{Element: name, Found: true, Score: s.matchAt, Confidence: opts.Confidence}, nil
	}
	return Result{Element: name, Confidence: opts.Confidence}, nil
}

func TestLadderLevels(t *testing.T) {
	tests := []struct {
		name    string
		ladder  Ladder
		nominal float64
		want    []float64
	}{
		{"below nominal only", Ladder{0.5, 0.9, 0.1}, 0.7, []float64{0.6, 0.5}},
		{"nominal above max", Ladder{0.5, 0.9, 0.1}, 0.95, []float64{0.9, 0.8, 0.7, 0.6, 0.5}},
		{"floor not on a step", Ladder{0.55, 0.9, 0.1}, 1, []float64{0.9, 0.8, 0.7, 0.6}},
		{"nominal at floor", Ladder{0.5, 0.9, 0.1}, 0.5, nil},
		{"fine steps", Ladder{0.6, 0.7, 0.05}, 0.7, []float64{0.65, 0.6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ladder.Levels(tt.nominal)
			if len(got) != len(tt.want) {
				t.Fatalf("Levels() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Levels()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLadderLevelsStrictlyDecreasing(t *testing.T) {
	ladders := []Ladder{
		{0.9 - 3e-9, 0.9, 4e-10},
		{0.5, 0.9, 0.1},
		{0.6, 0.7, 0.05},
	}
	for _, l := range ladders {
		got := l.Levels(1)
		prev := 1.0
		for i, level := range got {
			if level >= prev {
				t.Errorf("%+v: level %d (%v) not below %v", l, i, level, prev)
			}
			prev = level
		}
	}
}

func TestLadderValidate(t *testing.T) {
	bad := []Ladder{
		{0.5, 0.9, 0},
		{0.5, 0.9, -0.1},
		{0.9, 0.5, 0.1},
		{-0.1, 0.9, 0.1},
		{0.5, 1.1, 0.1},
		{0.5, 0.9, 1e-12},
		{0.9 - 3e-9, 0.9, 4e-10},
		{0, 1, 1e-4},
	}
	for _, l := range bad {
		if err := l.Validate(); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
			t.Errorf("Validate(%+v) = %v, want INVALID_ARGUMENT", l, err)
		}
	}
	if err := DefaultLadder().Validate(); err != nil {
		t.Errorf("DefaultLadder().Validate() = %v", err)
	}
}

func TestLocateAdaptiveRelaxesToFirstMatchingLevel(t *testing.T) {
	f := &stubFinder{matchAt: 0.62}
	res, threshold, err := LocateAdaptive(context.Background(), f, "send_button", 0.7, Ladder{0.5, 0.9, 0.1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || threshold != 0.6 {
		t.Errorf("LocateAdaptive() = found %v at %v, want found at 0.6", res.Found, threshold)
	}
	if len(f.tried) != 2 || f.tried[0] != 0.7 || f.tried[1] != 0.6 {
		t.Errorf("tried = %v, want [0.7 0.6]", f.tried)
	}
}

func TestLocateAdaptiveNominalFirst(t *testing.T) {
	f := &stubFinder{matchAt: 0.8}
	_, threshold, err := LocateAdaptive(context.Background(), f, "prompt_box", 0.7, DefaultLadder(), Options{})
	if err != nil || threshold != 0.7 {
		t.Errorf("LocateAdaptive() threshold = %v, %v; want nominal 0.7", threshold, err)
	}
	if len(f.tried) != 1 {
		t.Errorf("tried = %v, want only the nominal level", f.tried)
	}
}

func TestLocateAdaptiveNeverBelowFloor(t *testing.T) {
	f := &stubFinder{matchAt: 0.3}
	res, threshold, err := LocateAdaptive(context.Background(), f, "stop_button", 0.7, Ladder{0.5, 0.9, 0.1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found || threshold != 0 {
		t.Errorf("LocateAdaptive() = found %v at %v, want miss", res.Found, threshold)
	}
	for _, c := range f.tried {
		if c < 0.5 {
			t.Errorf("tried %v below the floor", c)
		}
	}
	for i := 1; i < len(f.tried); i++ {
		if f.tried[i] >= f.tried[i-1] {
			t.Errorf("tried = %v, levels must strictly decrease", f.tried)
		}
	}
}

func TestLocateAdaptiveRejectsBadLadder(t *testing.T) {
	f := &stubFinder{}
	_, _, err := LocateAdaptive(context.Background(), f, "x", 0.7, Ladder{0.5, 0.9, 0}, Options{})
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("error = %v, want INVALID_ARGUMENT", err)
	}
	if len(f.tried) != 0 {
		t.Error("bad ladder must not search")
	}
}

func TestLocatorAdaptiveStartsFromLearned(t *testing.T) {
	dir := t.TempDir()
	ref := noise(16, 16, 31)
	shot := noise(80, 60, 32)
	paste(shot, ref, image.Pt(12, 9))

	el := element.New("send_button", []string{writePNG(t, dir, "send.png", ref)}, 0.8)
	l := newLocator(t, Config{}, shot, el)

	_, threshold, err := l.LocateAdaptive(context.Background(), "send_button", DefaultLadder(), Options{})
	if err != nil || threshold != 0.8 {
		t.Fatalf("LocateAdaptive() threshold = %v, %v; want element confidence 0.8", threshold, err)
	}

	l.Learned().Remember("send_button", 0.6)
	res, threshold, err := l.LocateAdaptive(context.Background(), "send_button", DefaultLadder(), Options{})
	if err != nil || threshold != 0.6 {
		t.Fatalf("LocateAdaptive() threshold = %v, %v; want learned 0.6", threshold, err)
	}
	if res.Rect != (element.Rect{X: 12, Y: 9, W: 16, H: 16}) {
		t.Errorf("Rect = %v", res.Rect)
	}
	if el.Confidence != 0.8 {
		t.Error("adaptive search must not mutate the element")
	}

	_, _, err = l.LocateAdaptive(context.Background(), "missing", DefaultLadder(), Options{})
	if !apperrors.IsCode(err, apperrors.CodeConfigMissing) {
		t.Errorf("unknown element error = %v, want CONFIG_MISSING", err)
	}
}

func TestConfidenceStore(t *testing.T) {
	s := NewConfidenceStore()
	if _, ok := s.Lookup("prompt_box"); ok {
		t.Error("empty store should miss")
	}
	s.Remember("prompt_box", 0.6)
	if v, ok := s.Lookup("prompt_box"); !ok || v != 0.6 {
		t.Errorf("Lookup() = %v, %v", v, ok)
	}
	if len(s.Snapshot()) != 1 {
		t.Errorf("Snapshot() = %v", s.Snapshot())
	}
	s.Forget("prompt_box")
	if _, ok := s.Lookup("prompt_box"); ok {
		t.Error("Forget should drop the threshold")
	}
}
