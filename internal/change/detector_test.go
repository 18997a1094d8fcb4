package change

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// seqCapturer returns frames in order and then repeats the last one.
type seqCapturer struct {
	mu     sync.Mutex
	frames []*image.RGBA
	calls  int
}

func (s *seqCapturer) Capture(_ context.Context, _ image.Rectangle) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frames[min(s.calls, len(s.frames)-1)]
	s.calls++
	return f, nil
}

func (s *seqCapturer) Bounds() image.Rectangle { return s.frames[0].Bounds() }
func (s *seqCapturer) Close()                  {}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func withWhiteQuadrant(w, h int) *image.RGBA {
	img := solid(w, h, color.RGBA{A: 255})
	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return img
}

func noise(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		v := uint8(r.IntN(256))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

var fast = Options{Timeout: 150 * time.Millisecond, Interval: 5 * time.Millisecond}

func TestMeanDiff(t *testing.T) {
	black := solid(40, 40, color.RGBA{A: 255})

	if d, ok := MeanDiff(black, black); !ok || d != 0 {
		t.Errorf("MeanDiff(same) = %v, %v; want 0, true", d, ok)
	}
	if d, _ := MeanDiff(black, solid(40, 40, color.RGBA{R: 255, G: 255, B: 255, A: 255})); d != 1 {
		t.Errorf("MeanDiff(black, white) = %v, want 1", d)
	}
	if d, _ := MeanDiff(black, withWhiteQuadrant(40, 40)); d < 0.249 || d > 0.251 {
		t.Errorf("MeanDiff(quadrant) = %v, want 0.25", d)
	}
	if _, ok := MeanDiff(black, solid(20, 40, color.RGBA{})); ok {
		t.Error("MeanDiff should reject mismatched sizes")
	}
}

func TestWaitForChangeThreshold(t *testing.T) {
	tests := []struct {
		threshold float64
		want      bool
	}{
		{0.1, true},
		{0.5, false},
	}
	for _, tt := range tests {
		c := &seqCapturer{frames: []*image.RGBA{solid(40, 40, color.RGBA{A: 255}), withWhiteQuadrant(40, 40)}}
		d := New(c, Options{})

		opts := fast
		opts.Threshold = Threshold(tt.threshold)
		got, err := d.WaitForChange(context.Background(), image.Rect(0, 0, 40, 40), opts)
		if err != nil {
			t.Fatalf("threshold %v: error = %v", tt.threshold, err)
		}
		if got != tt.want {
			t.Errorf("threshold %v: WaitForChange() = %v, want %v", tt.threshold, got, tt.want)
		}
	}
}

func TestWaitForChangeZeroThresholdMeansAnyChange(t *testing.T) {
	black := solid(40, 40, color.RGBA{A: 255})
	speck := solid(40, 40, color.RGBA{A: 255})
	speck.SetRGBA(3, 3, color.RGBA{R: 10, A: 255})

	tests := []struct {
		name      string
		threshold *float64
		want      bool
	}{
		{"explicit zero", Threshold(0), true},
		{"default", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &seqCapturer{frames: []*image.RGBA{black, speck}}
			d := New(c, Options{})

			opts := Options{Timeout: 60 * time.Millisecond, Interval: 5 * time.Millisecond, Threshold: tt.threshold}
			got, err := d.WaitForChange(context.Background(), image.Rect(0, 0, 40, 40), opts)
			if err != nil || got != tt.want {
				t.Errorf("WaitForChange() = %v, %v; want %v, nil", got, err, tt.want)
			}
		})
	}
}

func TestWaitForChangeSamplesBeforeFirstInterval(t *testing.T) {
	c := &seqCapturer{frames: []*image.RGBA{solid(40, 40, color.RGBA{A: 255}), withWhiteQuadrant(40, 40)}}
	d := New(c, Options{})

	start := time.Now()
	got, err := d.WaitForChange(context.Background(), image.Rect(0, 0, 40, 40), Options{Timeout: 2 * time.Second, Interval: time.Hour})
	if err != nil || !got {
		t.Fatalf("WaitForChange() = %v, %v; want true, nil", got, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("first comparison took %v, want it right after the baseline", elapsed)
	}
}

func TestWaitForChangeSkipsMismatchedSamples(t *testing.T) {
	c := &seqCapturer{frames: []*image.RGBA{solid(40, 40, color.RGBA{A: 255}), solid(20, 20, color.RGBA{R: 255, A: 255})}}
	d := New(c, Options{})

	got, err := d.WaitForChange(context.Background(), image.Rect(0, 0, 40, 40), Options{Timeout: 60 * time.Millisecond, Interval: 5 * time.Millisecond, Threshold: Threshold(0.01)})
	if err != nil || got {
		t.Errorf("WaitForChange() = %v, %v; want false, nil", got, err)
	}
	if c.calls < 3 {
		t.Errorf("calls = %d, polling should continue past mismatched samples", c.calls)
	}
}

func TestWaitForChangeCancelled(t *testing.T) {
	c := &seqCapturer{frames: []*image.RGBA{solid(10, 10, color.RGBA{A: 255})}}
	d := New(c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	got, err := d.WaitForChange(ctx, image.Rect(0, 0, 10, 10), Options{Timeout: 5 * time.Second, Interval: 5 * time.Millisecond})
	if got || !apperrors.IsCode(err, apperrors.CodeCancelled) {
		t.Errorf("WaitForChange() = %v, %v; want false, CANCELLED", got, err)
	}
}

func TestWaitForStable(t *testing.T) {
	still := noise(64, 64, 1)
	c := &seqCapturer{frames: []*image.RGBA{noise(64, 64, 7), noise(64, 64, 8), still}}
	d := New(c, Options{})

	got, err := d.WaitForStable(context.Background(), image.Rect(0, 0, 64, 64), fast)
	if err != nil || !got {
		t.Errorf("WaitForStable() = %v, %v; want true, nil", got, err)
	}
}

func TestWaitForStableTimesOutWhileChanging(t *testing.T) {
	frames := make([]*image.RGBA, 0, 200)
	for i := range 200 {
		frames = append(frames, noise(64, 64, uint64(i+100)))
	}
	c := &seqCapturer{frames: frames}
	d := New(c, Options{})

	got, err := d.WaitForStable(context.Background(), image.Rect(0, 0, 64, 64), Options{Timeout: 60 * time.Millisecond, Interval: 5 * time.Millisecond})
	if err != nil || got {
		t.Errorf("WaitForStable() = %v, %v; want false, nil", got, err)
	}
}
