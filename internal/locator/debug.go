package locator

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/screenpilot/platform/internal/match"
	"github.com/screenpilot/platform/internal/trace"
)

const missLabel = "none"

var hitColor = color.RGBA{R: 255, A: 255}

// writeDebug saves the searched region with the winning candidate outlined
// to <DebugDir>/<element>/<timestamp>_<method>_<random>.png. Failures are
// logged only.
func (l *Locator) writeDebug(ctx context.Context, name string, shot *image.RGBA, best match.Candidate, found bool) {
	log := trace.Logger(ctx)

	out := image.NewRGBA(shot.Bounds())
	draw.Draw(out, out.Bounds(), shot, shot.Bounds().Min, draw.Src)
	method := missLabel
	if found {
		outline(out, best.Location.Add(shot.Bounds().Min), debugOutline, hitColor)
		method = string(best.Method)
	}

	dir := filepath.Join(l.cfg.DebugDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("debug dir not writable", "dir", dir, "error", err)
		return
	}
	f, err := os.CreateTemp(dir, time.Now().Format("20060102T150405.000")+"_"+method+"_*.png")
	if err != nil {
		log.Warn("failed to create debug image", "dir", dir, "error", err)
		return
	}
	defer f.Close()
	path := f.Name()
	if err := png.Encode(f, out); err != nil {
		log.Warn("failed to encode debug image", "path", path, "error", err)
		return
	}
	log.Debug("debug image written", "path", path)
}

// outline draws a border of width w just inside r, clipped to img.
func outline(img *image.RGBA, r image.Rectangle, w int, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y),
		image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}
