// Package refstore loads and caches reference images of UI elements.
package refstore

import (
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"os"

	_ "golang.org/x/image/bmp"  // BMP decoder
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WebP decoder

	apperrors "github.com/screenpilot/platform/internal/errors"
	"github.com/screenpilot/platform/internal/match"
	"github.com/screenpilot/platform/internal/syncx"
)

// Store decodes reference images once and serves prepared templates.
// Reference files are read-only; the cache lives for the process.
type Store struct {
	cache *syncx.Map[string, *match.Template]
}

// New creates an empty store.
func New() *Store {
	return &Store{cache: syncx.NewMap[string, *match.Template]()}
}

// Load returns the prepared template for path. Missing or undecodable files
// fail with REFERENCE_UNAVAILABLE.
func (s *Store) Load(path string) (*match.Template, error) {
	if tpl, ok := s.cache.Load(path); ok {
		return tpl, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unavailable(err, path, "open")
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, unavailable(err, path, "decode")
	}

	tpl, err := match.NewTemplate(path, img)
	if err != nil {
		return nil, err
	}
	s.cache.Store(path, tpl)
	slog.Debug("reference image loaded", "path", path, "format", format, "size", tpl.Size())
	return tpl, nil
}

// LoadAll returns usable templates for paths in order, at most limit of them
// (limit <= 0 means no cap). Unusable files are logged and skipped.
func (s *Store) LoadAll(paths []string, limit int) []*match.Template {
	if limit > 0 && len(paths) > limit {
		slog.Debug("capping reference images", "available", len(paths), "limit", limit)
		paths = paths[:limit]
	}
	out := make([]*match.Template, 0, len(paths))
	for _, p := range paths {
		tpl, err := s.Load(p)
		if err != nil {
			slog.Warn("skipping reference image", "path", p, "error", err)
			continue
		}
		out = append(out, tpl)
	}
	return out
}

// Forget drops a cached template so the next Load re-reads the file.
func (s *Store) Forget(path string) {
	s.cache.Delete(path)
}

// Cached returns the number of cached templates.
func (s *Store) Cached() int { return s.cache.Len() }

func unavailable(err error, path, op string) *apperrors.AppError {
	return apperrors.Wrapf(err, apperrors.CodeReferenceUnavailable, "%s reference image", op).
		WithMetadata("path", path)
}
