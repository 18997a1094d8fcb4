package element

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// Spec is the on-disk description of one element.
type Spec struct {
	ReferencePaths []string  `yaml:"reference_paths"`
	Region         []int     `yaml:"region,omitempty,flow"`
	RelativeRegion []float64 `yaml:"relative_region,omitempty,flow"`
	Parent         string    `yaml:"parent,omitempty"`
	Confidence     *float64  `yaml:"confidence,omitempty"`
}

type documentFile struct {
	UIElements map[string]*Spec `yaml:"ui_elements"`
	Rest       map[string]any   `yaml:",inline"`
}

// Document is a loaded element document. Keys other than ui_elements are kept
// as-is so Save round-trips the rest of the file.
type Document struct {
	path    string
	refBase string
	file    documentFile
}

// LoadDocument reads a YAML element document.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfigMissing, "element document %s", path)
		}
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "read element document %s", path)
	}
	return ParseDocument(path, data)
}

// ParseDocument parses YAML data; path is used to resolve relative reference paths.
func ParseDocument(path string, data []byte) (*Document, error) {
	var f documentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "parse element document %s", path)
	}
	if f.UIElements == nil {
		f.UIElements = make(map[string]*Spec)
	}
	return &Document{path: path, file: f}, nil
}

// Path returns the file the document was loaded from.
func (d *Document) Path() string { return d.path }

// SetReferenceDir makes relative reference paths resolve against dir instead
// of the document's directory. An empty dir restores the default.
func (d *Document) SetReferenceDir(dir string) { d.refBase = dir }

// Elements builds the element set. Relative reference paths are resolved
// against the reference dir, or the document's directory when none is set.
func (d *Document) Elements() (Set, error) {
	base := d.refBase
	if base == "" {
		base = filepath.Dir(d.path)
	}
	set := make(Set, len(d.file.UIElements))
	for name, spec := range d.file.UIElements {
		if spec == nil {
			return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "element %q has no body", name)
		}
		el, err := spec.build(name, base)
		if err != nil {
			return nil, err
		}
		set[name] = el
	}
	slog.Debug("loaded ui elements", "path", d.path, "count", len(set))
	return set, nil
}

func (s *Spec) build(name, base string) (*UIElement, error) {
	refs := make([]string, 0, len(s.ReferencePaths))
	for _, p := range s.ReferencePaths {
		if p != "" && !filepath.IsAbs(p) && base != "" {
			p = filepath.Join(base, p)
		}
		refs = append(refs, p)
	}

	confidence := DefaultConfidence
	if s.Confidence != nil {
		confidence = *s.Confidence
	}
	if confidence <= 0 || confidence > 1 {
		return nil, invalid(name, "confidence %v outside (0,1]", confidence)
	}

	el := &UIElement{
		Name:           name,
		ReferencePaths: DedupePaths(refs),
		Parent:         s.Parent,
		Confidence:     confidence,
	}

	if len(s.Region) > 0 {
		if len(s.Region) != 4 {
			return nil, invalid(name, "region needs 4 values, got %d", len(s.Region))
		}
		r := Rect{X: s.Region[0], Y: s.Region[1], W: s.Region[2], H: s.Region[3]}
		if r.Empty() {
			return nil, invalid(name, "region %s has no area", r)
		}
		el.Region = &r
	}
	if len(s.RelativeRegion) > 0 {
		if len(s.RelativeRegion) != 4 {
			return nil, invalid(name, "relative_region needs 4 values, got %d", len(s.RelativeRegion))
		}
		rr := RelRect{X: s.RelativeRegion[0], Y: s.RelativeRegion[1], W: s.RelativeRegion[2], H: s.RelativeRegion[3]}
		if rr.W <= 0 || rr.H <= 0 {
			return nil, invalid(name, "relative_region has no area")
		}
		el.RelativeRegion = &rr
	}
	if el.Parent != "" && el.RelativeRegion == nil {
		slog.Warn("parent set without relative_region, ignoring parent", "element", name, "parent", el.Parent)
	}
	return el, nil
}

// SetConfidence records a confidence for name. Callers use it to persist a
// threshold learned by adaptive search; it is not written until Save.
func (d *Document) SetConfidence(name string, confidence float64) error {
	spec, ok := d.file.UIElements[name]
	if !ok || spec == nil {
		return apperrors.Newf(apperrors.CodeNotFound, "element %q not in document", name)
	}
	c := confidence
	spec.Confidence = &c
	return nil
}

// Save writes the document back to its path.
func (d *Document) Save() error {
	return d.SaveAs(d.path)
}

// SaveAs writes the document to path, creating parent directories.
func (d *Document) SaveAs(path string) error {
	data, err := yaml.Marshal(&d.file)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode element document")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Wrapf(err, apperrors.CodeInternal, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeInternal, "write %s", path)
	}
	slog.Debug("element document saved", "path", path)
	return nil
}

func invalid(name, format string, args ...any) *apperrors.AppError {
	return apperrors.Newf(apperrors.CodeConfigInvalid, "element %q: %s", name, fmt.Sprintf(format, args...)).
		WithMetadata("element", name)
}
