// Package feature defines the canonical machining features recognized on a
// drawing and the set operations the rest of the pipeline relies on.
//
// A Feature is a tagged union: the common fields (identity, confidence,
// location, bounding box, provenance) live on Feature itself and the variant
// payload is a Shape, a closed interface implemented by Circle, Rectangle,
// Polygon, Ellipse, Counterbore and Pocket. A type switch on Feature.Shape is
// therefore exhaustive and every variant carries only the fields it needs.
//
// # Identity
//
// Feature ids are name-based UUIDs (SHA-1) derived from the source contour
// index, the variant and the center. Running the same input twice yields the
// same ids, which keeps recipes and emitted programs reproducible. Composite
// features derive their id from the ids of their constituents.
//
// # Coordinates
//
// Centers and bounding boxes use the drawing (image) convention: Y grows
// downward. Normalization translates them into the machining frame and keeps
// the pre-translation center in Original.
package feature

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
	"github.com/google/uuid"
)

// ErrGeometryInconsistency is returned when feature dimensions contradict
// each other, such as a counterbore whose outer diameter is not larger than
// its inner diameter.
var ErrGeometryInconsistency = errors.New("geometry inconsistency")

// ErrDuplicateID is returned by Set.Validate when two features share an id.
var ErrDuplicateID = errors.New("duplicate feature id")

// NoSource marks a feature that was not produced from a contour (declared
// positions, composites).
const NoSource = -1

// Feature flags.
const (
	FlagDeclared = "declared" // synthesized from an explicit directive position
	FlagPCD      = "pcd"      // matched to a pitch-circle slot
	FlagBaseline = "baseline" // reference circle of a pitch-circle pattern
)

// namespace scopes feature ids so they never collide with other SHA-1 UUIDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("nc-tools-mcp/feature"))

// Metrics are the classifier measurements a feature was derived from.
type Metrics struct {
	Solidity    float64 `json:"solidity"`
	Extent      float64 `json:"extent"`
	Circularity float64 `json:"circularity"`
	Area        float64 `json:"area"`
	Perimeter   float64 `json:"perimeter,omitempty"`

	// RectLength, RectWidth and RectAngle describe the minimum-area
	// bounding rectangle of the contour.
	RectLength float64 `json:"rect_length,omitempty"`
	RectWidth  float64 `json:"rect_width,omitempty"`
	RectAngle  float64 `json:"rect_angle,omitempty"`
}

// HoleSpec carries the directive values attached to a matched hole.
type HoleSpec struct {
	// Pattern is the slot index in the pitch-circle angle list, or -1 when the
	// hole was matched by radius only.
	Pattern int `json:"pattern"`

	// Angle is the declared slot angle in degrees.
	Angle *float64 `json:"angle,omitempty"`

	// Diameter is the declared hole diameter.
	Diameter *float64 `json:"diameter,omitempty"`

	// Depth is the declared hole depth.
	Depth *float64 `json:"depth,omitempty"`
}

// Feature is one recognized machining feature.
type Feature struct {
	// ID is unique within a Set.
	ID string

	// Shape is the variant payload.
	Shape Shape

	// Center is the feature location in the current frame.
	Center r2.Point

	// Original is the center before normalization. Nil until normalized.
	Original *r2.Point

	// BBox is the axis-aligned bounding box in the current frame.
	BBox r2.Rect

	// Confidence is in [0, 1]. Filtering never raises it.
	Confidence float64

	// Source is the index of the contour this feature came from, or NoSource.
	// It is a back-reference only; the contour is not owned.
	Source int

	// Metrics are present when the feature came from the classifier.
	Metrics *Metrics

	// Hole is set when the feature was matched against the directive.
	Hole *HoleSpec

	// Flags are free-form markers such as FlagDeclared.
	Flags []string
}

// Kind returns the variant tag, or KindUnknown for a feature without a shape.
func (f *Feature) Kind() Kind {
	if f.Shape == nil {
		return KindUnknown
	}
	return f.Shape.Kind()
}

// LargestDimension returns the shape's own largest dimension, falling back to
// the longer bounding box side.
func (f *Feature) LargestDimension() float64 {
	if f.Shape != nil {
		if d := f.Shape.Dimension(); d > 0 {
			return d
		}
	}
	s := f.BBox.Size()
	return math.Max(s.X, s.Y)
}

// HasFlag reports whether flag is set.
func (f *Feature) HasFlag(flag string) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

// AddFlag sets flag once.
func (f *Feature) AddFlag(flag string) {
	if !f.HasFlag(flag) {
		f.Flags = append(f.Flags, flag)
	}
}

// Translate moves the center and bounding box by d.
func (f *Feature) Translate(d r2.Point) {
	f.Center = f.Center.Add(d)
	f.BBox = TranslateRect(f.BBox, d)
}

// Clone returns a deep copy.
func (f *Feature) Clone() *Feature {
	c := *f
	if f.Original != nil {
		o := *f.Original
		c.Original = &o
	}
	if f.Metrics != nil {
		m := *f.Metrics
		c.Metrics = &m
	}
	if f.Hole != nil {
		h := *f.Hole
		c.Hole = &h
	}
	if f.Flags != nil {
		c.Flags = append([]string(nil), f.Flags...)
	}
	return &c
}

// String returns a short human-readable description.
func (f *Feature) String() string {
	return fmt.Sprintf("%s %s at (%.3f, %.3f) conf=%.2f", f.Kind(), shortID(f.ID), f.Center.X, f.Center.Y, f.Confidence)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NewID derives a deterministic id for a feature classified from a contour.
func NewID(source int, kind Kind, center r2.Point) string {
	name := fmt.Sprintf("%d|%s|%.6f|%.6f", source, kind, center.X, center.Y)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// CompositeID derives a deterministic id for a feature built from others.
// The constituent order does not matter.
func CompositeID(kind Kind, ids ...string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	name := kind.String() + "|" + strings.Join(sorted, "|")
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// Rect builds a bounding box from its corner coordinates.
func Rect(x1, y1, x2, y2 float64) r2.Rect {
	return r2.RectFromPoints(r2.Point{X: x1, Y: y1}, r2.Point{X: x2, Y: y2})
}

// TranslateRect moves r by d.
func TranslateRect(r r2.Rect, d r2.Point) r2.Rect {
	if r.IsEmpty() {
		return r
	}
	return r2.Rect{
		X: r1.Interval{Lo: r.X.Lo + d.X, Hi: r.X.Hi + d.X},
		Y: r1.Interval{Lo: r.Y.Lo + d.Y, Hi: r.Y.Hi + d.Y},
	}
}

// IoU returns the intersection-over-union ratio of two boxes, 0 when either
// is empty or they do not overlap.
func IoU(a, b r2.Rect) float64 {
	inter := a.Intersection(b)
	if inter.IsEmpty() {
		return 0
	}
	ia := area(inter)
	union := area(a) + area(b) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

func area(r r2.Rect) float64 {
	s := r.Size()
	return s.X * s.Y
}

// Set is an ordered collection of features with unique ids.
type Set []*Feature

// Validate checks the structural invariants of the set: non-empty unique ids,
// a shape on every feature, confidence in [0, 1] and counterbore diameters.
func (s Set) Validate() error {
	seen := make(map[string]bool, len(s))
	for i, f := range s {
		if f == nil {
			return fmt.Errorf("feature %d is nil", i)
		}
		if f.ID == "" {
			return fmt.Errorf("feature %d has no id", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("feature %d: %w: %s", i, ErrDuplicateID, f.ID)
		}
		seen[f.ID] = true
		if f.Shape == nil {
			return fmt.Errorf("feature %s has no shape", f.ID)
		}
		if f.Confidence < 0 || f.Confidence > 1 || math.IsNaN(f.Confidence) {
			return fmt.Errorf("feature %s confidence %g outside [0, 1]", f.ID, f.Confidence)
		}
		if cb, ok := f.Shape.(Counterbore); ok && cb.OuterDiameter <= cb.InnerDiameter {
			return fmt.Errorf("feature %s: %w: outer %g <= inner %g",
				f.ID, ErrGeometryInconsistency, cb.OuterDiameter, cb.InnerDiameter)
		}
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for i, f := range s {
		out[i] = f.Clone()
	}
	return out
}

// Find returns the feature with the given id.
func (s Set) Find(id string) (*Feature, bool) {
	for _, f := range s {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Centers returns the feature centers in order.
func (s Set) Centers() []r2.Point {
	out := make([]r2.Point, len(s))
	for i, f := range s {
		out[i] = f.Center
	}
	return out
}
