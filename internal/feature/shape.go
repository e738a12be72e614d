package feature

import (
	"fmt"
	"strings"
)

// Kind identifies the variant carried by a Feature.
type Kind int

// Feature variants.
const (
	KindUnknown Kind = iota
	KindCircle
	KindRectangle
	KindPolygon
	KindEllipse
	KindCounterbore
	KindPocket
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindCircle:      "circle",
	KindRectangle:   "rectangle",
	KindPolygon:     "polygon",
	KindEllipse:     "ellipse",
	KindCounterbore: "counterbore",
	KindPocket:      "pocket",
}

// String returns the lower-case variant name used on the wire.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, s := range kindNames {
		if s == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown feature kind %q", string(text))
}

// Shape is the variant payload of a Feature. The set of implementations is
// closed: Circle, Rectangle, Polygon, Ellipse, Counterbore and Pocket.
type Shape interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Dimension returns the largest linear dimension of the shape, or 0 when
	// the shape itself does not know its extent.
	Dimension() float64

	sealed()
}

// Circle is a round hole or boss.
type Circle struct {
	Radius      float64 `json:"radius"`
	Circularity float64 `json:"circularity"`
}

func (Circle) Kind() Kind { return KindCircle }
func (c Circle) Dimension() float64 { return 2 * c.Radius }
func (Circle) sealed() {}
func (c Circle) Diameter() float64 { return 2 * c.Radius }

// Rectangle is a four-sided shape. Class distinguishes squares and
// parallelograms from plain rectangles.
type Rectangle struct {
	Length       float64 `json:"length"`
	Width        float64 `json:"width"`
	CornerRadius float64 `json:"corner_radius"`
	Angle        float64 `json:"angle"`
	Class        string  `json:"class,omitempty"`
}

func (Rectangle) Kind() Kind { return KindRectangle }
func (r Rectangle) Dimension() float64 { return r.Length }
func (Rectangle) sealed() {}

// Polygon is any other convex-ish outline with a known vertex count.
// Class is "triangle", "polygon" or "irregular".
type Polygon struct {
	VertexCount int    `json:"vertex_count"`
	Class       string `json:"class,omitempty"`
}

func (Polygon) Kind() Kind { return KindPolygon }
func (Polygon) Dimension() float64 { return 0 }
func (Polygon) sealed() {}

// Ellipse is an elongated round outline. Angle is the major axis direction in
// degrees.
type Ellipse struct {
	MajorAxis float64 `json:"major_axis"`
	MinorAxis float64 `json:"minor_axis"`
	Angle     float64 `json:"angle"`
}

func (Ellipse) Kind() Kind { return KindEllipse }
func (e Ellipse) Dimension() float64 { return e.MajorAxis }
func (Ellipse) sealed() {}

// Counterbore is a stepped hole: a recess of OuterDiameter over a pilot of
// InnerDiameter. Build it with NewCounterbore to enforce Outer > Inner.
type Counterbore struct {
	OuterDiameter float64  `json:"outer_diameter"`
	InnerDiameter float64  `json:"inner_diameter"`
	Depth         *float64 `json:"depth,omitempty"`
}

func (Counterbore) Kind() Kind { return KindCounterbore }
func (c Counterbore) Dimension() float64 { return c.OuterDiameter }
func (Counterbore) sealed() {}

// Pocket is a recessed rectangular cavity with rounded corners.
type Pocket struct {
	Length       float64  `json:"length"`
	Width        float64  `json:"width"`
	CornerRadius float64  `json:"corner_radius"`
	Depth        *float64 `json:"depth,omitempty"`
	Angle        float64  `json:"angle"`
}

func (Pocket) Kind() Kind { return KindPocket }
func (p Pocket) Dimension() float64 { return p.Length }
func (Pocket) sealed() {}

// NewCounterbore validates the diameters of a stepped hole.
//
// Returns ErrGeometryInconsistency when the outer diameter does not exceed
// the inner one or either diameter is not positive.
func NewCounterbore(outer, inner float64, depth *float64) (Counterbore, error) {
	if outer <= 0 || inner <= 0 {
		return Counterbore{}, fmt.Errorf("counterbore diameters must be positive (outer=%g, inner=%g): %w",
			outer, inner, ErrGeometryInconsistency)
	}
	if outer <= inner {
		return Counterbore{}, fmt.Errorf("counterbore outer diameter %g must exceed inner diameter %g: %w",
			outer, inner, ErrGeometryInconsistency)
	}
	return Counterbore{OuterDiameter: outer, InnerDiameter: inner, Depth: depth}, nil
}

// HoleDiameter returns the cutting diameter of round features: the circle
// diameter or the counterbore pilot diameter. ok is false for other shapes.
func HoleDiameter(s Shape) (d float64, ok bool) {
	switch v := s.(type) {
	case Circle:
		return v.Diameter(), true
	case Counterbore:
		return v.InnerDiameter, true
	}
	return 0, false
}
