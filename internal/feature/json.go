package feature

import (
	"fmt"

	"github.com/golang/geo/r2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Point is the wire form of a coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is the wire form of a bounding box.
type Bounds struct {
	X1 float64 `json:"x1"` // Left edge
	Y1 float64 `json:"y1"` // Top edge
	X2 float64 `json:"x2"` // Right edge
	Y2 float64 `json:"y2"` // Bottom edge
}

// ToPoint converts an r2 point to its wire form.
func ToPoint(p r2.Point) Point { return Point{X: p.X, Y: p.Y} }

// R2 converts a wire point back to r2.
func (p Point) R2() r2.Point { return r2.Point{X: p.X, Y: p.Y} }

// ToBounds converts an r2 rectangle to its wire form.
func ToBounds(r r2.Rect) Bounds {
	if r.IsEmpty() {
		return Bounds{}
	}
	return Bounds{X1: r.X.Lo, Y1: r.Y.Lo, X2: r.X.Hi, Y2: r.Y.Hi}
}

// R2 converts wire bounds back to r2.
func (b Bounds) R2() r2.Rect { return Rect(b.X1, b.Y1, b.X2, b.Y2) }

type wireFeature struct {
	ID         string              `json:"id"`
	Kind       Kind                `json:"kind"`
	Shape      jsoniter.RawMessage `json:"shape"`
	Center     Point               `json:"center"`
	Original   *Point              `json:"original,omitempty"`
	BBox       Bounds              `json:"bbox"`
	Confidence float64             `json:"confidence"`
	Source     int                 `json:"source"`
	Metrics    *Metrics            `json:"metrics,omitempty"`
	Hole       *HoleSpec           `json:"hole,omitempty"`
	Flags      []string            `json:"flags,omitempty"`
}

// MarshalJSON encodes the feature with a "kind" discriminator next to the
// variant payload under "shape".
func (f Feature) MarshalJSON() ([]byte, error) {
	if f.Shape == nil {
		return nil, fmt.Errorf("feature %s has no shape", f.ID)
	}
	shape, err := json.Marshal(f.Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s shape: %w", f.Shape.Kind(), err)
	}
	w := wireFeature{
		ID:         f.ID,
		Kind:       f.Shape.Kind(),
		Shape:      shape,
		Center:     ToPoint(f.Center),
		BBox:       ToBounds(f.BBox),
		Confidence: f.Confidence,
		Source:     f.Source,
		Metrics:    f.Metrics,
		Hole:       f.Hole,
		Flags:      f.Flags,
	}
	if f.Original != nil {
		o := ToPoint(*f.Original)
		w.Original = &o
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var w wireFeature
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	shape, err := decodeShape(w.Kind, w.Shape)
	if err != nil {
		return fmt.Errorf("feature %s: %w", w.ID, err)
	}
	*f = Feature{
		ID:         w.ID,
		Shape:      shape,
		Center:     w.Center.R2(),
		BBox:       w.BBox.R2(),
		Confidence: w.Confidence,
		Source:     w.Source,
		Metrics:    w.Metrics,
		Hole:       w.Hole,
		Flags:      w.Flags,
	}
	if w.Original != nil {
		o := w.Original.R2()
		f.Original = &o
	}
	return nil
}

func decodeShape(k Kind, raw jsoniter.RawMessage) (Shape, error) {
	if len(raw) == 0 {
		raw = jsoniter.RawMessage("{}")
	}
	var err error
	switch k {
	case KindCircle:
		var v Circle
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindRectangle:
		var v Rectangle
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindPolygon:
		var v Polygon
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindEllipse:
		var v Ellipse
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindCounterbore:
		var v Counterbore
		if err = json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return NewCounterbore(v.OuterDiameter, v.InnerDiameter, v.Depth)
	case KindPocket:
		var v Pocket
		err = json.Unmarshal(raw, &v)
		return v, err
	}
	return nil, fmt.Errorf("unsupported feature kind %s", k)
}
