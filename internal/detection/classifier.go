package detection

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/ironsheep/nc-tools-mcp/internal/contour"
	"github.com/ironsheep/nc-tools-mcp/internal/feature"
)

// ShapeKind is the fine-grained label assigned by the classifier.
type ShapeKind string

// Classifier labels.
const (
	ShapeUnclassified  ShapeKind = "unclassified"
	ShapeEllipse       ShapeKind = "ellipse"
	ShapeTriangle      ShapeKind = "triangle"
	ShapeSquare        ShapeKind = "square"
	ShapeRectangle     ShapeKind = "rectangle"
	ShapeParallelogram ShapeKind = "parallelogram"
	ShapeCircle        ShapeKind = "circle"
	ShapePolygon       ShapeKind = "polygon"
	ShapeIrregular     ShapeKind = "irregular"
)

// Classifier thresholds.
const (
	ellipseMaxCircularity = 0.8
	ellipseMinEcc         = 0.4
	ellipseMaxEcc         = 0.9
	ellipseMinSolidity    = 0.7
	ellipseFitMin         = 0.85
	ellipseFitMax         = 1.15

	triangleMinSolidity = 0.7

	squareMinRatio = 0.8
	rightAngleCos  = 0.17 // |cos| below this is a right angle (about 80 to 100 degrees)

	circleMinEnclosing   = 0.7
	circleMaxEnclosing   = 1.3
	circleMinCircularity = 0.8
	circleMinSolidity    = 0.8

	polygonMaxVertices = 10
	polygonMinSolidity = 0.8

	irregularMinSolidity = 0.9
	irregularMinExtent   = 0.8
)

// EllipseFit is the moment-based ellipse accepted by the classifier. Axes are
// full lengths, Angle is the major axis direction in degrees.
type EllipseFit struct {
	Center    r2.Point
	MajorAxis float64
	MinorAxis float64
	Angle     float64
}

// Classification is the classifier verdict for one contour.
type Classification struct {
	// Kind is the label, ShapeUnclassified when no rule fired.
	Kind ShapeKind `json:"kind"`

	// Confidence is the clamped product of the ratios that triggered the
	// rule; 0 for unclassified contours.
	Confidence float64 `json:"confidence"`

	Solidity     float64 `json:"solidity"`
	Extent       float64 `json:"extent"`
	Circularity  float64 `json:"circularity"`
	Eccentricity float64 `json:"eccentricity"`
	VertexCount  int     `json:"vertex_count"`

	// Ellipse is set when the ellipse rule fired.
	Ellipse *EllipseFit `json:"-"`

	// Measurements are the derived quantities the verdict was based on.
	Measurements contour.Measurements `json:"-"`
}

// Classify assigns a primitive shape and a confidence to a raw contour.
//
// Classify is a pure function. Degenerate contours (fewer than three points,
// zero area or zero perimeter) come back unclassified with confidence 0;
// they are never an error.
//
// # Algorithm
//
//  1. Measure: area, perimeter, convex hull, minimum enclosing circle,
//     minimum-area rectangle, polygon approximation (Douglas-Peucker at 2%
//     of the perimeter).
//  2. Ratios: solidity = area / hull area, extent = area / bbox area,
//     circularity = 4π·area / perimeter².
//  3. Rules, first match wins:
//     - ellipse: circularity < 0.8, eccentricity in [0.4, 0.9],
//     solidity > 0.7, and a moment ellipse fit that is accepted (more than
//     four vertices, fitted area within 15% of the contour area)
//     - triangle: 3 vertices, solidity > 0.7
//     - square / parallelogram / rectangle: 4 vertices
//     - circle: area / enclosing-circle area in [0.7, 1.3], circularity > 0.8,
//     solidity > 0.8
//     - polygon: 5 to 10 vertices, solidity > 0.8
//     - irregular: solidity > 0.9, extent > 0.8
//
// # Eccentricity
//
// The normalized central-moment eccentricity ((μ20−μ02)² + 4μ11²) / (μ20+μ02)²
// is 0 for a circle or a square and approaches 1 for a line.
func Classify(c contour.RawContour) Classification {
	if len(c.Points) < 3 {
		return Classification{Kind: ShapeUnclassified}
	}
	m := contour.Measure(c)
	if m.Degenerate() {
		return Classification{Kind: ShapeUnclassified, Measurements: m}
	}

	cl := Classification{
		Kind:         ShapeUnclassified,
		Solidity:     ratio(m.Area, m.HullArea),
		Extent:       ratio(m.Area, m.BBox.Size().X*m.BBox.Size().Y),
		Circularity:  4 * math.Pi * m.Area / (m.Perimeter * m.Perimeter),
		Eccentricity: m.Moments.Eccentricity(),
		VertexCount:  len(m.Approximation),
		Measurements: m,
	}

	if cl.Circularity < ellipseMaxCircularity &&
		cl.Eccentricity >= ellipseMinEcc && cl.Eccentricity <= ellipseMaxEcc &&
		cl.Solidity > ellipseMinSolidity {
		if fit, score, ok := fitEllipse(m, cl.VertexCount); ok {
			cl.Kind = ShapeEllipse
			cl.Ellipse = &fit
			cl.Confidence = clamp01(cl.Solidity * score)
			return cl
		}
	}

	switch {
	case cl.VertexCount == 3 && cl.Solidity > triangleMinSolidity:
		cl.Kind = ShapeTriangle
		cl.Confidence = clamp01(cl.Solidity)
		return cl
	case cl.VertexCount == 4:
		cl.Kind = quadKind(m.Approximation)
		cl.Confidence = clamp01(cl.Solidity * ratio(m.Area, m.MinRect.Area()))
		return cl
	}

	enclosing := ratio(m.Area, math.Pi*m.EnclosingR*m.EnclosingR)
	if enclosing >= circleMinEnclosing && enclosing <= circleMaxEnclosing &&
		cl.Circularity > circleMinCircularity && cl.Solidity > circleMinSolidity {
		cl.Kind = ShapeCircle
		cl.Confidence = clamp01(math.Min(enclosing, 1/enclosing) * math.Min(cl.Circularity, 1) * cl.Solidity)
		return cl
	}

	if cl.VertexCount > 4 && cl.VertexCount <= polygonMaxVertices && cl.Solidity > polygonMinSolidity {
		cl.Kind = ShapePolygon
		cl.Confidence = clamp01(cl.Solidity)
		return cl
	}

	if cl.Solidity > irregularMinSolidity && cl.Extent > irregularMinExtent {
		cl.Kind = ShapeIrregular
		cl.Confidence = clamp01(cl.Solidity * cl.Extent)
		return cl
	}

	return cl
}

// fitEllipse derives the ellipse with the same second moments as the contour
// and accepts it when the approximation is not a quadrilateral and the
// fitted area agrees with the contour area.
//
// For a solid ellipse with semi-axes a and b, μ20/m00 = a²/4 along the major
// axis, so a = 2·sqrt(λ1) and b = 2·sqrt(λ2).
func fitEllipse(m contour.Measurements, vertices int) (EllipseFit, float64, bool) {
	if vertices <= 4 {
		return EllipseFit{}, 0, false
	}
	l1, l2, angle := m.Moments.PrincipalAxes()
	a := 2 * math.Sqrt(l1)
	b := 2 * math.Sqrt(l2)
	if a == 0 || b == 0 {
		return EllipseFit{}, 0, false
	}
	fitted := math.Pi * a * b
	r := fitted / m.Area
	if r < ellipseFitMin || r > ellipseFitMax {
		return EllipseFit{}, 0, false
	}
	if angle < 0 {
		angle += 180
	}
	return EllipseFit{
		Center:    m.Centroid,
		MajorAxis: 2 * a,
		MinorAxis: 2 * b,
		Angle:     angle,
	}, 1 - math.Abs(1-r), true
}

// quadKind distinguishes squares, rectangles and parallelograms from the four
// approximation vertices.
func quadKind(v []r2.Point) ShapeKind {
	right := true
	for i := range v {
		prev := v[(i+3)%4]
		next := v[(i+1)%4]
		a := prev.Sub(v[i])
		b := next.Sub(v[i])
		na, nb := a.Norm(), b.Norm()
		if na == 0 || nb == 0 {
			return ShapeRectangle
		}
		if math.Abs(a.Dot(b)/(na*nb)) > rightAngleCos {
			right = false
			break
		}
	}
	if !right {
		return ShapeParallelogram
	}

	s1 := (v[1].Sub(v[0]).Norm() + v[3].Sub(v[2]).Norm()) / 2
	s2 := (v[2].Sub(v[1]).Norm() + v[0].Sub(v[3]).Norm()) / 2
	if ratio(math.Min(s1, s2), math.Max(s1, s2)) >= squareMinRatio {
		return ShapeSquare
	}
	return ShapeRectangle
}

// ClassifyResult contains the features produced from a batch of contours.
type ClassifyResult struct {
	// Features holds one feature per classified contour, in contour order.
	Features feature.Set `json:"features"`

	// Labels holds the label of every input contour, including unclassified
	// ones, indexed like the input.
	Labels []ShapeKind `json:"labels"`

	// Unclassified is the number of contours dropped.
	Unclassified int `json:"unclassified"`

	// Count is the number of features.
	Count int `json:"count"`
}

// ClassifyAll classifies every contour and converts the classified ones into
// features. Contour i becomes a feature with Source i.
func ClassifyAll(contours []contour.RawContour) *ClassifyResult {
	res := &ClassifyResult{
		Features: make(feature.Set, 0, len(contours)),
		Labels:   make([]ShapeKind, len(contours)),
	}
	for i, c := range contours {
		cl := Classify(c)
		res.Labels[i] = cl.Kind
		f, ok := ToFeature(cl, i)
		if !ok {
			res.Unclassified++
			continue
		}
		res.Features = append(res.Features, f)
	}
	res.Count = len(res.Features)
	return res
}

// ToFeature converts a classification into a feature. ok is false for
// unclassified contours.
func ToFeature(cl Classification, source int) (*feature.Feature, bool) {
	m := cl.Measurements
	var shape feature.Shape
	switch cl.Kind {
	case ShapeEllipse:
		shape = feature.Ellipse{
			MajorAxis: cl.Ellipse.MajorAxis,
			MinorAxis: cl.Ellipse.MinorAxis,
			Angle:     cl.Ellipse.Angle,
		}
	case ShapeSquare, ShapeRectangle, ShapeParallelogram:
		shape = feature.Rectangle{
			Length: m.MinRect.Length,
			Width:  m.MinRect.Width,
			Angle:  m.MinRect.Angle,
			Class:  string(cl.Kind),
		}
	case ShapeCircle:
		shape = feature.Circle{
			Radius:      math.Sqrt(m.Area / math.Pi),
			Circularity: cl.Circularity,
		}
	case ShapeTriangle, ShapePolygon, ShapeIrregular:
		shape = feature.Polygon{VertexCount: cl.VertexCount, Class: string(cl.Kind)}
	default:
		return nil, false
	}

	center := m.Centroid
	return &feature.Feature{
		ID:         feature.NewID(source, shape.Kind(), center),
		Shape:      shape,
		Center:     center,
		BBox:       m.BBox,
		Confidence: cl.Confidence,
		Source:     source,
		Metrics: &feature.Metrics{
			Solidity:    cl.Solidity,
			Extent:      cl.Extent,
			Circularity: cl.Circularity,
			Area:        m.Area,
			Perimeter:   m.Perimeter,
			RectLength:  m.MinRect.Length,
			RectWidth:   m.MinRect.Width,
			RectAngle:   m.MinRect.Angle,
		},
	}, true
}

// ratio returns a/b, or 0 when b is not positive.
func ratio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
