// Package contour holds the raw contour records produced by the vision
// collaborator and the geometric measurements derived from them.
//
// A RawContour is an ordered, implicitly closed polyline in drawing
// coordinates. Coordinates follow the image convention used across the
// repository:
//   - Origin (0, 0) at the top-left corner
//   - X increases rightward
//   - Y increases downward
//
// RawContour values are treated as immutable once received. Measure returns
// a separate Measurements value instead of filling fields in place, so the
// same contour can be classified concurrently from several goroutines.
package contour

import (
	"math"

	"github.com/golang/geo/r2"
)

// Moments are the raw and central polygon moments of a contour.
//
// M00 is the signed-area-corrected area, M10/M01 the first-order moments and
// Mu20/Mu11/Mu02 the second-order central moments.
type Moments struct {
	M00  float64 `json:"m00"`
	M10  float64 `json:"m10"`
	M01  float64 `json:"m01"`
	Mu20 float64 `json:"mu20"`
	Mu11 float64 `json:"mu11"`
	Mu02 float64 `json:"mu02"`
}

// Centroid returns M10/M00, M01/M00. A zero-area contour has no centroid and
// returns the origin.
func (m Moments) Centroid() r2.Point {
	if m.M00 == 0 {
		return r2.Point{}
	}
	return r2.Point{X: m.M10 / m.M00, Y: m.M01 / m.M00}
}

// RawContour is one closed contour reported by the vision collaborator.
type RawContour struct {
	// Points is the ordered boundary. The closing segment from the last point
	// back to the first is implicit.
	Points []r2.Point `json:"points"`

	// Area is the precomputed enclosed area. Zero means "not supplied".
	Area float64 `json:"area,omitempty"`

	// Perimeter is the precomputed closed boundary length. Zero means "not supplied".
	Perimeter float64 `json:"perimeter,omitempty"`

	// BBox is the precomputed axis-aligned bounding box. Nil means "not supplied".
	BBox *r2.Rect `json:"bbox,omitempty"`

	// Moments are the precomputed polygon moments. Nil means "not supplied".
	Moments *Moments `json:"moments,omitempty"`
}

// Measurements are the derived quantities the shape classifier works from.
type Measurements struct {
	Area          float64
	Perimeter     float64
	BBox          r2.Rect
	Moments       Moments
	Centroid      r2.Point
	Hull          []r2.Point
	HullArea      float64
	EnclosingC    r2.Point
	EnclosingR    float64
	MinRect       OrientedRect
	Approximation []r2.Point
}

// Degenerate reports whether the contour has no usable extent.
func (m Measurements) Degenerate() bool {
	return m.Area <= 0 || m.Perimeter <= 0
}

// ApproxEpsilon is the Douglas-Peucker tolerance relative to the perimeter.
const ApproxEpsilon = 0.02

// Measure derives every measurement the classifier needs, preferring the
// values supplied by the collaborator when present.
func Measure(c RawContour) Measurements {
	var m Measurements
	if len(c.Points) == 0 {
		return m
	}

	m.Area = c.Area
	if m.Area <= 0 {
		m.Area = RingArea(c.Points)
	}
	m.Perimeter = c.Perimeter
	if m.Perimeter <= 0 {
		m.Perimeter = ClosedLength(c.Points)
	}
	if c.BBox != nil {
		m.BBox = *c.BBox
	} else {
		m.BBox = r2.RectFromPoints(c.Points...)
	}
	if c.Moments != nil {
		m.Moments = *c.Moments
	} else {
		m.Moments = PolygonMoments(c.Points)
	}
	m.Centroid = m.Moments.Centroid()
	if m.Moments.M00 == 0 {
		m.Centroid = m.BBox.Center()
	}

	if len(c.Points) < 3 {
		return m
	}

	m.Hull = ConvexHull(c.Points)
	m.HullArea = RingArea(m.Hull)
	m.EnclosingC, m.EnclosingR = MinEnclosingCircle(c.Points)
	m.MinRect = MinAreaRect(m.Hull)
	m.Approximation = Approximate(c.Points, m.Centroid, ApproxEpsilon*m.Perimeter)
	return m
}

// ClosedLength returns the length of the closed polyline through points.
func ClosedLength(points []r2.Point) float64 {
	if len(points) < 2 {
		return 0
	}
	var length float64
	for i := range points {
		next := points[(i+1)%len(points)]
		length += next.Sub(points[i]).Norm()
	}
	return length
}

// PolygonMoments computes area moments of the polygon using Green's theorem.
// The result is orientation independent.
func PolygonMoments(points []r2.Point) Moments {
	n := len(points)
	if n < 3 {
		return Moments{}
	}

	var a, cx, cy, xx, yy, xy float64
	for i := 0; i < n; i++ {
		p := points[i]
		q := points[(i+1)%n]
		cross := p.X*q.Y - q.X*p.Y
		a += cross
		cx += (p.X + q.X) * cross
		cy += (p.Y + q.Y) * cross
		xx += (p.X*p.X + p.X*q.X + q.X*q.X) * cross
		yy += (p.Y*p.Y + p.Y*q.Y + q.Y*q.Y) * cross
		xy += (p.X*q.Y + 2*p.X*p.Y + 2*q.X*q.Y + q.X*p.Y) * cross
	}

	// Clockwise rings produce negative integrals; flip them all together.
	sign := 1.0
	if a < 0 {
		sign = -1.0
	}
	m00 := sign * a / 2
	if m00 == 0 {
		return Moments{}
	}
	m10 := sign * cx / 6
	m01 := sign * cy / 6
	m20 := sign * xx / 12
	m02 := sign * yy / 12
	m11 := sign * xy / 24

	ux := m10 / m00
	uy := m01 / m00
	return Moments{
		M00:  m00,
		M10:  m10,
		M01:  m01,
		Mu20: m20 - ux*m10,
		Mu02: m02 - uy*m01,
		Mu11: m11 - ux*m01,
	}
}

// Eccentricity returns the normalized central-moment eccentricity
// ((mu20-mu02)^2 + 4 mu11^2) / (mu20+mu02)^2, 0 for a circle and
// approaching 1 for a line segment.
func (m Moments) Eccentricity() float64 {
	den := m.Mu20 + m.Mu02
	if den == 0 {
		return 0
	}
	d := m.Mu20 - m.Mu02
	return (d*d + 4*m.Mu11*m.Mu11) / (den * den)
}

// PrincipalAxes returns the eigenvalues (largest first) of the normalized
// covariance matrix and the orientation of the major axis in degrees.
func (m Moments) PrincipalAxes() (l1, l2, angleDeg float64) {
	if m.M00 == 0 {
		return 0, 0, 0
	}
	a := m.Mu20 / m.M00
	b := m.Mu11 / m.M00
	c := m.Mu02 / m.M00
	mid := (a + c) / 2
	spread := math.Sqrt(((a-c)/2)*((a-c)/2) + b*b)
	l1 = mid + spread
	l2 = mid - spread
	if l2 < 0 {
		l2 = 0
	}
	angleDeg = 0.5 * math.Atan2(2*b, a-c) * 180 / math.Pi
	return l1, l2, angleDeg
}
