package contour

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// toRing converts points into a closed orb.Ring.
func toRing(points []r2.Point) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if len(ring) > 0 && !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring
}

// RingArea returns the unsigned area enclosed by points.
func RingArea(points []r2.Point) float64 {
	if len(points) < 3 {
		return 0
	}
	return math.Abs(planar.Area(toRing(points)))
}

// ConvexHull returns the convex hull of points in counter-clockwise order
// (Andrew's monotone chain). Collinear boundary points are dropped.
func ConvexHull(points []r2.Point) []r2.Point {
	pts := make([]r2.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X == pts[j].X {
			return pts[i].Y < pts[j].Y
		}
		return pts[i].X < pts[j].X
	})
	if len(pts) < 3 {
		return pts
	}

	cross := func(o, a, b r2.Point) float64 {
		return a.Sub(o).Cross(b.Sub(o))
	}

	hull := make([]r2.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// MinEnclosingCircle returns the smallest circle containing every point,
// using the incremental Welzl construction.
func MinEnclosingCircle(points []r2.Point) (r2.Point, float64) {
	if len(points) == 0 {
		return r2.Point{}, 0
	}
	const eps = 1e-9
	inside := func(c r2.Point, r float64, p r2.Point) bool {
		return p.Sub(c).Norm() <= r+eps
	}

	c := points[0]
	r := 0.0
	for i := 1; i < len(points); i++ {
		if inside(c, r, points[i]) {
			continue
		}
		c, r = points[i], 0
		for j := 0; j < i; j++ {
			if inside(c, r, points[j]) {
				continue
			}
			c = points[i].Add(points[j]).Mul(0.5)
			r = points[i].Sub(c).Norm()
			for k := 0; k < j; k++ {
				if inside(c, r, points[k]) {
					continue
				}
				c, r = circumcircle(points[i], points[j], points[k])
			}
		}
	}
	return c, r
}

// circumcircle returns the circle through a, b and c. Collinear triples fall
// back to the circle over the longest pair.
func circumcircle(a, b, c r2.Point) (r2.Point, float64) {
	d := 2 * (a.X*(b.Y-c.Y) + b.X*(c.Y-a.Y) + c.X*(a.Y-b.Y))
	if math.Abs(d) < 1e-12 {
		best, bestR := a.Add(b).Mul(0.5), a.Sub(b).Norm()/2
		if r := a.Sub(c).Norm() / 2; r > bestR {
			best, bestR = a.Add(c).Mul(0.5), r
		}
		if r := b.Sub(c).Norm() / 2; r > bestR {
			best, bestR = b.Add(c).Mul(0.5), r
		}
		return best, bestR
	}
	a2 := a.X*a.X + a.Y*a.Y
	b2 := b.X*b.X + b.Y*b.Y
	c2 := c.X*c.X + c.Y*c.Y
	center := r2.Point{
		X: (a2*(b.Y-c.Y) + b2*(c.Y-a.Y) + c2*(a.Y-b.Y)) / d,
		Y: (a2*(c.X-b.X) + b2*(a.X-c.X) + c2*(b.X-a.X)) / d,
	}
	return center, center.Sub(a).Norm()
}

// OrientedRect is a rectangle of arbitrary rotation.
type OrientedRect struct {
	Center r2.Point `json:"center"`
	Length float64  `json:"length"` // longer side
	Width  float64  `json:"width"`  // shorter side
	Angle  float64  `json:"angle"`  // direction of the long side, degrees in [0, 180)
}

// Area returns Length × Width.
func (r OrientedRect) Area() float64 {
	return r.Length * r.Width
}

// MinAreaRect returns the minimum-area bounding rectangle of a convex hull.
// One side of the optimal rectangle is collinear with a hull edge, so every
// edge direction is tried.
func MinAreaRect(hull []r2.Point) OrientedRect {
	if len(hull) < 3 {
		b := r2.RectFromPoints(hull...)
		s := b.Size()
		return orient(b.Center(), s.X, s.Y, 0)
	}

	best := OrientedRect{Length: math.Inf(1), Width: math.Inf(1)}
	for i := range hull {
		edge := hull[(i+1)%len(hull)].Sub(hull[i])
		if edge.Norm() == 0 {
			continue
		}
		u := edge.Normalize()
		v := u.Ortho()

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			pu, pv := p.Dot(u), p.Dot(v)
			minU, maxU = math.Min(minU, pu), math.Max(maxU, pu)
			minV, maxV = math.Min(minV, pv), math.Max(maxV, pv)
		}
		w, h := maxU-minU, maxV-minV
		if w*h < best.Area() {
			cu, cv := (minU+maxU)/2, (minV+maxV)/2
			center := u.Mul(cu).Add(v.Mul(cv))
			angle := math.Atan2(u.Y, u.X) * 180 / math.Pi
			best = orient(center, w, h, angle)
		}
	}
	return best
}

// orient builds an OrientedRect whose Length is the longer side.
func orient(center r2.Point, w, h, angle float64) OrientedRect {
	if h > w {
		w, h = h, w
		angle += 90
	}
	angle = math.Mod(angle, 180)
	if angle < 0 {
		angle += 180
	}
	return OrientedRect{Center: center, Length: w, Width: h, Angle: angle}
}

// Approximate simplifies the closed contour with Douglas-Peucker at the given
// absolute tolerance and returns the polygon vertices (without the closing
// duplicate). The ring is rotated to start at the point farthest from the
// centroid so the fixed endpoint of the simplification is a true corner.
func Approximate(points []r2.Point, centroid r2.Point, epsilon float64) []r2.Point {
	if len(points) < 3 {
		return append([]r2.Point(nil), points...)
	}

	start := 0
	far := -1.0
	for i, p := range points {
		if d := p.Sub(centroid).Norm(); d > far {
			far, start = d, i
		}
	}

	ls := make(orb.LineString, 0, len(points)+1)
	for i := 0; i < len(points); i++ {
		p := points[(start+i)%len(points)]
		ls = append(ls, orb.Point{p.X, p.Y})
	}
	ls = append(ls, ls[0])

	s := simplify.DouglasPeucker(epsilon).Simplify(ls.Clone())
	simplified, ok := s.(orb.LineString)
	if !ok || len(simplified) < 2 {
		return nil
	}

	out := make([]r2.Point, 0, len(simplified))
	for _, p := range simplified[:len(simplified)-1] {
		out = append(out, r2.Point{X: p[0], Y: p[1]})
	}
	return out
}
