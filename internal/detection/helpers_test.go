package detection

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/ironsheep/nc-tools-mcp/internal/contour"
	"github.com/ironsheep/nc-tools-mcp/internal/feature"
)

// polyline samples the closed polygon through corners with roughly one
// point per unit of length.
func polyline(corners ...r2.Point) contour.RawContour {
	var pts []r2.Point
	for i, a := range corners {
		b := corners[(i+1)%len(corners)]
		n := int(math.Ceil(b.Sub(a).Norm()))
		if n < 1 {
			n = 1
		}
		for k := 0; k < n; k++ {
			t := float64(k) / float64(n)
			pts = append(pts, a.Add(b.Sub(a).Mul(t)))
		}
	}
	return contour.RawContour{Points: pts}
}

// rectContour samples an axis-aligned rectangle outline.
func rectContour(x, y, w, h float64) contour.RawContour {
	return polyline(
		r2.Point{X: x, Y: y},
		r2.Point{X: x + w, Y: y},
		r2.Point{X: x + w, Y: y + h},
		r2.Point{X: x, Y: y + h},
	)
}

// ellipseContour samples an ellipse with semi-axes a and b rotated by angle
// degrees.
func ellipseContour(cx, cy, a, b, angle float64, n int) contour.RawContour {
	rot := angle * math.Pi / 180
	cos, sin := math.Cos(rot), math.Sin(rot)
	pts := make([]r2.Point, n)
	for i := 0; i < n; i++ {
		t := 2 * math.Pi * float64(i) / float64(n)
		x, y := a*math.Cos(t), b*math.Sin(t)
		pts[i] = r2.Point{X: cx + x*cos - y*sin, Y: cy + x*sin + y*cos}
	}
	return contour.RawContour{Points: pts}
}

// circleContour samples a circle.
func circleContour(cx, cy, r float64, n int) contour.RawContour {
	return ellipseContour(cx, cy, r, r, 0, n)
}

// roundedRectContour samples a rectangle with quarter-circle corners.
func roundedRectContour(x, y, w, h, r float64) contour.RawContour {
	const arcSteps = 24
	var pts []r2.Point
	corner := func(cx, cy, start float64) {
		for k := 0; k <= arcSteps; k++ {
			t := (start + 90*float64(k)/arcSteps) * math.Pi / 180
			pts = append(pts, r2.Point{X: cx + r*math.Cos(t), Y: cy + r*math.Sin(t)})
		}
	}
	line := func(a, b r2.Point) {
		n := int(b.Sub(a).Norm())
		for k := 1; k < n; k++ {
			pts = append(pts, a.Add(b.Sub(a).Mul(float64(k)/float64(n))))
		}
	}
	// Clockwise on screen (Y down): top edge left to right first.
	line(r2.Point{X: x + r, Y: y}, r2.Point{X: x + w - r, Y: y})
	corner(x+w-r, y+r, 270)
	line(r2.Point{X: x + w, Y: y + r}, r2.Point{X: x + w, Y: y + h - r})
	corner(x+w-r, y+h-r, 0)
	line(r2.Point{X: x + w - r, Y: y + h}, r2.Point{X: x + r, Y: y + h})
	corner(x+r, y+h-r, 90)
	line(r2.Point{X: x, Y: y + h - r}, r2.Point{X: x, Y: y + r})
	corner(x+r, y+r, 180)
	return contour.RawContour{Points: pts}
}

// circleFeature builds a classified circle feature.
func circleFeature(id string, x, y, r, conf float64) *feature.Feature {
	return &feature.Feature{
		ID:         id,
		Shape:      feature.Circle{Radius: r, Circularity: 1},
		Center:     r2.Point{X: x, Y: y},
		BBox:       feature.Rect(x-r, y-r, x+r, y+r),
		Confidence: conf,
		Source:     feature.NoSource,
	}
}

// rectFeature builds a classified rectangle feature.
func rectFeature(id string, x, y, w, h, conf float64) *feature.Feature {
	return &feature.Feature{
		ID:         id,
		Shape:      feature.Rectangle{Length: math.Max(w, h), Width: math.Min(w, h)},
		Center:     r2.Point{X: x, Y: y},
		BBox:       feature.Rect(x-w/2, y-h/2, x+w/2, y+h/2),
		Confidence: conf,
		Source:     feature.NoSource,
	}
}
