package ncgen

import (
	"math"

	"github.com/golang/geo/r2"
)

const pathEpsilon = 1e-9

// segment is one move of a closed contour: a line, or a counter-clockwise
// arc of the given radius when Radius > 0.
type segment struct {
	To     r2.Point
	Radius float64
}

// roundedRect returns the counter-clockwise outline of a rounded rectangle
// centered on c, starting and ending at the middle of its local bottom edge.
//
// Parameters:
//   - c: Center in the machine frame.
//   - halfL, halfW: Half length (local X) and half width (local Y).
//   - r: Corner radius, capped at the smaller half size. A circle is a
//     rounded square whose radius equals its half size.
//   - angle: Rotation of the local X axis, in radians counter-clockwise.
//
// Zero-length lines and zero-radius arcs are omitted.
func roundedRect(c r2.Point, halfL, halfW, r, angle float64) (start r2.Point, segs []segment) {
	r = math.Max(0, math.Min(r, math.Min(halfL, halfW)))
	cos, sin := math.Cos(angle), math.Sin(angle)
	place := func(x, y float64) r2.Point {
		return r2.Point{X: c.X + x*cos - y*sin, Y: c.Y + x*sin + y*cos}
	}

	local := []struct {
		x, y float64
		arc  bool
	}{
		{halfL - r, -halfW, false},
		{halfL, -halfW + r, true},
		{halfL, halfW - r, false},
		{halfL - r, halfW, true},
		{-halfL + r, halfW, false},
		{-halfL, halfW - r, true},
		{-halfL, -halfW + r, false},
		{-halfL + r, -halfW, true},
		{0, -halfW, false},
	}

	start = place(0, -halfW)
	prev := start
	for _, p := range local {
		to := place(p.x, p.y)
		if p.arc {
			if r < pathEpsilon {
				continue
			}
			segs = append(segs, segment{To: to, Radius: r})
		} else {
			if to.Sub(prev).Norm() < pathEpsilon {
				continue
			}
			segs = append(segs, segment{To: to})
		}
		prev = to
	}
	return start, segs
}

// clearingInsets returns the tool-center insets, innermost first, that clear
// a cavity of half width halfW from the middle out to inset base with the
// given stepover.
func clearingInsets(halfW, base, stepover float64) []float64 {
	if halfW-base <= pathEpsilon || stepover <= 0 {
		return nil
	}
	n := int(math.Floor((halfW - base) / stepover))
	insets := make([]float64, 0, n+1)
	for k := n; k >= 0; k-- {
		inset := base + float64(k)*stepover
		if halfW-inset > pathEpsilon {
			insets = append(insets, inset)
		}
	}
	return insets
}
