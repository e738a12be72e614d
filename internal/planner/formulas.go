package planner

import "math"

// Formula constants.
const (
	// TapSafetyMargin is added below the tap pilot so the tap never bottoms
	// on undrilled material.
	TapSafetyMargin = 1.5

	// PeckRatio is the depth-to-diameter ratio above which drilling pecks.
	PeckRatio = 3.0

	allowanceBase    = 0.20
	allowanceMin     = 0.15
	allowanceMax     = 0.25
	hardFactor       = 1.1
	smallStock       = 100.0
	largeStock       = 300.0
	maxStepover      = 10.0
	minStepDown      = 1.0
	stepDownFraction = 0.1
)

// SpindleSpeed returns the spindle speed in rpm for cutting speed vc (m/min)
// and tool diameter d (mm), n = 1000·vc / (π·d), rounded to a whole rpm and
// capped at limit.
func SpindleSpeed(vc, d, limit float64) float64 {
	if d <= 0 {
		return 0
	}
	n := math.Round(1000 * vc / (math.Pi * d))
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

// TapDrillDepth returns the pilot depth for a thread: the thread depth plus a
// third of the drill diameter (the drill point) plus TapSafetyMargin.
func TapDrillDepth(threadDepth, drillDiameter float64) float64 {
	return threadDepth + drillDiameter/3 + TapSafetyMargin
}

// TapFeed returns the synchronized tapping feed, spindle × pitch.
func TapFeed(spindle, pitch float64) float64 {
	return spindle * pitch
}

// NeedsPeck reports whether a hole of the given depth and diameter must be
// peck drilled.
func NeedsPeck(depth, diameter float64) bool {
	return depth > PeckRatio*diameter
}

// SizeFactor returns the roughing allowance scale for stock of the given
// largest dimension: 0.9 below 100 mm, 1.1 above 300 mm, 1.0 in between.
func SizeFactor(size float64) float64 {
	switch {
	case size < smallStock:
		return 0.9
	case size > largeStock:
		return 1.1
	default:
		return 1.0
	}
}

// RoughingAllowance returns the finishing stock in mm.
//
// # Algorithm
//
// The 0.20 mm base is scaled by SizeFactor(size), by a further 1.1 for hard
// materials, and clamped to [0.15, 0.25].
func RoughingAllowance(size float64, hard bool) float64 {
	a := allowanceBase * SizeFactor(size)
	if hard {
		a *= hardFactor
	}
	return math.Min(math.Max(a, allowanceMin), allowanceMax)
}

// RoughingPasses returns the number of Z passes needed to remove remaining
// mm with a tool of diameter toolDiameter, at most max(10% of the tool
// diameter, 1 mm) per pass. At least one pass is always returned.
func RoughingPasses(remaining, toolDiameter float64) int {
	step := math.Max(toolDiameter*stepDownFraction, minStepDown)
	n := int(math.Ceil(remaining / step))
	if n < 1 {
		n = 1
	}
	return n
}

// Stepover returns the radial step, toolDiameter × ratio capped at 10 mm.
func Stepover(toolDiameter, ratio float64) float64 {
	return math.Min(toolDiameter*ratio, maxStepover)
}
