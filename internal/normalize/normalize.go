// Package normalize moves a feature set from drawing coordinates into the
// machining frame by a pure translation.
//
// A reference point is chosen by strategy (an extreme feature, the centroid
// of all centers, or an explicit origin) and every feature is translated by
// its negation. The pre-translation center is kept on each feature so the
// transformation can be audited and undone exactly.
package normalize

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/nc-tools-mcp/internal/feature"
	"github.com/ironsheep/nc-tools-mcp/internal/logging"
)

// Strategy selects how the reference point is chosen.
type Strategy string

// Reference strategies. Names match the configuration values.
const (
	HighestY   Strategy = "HighestY"   // feature with the smallest Y (top of the page)
	LowestY    Strategy = "LowestY"    // feature with the largest Y
	LeftmostX  Strategy = "LeftmostX"  // feature with the smallest X
	RightmostX Strategy = "RightmostX" // feature with the largest X
	Centroid   Strategy = "Centroid"   // mean of all centers
	Custom     Strategy = "Custom"     // caller-supplied origin
)

var (
	// ErrMissingOrigin is returned for the Custom strategy without an origin.
	ErrMissingOrigin = errors.New("custom strategy requires an origin")

	// ErrUnknownStrategy is returned for a strategy name that is not defined.
	ErrUnknownStrategy = errors.New("unknown reference strategy")
)

// ParseStrategy returns the strategy with the given name.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(name); s {
	case HighestY, LowestY, LeftmostX, RightmostX, Centroid, Custom:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// ReferencePoint is the point subtracted from every center.
type ReferencePoint struct {
	Point    feature.Point `json:"point"`
	Strategy Strategy      `json:"strategy"`

	// FeatureID names the feature the point was taken from for the extreme
	// strategies. Empty for Centroid and Custom.
	FeatureID string `json:"feature_id,omitempty"`
}

// Normalizer translates feature sets into the machining frame.
type Normalizer struct {
	log logrus.FieldLogger
}

// New returns a Normalizer. A nil logger discards output.
func New(log logrus.FieldLogger) *Normalizer {
	return &Normalizer{log: logging.OrDiscard(log).WithField("component", "normalize")}
}

// Reference selects the reference point of set.
//
// Parameters:
//   - set: Features in drawing coordinates.
//   - strategy: How to choose the point.
//   - origin: Explicit origin, required for Custom and ignored otherwise.
//
// Returns the reference point. For the extreme strategies ties keep the first
// feature in set order. An empty set yields the zero point; Custom with a
// nil origin returns ErrMissingOrigin.
func Reference(set feature.Set, strategy Strategy, origin *r2.Point) (ReferencePoint, error) {
	ref := ReferencePoint{Strategy: strategy}

	switch strategy {
	case Custom:
		if origin == nil {
			return ref, ErrMissingOrigin
		}
		ref.Point = feature.ToPoint(*origin)
		return ref, nil
	case HighestY, LowestY, LeftmostX, RightmostX, Centroid:
	default:
		return ref, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if len(set) == 0 {
		return ref, nil
	}

	if strategy == Centroid {
		var sum r2.Point
		for _, f := range set {
			sum = sum.Add(f.Center)
		}
		ref.Point = feature.ToPoint(sum.Mul(1 / float64(len(set))))
		return ref, nil
	}

	// better reports whether a should replace the current pick b.
	var better func(a, b r2.Point) bool
	switch strategy {
	case HighestY:
		better = func(a, b r2.Point) bool { return a.Y < b.Y }
	case LowestY:
		better = func(a, b r2.Point) bool { return a.Y > b.Y }
	case LeftmostX:
		better = func(a, b r2.Point) bool { return a.X < b.X }
	case RightmostX:
		better = func(a, b r2.Point) bool { return a.X > b.X }
	}
	pick := set[0]
	for _, f := range set[1:] {
		if better(f.Center, pick.Center) {
			pick = f
		}
	}
	ref.Point = feature.ToPoint(pick.Center)
	ref.FeatureID = pick.ID
	return ref, nil
}

// Apply translates every feature of set by the negated reference point, in
// place, and records each pre-translation center in Feature.Original. A
// feature that already has an Original keeps it, so Restore always returns
// to drawing coordinates.
//
// An empty set is left untouched.
func (n *Normalizer) Apply(set feature.Set, strategy Strategy, origin *r2.Point) (ReferencePoint, error) {
	ref, err := Reference(set, strategy, origin)
	if err != nil {
		return ref, err
	}
	if len(set) == 0 {
		return ref, nil
	}

	shift := ref.Point.R2().Mul(-1)
	for _, f := range set {
		if f.Original == nil {
			o := f.Center
			f.Original = &o
		}
		f.Translate(shift)
	}
	n.log.WithFields(logrus.Fields{
		"strategy": strategy,
		"x":        ref.Point.X,
		"y":        ref.Point.Y,
		"features": len(set),
	}).Debug("normalized feature set")
	return ref, nil
}

// Invert translates every feature of set back by ref, in place. The result
// matches the pre-normalization centers only up to floating-point rounding;
// Restore is the exact inverse of Apply.
func (n *Normalizer) Invert(set feature.Set, ref ReferencePoint) {
	shift := ref.Point.R2()
	for _, f := range set {
		f.Translate(shift)
	}
}

// Restore moves every normalized feature back to its recorded Original
// center and clears Original. Features never normalized are unchanged.
func (n *Normalizer) Restore(set feature.Set) {
	for _, f := range set {
		if f.Original == nil {
			continue
		}
		f.Translate(f.Original.Sub(f.Center))
		f.Center = *f.Original
		f.Original = nil
	}
}
