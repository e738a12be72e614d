package detection

import (
	"errors"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/nc-tools-mcp/internal/config"
	"github.com/ironsheep/nc-tools-mcp/internal/feature"
	"github.com/ironsheep/nc-tools-mcp/internal/logging"
	"github.com/ironsheep/nc-tools-mcp/internal/machining"
)

// Composer detects composite features (counterbores, pitch-circle patterns
// and pockets) in a classified feature set.
type Composer struct {
	tol config.Tolerances
	log logrus.FieldLogger
}

// NewComposer returns a Composer using the given tolerances. A nil logger
// discards output.
func NewComposer(tol config.Tolerances, log logrus.FieldLogger) *Composer {
	return &Composer{tol: tol, log: logging.OrDiscard(log).WithField("component", "composite")}
}

// PCDSlot is one position of a pitch-circle pattern.
type PCDSlot struct {
	// Index is the position in the declared angle list, or -1 for holes
	// selected by radius only.
	Index int `json:"index"`

	// Angle is the declared (or, without an angle list, measured) angle in
	// degrees.
	Angle float64 `json:"angle"`

	// Expected is the predicted position. Zero without an angle list.
	Expected feature.Point `json:"expected"`

	// FeatureID is the matched hole, empty when the slot stayed unmatched.
	FeatureID string `json:"feature_id,omitempty"`

	// Distance from Expected to the matched hole center.
	Distance float64 `json:"distance,omitempty"`

	// Fallback is true when the hole was found with the absolute search
	// radius rather than the relative slot tolerance.
	Fallback bool `json:"fallback,omitempty"`
}

// PCDMatch describes a grouped pitch-circle pattern.
type PCDMatch struct {
	BaselineID string        `json:"baseline_id"`
	Center     feature.Point `json:"center"`
	Radius     float64       `json:"radius"`
	Slots      []PCDSlot     `json:"slots"`
	Matched    int           `json:"matched"`
	Expected   int           `json:"expected"`
}

// CompositeResult contains the feature set after composite detection.
type CompositeResult struct {
	// Features is the rewritten set. Paired circles are replaced by their
	// counterbore; pattern holes are tagged; pockets replace rectangles.
	Features feature.Set `json:"features"`

	// Counterbores is the number of concentric pairs merged.
	Counterbores int `json:"counterbores"`

	// PCD is set when the directive declared a pitch circle.
	PCD *PCDMatch `json:"pcd,omitempty"`

	// Pockets is the number of rectangles reclassified as pockets.
	Pockets int `json:"pockets"`

	// Diagnostics are the non-fatal findings (under-matched patterns,
	// inconsistent declared diameters).
	Diagnostics machining.Diagnostics `json:"diagnostics,omitempty"`

	// Count is the number of features.
	Count int `json:"count"`
}

// Detect runs counterbore pairing, pitch-circle grouping and pocket
// recognition, in that order. The directive may be nil. The input set is not
// modified.
func (c *Composer) Detect(set feature.Set, d *machining.Directive) *CompositeResult {
	res := &CompositeResult{}
	work := set.Clone()

	work, res.Counterbores = c.PairCounterbores(work, d)
	work, res.PCD = c.GroupPCD(work, d, &res.Diagnostics)
	work, res.Pockets = c.RecognizePockets(work, d)

	res.Features = work
	res.Count = len(work)
	c.log.WithFields(logrus.Fields{
		"counterbores": res.Counterbores,
		"pockets":      res.Pockets,
		"features":     res.Count,
		"diagnostics":  len(res.Diagnostics),
	}).Debug("composite detection finished")
	return res
}

// Resolve removes duplicate detections from set and runs Detect on the
// survivors. The input set is not modified.
//
// Concentric counterbore circles overlap enough to pass as duplicates, so
// duplicates are removed in two steps. Circles of nearly the same radius
// are collapsed first, which leaves one copy of a doubly traced counterbore
// circle. Counterbores are then paired, and the remaining duplicates are
// resolved before Detect runs.
func (c *Composer) Resolve(set feature.Set, d *machining.Directive) *CompositeResult {
	twins := resolveWith(set.Clone(), c.circleTwins)
	paired, n := c.PairCounterbores(twins, d)
	res := c.Detect(ResolveDuplicates(paired), d)
	res.Counterbores += n
	return res
}

// circleTwins reports whether a and b are duplicate circles too close in
// radius to form a counterbore pair.
func (c *Composer) circleTwins(a, b *feature.Feature) bool {
	ca, ok := a.Shape.(feature.Circle)
	if !ok {
		return false
	}
	cb, ok := b.Shape.(feature.Circle)
	if !ok {
		return false
	}
	lo, hi := math.Min(ca.Radius, cb.Radius), math.Max(ca.Radius, cb.Radius)
	if lo <= 0 || hi/lo >= c.tol.CounterboreRatioMin {
		return false
	}
	return IsDuplicate(a, b)
}

// PairCounterbores merges concentric circle pairs into counterbores.
//
// Two circles pair when their centers are within CounterboreCenter units and
// the larger radius is 1.2 to 3.0 times the smaller. Candidate pairs are taken
// closest first and every circle joins at most one pair. The counterbore
// takes the place of the earlier circle in the set, keeps the lower of the two
// confidences and uses the outer circle's center and bounding box. Its depth
// is the directive depth when the directive is a counterbore request.
func (c *Composer) PairCounterbores(set feature.Set, d *machining.Directive) (feature.Set, int) {
	type pair struct {
		i, j int
		dist float64
	}
	var pairs []pair
	for i := 0; i < len(set); i++ {
		ci, ok := set[i].Shape.(feature.Circle)
		if !ok {
			continue
		}
		for j := i + 1; j < len(set); j++ {
			cj, ok := set[j].Shape.(feature.Circle)
			if !ok {
				continue
			}
			dist := set[i].Center.Sub(set[j].Center).Norm()
			if dist > c.tol.CounterboreCenter {
				continue
			}
			lo, hi := math.Min(ci.Radius, cj.Radius), math.Max(ci.Radius, cj.Radius)
			if lo <= 0 {
				continue
			}
			if r := hi / lo; r < c.tol.CounterboreRatioMin || r > c.tol.CounterboreRatioMax {
				continue
			}
			pairs = append(pairs, pair{i: i, j: j, dist: dist})
		}
	}
	if len(pairs) == 0 {
		return set, 0
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].dist < pairs[b].dist })

	var depth *float64
	if d != nil && d.ProcessingType == machining.Counterbore && d.Depth != nil {
		v := *d.Depth
		depth = &v
	}

	used := make(map[int]bool)
	replaced := make(map[int]*feature.Feature)
	dropped := make(map[int]bool)
	for _, p := range pairs {
		if used[p.i] || used[p.j] {
			continue
		}
		a, b := set[p.i], set[p.j]
		outer, inner := a, b
		if b.Shape.(feature.Circle).Radius > a.Shape.(feature.Circle).Radius {
			outer, inner = b, a
		}
		cb, err := feature.NewCounterbore(
			outer.Shape.(feature.Circle).Diameter(),
			inner.Shape.(feature.Circle).Diameter(),
			depth,
		)
		if err != nil {
			// Ratio bounds above make this unreachable; keep the circles.
			c.log.WithError(err).Warn("skipping concentric pair")
			continue
		}
		used[p.i], used[p.j] = true, true

		merged := &feature.Feature{
			ID:         feature.CompositeID(feature.KindCounterbore, a.ID, b.ID),
			Shape:      cb,
			Center:     outer.Center,
			Original:   outer.Original,
			BBox:       outer.BBox,
			Confidence: math.Min(a.Confidence, b.Confidence),
			Source:     outer.Source,
			Metrics:    outer.Metrics,
			Hole:       outer.Hole,
		}
		for _, fl := range append(append([]string(nil), a.Flags...), b.Flags...) {
			merged.AddFlag(fl)
		}
		replaced[p.i] = merged
		dropped[p.j] = true
		c.log.WithFields(logrus.Fields{
			"feature": merged.ID,
			"outer":   cb.OuterDiameter,
			"inner":   cb.InnerDiameter,
			"offset":  p.dist,
		}).Debug("paired concentric circles")
	}

	out := make(feature.Set, 0, len(set)-len(dropped))
	for i, f := range set {
		switch {
		case dropped[i]:
		case replaced[i] != nil:
			out = append(out, replaced[i])
		default:
			out = append(out, f)
		}
	}
	return out, len(replaced)
}

// GroupPCD matches holes to the pitch circle declared in the directive.
//
// Parameters:
//   - set: Features after counterbore pairing.
//   - d: Directive; grouping is skipped when it declares no pcd_diameter.
//   - diags: Receives UnderMatchedPattern and GeometryInconsistency findings.
//
// Returns the rewritten set and the match description (nil when skipped).
//
// # Baseline
//
// The baseline is the largest circle whose diameter matches the declared
// baseline diameter within max(2%, 0.5 units); without a match (or a
// declaration) it is the largest circle overall. It is flagged as baseline
// and never matched as a pattern hole.
//
// # Matching
//
// With an angle list each angle θ predicts (cx + R·cos θ, cy + R·sin θ) where
// R is half the pitch-circle diameter. A first pass gives every slot the
// closest unclaimed hole within PCDSlot·R. A second pass gives each slot
// still empty the nearest unclaimed hole within PCDSearchRadius. Slots left
// over stay unmatched. Without an angle list every hole whose distance from
// the baseline is within PCDRing·R of R is selected.
//
// Matched holes are tagged with the pattern slot and the declared diameters
// and depth. When the directive declares both counterbore diameters, matched
// holes become counterbores; an inverted declaration drops the hole with a
// GeometryInconsistency diagnostic.
func (c *Composer) GroupPCD(set feature.Set, d *machining.Directive, diags *machining.Diagnostics) (feature.Set, *PCDMatch) {
	if d == nil {
		return set, nil
	}
	if diags == nil {
		diags = new(machining.Diagnostics)
	}
	R, ok := d.PCDRadius()
	if !ok {
		return set, nil
	}
	expected, _ := d.ExpectedHoles()

	baseline := c.findBaseline(set, d)
	if baseline < 0 {
		diags.Add(machining.UnderMatchedPattern, "", "no baseline circle for pitch circle %g", 2*R)
		(*diags)[len(*diags)-1].Expected = expected
		return set, &PCDMatch{Radius: R, Expected: expected}
	}
	base := set[baseline].Clone()
	base.AddFlag(feature.FlagBaseline)

	match := &PCDMatch{
		BaselineID: base.ID,
		Center:     feature.ToPoint(base.Center),
		Radius:     R,
		Expected:   expected,
	}

	var candidates []int
	for i, f := range set {
		if i == baseline {
			continue
		}
		if _, round := feature.HoleDiameter(f.Shape); round {
			candidates = append(candidates, i)
		}
	}
	claimed := make(map[int]bool)
	matchedIdx := make(map[int]int) // set index -> slot index in match.Slots

	if len(d.PCDAngles) > 0 {
		match.Slots = make([]PCDSlot, len(d.PCDAngles))
		found := make([]int, len(d.PCDAngles))
		for k, theta := range d.PCDAngles {
			rad := theta * math.Pi / 180
			exp := base.Center.Add(r2.Point{X: R * math.Cos(rad), Y: R * math.Sin(rad)})
			match.Slots[k] = PCDSlot{Index: k, Angle: theta, Expected: feature.ToPoint(exp)}
			found[k] = -1
		}
		// Pass 1: relative slot tolerance.
		for k := range match.Slots {
			idx, dist := nearest(set, candidates, claimed, match.Slots[k].Expected.R2(), c.tol.PCDSlot*R)
			if idx >= 0 {
				claimed[idx] = true
				found[k] = idx
				match.Slots[k].Distance = dist
			}
		}
		// Pass 2: absolute search radius.
		for k := range match.Slots {
			if found[k] >= 0 {
				continue
			}
			idx, dist := nearest(set, candidates, claimed, match.Slots[k].Expected.R2(), c.tol.PCDSearchRadius)
			if idx >= 0 {
				claimed[idx] = true
				found[k] = idx
				match.Slots[k].Distance = dist
				match.Slots[k].Fallback = true
			}
		}
		for k, idx := range found {
			if idx >= 0 {
				matchedIdx[idx] = k
			}
		}
	} else {
		type ring struct {
			idx   int
			angle float64
		}
		var hits []ring
		for _, i := range candidates {
			off := set[i].Center.Sub(base.Center)
			if math.Abs(off.Norm()-R) <= c.tol.PCDRing*R {
				angle := math.Atan2(off.Y, off.X) * 180 / math.Pi
				hits = append(hits, ring{idx: i, angle: angle})
			}
		}
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].angle < hits[b].angle })
		for k, h := range hits {
			match.Slots = append(match.Slots, PCDSlot{Index: -1, Angle: h.angle})
			matchedIdx[h.idx] = k
		}
	}

	out := make(feature.Set, 0, len(set))
	for i, f := range set {
		if i == baseline {
			out = append(out, base)
			continue
		}
		k, ok := matchedIdx[i]
		if !ok {
			out = append(out, f)
			continue
		}
		slot := &match.Slots[k]
		tagged, err := c.tagHole(f, slot, d)
		if err != nil {
			diags.Add(machining.GeometryInconsistency, f.ID, "pattern hole dropped: %v", err)
			c.log.WithError(err).WithField("feature", f.ID).Warn("dropping pattern hole")
			continue
		}
		slot.FeatureID = tagged.ID
		match.Matched++
		out = append(out, tagged)
	}

	if expected > 0 && match.Matched < expected {
		diags.Add(machining.UnderMatchedPattern, base.ID,
			"pitch circle %g matched %d of %d holes", 2*R, match.Matched, expected)
		last := &(*diags)[len(*diags)-1]
		last.Expected, last.Actual = expected, match.Matched
	}
	c.log.WithFields(logrus.Fields{
		"baseline": base.ID,
		"radius":   R,
		"matched":  match.Matched,
		"expected": expected,
	}).Debug("pitch circle grouped")
	return out, match
}

// findBaseline returns the index of the baseline circle, or -1.
func (c *Composer) findBaseline(set feature.Set, d *machining.Directive) int {
	largest, declared := -1, -1
	var largestR, declaredR float64
	for i, f := range set {
		circle, ok := f.Shape.(feature.Circle)
		if !ok {
			continue
		}
		if largest < 0 || circle.Radius > largestR {
			largest, largestR = i, circle.Radius
		}
		if d.BaselineDiameter == nil {
			continue
		}
		want := *d.BaselineDiameter
		tol := math.Max(c.tol.BaselineRelative*want, c.tol.BaselineAbsolute)
		if math.Abs(circle.Diameter()-want) <= tol && (declared < 0 || circle.Radius > declaredR) {
			declared, declaredR = i, circle.Radius
		}
	}
	if declared >= 0 {
		return declared
	}
	return largest
}

// nearest returns the closest unclaimed candidate within limit of p.
func nearest(set feature.Set, candidates []int, claimed map[int]bool, p r2.Point, limit float64) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for _, i := range candidates {
		if claimed[i] {
			continue
		}
		dist := set[i].Center.Sub(p).Norm()
		if dist <= limit && dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, bestDist
}

// tagHole attaches the pattern slot and declared values to a matched hole,
// converting it to a counterbore when both counterbore diameters are
// declared.
func (c *Composer) tagHole(f *feature.Feature, slot *PCDSlot, d *machining.Directive) (*feature.Feature, error) {
	out := f.Clone()
	angle := slot.Angle
	spec := &feature.HoleSpec{Pattern: slot.Index, Angle: &angle, Depth: d.Depth}
	switch {
	case d.InnerDiameter != nil:
		spec.Diameter = d.InnerDiameter
	case d.OuterDiameter != nil:
		spec.Diameter = d.OuterDiameter
	}
	out.Hole = spec
	out.AddFlag(feature.FlagPCD)

	if d.OuterDiameter == nil || d.InnerDiameter == nil {
		return out, nil
	}
	if _, already := out.Shape.(feature.Counterbore); already && d.ProcessingType != machining.Counterbore {
		return out, nil
	}
	var depth *float64
	if d.ProcessingType == machining.Counterbore {
		depth = d.Depth
	}
	cb, err := feature.NewCounterbore(*d.OuterDiameter, *d.InnerDiameter, depth)
	if err != nil {
		return nil, err
	}
	out.Shape = cb
	out.ID = feature.CompositeID(feature.KindCounterbore, f.ID)
	return out, nil
}

// pocketPerimeterTolerance bounds the relative difference between a polygon
// outline's perimeter and the perimeter of the rounded rectangle its area
// implies.
const pocketPerimeterTolerance = 0.02

// RecognizePockets reclassifies rounded rectangles as pockets.
//
// A rectangle qualifies when its solidity exceeds PocketSolidity and the area
// it lacks against its minimum-area rectangle implies a corner radius
// r = sqrt(deficit / (4 − π)) above max(MinCornerRadius, 2% of the short
// side). Four quarter-circle corners of radius r remove exactly (4 − π)·r²
// from the rectangle. The pocket depth is the directive depth for milling and
// pocket requests.
//
// # Large Corner Radii
//
// Polygon approximation keeps extra vertices on wide corner arcs, so a
// rounded rectangle with large corners is classified as a polygon. A polygon
// qualifies under the same solidity and radius rules when r is below half
// the short side of its minimum-area rectangle and its perimeter lies within
// 2% of 2(L + W) − (8 − 2π)·r. Hexagons and octagons fail one of the two
// checks.
func (c *Composer) RecognizePockets(set feature.Set, d *machining.Directive) (feature.Set, int) {
	var depth *float64
	if d != nil && d.Depth != nil && (d.ProcessingType == machining.Pocket || d.ProcessingType == machining.Milling) {
		v := *d.Depth
		depth = &v
	}

	n := 0
	out := make(feature.Set, 0, len(set))
	for _, f := range set {
		pocket, ok := c.pocketShape(f)
		if !ok {
			out = append(out, f)
			continue
		}
		pocket.Depth = depth
		p := f.Clone()
		p.ID = feature.CompositeID(feature.KindPocket, f.ID)
		p.Shape = pocket
		out = append(out, p)
		n++
		c.log.WithFields(logrus.Fields{
			"feature":       p.ID,
			"from":          f.Kind(),
			"corner_radius": pocket.CornerRadius,
		}).Debug("recognized pocket")
	}
	return out, n
}

// pocketShape returns the pocket f describes, if any. Depth is left unset.
func (c *Composer) pocketShape(f *feature.Feature) (feature.Pocket, bool) {
	if f.Metrics == nil || f.Metrics.Solidity <= c.tol.PocketSolidity {
		return feature.Pocket{}, false
	}

	var length, width, angle float64
	switch s := f.Shape.(type) {
	case feature.Rectangle:
		length, width, angle = s.Length, s.Width, s.Angle
	case feature.Polygon:
		m := f.Metrics
		length, width, angle = m.RectLength, m.RectWidth, m.RectAngle
		if width <= 0 || m.Perimeter <= 0 {
			return feature.Pocket{}, false
		}
		deficit := length*width - m.Area
		if deficit <= 0 {
			return feature.Pocket{}, false
		}
		r := math.Sqrt(deficit / (4 - math.Pi))
		if r >= width/2 {
			return feature.Pocket{}, false
		}
		want := 2*(length+width) - (8-2*math.Pi)*r
		if math.Abs(m.Perimeter-want) > pocketPerimeterTolerance*want {
			return feature.Pocket{}, false
		}
	default:
		return feature.Pocket{}, false
	}

	r, err := CornerRadius(length, width, f.Metrics.Area)
	if err != nil || r <= math.Max(c.tol.MinCornerRadius, 0.02*width) {
		return feature.Pocket{}, false
	}
	return feature.Pocket{
		Length:       length,
		Width:        width,
		CornerRadius: r,
		Angle:        angle,
	}, true
}

// errNoDeficit is returned by CornerRadius when the contour fills its
// bounding rectangle.
var errNoDeficit = errors.New("no corner deficit")

// CornerRadius estimates the corner radius of a rounded rectangle from the
// area it lacks against its length × width bounding rectangle. The radius is
// capped at half the short side.
func CornerRadius(length, width, area float64) (float64, error) {
	deficit := length*width - area
	if deficit <= 0 {
		return 0, errNoDeficit
	}
	r := math.Sqrt(deficit / (4 - math.Pi))
	return math.Min(r, width/2), nil
}
