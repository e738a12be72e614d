package detection

import (
	"fmt"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/nc-tools-mcp/internal/config"
	"github.com/ironsheep/nc-tools-mcp/internal/feature"
	"github.com/ironsheep/nc-tools-mcp/internal/machining"
)

func newTestComposer() *Composer {
	return NewComposer(config.Defaults().Tolerances, nil)
}

func TestPairCounterbores(t *testing.T) {
	c := newTestComposer()
	set := feature.Set{
		circleFeature("outer", 100, 100, 11, 0.9),
		rectFeature("rect", 300, 300, 40, 20, 0.8),
		circleFeature("inner", 101, 100.5, 7, 0.7),
	}
	d := &machining.Directive{ProcessingType: machining.Counterbore, Depth: machining.Float(6)}

	got, n := c.PairCounterbores(set, d)
	require.Equal(t, 1, n)
	require.Len(t, got, 2)

	cb, ok := got[0].Shape.(feature.Counterbore)
	require.True(t, ok, "counterbore takes the place of the earlier circle")
	assert.Equal(t, 22.0, cb.OuterDiameter)
	assert.Equal(t, 14.0, cb.InnerDiameter)
	require.NotNil(t, cb.Depth)
	assert.Equal(t, 6.0, *cb.Depth)
	assert.Equal(t, 0.7, got[0].Confidence)
	assert.Equal(t, r2.Point{X: 100, Y: 100}, got[0].Center)
	assert.Equal(t, feature.CompositeID(feature.KindCounterbore, "outer", "inner"), got[0].ID)
	assert.Equal(t, "rect", got[1].ID)
}

func TestPairCounterbores_RatioOutsideBand(t *testing.T) {
	c := newTestComposer()
	tests := []struct {
		name       string
		rOuter, rI float64
	}{
		{"too similar", 10, 9},
		{"too different", 11, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := feature.Set{
				circleFeature("a", 50, 50, tt.rOuter, 0.9),
				circleFeature("b", 50, 50, tt.rI, 0.9),
			}
			got, n := c.PairCounterbores(set, nil)
			assert.Equal(t, 0, n)
			assert.Len(t, got, 2)
		})
	}
}

func TestPairCounterbores_ClosestPairFirst(t *testing.T) {
	c := newTestComposer()
	set := feature.Set{
		circleFeature("A", 0, 0, 10, 0.9),
		circleFeature("B", 2, 0, 6, 0.9),
		circleFeature("C", 0.5, 0, 6, 0.9),
	}
	got, n := c.PairCounterbores(set, nil)
	require.Equal(t, 1, n)
	require.Len(t, got, 2)
	assert.Equal(t, feature.CompositeID(feature.KindCounterbore, "A", "C"), got[0].ID)
	assert.Equal(t, "B", got[1].ID)

	cb := got[0].Shape.(feature.Counterbore)
	assert.Nil(t, cb.Depth, "depth is only taken from counterbore directives")
}

// flangeSet is a 234 diameter flange with three bolt holes that sit about
// 48 units away from the positions their declared angles predict.
func flangeSet() feature.Set {
	return feature.Set{
		circleFeature("base", 500, 500, 117, 0.95),
		circleFeature("h1", 592, 406, 11, 0.9),
		circleFeature("h2", 500, 594, 11, 0.9),
		circleFeature("h3", 408, 406, 11, 0.9),
	}
}

func flangeDirective() *machining.Directive {
	return &machining.Directive{
		ProcessingType: machining.Drilling,
		PCDDiameter:    machining.Float(188),
		PCDAngles:      []float64{-30, 90, 210},
		HoleCount:      machining.Int(3),
	}
}

func TestGroupPCD_SearchRadiusFallback(t *testing.T) {
	c := newTestComposer()
	var diags machining.Diagnostics

	got, match := c.GroupPCD(flangeSet(), flangeDirective(), &diags)
	require.NotNil(t, match)
	assert.Equal(t, 3, match.Matched)
	assert.Equal(t, 3, match.Expected)
	assert.Equal(t, "base", match.BaselineID)
	assert.InDelta(t, 94, match.Radius, 1e-9)
	assert.Empty(t, diags)

	want := map[string]r2.Point{
		"h1": {X: 592, Y: 406},
		"h2": {X: 500, Y: 594},
		"h3": {X: 408, Y: 406},
	}
	wantSlot := []string{"h1", "h2", "h3"}
	for k, slot := range match.Slots {
		assert.Equal(t, wantSlot[k], slot.FeatureID, "slot %d", k)
	}
	assert.True(t, match.Slots[0].Fallback)
	assert.False(t, match.Slots[1].Fallback)
	assert.True(t, match.Slots[2].Fallback)

	for _, f := range got {
		if f.ID == "base" {
			assert.True(t, f.HasFlag(feature.FlagBaseline))
			continue
		}
		p, ok := want[f.ID]
		require.True(t, ok, f.ID)
		assert.InDelta(t, p.X, f.Center.X, 1.0)
		assert.InDelta(t, p.Y, f.Center.Y, 1.0)
		assert.True(t, f.HasFlag(feature.FlagPCD))
		require.NotNil(t, f.Hole)
		require.NotNil(t, f.Hole.Angle)
	}
}

func TestGroupPCD_InputUntouched(t *testing.T) {
	c := newTestComposer()
	set := flangeSet()
	_, _ = c.GroupPCD(set, flangeDirective(), nil)
	for _, f := range set {
		assert.Empty(t, f.Flags, f.ID)
		assert.Nil(t, f.Hole, f.ID)
	}
}

func TestGroupPCD_UnderMatched(t *testing.T) {
	tol := config.Defaults().Tolerances
	tol.PCDSearchRadius = 0
	c := NewComposer(tol, nil)
	var diags machining.Diagnostics

	_, match := c.GroupPCD(flangeSet(), flangeDirective(), &diags)
	require.NotNil(t, match)
	assert.Equal(t, 1, match.Matched)

	under := diags.Filter(machining.UnderMatchedPattern)
	require.Len(t, under, 1)
	assert.Equal(t, 3, under[0].Expected)
	assert.Equal(t, 1, under[0].Actual)
}

func TestGroupPCD_RingWithoutAngles(t *testing.T) {
	c := newTestComposer()
	set := feature.Set{
		circleFeature("base", 0, 0, 117, 0.95),
		circleFeature("east", 94, 0, 8, 0.9),
		circleFeature("nw", -47, 81.406, 8, 0.9),
		circleFeature("sw", -47, -81.406, 8, 0.9),
		circleFeature("inside", 50, 0, 8, 0.9),
	}
	d := &machining.Directive{ProcessingType: machining.Drilling, PCDDiameter: machining.Float(188)}
	var diags machining.Diagnostics

	got, match := c.GroupPCD(set, d, &diags)
	require.NotNil(t, match)
	assert.Equal(t, 3, match.Matched)
	assert.Empty(t, diags)

	var order []string
	for _, s := range match.Slots {
		order = append(order, s.FeatureID)
		assert.Equal(t, -1, s.Index)
	}
	assert.Equal(t, []string{"sw", "east", "nw"}, order, "sorted by measured angle")

	inside, ok := got.Find("inside")
	require.True(t, ok)
	assert.False(t, inside.HasFlag(feature.FlagPCD))
}

func TestGroupPCD_DeclaredBaseline(t *testing.T) {
	c := newTestComposer()
	set := feature.Set{
		circleFeature("plate", 0, 0, 117, 0.95),
		circleFeature("boss", 300, 300, 60, 0.95),
		circleFeature("hole", 300, 360, 5, 0.9),
	}
	d := &machining.Directive{
		ProcessingType:   machining.Drilling,
		PCDDiameter:      machining.Float(120),
		PCDAngles:        []float64{90},
		BaselineDiameter: machining.Float(120),
	}
	_, match := c.GroupPCD(set, d, nil)
	require.NotNil(t, match)
	assert.Equal(t, "boss", match.BaselineID)
	assert.Equal(t, 1, match.Matched)
}

func TestGroupPCD_DeclaredCounterbore(t *testing.T) {
	c := newTestComposer()
	d := &machining.Directive{
		ProcessingType: machining.Counterbore,
		PCDDiameter:    machining.Float(188),
		PCDAngles:      []float64{90},
		OuterDiameter:  machining.Float(18),
		InnerDiameter:  machining.Float(11),
		Depth:          machining.Float(6.5),
	}
	got, match := c.GroupPCD(flangeSet(), d, nil)
	require.Equal(t, 1, match.Matched)

	f, ok := got.Find(match.Slots[0].FeatureID)
	require.True(t, ok)
	cb, ok := f.Shape.(feature.Counterbore)
	require.True(t, ok)
	assert.Equal(t, 18.0, cb.OuterDiameter)
	assert.Equal(t, 11.0, cb.InnerDiameter)
	require.NotNil(t, cb.Depth)
	assert.Equal(t, 6.5, *cb.Depth)
	assert.Equal(t, 11.0, *f.Hole.Diameter)
}

func TestGroupPCD_InvertedCounterboreDropsHole(t *testing.T) {
	c := newTestComposer()
	d := &machining.Directive{
		ProcessingType: machining.Counterbore,
		PCDDiameter:    machining.Float(188),
		PCDAngles:      []float64{90},
		OuterDiameter:  machining.Float(10),
		InnerDiameter:  machining.Float(14),
		Depth:          machining.Float(5),
	}
	var diags machining.Diagnostics
	got, match := c.GroupPCD(flangeSet(), d, &diags)

	assert.Equal(t, 0, match.Matched)
	assert.True(t, diags.Has(machining.GeometryInconsistency))
	assert.True(t, diags.Has(machining.UnderMatchedPattern))
	_, found := got.Find("h2")
	assert.False(t, found, "inconsistent hole is dropped")
	assert.Len(t, got, 3)
}

func TestGroupPCD_Skipped(t *testing.T) {
	c := newTestComposer()
	set := flangeSet()

	got, match := c.GroupPCD(set, nil, nil)
	assert.Nil(t, match)
	assert.Len(t, got, 4)

	got, match = c.GroupPCD(set, &machining.Directive{ProcessingType: machining.Drilling}, nil)
	assert.Nil(t, match)
	assert.Len(t, got, 4)
}

func TestRecognizePockets(t *testing.T) {
	c := newTestComposer()

	rounded, ok := ToFeature(Classify(roundedRectContour(0, 0, 100, 60, 8)), 0)
	require.True(t, ok)
	require.Equal(t, feature.KindRectangle, rounded.Kind())

	sharp, ok := ToFeature(Classify(rectContour(200, 0, 100, 60)), 1)
	require.True(t, ok)

	d := &machining.Directive{ProcessingType: machining.Pocket, Depth: machining.Float(4)}
	got, n := c.RecognizePockets(feature.Set{rounded, sharp}, d)
	require.Equal(t, 1, n)

	pocket, ok := got[0].Shape.(feature.Pocket)
	require.True(t, ok)
	assert.InDelta(t, 8, pocket.CornerRadius, 0.3)
	assert.InDelta(t, 100, pocket.Length, 0.5)
	assert.InDelta(t, 60, pocket.Width, 0.5)
	require.NotNil(t, pocket.Depth)
	assert.Equal(t, 4.0, *pocket.Depth)

	assert.Equal(t, feature.KindRectangle, got[1].Kind(), "sharp corners stay a rectangle")
}

func TestRecognizePockets_CornerRadii(t *testing.T) {
	c := newTestComposer()
	d := &machining.Directive{ProcessingType: machining.Pocket, Depth: machining.Float(5)}

	for _, r := range []float64{4, 8, 12, 16, 20, 25} {
		t.Run(fmt.Sprintf("r=%g", r), func(t *testing.T) {
			f, ok := ToFeature(Classify(roundedRectContour(0, 0, 100, 60, r)), 0)
			require.True(t, ok)

			got, n := c.RecognizePockets(feature.Set{f}, d)
			require.Equal(t, 1, n, "classified as %s", f.Kind())
			pocket, ok := got[0].Shape.(feature.Pocket)
			require.True(t, ok)
			assert.InDelta(t, r, pocket.CornerRadius, 0.3)
			assert.InDelta(t, 100, pocket.Length, 0.5)
			assert.InDelta(t, 60, pocket.Width, 0.5)
		})
	}
}

// regularPolygonFeature builds a polygon feature with the metrics of a
// regular n-gon of side s lying on one edge.
func regularPolygonFeature(id string, n int, s, length, width float64) *feature.Feature {
	area := float64(n) * s * s / (4 * math.Tan(math.Pi/float64(n)))
	return &feature.Feature{
		ID:         id,
		Shape:      feature.Polygon{VertexCount: n, Class: "polygon"},
		Center:     r2.Point{X: 0, Y: 0},
		BBox:       feature.Rect(-length/2, -width/2, length/2, width/2),
		Confidence: 1,
		Source:     feature.NoSource,
		Metrics: &feature.Metrics{
			Solidity:   1,
			Area:       area,
			Perimeter:  float64(n) * s,
			RectLength: length,
			RectWidth:  width,
		},
	}
}

func TestRecognizePockets_RegularPolygonsStayPolygons(t *testing.T) {
	c := newTestComposer()
	hexagon := regularPolygonFeature("hex", 6, 30, 60, 30*math.Sqrt(3))
	octagon := regularPolygonFeature("oct", 8, 20, 20*(1+math.Sqrt2), 20*(1+math.Sqrt2))

	got, n := c.RecognizePockets(feature.Set{hexagon, octagon}, nil)
	assert.Zero(t, n)
	assert.Equal(t, feature.KindPolygon, got[0].Kind())
	assert.Equal(t, feature.KindPolygon, got[1].Kind())
}

func TestCornerRadius(t *testing.T) {
	r, err := CornerRadius(100, 60, 6000-(4-3.141592653589793)*25)
	require.NoError(t, err)
	assert.InDelta(t, 5, r, 1e-9)

	_, err = CornerRadius(100, 60, 6000)
	assert.ErrorIs(t, err, errNoDeficit)

	r, err = CornerRadius(10, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, r, "capped at half the short side")
}

func TestDetect(t *testing.T) {
	c := newTestComposer()
	set := append(flangeSet(), circleFeature("cb-inner", 592, 406, 7, 0.8))

	res := c.Detect(set, flangeDirective())
	assert.Equal(t, 1, res.Counterbores)
	require.NotNil(t, res.PCD)
	assert.Equal(t, 3, res.PCD.Matched)
	assert.Equal(t, len(res.Features), res.Count)
	assert.Len(t, set, 5, "input is not modified")
	assert.Empty(t, set[0].Flags)

	cbID := feature.CompositeID(feature.KindCounterbore, "h1", "cb-inner")
	assert.Equal(t, cbID, res.PCD.Slots[0].FeatureID, "counterbores are pattern candidates")
}

func TestResolve_CounterboreSurvivesDuplicateRemoval(t *testing.T) {
	c := newTestComposer()
	outer := circleFeature("outer", 100, 100, 11, 0.9)
	inner := circleFeature("inner", 100, 100, 7, 0.8)
	require.True(t, IsDuplicate(outer, inner), "concentric counterbore circles overlap like duplicates")

	set := feature.Set{
		outer,
		inner,
		circleFeature("twin-a", 300, 300, 4, 0.9),
		circleFeature("twin-b", 300.5, 300, 4, 0.6),
	}
	res := c.Resolve(set, &machining.Directive{ProcessingType: machining.Counterbore, Depth: machining.Float(6)})

	assert.Equal(t, 1, res.Counterbores)
	require.Len(t, res.Features, 2)
	assert.Equal(t, feature.KindCounterbore, res.Features[0].Kind())
	assert.Equal(t, "twin-a", res.Features[1].ID)
	assert.Len(t, set, 4, "input is not modified")
}

func TestResolve_DoublyTracedCounterboreCircle(t *testing.T) {
	c := newTestComposer()
	set := feature.Set{
		circleFeature("outer", 100, 100, 11, 0.9),
		circleFeature("inner", 100, 100, 5.5, 0.8),
		circleFeature("inner-again", 100.3, 100.2, 5.5, 0.7),
	}
	res := c.Resolve(set, &machining.Directive{ProcessingType: machining.Counterbore, Depth: machining.Float(6)})

	assert.Equal(t, 1, res.Counterbores)
	require.Len(t, res.Features, 1, "the second trace of the pilot circle is absorbed")
	cb, ok := res.Features[0].Shape.(feature.Counterbore)
	require.True(t, ok)
	assert.Equal(t, 22.0, cb.OuterDiameter)
	assert.Equal(t, 11.0, cb.InnerDiameter)
}
