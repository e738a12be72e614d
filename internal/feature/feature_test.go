package feature

import (
	"errors"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestNewCounterbore(t *testing.T) {
	tests := []struct {
		name    string
		outer   float64
		inner   float64
		wantErr bool
	}{
		{"valid", 22, 14.5, false},
		{"inverted", 14.5, 22, true},
		{"equal", 10, 10, true},
		{"zero inner", 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := NewCounterbore(tt.outer, tt.inner, nil)
			if tt.wantErr {
				if !errors.Is(err, ErrGeometryInconsistency) {
					t.Fatalf("expected ErrGeometryInconsistency, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cb.OuterDiameter != tt.outer || cb.InnerDiameter != tt.inner {
				t.Errorf("diameters = %v/%v, want %v/%v", cb.OuterDiameter, cb.InnerDiameter, tt.outer, tt.inner)
			}
		})
	}
}

func TestNewID_Deterministic(t *testing.T) {
	a := NewID(3, KindCircle, r2.Point{X: 10, Y: 20})
	b := NewID(3, KindCircle, r2.Point{X: 10, Y: 20})
	c := NewID(4, KindCircle, r2.Point{X: 10, Y: 20})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, CompositeID(KindCounterbore, a, c), CompositeID(KindCounterbore, c, a))
}

func TestIoU(t *testing.T) {
	a := Rect(0, 0, 10, 10)

	assert.InDelta(t, 1.0, IoU(a, a), 1e-12)
	assert.InDelta(t, 25.0/175.0, IoU(a, Rect(5, 5, 15, 15)), 1e-12)
	assert.Zero(t, IoU(a, Rect(20, 20, 30, 30)))
	assert.Zero(t, IoU(a, r2.EmptyRect()))
}

func TestFeatureTranslate(t *testing.T) {
	f := &Feature{Center: r2.Point{X: 5, Y: 5}, BBox: Rect(0, 0, 10, 10)}
	f.Translate(r2.Point{X: -5, Y: 2})

	assert.Equal(t, r2.Point{X: 0, Y: 7}, f.Center)
	assert.Equal(t, Rect(-5, 2, 5, 12), f.BBox)
}

func TestSetValidate(t *testing.T) {
	circle := func(id string) *Feature {
		return &Feature{ID: id, Shape: Circle{Radius: 5}, Confidence: 0.9}
	}

	require.NoError(t, Set{circle("a"), circle("b")}.Validate())

	err := Set{circle("a"), circle("a")}.Validate()
	assert.True(t, errors.Is(err, ErrDuplicateID), "got %v", err)

	bad := &Feature{ID: "c", Shape: Counterbore{OuterDiameter: 5, InnerDiameter: 8}, Confidence: 1}
	err = Set{bad}.Validate()
	assert.True(t, errors.Is(err, ErrGeometryInconsistency), "got %v", err)

	over := circle("d")
	over.Confidence = 1.2
	assert.Error(t, Set{over}.Validate())
}

func TestSetClone_IsDeep(t *testing.T) {
	orig := r2.Point{X: 1, Y: 2}
	s := Set{{ID: "a", Shape: Circle{Radius: 1}, Original: &orig, Flags: []string{FlagPCD}}}
	c := s.Clone()

	c[0].Original.X = 99
	c[0].Flags[0] = "x"
	c[0].Center.X = 42

	assert.Equal(t, 1.0, s[0].Original.X)
	assert.Equal(t, FlagPCD, s[0].Flags[0])
	assert.Zero(t, s[0].Center.X)
}

func TestLargestDimension(t *testing.T) {
	c := &Feature{Shape: Circle{Radius: 4}, BBox: Rect(0, 0, 8, 8)}
	p := &Feature{Shape: Polygon{VertexCount: 6}, BBox: Rect(0, 0, 12, 7)}

	assert.Equal(t, 8.0, c.LargestDimension())
	assert.Equal(t, 12.0, p.LargestDimension())
}

func TestFeatureJSON(t *testing.T) {
	orig := r2.Point{X: 500, Y: 500}
	f := Feature{
		ID:         "cb-1",
		Shape:      Counterbore{OuterDiameter: 22, InnerDiameter: 14.5, Depth: ptr(8)},
		Center:     r2.Point{X: 0, Y: 0},
		Original:   &orig,
		BBox:       Rect(-11, -11, 11, 11),
		Confidence: 0.8,
		Source:     NoSource,
		Hole:       &HoleSpec{Pattern: 1, Angle: ptr(90)},
		Flags:      []string{FlagPCD},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"counterbore"`)

	var back Feature
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, f.ID, back.ID)
	assert.Equal(t, f.Shape, back.Shape)
	assert.Equal(t, f.BBox, back.BBox)
	assert.Equal(t, *f.Original, *back.Original)
	assert.Equal(t, 90.0, *back.Hole.Angle)
}

func TestFeatureJSON_RejectsInvertedCounterbore(t *testing.T) {
	raw := `{"id":"x","kind":"counterbore","shape":{"outer_diameter":14.5,"inner_diameter":22},"center":{"x":0,"y":0},"bbox":{},"confidence":1,"source":-1}`

	var f Feature
	err := f.UnmarshalJSON([]byte(raw))
	assert.True(t, errors.Is(err, ErrGeometryInconsistency), "got %v", err)
}

func TestKindText(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("Pocket")))
	assert.Equal(t, KindPocket, k)
	assert.Error(t, k.UnmarshalText([]byte("hexagon")))
}
