package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/golang/geo/r2"

	"github.com/ironsheep/nc-tools-mcp/internal/feature"
)

func decodeOverlay(t *testing.T, res *OverlayResult) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(res.ImageBase64)
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	return img
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, _ := a.RGBA()
	r2, g2, b2, _ := b.RGBA()
	return r1>>8 == r2>>8 && g1>>8 == g2>>8 && b1>>8 == b2>>8
}

func circleFeature(id string, x, y, r float64) *feature.Feature {
	return &feature.Feature{
		ID:         id,
		Shape:      feature.Circle{Radius: r, Circularity: 1},
		Center:     r2.Point{X: x, Y: y},
		BBox:       feature.Rect(x-r, y-r, x+r, y+r),
		Confidence: 0.9,
		Source:     feature.NoSource,
	}
}

func TestRenderOverlay(t *testing.T) {
	set := feature.Set{circleFeature("h1", 50, 50, 10)}
	res, err := RenderOverlay(blankDrawing(100, 100), set, OverlayOptions{Labels: true})
	if err != nil {
		t.Fatalf("RenderOverlay failed: %v", err)
	}
	if res.Width != 100 || res.Height != 100 || res.MimeType != "image/png" {
		t.Errorf("unexpected result header: %+v", res)
	}
	if res.Count != 1 || len(res.Legend) != 1 || res.Legend[0].Kind != "circle" {
		t.Fatalf("legend: %+v", res.Legend)
	}

	img := decodeOverlay(t, res)
	want := toRGBA(KindColor(feature.KindCircle))
	if !sameColor(img.At(40, 55), want) {
		t.Errorf("box edge at (40,55): got %v, want %v", img.At(40, 55), want)
	}
	if !sameColor(img.At(50, 50), want) {
		t.Errorf("center mark: got %v, want %v", img.At(50, 50), want)
	}
	if !sameColor(img.At(90, 90), color.White) {
		t.Errorf("background changed: %v", img.At(90, 90))
	}
}

func TestRenderOverlay_NormalizedFeatureUsesOriginal(t *testing.T) {
	f := circleFeature("h1", 50, 50, 10)
	o := f.Center
	f.Original = &o
	f.Translate(r2.Point{X: -50, Y: -50})

	res, err := RenderOverlay(blankDrawing(100, 100), feature.Set{f}, OverlayOptions{Color: "#00ff00"})
	if err != nil {
		t.Fatalf("RenderOverlay failed: %v", err)
	}
	img := decodeOverlay(t, res)
	if !sameColor(img.At(60, 50), color.RGBA{0, 255, 0, 255}) {
		t.Errorf("box edge at (60,50): got %v", img.At(60, 50))
	}
	if res.Legend[0].Color != "#00ff00" {
		t.Errorf("legend color: got %s", res.Legend[0].Color)
	}
}

func TestRenderOverlay_ScaleAndResize(t *testing.T) {
	set := feature.Set{circleFeature("h1", 25, 25, 5)}
	res, err := RenderOverlay(blankDrawing(100, 100), set, OverlayOptions{Scale: 0.5, Resize: 0.5})
	if err != nil {
		t.Fatalf("RenderOverlay failed: %v", err)
	}
	if res.Width != 50 || res.Height != 50 {
		t.Errorf("resized: got %dx%d, want 50x50", res.Width, res.Height)
	}
}

func TestRenderOverlay_InvalidColor(t *testing.T) {
	_, err := RenderOverlay(blankDrawing(10, 10), nil, OverlayOptions{Color: "red"})
	if err == nil {
		t.Error("expected an error for an invalid color")
	}
}

func TestKindColor_Distinct(t *testing.T) {
	seen := make(map[string]feature.Kind)
	for k := feature.KindCircle; k <= feature.KindPocket; k++ {
		hex := KindColor(k).Hex()
		if other, dup := seen[hex]; dup {
			t.Errorf("%s and %s share color %s", k, other, hex)
		}
		seen[hex] = k
	}
}

func TestDrawLabel_ClipsAtEdges(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	// must not panic when the label runs past the image
	drawLabel(img, 7, 7, "123", color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 255})
	drawLabel(img, -5, -5, "9", color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 255})
}
