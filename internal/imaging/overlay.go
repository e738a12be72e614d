package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/nc-tools-mcp/internal/feature"
)

// OverlayOptions tune RenderOverlay.
type OverlayOptions struct {
	// Scale is the number of drawing units per pixel, the same value given
	// to ExtractContours; 0 means 1.
	Scale float64 `json:"scale,omitempty"`

	// Labels draws the feature index next to each box.
	Labels bool `json:"labels,omitempty"`

	// Color overrides the per-kind palette with one "#RRGGBB" color.
	Color string `json:"color,omitempty"`

	// Resize scales the output image; 0 or 1 keeps the drawing size.
	Resize float64 `json:"resize,omitempty"`
}

// LegendEntry maps a feature kind to its overlay color.
type LegendEntry struct {
	Kind  string `json:"kind"`
	Color string `json:"color"`
	Count int    `json:"count"`
}

// OverlayResult contains the annotated drawing.
type OverlayResult struct {
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	ImageBase64 string        `json:"image_base64"`
	MimeType    string        `json:"mime_type"`
	Legend      []LegendEntry `json:"legend"`
	Count       int           `json:"count"`
}

// KindColor returns the overlay color of a feature kind: evenly spaced HCL
// hues, so every kind keeps its color across drawings.
func KindColor(k feature.Kind) colorful.Color {
	hue := float64(int(k)%int(feature.KindPocket+1)) * 360 / float64(feature.KindPocket+1)
	return colorful.Hcl(hue, 0.7, 0.55).Clamped()
}

// RenderOverlay draws the bounding box, center mark and optional index
// label of every feature over the drawing, to audit what the detector saw.
//
// Parameters:
//   - img: The drawing the features were extracted from.
//   - set: Features in drawing or normalized coordinates. Normalized
//     features are drawn at their Original position.
//   - opts: Scale, labels and color settings.
//
// Returns:
//   - *OverlayResult: The PNG as base64 plus a legend of the kinds drawn.
//   - error: Non-nil for an invalid color or an encoding failure.
func RenderOverlay(img image.Image, set feature.Set, opts OverlayOptions) (*OverlayResult, error) {
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	var override *color.RGBA
	if opts.Color != "" {
		c, err := colorful.Hex(opts.Color)
		if err != nil {
			return nil, fmt.Errorf("invalid overlay color %q: %w", opts.Color, err)
		}
		rgba := toRGBA(c)
		override = &rgba
	}

	// the clone starts at (0,0) whatever the drawing bounds
	canvas := imaging.Clone(img)
	origin := img.Bounds().Min
	counts := make(map[feature.Kind]int)
	labelFG := color.RGBA{255, 255, 255, 255}
	toPx := func(p r2.Point) image.Point {
		return image.Point{
			X: int(math.Floor(p.X/scale)) - origin.X,
			Y: int(math.Floor(p.Y/scale)) - origin.Y,
		}
	}

	for i, f := range set {
		kind := f.Kind()
		counts[kind]++
		col := toRGBA(KindColor(kind))
		if override != nil {
			col = *override
		}

		box, center := f.BBox, f.Center
		if f.Original != nil {
			shift := f.Original.Sub(f.Center)
			box = feature.TranslateRect(box, shift)
			center = *f.Original
		}
		lo, hi, c := toPx(box.Lo()), toPx(box.Hi()), toPx(center)
		drawRect(canvas, lo, hi, col)
		drawCross(canvas, c, 3, col)
		if opts.Labels {
			drawLabel(canvas, lo.X, lo.Y-8, strconv.Itoa(i), labelFG, col)
		}
	}

	var out image.Image = canvas
	if opts.Resize > 0 && opts.Resize != 1 {
		w := int(float64(canvas.Bounds().Dx()) * opts.Resize)
		h := int(float64(canvas.Bounds().Dy()) * opts.Resize)
		out = imaging.Resize(canvas, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}

	res := &OverlayResult{
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
		Count:       len(set),
	}
	for k, n := range counts {
		hex := KindColor(k).Hex()
		if opts.Color != "" {
			hex = opts.Color
		}
		res.Legend = append(res.Legend, LegendEntry{Kind: k.String(), Color: hex, Count: n})
	}
	sort.Slice(res.Legend, func(i, j int) bool { return res.Legend[i].Kind < res.Legend[j].Kind })
	return res, nil
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func setPixel(img *image.NRGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.Set(x, y, c)
	}
}

// drawRect draws the outline of the rectangle spanning lo and hi.
func drawRect(img *image.NRGBA, lo, hi image.Point, c color.RGBA) {
	for x := lo.X; x <= hi.X; x++ {
		setPixel(img, x, lo.Y, c)
		setPixel(img, x, hi.Y, c)
	}
	for y := lo.Y; y <= hi.Y; y++ {
		setPixel(img, lo.X, y, c)
		setPixel(img, hi.X, y, c)
	}
}

func drawCross(img *image.NRGBA, p image.Point, size int, c color.RGBA) {
	for d := -size; d <= size; d++ {
		setPixel(img, p.X+d, p.Y, c)
		setPixel(img, p.X, p.Y+d, c)
	}
}

// glyphs is a 3x5 pixel font for feature indices.
var glyphs = map[rune][]string{
	'0': {"111", "101", "101", "101", "111"},
	'1': {"010", "110", "010", "010", "111"},
	'2': {"111", "001", "111", "100", "111"},
	'3': {"111", "001", "111", "001", "111"},
	'4': {"101", "101", "111", "001", "001"},
	'5': {"111", "100", "111", "001", "111"},
	'6': {"111", "100", "111", "101", "111"},
	'7': {"111", "001", "001", "001", "001"},
	'8': {"111", "101", "111", "101", "111"},
	'9': {"111", "101", "111", "001", "111"},
}

// drawLabel draws text on a filled background with its top-left corner at
// (x, y). Pixels outside the image are skipped; unknown runes leave a gap.
func drawLabel(img *image.NRGBA, x, y int, text string, fg, bg color.RGBA) {
	const charWidth, labelHeight = 4, 7
	for dy := -1; dy < labelHeight-1; dy++ {
		for dx := -1; dx < len(text)*charWidth; dx++ {
			setPixel(img, x+dx, y+dy, bg)
		}
	}
	cx := x
	for _, ch := range text {
		for row, line := range glyphs[ch] {
			for col, px := range line {
				if px == '1' {
					setPixel(img, cx+col, y+row, fg)
				}
			}
		}
		cx += charWidth
	}
}
