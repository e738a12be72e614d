package imaging

import (
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"

	"github.com/ironsheep/nc-tools-mcp/internal/contour"
)

// Extraction defaults.
const (
	DefaultThreshold = 128
	DefaultMinPixels = 20
	DefaultSamples   = 360
)

// ExtractOptions tune ExtractContours. Zero values select the defaults.
type ExtractOptions struct {
	// Threshold is the luminance below which a pixel counts as ink.
	Threshold uint8 `json:"threshold,omitempty"`

	// Blur is the Gaussian sigma applied before thresholding; 0 disables it.
	Blur float64 `json:"blur,omitempty"`

	// MinPixels discards components with fewer ink pixels.
	MinPixels int `json:"min_pixels,omitempty"`

	// Invert treats light shapes on a dark background as ink.
	Invert bool `json:"invert,omitempty"`

	// KeepBorder keeps components touching the image edge, such as a
	// drawing frame. They are dropped by default.
	KeepBorder bool `json:"keep_border,omitempty"`

	// Region restricts extraction to a rectangle of the drawing. Contour
	// points stay in full-drawing coordinates.
	Region *image.Rectangle `json:"region,omitempty"`

	// Scale converts pixels to drawing units; 0 means 1.
	Scale float64 `json:"scale,omitempty"`

	// Samples is the maximum number of boundary points per contour.
	Samples int `json:"samples,omitempty"`
}

func (o ExtractOptions) withDefaults() ExtractOptions {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MinPixels <= 0 {
		o.MinPixels = DefaultMinPixels
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	if o.Samples <= 0 {
		o.Samples = DefaultSamples
	}
	return o
}

// ContoursResult contains the contours extracted from a drawing.
type ContoursResult struct {
	Width    int                  `json:"width"`
	Height   int                  `json:"height"`
	Contours []contour.RawContour `json:"contours"`

	// Discarded counts the components dropped as noise or border.
	Discarded int `json:"discarded"`

	Count int `json:"count"`
}

// ExtractContours finds the closed shapes of a drawing and returns one raw
// contour per shape, ready for the shape classifier.
//
// Parameters:
//   - img: The drawing. Dark ink on a light background unless Invert is set.
//   - opts: Threshold, noise and region settings.
//
// Returns:
//   - *ContoursResult: Contours in scan order (top to bottom, then left to
//     right, by first pixel).
//   - error: Non-nil if the region lies outside the drawing or is empty.
//
// # Algorithm
//
//  1. Optional crop to the region, inversion (bild effect) and Gaussian blur
//     on a grayscale copy (disintegration/imaging).
//  2. Binary segmentation with bild segment.Threshold.
//  3. Connected components of ink pixels by iterative 8-connected flood fill.
//  4. Each component's outer boundary is sampled in angular bins around its
//     centroid, keeping the farthest pixel edge per bin. Concentric outlines
//     are separate components, so a counterbore yields two contours.
//
// The angular sampling assumes star-shaped outlines, which covers holes,
// slots, rectangles and pockets. Moments and areas are left for the
// contour package to derive.
func ExtractContours(img image.Image, opts ExtractOptions) (*ContoursResult, error) {
	opts = opts.withDefaults()
	bounds := img.Bounds()

	src := img
	offset := bounds.Min
	if opts.Region != nil {
		r := *opts.Region
		if r.Empty() {
			return nil, fmt.Errorf("invalid region %v: empty", r)
		}
		if !r.In(bounds) {
			return nil, fmt.Errorf("region %v outside drawing bounds %v", r, bounds)
		}
		src = imaging.Crop(img, r)
		offset = r.Min
	}
	if opts.Invert {
		src = effect.Invert(src)
	}
	gray := imaging.Grayscale(src)
	if opts.Blur > 0 {
		gray = imaging.Blur(gray, opts.Blur)
	}
	bin := segment.Threshold(gray, opts.Threshold)

	bb := bin.Bounds()
	w, h := bb.Dx(), bb.Dy()
	ink := make([][]bool, h)
	for y := 0; y < h; y++ {
		ink[y] = make([]bool, w)
		for x := 0; x < w; x++ {
			ink[y][x] = bin.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y == 0
		}
	}

	res := &ContoursResult{Width: bounds.Dx(), Height: bounds.Dy()}
	for _, comp := range findComponents(ink, w, h) {
		if len(comp) < opts.MinPixels {
			res.Discarded++
			continue
		}
		if !opts.KeepBorder && touchesBorder(comp, w, h) {
			res.Discarded++
			continue
		}
		pts := outline(comp, opts.Samples)
		for i := range pts {
			pts[i] = r2.Point{
				X: (pts[i].X + float64(offset.X)) * opts.Scale,
				Y: (pts[i].Y + float64(offset.Y)) * opts.Scale,
			}
		}
		res.Contours = append(res.Contours, contour.RawContour{Points: pts})
	}
	res.Count = len(res.Contours)
	return res, nil
}

// findComponents groups ink pixels into 8-connected components, scanning
// rows top to bottom.
func findComponents(ink [][]bool, width, height int) [][]image.Point {
	visited := make([][]bool, height)
	for y := range visited {
		visited[y] = make([]bool, width)
	}

	var comps [][]image.Point
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if ink[y][x] && !visited[y][x] {
				comps = append(comps, floodFill(ink, visited, x, y, width, height))
			}
		}
	}
	return comps
}

// floodFill collects the component containing (startX, startY) with an
// explicit stack.
func floodFill(ink, visited [][]bool, startX, startY, width, height int) []image.Point {
	var comp []image.Point
	stack := []image.Point{{X: startX, Y: startY}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !ink[p.Y][p.X] {
			continue
		}
		visited[p.Y][p.X] = true
		comp = append(comp, p)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 {
					stack = append(stack, image.Point{X: p.X + dx, Y: p.Y + dy})
				}
			}
		}
	}
	return comp
}

func touchesBorder(comp []image.Point, width, height int) bool {
	for _, p := range comp {
		if p.X == 0 || p.Y == 0 || p.X == width-1 || p.Y == height-1 {
			return true
		}
	}
	return false
}

// outline samples the outer boundary of a component in angular bins around
// its centroid. Each pixel is taken at its center pushed half a pixel
// outward, so a filled disk of radius r yields points at about r.
func outline(comp []image.Point, samples int) []r2.Point {
	var c r2.Point
	for _, p := range comp {
		c = c.Add(r2.Point{X: float64(p.X) + 0.5, Y: float64(p.Y) + 0.5})
	}
	c = c.Mul(1 / float64(len(comp)))

	// about one bin per boundary pixel of a filled shape
	n := int(2 * math.Sqrt(float64(len(comp))))
	if n > samples {
		n = samples
	}
	if n < 8 {
		n = 8
	}

	best := make([]r2.Point, n)
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = -1
	}
	for _, p := range comp {
		v := r2.Point{X: float64(p.X) + 0.5, Y: float64(p.Y) + 0.5}.Sub(c)
		d := v.Norm()
		if d > 0 {
			v = v.Mul((d + 0.5) / d)
			d += 0.5
		}
		a := math.Atan2(v.Y, v.X)
		bin := int(math.Floor((a + math.Pi) / (2 * math.Pi) * float64(n)))
		if bin >= n {
			bin = n - 1
		}
		if d > dist[bin] {
			dist[bin] = d
			best[bin] = c.Add(v)
		}
	}

	pts := make([]r2.Point, 0, n)
	for i := range best {
		if dist[i] >= 0 {
			pts = append(pts, best[i])
		}
	}
	return pts
}
