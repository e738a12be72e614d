// Package imaging is the drawing-image adapter of the server: it loads and
// caches drawing bitmaps, extracts raw contours for the shape classifier and
// renders detection overlays for review.
//
// Contour recognition proper happens upstream; this package only turns a
// clean drawing raster into the RawContour records the detection package
// consumes, so a drawing can be processed without an external vision step.
//
// # Coordinate System
//
// Pixel coordinates are 0-based with (0,0) at the top-left corner, X growing
// rightward and Y growing downward, the same convention as the feature
// package. ExtractOptions.Scale and OverlayOptions.Scale convert between
// pixels and drawing units; use the same value for both.
//
// # Thread Safety
//
// DrawingCache is safe for concurrent use. ExtractContours and RenderOverlay
// never modify their input image.
package imaging
