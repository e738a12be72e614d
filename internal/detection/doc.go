// Package detection turns traced drawing contours into machinable features.
//
// Detection runs in three steps, each a pure function of its input:
//
//  1. Classification: every contour is measured (moments, convex hull,
//     enclosing circle, minimum-area rectangle, polygon approximation) and
//     labelled as a circle, ellipse, square, rectangle, parallelogram,
//     triangle, polygon or irregular shape with a confidence score.
//  2. Duplicate resolution: detections of the same physical feature are
//     collapsed, keeping the most confident one.
//  3. Composite detection: concentric circles become counterbores, holes on
//     a declared pitch circle are grouped and tagged, and rounded rectangles
//     become pockets.
//
// Composer.Resolve runs steps 2 and 3 together. It pairs counterbores
// before resolving duplicates because the two circles of a counterbore
// overlap enough to pass as duplicates of each other.
//
// # Decision Order
//
// Classify applies its rules in a fixed order and the first match wins:
// degenerate contours are unclassified, an ellipse fit is tried before the
// circle test, the circle test before vertex counting. Thresholds are package
// constants rather than configuration because feature IDs and downstream
// diagnostics depend on stable labels.
//
// # Coordinate System
//
// Contours arrive in drawing coordinates with the origin at the top-left and
// Y increasing downward. Angles are measured in degrees from +X towards +Y.
// Nothing in this package moves features; see the normalize package for the
// translation to the part datum.
//
// # Confidence Scores
//
// Confidence lies in [0, 1]:
//   - Circles: circularity
//   - Ellipses: agreement between the fitted and the measured area
//   - Quadrilaterals and polygons: solidity
//
// A merged counterbore keeps the lower confidence of its two circles.
package detection
