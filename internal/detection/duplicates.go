package detection

import (
	"sort"

	"github.com/ironsheep/nc-tools-mcp/internal/feature"
)

// Duplicate thresholds.
const (
	duplicateDistanceFactor = 0.5
	duplicateMinIoU         = 0.3
)

// IsDuplicate reports whether a and b describe the same physical feature:
// same variant, centers closer than half the mean of their largest
// dimensions, and bounding boxes overlapping with IoU above 0.3.
func IsDuplicate(a, b *feature.Feature) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	limit := duplicateDistanceFactor * (a.LargestDimension() + b.LargestDimension()) / 2
	if a.Center.Sub(b.Center).Norm() >= limit {
		return false
	}
	return feature.IoU(a.BBox, b.BBox) > duplicateMinIoU
}

// ResolveDuplicates removes near-duplicate detections, keeping the
// highest-confidence feature of every duplicate group.
//
// Features are visited by descending confidence (ties in input order) and a
// feature survives only when it duplicates none of the survivors so far. The
// survivors are returned in their original input order, so the result holds
// no duplicate pair and running it again returns the same set.
//
// The input set is not modified.
func ResolveDuplicates(set feature.Set) feature.Set {
	return resolveWith(set, IsDuplicate)
}

// resolveWith is ResolveDuplicates with a caller-supplied duplicate test.
func resolveWith(set feature.Set, same func(a, b *feature.Feature) bool) feature.Set {
	if len(set) < 2 {
		return append(feature.Set(nil), set...)
	}

	order := make([]int, len(set))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return set[order[i]].Confidence > set[order[j]].Confidence
	})

	keep := make([]bool, len(set))
	kept := make([]*feature.Feature, 0, len(set))
	for _, idx := range order {
		f := set[idx]
		isDuplicate := false
		for _, k := range kept {
			if same(f, k) {
				isDuplicate = true
				break
			}
		}
		if !isDuplicate {
			keep[idx] = true
			kept = append(kept, f)
		}
	}

	out := make(feature.Set, 0, len(kept))
	for i, f := range set {
		if keep[i] {
			out = append(out, f)
		}
	}
	return out
}
