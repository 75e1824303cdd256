// Package detection turns a binary difference mask into text-line geometry.
//
// This package implements the middle of the visual diff pipeline: it takes
// the changed-pixel mask produced by the imaging package and reduces it to
// structured regions and reading-order line groups that downstream callers
// can crop and send to text recognition.
//
// # Pipeline
//
// Detection runs in two stages:
//
//  1. Cluster: morphological cleanup (optional erosion, then dilation)
//     followed by 4-connected component labeling groups nearby changed
//     pixels into Regions. Small components are discarded and a voting
//     filter removes large background blobs such as repainted panels.
//  2. GroupLines: regions are gathered into LineGroups using pairwise
//     bounding-box geometry chained through union-find, then refined with
//     a merge pass (reuniting split lines) and a split pass (separating
//     side-by-side columns).
//
// # Coordinate System
//
// All coordinates use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//   - Bounding boxes use inclusive top-left, exclusive Right()/Bottom()
//
// # Determinism
//
// For a fixed mask and fixed options both stages partition pixels and
// regions identically on every run. Region IDs and the scan order behind
// them are an implementation detail; callers should compare results by
// geometry.
//
// # Performance Considerations
//
// Morphology is O(pixels x radius^2) and labeling is O(pixels). The
// pairwise grouping test is O(regions^2), which is fine for the dozens to
// low hundreds of regions a screenshot diff produces. If region counts grow
// far beyond that, raise ClusterOptions.MinArea before reaching for a
// smarter index.
//
// # Limitations
//
// The grouping heuristics assume roughly horizontal text lines. Rotated or
// curved text will cluster, but the line assignment degrades as the angle
// grows.
package detection
