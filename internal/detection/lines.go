package detection

import (
	"math"
	"sort"
)

// LineGroup is an ordered row of regions believed to form one line of text.
type LineGroup struct {
	// Index is the 0-based reading-order position of the line, monotonically
	// increasing from the top of the image.
	Index int `json:"line_index"`

	// Regions holds the member regions sorted left to right.
	Regions []Region `json:"regions"`

	// Box is the union of the member bounding boxes.
	Box BoundingBox `json:"bounding_box"`

	// Text is the recognized content of the line. It is the one field written
	// after grouping: recognition fills it when a backend resolves the line.
	Text string `json:"text,omitempty"`
}

// GroupOptions controls how regions are gathered into lines.
type GroupOptions struct {
	// OverlapThreshold is the minimum vertical overlap ratio (overlap divided
	// by the smaller box height) for two regions to share a line.
	OverlapThreshold float64

	// MaxXGap is the widest horizontal gap, in pixels, allowed between
	// regions of the same line. Wider gaps split lines into columns.
	MaxXGap int

	// MergeGap is the center-Y distance, in pixels, under which two adjacent
	// groups are merged after the initial pass.
	MergeGap int
}

// DefaultGroupOptions returns the standard grouping parameters.
func DefaultGroupOptions() GroupOptions {
	return GroupOptions{
		OverlapThreshold: 0.4,
		MaxXGap:          55,
		MergeGap:         30,
	}
}

// centerYFloor is the minimum dynamic center-Y threshold in pixels. Small
// fonts still need this much slack before two regions stop sharing a line.
const centerYFloor = 30.0

// meanHeightScale converts the mean region height into the dynamic center-Y
// threshold used by the pairwise test.
const meanHeightScale = 0.6

// containGapScale bounds the center-Y gap when one box vertically contains
// the other, relative to the smaller box height.
const containGapScale = 0.8

// strictGapScale marks the center-Y gap past which the overlap requirement
// tightens to strictOverlapScale times the configured threshold.
const strictGapScale = 0.5

// strictOverlapScale is the overlap multiplier applied past strictGapScale.
const strictOverlapScale = 1.5

// mergeOverlapRatio is the Y-overlap ratio that merges adjacent groups even
// when their center-Y distance exceeds MergeGap.
const mergeOverlapRatio = 0.3

// GroupLines gathers regions into text lines.
//
// Two regions land in the same group when a chain of pairwise "same line"
// relations connects them. The pairwise test works on bounding boxes:
//
//  1. Horizontal gate: if the horizontal gap between the X-ranges exceeds
//     MaxXGap the pair never matches, regardless of vertical alignment.
//  2. Dynamic vertical gate: the center-Y distance must not exceed
//     max(30, 0.6 x mean height of all input regions). Taller content earns
//     proportionally more slack.
//  3. Containment: if one box's Y-range contains the other's, the pair
//     matches when the center-Y distance is at most 0.8 x the smaller height.
//  4. Overlap: otherwise the vertical overlap ratio (overlap / smaller
//     height) must reach OverlapThreshold, tightened to 1.5 x that when the
//     center-Y distance exceeds half the smaller height.
//
// The relation is intentionally transitive through chaining: a tall region
// can bridge two small regions that would not match each other directly.
// Union-find with path compression keeps the chaining near-linear.
//
// After the initial pass, adjacent groups that clearly belong together are
// merged (repeatedly, until stable), then any group whose members leave a
// horizontal gap wider than MaxXGap is split at the gap. Groups come back
// sorted by the mean centroid Y of their members and indexed 0..N-1, with
// members sorted left to right.
func GroupLines(regions []Region, opts GroupOptions) []LineGroup {
	if len(regions) == 0 {
		return []LineGroup{}
	}

	meanHeight := 0.0
	for _, r := range regions {
		meanHeight += float64(r.Box.Height)
	}
	meanHeight /= float64(len(regions))

	uf := newUnionFind(len(regions))
	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			if sameLine(regions[i], regions[j], meanHeight, opts) {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]Region)
	for i, r := range regions {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], r)
	}

	groups := make([]LineGroup, 0, len(byRoot))
	for _, members := range byRoot {
		groups = append(groups, newLineGroup(members))
	}
	sortAndIndex(groups)

	groups = mergeAdjacentGroups(groups, opts)
	groups = splitWideGaps(groups, opts)
	sortAndIndex(groups)

	return groups
}

// sameLine is the pairwise test relating two regions on one text line.
func sameLine(a, b Region, meanHeight float64, opts GroupOptions) bool {
	if boxXGap(a.Box, b.Box) > opts.MaxXGap {
		return false
	}

	centerGap := math.Abs(a.Box.CenterY() - b.Box.CenterY())
	if centerGap > math.Max(centerYFloor, meanHeightScale*meanHeight) {
		return false
	}

	smaller := float64(minInt(a.Box.Height, b.Box.Height))
	if smaller <= 0 {
		return false
	}

	if a.Box.containsY(b.Box) || b.Box.containsY(a.Box) {
		return centerGap <= containGapScale*smaller
	}

	required := opts.OverlapThreshold
	if centerGap > strictGapScale*smaller {
		required *= strictOverlapScale
	}
	return float64(boxYOverlap(a.Box, b.Box))/smaller >= required
}

// boxXGap returns the horizontal distance between two X-ranges in pixels,
// zero when they touch or overlap.
func boxXGap(a, b BoundingBox) int {
	gap := a.Left() - b.Right()
	if g := b.Left() - a.Right(); g > gap {
		gap = g
	}
	return maxInt(0, gap)
}

// boxYOverlap returns the vertical overlap of two Y-ranges in pixels.
func boxYOverlap(a, b BoundingBox) int {
	top := maxInt(a.Top(), b.Top())
	bottom := minInt(a.Bottom(), b.Bottom())
	if bottom <= top {
		return 0
	}
	return bottom - top
}

// newLineGroup builds a group from members, sorting them left to right and
// computing the union box. The index is assigned later by sortAndIndex.
func newLineGroup(members []Region) LineGroup {
	sorted := make([]Region, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Box.X != sorted[j].Box.X {
			return sorted[i].Box.X < sorted[j].Box.X
		}
		return sorted[i].Box.Y < sorted[j].Box.Y
	})

	box := sorted[0].Box
	for _, r := range sorted[1:] {
		box = box.Union(r.Box)
	}
	return LineGroup{Regions: sorted, Box: box}
}

// meanCenterY returns the mean centroid Y of the group's members. Ordering
// by member centroids rather than the union box keeps a line with one tall
// outlier member from jumping above its visual neighbors.
func meanCenterY(g LineGroup) float64 {
	sum := 0.0
	for _, r := range g.Regions {
		sum += float64(r.Center.Y)
	}
	return sum / float64(len(g.Regions))
}

// sortAndIndex orders groups top to bottom and renumbers them 0..N-1.
// Ties break left to right, then by box Y, so the ordering never depends on
// map iteration order upstream.
func sortAndIndex(groups []LineGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		yi, yj := meanCenterY(groups[i]), meanCenterY(groups[j])
		if yi != yj {
			return yi < yj
		}
		if groups[i].Box.X != groups[j].Box.X {
			return groups[i].Box.X < groups[j].Box.X
		}
		return groups[i].Box.Y < groups[j].Box.Y
	})
	for i := range groups {
		groups[i].Index = i
	}
}

// mergeAdjacentGroups repeatedly merges vertically adjacent groups that the
// initial pass left apart, until no merge applies.
func mergeAdjacentGroups(groups []LineGroup, opts GroupOptions) []LineGroup {
	merged := true
	for merged {
		merged = false
		for i := 0; i+1 < len(groups); i++ {
			if !shouldMergeGroups(groups[i], groups[i+1], opts) {
				continue
			}
			groups[i] = newLineGroup(append(groups[i].Regions, groups[i+1].Regions...))
			groups = append(groups[:i+1], groups[i+2:]...)
			sortAndIndex(groups)
			merged = true
			break
		}
	}
	return groups
}

// shouldMergeGroups tests two adjacent groups with looser criteria than the
// pairwise region test: by this point both sides are known line candidates.
func shouldMergeGroups(a, b LineGroup, opts GroupOptions) bool {
	if boxXGap(a.Box, b.Box) > opts.MaxXGap {
		return false
	}

	centerGap := math.Abs(a.Box.CenterY() - b.Box.CenterY())
	if centerGap <= float64(opts.MergeGap) {
		return true
	}

	smaller := minInt(a.Box.Height, b.Box.Height)
	if smaller > 0 && float64(boxYOverlap(a.Box, b.Box))/float64(smaller) >= mergeOverlapRatio {
		return true
	}

	if a.Box.containsY(b.Box) || b.Box.containsY(a.Box) {
		limit := math.Max(float64(opts.MergeGap), strictGapScale*float64(smaller))
		return centerGap <= limit
	}

	return false
}

// splitWideGaps splits any group whose left-to-right members leave a
// horizontal gap wider than MaxXGap, producing one group per run. This keeps
// side-by-side columns from collapsing into a single line.
func splitWideGaps(groups []LineGroup, opts GroupOptions) []LineGroup {
	out := make([]LineGroup, 0, len(groups))
	for _, g := range groups {
		start := 0
		for i := 1; i < len(g.Regions); i++ {
			gap := g.Regions[i].Box.Left() - g.Regions[i-1].Box.Right()
			if gap > opts.MaxXGap {
				out = append(out, newLineGroup(g.Regions[start:i]))
				start = i
			}
		}
		out = append(out, newLineGroup(g.Regions[start:]))
	}
	return out
}

// unionFind is a disjoint-set forest with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
