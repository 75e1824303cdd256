package detection

import (
	"fmt"
	"image"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// BoundingBox represents a rectangular bounding box in pixel coordinates.
//
// X and Y locate the top-left corner (inclusive); Width and Height are both
// positive once a box has been created. Right() and Bottom() follow the
// standard image convention and are exclusive.
type BoundingBox struct {
	X      int `json:"x"`      // Left edge (inclusive)
	Y      int `json:"y"`      // Top edge (inclusive)
	Width  int `json:"width"`  // Horizontal extent in pixels
	Height int `json:"height"` // Vertical extent in pixels
}

// Left returns the leftmost X coordinate (inclusive).
func (b BoundingBox) Left() int { return b.X }

// Right returns the X coordinate one past the rightmost pixel (exclusive).
func (b BoundingBox) Right() int { return b.X + b.Width }

// Top returns the topmost Y coordinate (inclusive).
func (b BoundingBox) Top() int { return b.Y }

// Bottom returns the Y coordinate one past the bottommost pixel (exclusive).
func (b BoundingBox) Bottom() int { return b.Y + b.Height }

// Area returns the box area in square pixels.
func (b BoundingBox) Area() int { return b.Width * b.Height }

// CenterX returns the horizontal center of the box.
func (b BoundingBox) CenterX() float64 { return float64(b.X) + float64(b.Width)/2 }

// CenterY returns the vertical center of the box.
func (b BoundingBox) CenterY() float64 { return float64(b.Y) + float64(b.Height)/2 }

// Union returns the smallest box containing both b and o.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	x1 := minInt(b.X, o.X)
	y1 := minInt(b.Y, o.Y)
	x2 := maxInt(b.Right(), o.Right())
	y2 := maxInt(b.Bottom(), o.Bottom())
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Rect converts the box to a standard image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// containsY reports whether b's Y-range fully contains o's.
func (b BoundingBox) containsY(o BoundingBox) bool {
	return b.Top() <= o.Top() && b.Bottom() >= o.Bottom()
}

// Point represents a 2D coordinate in pixel space.
type Point struct {
	X int `json:"x"` // Horizontal position (0 = leftmost)
	Y int `json:"y"` // Vertical position (0 = topmost)
}

// Region represents one connected cluster of changed pixels.
//
// IDs are positive and unique within a single clustering run but carry no
// meaning across runs: two runs over the same mask partition pixels the same
// way while numbering the components in whatever order the scan discovers
// them. Compare regions by geometry, never by ID.
type Region struct {
	// ID is the 1-based region number assigned after filtering.
	ID int `json:"id"`

	// Box is the tight bounding box around the region's mask pixels.
	Box BoundingBox `json:"bounding_box"`

	// PixelCount is the number of mask pixels belonging to this region.
	PixelCount int `json:"pixel_count"`

	// Center is the centroid of the region's mask pixels. For sparse or
	// L-shaped regions this differs from the bounding-box center.
	Center Point `json:"center"`
}

// FilterOptions holds the cutoffs of the background-vs-text vote.
//
// Each enabled feature casts one vote when it matches; a region is dropped
// as background once MinVotes features agree. The default cutoffs were tuned
// on screenshots of rendered documents and are deliberately configurable.
type FilterOptions struct {
	// MaxAreaFrac votes when the bounding-box area exceeds this fraction of
	// the image area.
	MaxAreaFrac float64

	// MaxHeightFrac votes when the bounding-box height exceeds this fraction
	// of the image height.
	MaxHeightFrac float64

	// MinDensity votes when pixelCount / boxArea falls below this value.
	// Text is dense inside its box; washed-out background blobs are not.
	MinDensity float64

	// SquareAspectLo and SquareAspectHi bound the "square-like" aspect range.
	SquareAspectLo float64
	SquareAspectHi float64

	// SquareAreaFrac is the minimum area fraction for the square-like vote.
	SquareAreaFrac float64

	// MinVotes is how many features must agree before a region is dropped.
	MinVotes int
}

// DefaultFilterOptions returns the standard background-filter cutoffs.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MaxAreaFrac:    0.08,
		MaxHeightFrac:  0.15,
		MinDensity:     0.20,
		SquareAspectLo: 0.7,
		SquareAspectHi: 1.5,
		SquareAreaFrac: 0.05,
		MinVotes:       2,
	}
}

// ClusterOptions controls morphological cleanup and component filtering.
type ClusterOptions struct {
	// DilateRadius is the square-neighborhood radius used to reconnect
	// character strokes before labeling. Zero disables morphology entirely.
	DilateRadius int

	// MinArea discards components with fewer mask pixels than this.
	MinArea int

	// Erode enables a pre-dilation erosion with radius
	// max(1, DilateRadius/2), severing one-pixel bridges between text and
	// surrounding noise before dilation can cement them.
	Erode bool

	// Filter holds the background-vs-text vote cutoffs.
	Filter FilterOptions
}

// DefaultClusterOptions returns the standard clustering parameters.
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{
		DilateRadius: 3,
		MinArea:      100,
		Erode:        true,
		Filter:       DefaultFilterOptions(),
	}
}

// ClusterResult contains the surviving regions and a visualization mask.
type ClusterResult struct {
	// Regions is the list of surviving regions, numbered 1..N.
	Regions []Region `json:"regions"`

	// Count is the number of surviving regions.
	Count int `json:"count"`

	// Labeled paints each region's connected component in a distinct palette
	// color for visual inspection. Nothing downstream reads these colors.
	Labeled *image.RGBA `json:"-"`
}

// labelAlpha is the opacity of the visualization palette.
const labelAlpha = 180

// labelPalette is an 8-entry repeating palette for the labeled mask, spread
// evenly around the HSV hue wheel.
var labelPalette = buildLabelPalette()

func buildLabelPalette() [8]color.RGBA {
	var p [8]color.RGBA
	for i := range p {
		r, g, b := colorful.Hsv(float64(i)*45.0, 0.85, 0.95).RGB255()
		p[i] = color.RGBA{R: r, G: g, B: b, A: labelAlpha}
	}
	return p
}

// Cluster groups the white pixels of a binary difference mask into regions.
//
// The mask is the output of a pixel diff: white marks changed pixels, black
// unchanged. Clustering proceeds in stages:
//
//  1. Optional erosion (radius max(1, DilateRadius/2)): a pixel survives only
//     if its entire square neighborhood is foreground. Pixels whose window
//     extends outside the image do not survive.
//  2. Dilation (radius DilateRadius): every foreground pixel marks its entire
//     square neighborhood foreground, reconnecting broken character strokes.
//  3. 4-connected component labeling over the dilated mask, using an explicit
//     stack rather than recursion so arbitrarily large components cannot
//     exhaust the call stack.
//  4. Per-component statistics (bounding box, pixel count, centroid) are
//     accumulated from the ORIGINAL mask pixels covered by each component.
//     Morphology decides only which pixels belong together; the reported
//     geometry always reflects the real differences.
//  5. Components with fewer than MinArea original pixels are discarded.
//  6. The background filter votes each remaining region (see FilterOptions);
//     regions reaching MinVotes are dropped.
//
// Survivors are renumbered 1..N in scan order. The labeled mask paints each
// survivor's component pixels with an 8-color repeating palette at alpha 180;
// it exists purely for visualization.
//
// # Determinism
//
// The pixel partition is fully deterministic for a given mask and options.
// Component numbering depends on scan order and is an implementation detail.
func Cluster(mask *image.RGBA, opts ClusterOptions) (*ClusterResult, error) {
	if mask == nil {
		return nil, fmt.Errorf("cluster requires a mask image")
	}

	bounds := mask.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	fg := maskToGrid(mask, width, height)

	work := fg
	if opts.DilateRadius > 0 {
		if opts.Erode {
			work = erodeGrid(work, width, height, maxInt(1, opts.DilateRadius/2))
		}
		work = dilateGrid(work, width, height, opts.DilateRadius)
	}

	labels, labelCount := labelComponents(work, width, height)

	// Accumulate stats from the original mask so erosion and dilation leave
	// no trace in the reported geometry.
	stats := make([]componentStats, labelCount+1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !fg[y][x] {
				continue
			}
			label := labels[y][x]
			if label == 0 {
				continue // eroded away entirely
			}
			stats[label].add(x, y)
		}
	}

	keep := make(map[int]int, labelCount) // old label -> new region ID
	regions := make([]Region, 0, labelCount)
	imageArea := width * height

	for label := 1; label <= labelCount; label++ {
		st := stats[label]
		if st.count < opts.MinArea {
			continue
		}
		r := st.region()
		if isBackground(r, imageArea, height, opts.Filter) {
			continue
		}
		r.ID = len(regions) + 1
		keep[label] = r.ID
		regions = append(regions, r)
	}

	labeled := renderLabeled(labels, keep, width, height)

	return &ClusterResult{
		Regions: regions,
		Count:   len(regions),
		Labeled: labeled,
	}, nil
}

// componentStats accumulates per-component geometry during the stats pass.
type componentStats struct {
	count      int
	minX, minY int
	maxX, maxY int
	sumX, sumY int
	seen       bool
}

func (s *componentStats) add(x, y int) {
	if !s.seen {
		s.minX, s.maxX = x, x
		s.minY, s.maxY = y, y
		s.seen = true
	} else {
		s.minX = minInt(s.minX, x)
		s.maxX = maxInt(s.maxX, x)
		s.minY = minInt(s.minY, y)
		s.maxY = maxInt(s.maxY, y)
	}
	s.sumX += x
	s.sumY += y
	s.count++
}

func (s componentStats) region() Region {
	return Region{
		Box: BoundingBox{
			X:      s.minX,
			Y:      s.minY,
			Width:  s.maxX - s.minX + 1,
			Height: s.maxY - s.minY + 1,
		},
		PixelCount: s.count,
		Center:     Point{X: s.sumX / s.count, Y: s.sumY / s.count},
	}
}

// isBackground votes a region's features against the filter cutoffs.
func isBackground(r Region, imageArea, imageHeight int, f FilterOptions) bool {
	if f.MinVotes <= 0 {
		return false
	}

	boxArea := r.Box.Area()
	votes := 0

	if float64(boxArea) > f.MaxAreaFrac*float64(imageArea) {
		votes++
	}
	if float64(r.Box.Height) > f.MaxHeightFrac*float64(imageHeight) {
		votes++
	}
	if boxArea > 0 && float64(r.PixelCount)/float64(boxArea) < f.MinDensity {
		votes++
	}
	if r.Box.Height > 0 {
		aspect := float64(r.Box.Width) / float64(r.Box.Height)
		if aspect >= f.SquareAspectLo && aspect <= f.SquareAspectHi &&
			float64(boxArea) > f.SquareAreaFrac*float64(imageArea) {
			votes++
		}
	}

	return votes >= f.MinVotes
}

// maskToGrid converts a binary black/white mask to a boolean grid.
// Any pixel with a red channel of 128 or more counts as foreground.
func maskToGrid(mask *image.RGBA, width, height int) [][]bool {
	bounds := mask.Bounds()
	grid := make([][]bool, height)
	for y := 0; y < height; y++ {
		grid[y] = make([]bool, width)
		row := mask.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		for x := 0; x < width; x++ {
			grid[y][x] = mask.Pix[row+x*4] >= 128
		}
	}
	return grid
}

// erodeGrid shrinks foreground: a pixel survives only when every pixel in its
// square neighborhood of the given radius is foreground. Windows clipped by
// the image border never survive.
func erodeGrid(grid [][]bool, width, height, radius int) [][]bool {
	out := newGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !grid[y][x] {
				continue
			}
			keep := true
			for dy := -radius; dy <= radius && keep; dy++ {
				for dx := -radius; dx <= radius && keep; dx++ {
					ny, nx := y+dy, x+dx
					if ny < 0 || ny >= height || nx < 0 || nx >= width || !grid[ny][nx] {
						keep = false
					}
				}
			}
			out[y][x] = keep
		}
	}
	return out
}

// dilateGrid grows foreground: every foreground pixel marks its entire square
// neighborhood of the given radius foreground.
func dilateGrid(grid [][]bool, width, height, radius int) [][]bool {
	out := newGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !grid[y][x] {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx >= 0 && nx < width {
						out[ny][nx] = true
					}
				}
			}
		}
	}
	return out
}

func newGrid(width, height int) [][]bool {
	grid := make([][]bool, height)
	for y := range grid {
		grid[y] = make([]bool, width)
	}
	return grid
}

// labelComponents assigns a unique positive label to every 4-connected
// foreground component. Unlabeled (background) cells hold zero.
func labelComponents(grid [][]bool, width, height int) ([][]int, int) {
	labels := make([][]int, height)
	for y := range labels {
		labels[y] = make([]int, width)
	}

	count := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if grid[y][x] && labels[y][x] == 0 {
				count++
				fillComponent(grid, labels, x, y, width, height, count)
			}
		}
	}
	return labels, count
}

// fillComponent flood-fills one component from a seed pixel.
//
// Uses an explicit stack (not recursion) so large components cannot overflow
// the call stack. Connectivity is 4-connected: diagonal contact alone does
// not join components.
func fillComponent(grid [][]bool, labels [][]int, startX, startY, width, height, label int) {
	stack := []Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if !grid[p.Y][p.X] || labels[p.Y][p.X] != 0 {
			continue
		}

		labels[p.Y][p.X] = label

		stack = append(stack,
			Point{X: p.X + 1, Y: p.Y},
			Point{X: p.X - 1, Y: p.Y},
			Point{X: p.X, Y: p.Y + 1},
			Point{X: p.X, Y: p.Y - 1},
		)
	}
}

// renderLabeled paints surviving components with the repeating palette.
// Dropped components and background stay fully transparent.
func renderLabeled(labels [][]int, keep map[int]int, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			id, ok := keep[labels[y][x]]
			if !ok {
				continue
			}
			c := labelPalette[(id-1)%len(labelPalette)]
			i := out.PixOffset(x, y)
			out.Pix[i] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = c.A
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
