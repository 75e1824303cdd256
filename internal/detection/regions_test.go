package detection

import (
	"image"
	"image/color"
	"reflect"
	"sort"
	"testing"
)

// newMask creates an all-black (no differences) mask of the given size.
func newMask(width, height int) *image.RGBA {
	mask := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mask.Set(x, y, color.Black)
		}
	}
	return mask
}

// fillRect paints a solid white (changed) rectangle onto the mask.
func fillRect(mask *image.RGBA, x, y, w, h int) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			mask.Set(xx, yy, color.White)
		}
	}
}

// drawFrame paints a one-pixel white outline onto the mask.
func drawFrame(mask *image.RGBA, x, y, w, h int) {
	for xx := x; xx < x+w; xx++ {
		mask.Set(xx, y, color.White)
		mask.Set(xx, y+h-1, color.White)
	}
	for yy := y; yy < y+h; yy++ {
		mask.Set(x, yy, color.White)
		mask.Set(x+w-1, yy, color.White)
	}
}

func sortRegionsByX(regions []Region) {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Box.X < regions[j].Box.X
	})
}

func TestCluster_EmptyMask(t *testing.T) {
	mask := newMask(100, 100)

	result, err := Cluster(mask, DefaultClusterOptions())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if result.Count != 0 {
		t.Errorf("Expected 0 regions in empty mask, got %d", result.Count)
	}
	if len(result.Regions) != 0 {
		t.Errorf("Expected empty region list, got %d entries", len(result.Regions))
	}
	if result.Labeled == nil {
		t.Fatal("Labeled mask should not be nil")
	}
	if result.Labeled.Bounds() != mask.Bounds() {
		t.Errorf("Labeled mask bounds %v, want %v", result.Labeled.Bounds(), mask.Bounds())
	}
}

func TestCluster_NilMask(t *testing.T) {
	if _, err := Cluster(nil, DefaultClusterOptions()); err == nil {
		t.Error("Expected error for nil mask")
	}
}

func TestCluster_SolidRectangle(t *testing.T) {
	mask := newMask(100, 100)
	fillRect(mask, 10, 10, 20, 5)

	opts := DefaultClusterOptions()
	opts.MinArea = 50

	result, err := Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if result.Count != 1 {
		t.Fatalf("Expected 1 region, got %d", result.Count)
	}

	r := result.Regions[0]
	want := BoundingBox{X: 10, Y: 10, Width: 20, Height: 5}
	if r.Box != want {
		t.Errorf("Bounding box %+v, want %+v", r.Box, want)
	}
	if r.PixelCount != 100 {
		t.Errorf("PixelCount %d, want 100", r.PixelCount)
	}
	if r.Center != (Point{X: 19, Y: 12}) {
		t.Errorf("Center %+v, want {19 12}", r.Center)
	}
	if r.ID != 1 {
		t.Errorf("ID %d, want 1", r.ID)
	}
}

func TestCluster_PixelCountWithinBox(t *testing.T) {
	mask := newMask(120, 120)
	fillRect(mask, 10, 10, 25, 8)
	fillRect(mask, 60, 40, 12, 12)
	fillRect(mask, 20, 80, 40, 6)

	result, err := Cluster(mask, DefaultClusterOptions())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	for _, r := range result.Regions {
		if r.PixelCount < DefaultClusterOptions().MinArea {
			t.Errorf("Region %d has %d pixels, below the minimum area", r.ID, r.PixelCount)
		}
		if r.PixelCount > r.Box.Area() {
			t.Errorf("Region %d counts %d pixels inside a %d-pixel box", r.ID, r.PixelCount, r.Box.Area())
		}
	}
}

func TestCluster_MergesNearbyBlobs(t *testing.T) {
	mask := newMask(100, 100)
	fillRect(mask, 10, 10, 10, 10)
	fillRect(mask, 24, 10, 10, 10) // 4 pixels away: dilation bridges the gap

	result, err := Cluster(mask, DefaultClusterOptions())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if result.Count != 1 {
		t.Fatalf("Expected blobs 4px apart to merge into 1 region, got %d", result.Count)
	}

	r := result.Regions[0]
	want := BoundingBox{X: 10, Y: 10, Width: 24, Height: 10}
	if r.Box != want {
		t.Errorf("Merged box %+v, want %+v", r.Box, want)
	}
	if r.PixelCount != 200 {
		t.Errorf("Merged PixelCount %d, want 200 (mask pixels only, not dilated ones)", r.PixelCount)
	}
}

func TestCluster_KeepsDistantBlobsApart(t *testing.T) {
	mask := newMask(100, 100)
	fillRect(mask, 10, 10, 10, 10)
	fillRect(mask, 40, 10, 10, 10) // 20 pixels away: beyond dilation reach

	result, err := Cluster(mask, DefaultClusterOptions())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if result.Count != 2 {
		t.Fatalf("Expected 2 regions, got %d", result.Count)
	}

	sortRegionsByX(result.Regions)
	if result.Regions[0].Box.X != 10 || result.Regions[1].Box.X != 40 {
		t.Errorf("Region X positions: got %d and %d, want 10 and 40",
			result.Regions[0].Box.X, result.Regions[1].Box.X)
	}
	for _, r := range result.Regions {
		if r.PixelCount != 100 {
			t.Errorf("Region %d PixelCount %d, want 100", r.ID, r.PixelCount)
		}
	}
}

func TestCluster_MinAreaFilter(t *testing.T) {
	mask := newMask(100, 100)
	fillRect(mask, 50, 50, 3, 3)

	opts := DefaultClusterOptions()
	opts.MinArea = 100

	result, err := Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if result.Count != 0 {
		t.Errorf("Expected 3x3 blob below MinArea=100 to be dropped, got %d regions", result.Count)
	}

	opts.MinArea = 5
	result, err = Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("Expected 3x3 blob to survive MinArea=5, got %d regions", result.Count)
	}
	if result.Regions[0].PixelCount != 9 {
		t.Errorf("PixelCount %d, want 9", result.Regions[0].PixelCount)
	}
}

func TestCluster_BackgroundFilter(t *testing.T) {
	mask := newMask(100, 100)
	drawFrame(mask, 20, 20, 60, 60) // large sparse square: classic background change
	fillRect(mask, 10, 90, 20, 5)   // small dense row: text-like change

	opts := DefaultClusterOptions()
	opts.Erode = false // a one-pixel outline would not survive erosion
	opts.MinArea = 50

	result, err := Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if result.Count != 1 {
		t.Fatalf("Expected background frame to be filtered, leaving 1 region, got %d", result.Count)
	}
	want := BoundingBox{X: 10, Y: 90, Width: 20, Height: 5}
	if result.Regions[0].Box != want {
		t.Errorf("Surviving box %+v, want %+v", result.Regions[0].Box, want)
	}

	// Disabling the vote keeps both components.
	opts.Filter.MinVotes = 0
	result, err = Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("Expected 2 regions with the filter disabled, got %d", result.Count)
	}
}

func TestCluster_FourConnectivity(t *testing.T) {
	mask := newMask(100, 100)
	mask.Set(50, 50, color.White)
	mask.Set(51, 51, color.White) // diagonal touch only

	opts := DefaultClusterOptions()
	opts.DilateRadius = 0
	opts.MinArea = 1

	result, err := Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if result.Count != 2 {
		t.Errorf("Diagonal neighbors should stay separate under 4-connectivity, got %d regions", result.Count)
	}
}

func TestCluster_NoMorphology(t *testing.T) {
	mask := newMask(100, 100)
	fillRect(mask, 10, 10, 10, 10)
	fillRect(mask, 24, 10, 10, 10)

	opts := DefaultClusterOptions()
	opts.DilateRadius = 0

	result, err := Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	// Without dilation the 4px gap is never bridged.
	if result.Count != 2 {
		t.Errorf("Expected 2 regions without dilation, got %d", result.Count)
	}
}

func TestCluster_Deterministic(t *testing.T) {
	mask := newMask(150, 150)
	fillRect(mask, 10, 10, 30, 8)
	fillRect(mask, 50, 11, 25, 7)
	fillRect(mask, 10, 40, 60, 9)
	fillRect(mask, 100, 100, 20, 20)

	first, err := Cluster(mask, DefaultClusterOptions())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	second, err := Cluster(mask, DefaultClusterOptions())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if !reflect.DeepEqual(first.Regions, second.Regions) {
		t.Errorf("Clustering is not deterministic:\nfirst:  %+v\nsecond: %+v", first.Regions, second.Regions)
	}
}

func TestCluster_LabeledMask(t *testing.T) {
	mask := newMask(100, 100)
	fillRect(mask, 10, 10, 20, 5)

	opts := DefaultClusterOptions()
	opts.MinArea = 50

	result, err := Cluster(mask, opts)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if result.Labeled == nil {
		t.Fatal("Labeled mask should not be nil")
	}
	if result.Labeled.Bounds() != mask.Bounds() {
		t.Errorf("Labeled bounds %v, want %v", result.Labeled.Bounds(), mask.Bounds())
	}

	inside := result.Labeled.RGBAAt(15, 12)
	if inside.A != labelAlpha {
		t.Errorf("Pixel inside region has alpha %d, want %d", inside.A, labelAlpha)
	}
	if inside != labelPalette[0] {
		t.Errorf("Pixel inside region is %+v, want palette color %+v", inside, labelPalette[0])
	}

	corner := result.Labeled.RGBAAt(0, 0)
	if corner.A != 0 {
		t.Errorf("Background pixel has alpha %d, want 0", corner.A)
	}
}

func TestBoundingBox_Geometry(t *testing.T) {
	b := BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}

	if b.Right() != 40 {
		t.Errorf("Right() = %d, want 40", b.Right())
	}
	if b.Bottom() != 60 {
		t.Errorf("Bottom() = %d, want 60", b.Bottom())
	}
	if b.Area() != 1200 {
		t.Errorf("Area() = %d, want 1200", b.Area())
	}
	if b.CenterX() != 25 {
		t.Errorf("CenterX() = %v, want 25", b.CenterX())
	}
	if b.CenterY() != 40 {
		t.Errorf("CenterY() = %v, want 40", b.CenterY())
	}

	u := b.Union(BoundingBox{X: 5, Y: 50, Width: 10, Height: 20})
	want := BoundingBox{X: 5, Y: 20, Width: 35, Height: 50}
	if u != want {
		t.Errorf("Union = %+v, want %+v", u, want)
	}

	r := b.Rect()
	if r != image.Rect(10, 20, 40, 60) {
		t.Errorf("Rect() = %v, want (10,20)-(40,60)", r)
	}
}
