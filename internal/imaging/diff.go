package imaging

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/parallel"
)

// ErrDimensionMismatch reports a diff attempt between images of different sizes.
var ErrDimensionMismatch = errors.New("image dimensions do not match")

const (
	// defaultDiffThreshold is the base per-pixel difference threshold,
	// compared against the sum of absolute channel differences (0..765).
	defaultDiffThreshold = 30

	// textEdgeFloor marks a pixel text-like when the Sobel gradient
	// magnitude of either input exceeds it.
	textEdgeFloor = 30.0

	// textVarianceFrac marks a pixel text-like when its local luminance
	// variance exceeds this fraction of the largest variance in the image.
	textVarianceFrac = 0.10

	// textScale tightens the threshold over text-like pixels, where a small
	// shift in antialiasing already signals a real change.
	textScale = 0.8

	// smoothScale relaxes the threshold over smooth pixels, absorbing
	// compression noise and gradient dithering.
	smoothScale = 2.0

	// varianceRadius is the half-width of the local variance window (7x7).
	varianceRadius = 3
)

// DiffOptions controls the pixel comparison.
type DiffOptions struct {
	// Threshold is the base difference cutoff. A pixel differs when the sum
	// of absolute R, G and B differences exceeds it. Zero or negative values
	// fall back to the default of 30.
	Threshold int `json:"threshold"`

	// Adaptive scales the threshold per pixel by content: 0.8x over
	// text-like pixels, 2.0x over smooth ones. When false a single global
	// threshold is used.
	Adaptive bool `json:"adaptive"`
}

// DefaultDiffOptions returns the standard comparison parameters.
func DefaultDiffOptions() DiffOptions {
	return DiffOptions{Threshold: defaultDiffThreshold, Adaptive: true}
}

// DiffResult holds the outcome of comparing two equally sized images.
type DiffResult struct {
	// Width and Height are the shared dimensions of the inputs.
	Width  int `json:"width"`
	Height int `json:"height"`

	// DiffPixels is the number of pixels that differ.
	DiffPixels int `json:"diff_pixels"`

	// Mask is a binary image of the same size: white marks differing pixels,
	// black unchanged ones. Alpha is fully opaque everywhere.
	Mask *image.RGBA `json:"-"`
}

// Diff compares two images pixel by pixel and returns a binary change mask.
//
// Both images must have identical dimensions; comparing a 100x100 against a
// 101x100 returns ErrDimensionMismatch rather than guessing an alignment.
// Bounds origins may differ: pixels are compared relative to each image's
// top-left corner, and the mask always has its origin at (0, 0).
//
// Per pixel, the difference is the sum of absolute R, G and B differences
// (alpha is ignored). With Adaptive disabled a pixel differs when that sum
// exceeds Threshold.
//
// # Adaptive Thresholding
//
// Screenshots mix content that wants opposite sensitivities: antialiased
// text shifts by a few tones when it changes, while gradients and photos
// wobble by more than that between captures without any real change. With
// Adaptive enabled the cutoff is chosen per pixel:
//
//  1. Both inputs are reduced to BT.601 luminance (0.299 R + 0.587 G +
//     0.114 B) and a Sobel gradient magnitude is computed for each; the
//     per-pixel maximum of the two is the edge strength.
//  2. The local luminance variance of the second image is measured over a
//     7x7 window.
//  3. A pixel is text-like when its edge strength exceeds 30 or its local
//     variance exceeds 10% of the image's maximum local variance.
//  4. Text-like pixels use 0.8 x Threshold; smooth pixels use 2.0 x.
//
// The same inputs and options always produce the identical mask and count.
func Diff(a, b image.Image, opts DiffOptions) (*DiffResult, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("diff requires two images")
	}

	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d",
			ErrDimensionMismatch, ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}

	if opts.Threshold <= 0 {
		opts.Threshold = defaultDiffThreshold
	}

	ra := clone.AsRGBA(a)
	rb := clone.AsRGBA(b)
	width, height := ab.Dx(), ab.Dy()

	var thresholds [][]float64
	if opts.Adaptive {
		thresholds = adaptiveThresholds(ra, rb, width, height, float64(opts.Threshold))
	}

	mask := image.NewRGBA(image.Rect(0, 0, width, height))
	base := float64(opts.Threshold)
	rowCounts := make([]int, height)

	parallel.Line(height, func(start, end int) {
		for y := start; y < end; y++ {
			count := 0
			for x := 0; x < width; x++ {
				i := y*ra.Stride + x*4
				d := absDiffU8(ra.Pix[i], rb.Pix[i]) +
					absDiffU8(ra.Pix[i+1], rb.Pix[i+1]) +
					absDiffU8(ra.Pix[i+2], rb.Pix[i+2])

				cutoff := base
				if thresholds != nil {
					cutoff = thresholds[y][x]
				}

				o := y*mask.Stride + x*4
				if float64(d) > cutoff {
					mask.Pix[o] = 255
					mask.Pix[o+1] = 255
					mask.Pix[o+2] = 255
					count++
				}
				mask.Pix[o+3] = 255
			}
			rowCounts[y] = count
		}
	})

	total := 0
	for _, c := range rowCounts {
		total += c
	}

	return &DiffResult{
		Width:      width,
		Height:     height,
		DiffPixels: total,
		Mask:       mask,
	}, nil
}

// adaptiveThresholds derives a per-pixel cutoff from edge strength and local
// variance. See the Diff documentation for the classification rules.
func adaptiveThresholds(a, b *image.RGBA, width, height int, base float64) [][]float64 {
	lumA := luminancePlane(a, width, height)
	lumB := luminancePlane(b, width, height)
	edge := maxGradientPlane(lumA, lumB, width, height)
	variance := variancePlane(lumB, width, height)

	maxVariance := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if variance[y][x] > maxVariance {
				maxVariance = variance[y][x]
			}
		}
	}
	varianceCutoff := textVarianceFrac * maxVariance

	thresholds := make([][]float64, height)
	parallel.Line(height, func(start, end int) {
		for y := start; y < end; y++ {
			row := make([]float64, width)
			for x := 0; x < width; x++ {
				textLike := edge[y][x] > textEdgeFloor ||
					(maxVariance > 0 && variance[y][x] > varianceCutoff)
				if textLike {
					row[x] = base * textScale
				} else {
					row[x] = base * smoothScale
				}
			}
			thresholds[y] = row
		}
	})
	return thresholds
}

// luminancePlane converts an RGBA buffer to BT.601 luminance in 0..255.
func luminancePlane(img *image.RGBA, width, height int) [][]float64 {
	plane := make([][]float64, height)
	parallel.Line(height, func(start, end int) {
		for y := start; y < end; y++ {
			row := make([]float64, width)
			for x := 0; x < width; x++ {
				i := y*img.Stride + x*4
				row[x] = 0.299*float64(img.Pix[i]) +
					0.587*float64(img.Pix[i+1]) +
					0.114*float64(img.Pix[i+2])
			}
			plane[y] = row
		}
	})
	return plane
}

// sobelX detects horizontal intensity transitions; its transpose serves as
// the vertical kernel.
var sobelX = [3][3]float64{
	{-1, 0, 1},
	{-2, 0, 2},
	{-1, 0, 1},
}

// maxGradientPlane computes the Sobel gradient magnitude of both luminance
// planes and keeps the per-pixel maximum. Text present in either input must
// count as text: a line deleted from the second image still needs the tight
// threshold where it used to be.
func maxGradientPlane(lumA, lumB [][]float64, width, height int) [][]float64 {
	out := make([][]float64, height)
	parallel.Line(height, func(start, end int) {
		for y := start; y < end; y++ {
			row := make([]float64, width)
			for x := 0; x < width; x++ {
				ga := gradientAt(lumA, x, y, width, height)
				gb := gradientAt(lumB, x, y, width, height)
				row[x] = math.Max(ga, gb)
			}
			out[y] = row
		}
	})
	return out
}

// gradientAt returns the Sobel gradient magnitude at one pixel, with border
// samples clamped to the nearest valid pixel.
func gradientAt(lum [][]float64, x, y, width, height int) float64 {
	var gx, gy float64
	for ky := -1; ky <= 1; ky++ {
		for kx := -1; kx <= 1; kx++ {
			sy := clamp(y+ky, 0, height-1)
			sx := clamp(x+kx, 0, width-1)
			v := lum[sy][sx]
			gx += v * sobelX[ky+1][kx+1]
			gy += v * sobelX[kx+1][ky+1]
		}
	}
	return math.Sqrt(gx*gx + gy*gy)
}

// variancePlane measures local luminance variance over a square window,
// clipped at the image border.
func variancePlane(lum [][]float64, width, height int) [][]float64 {
	out := make([][]float64, height)
	parallel.Line(height, func(start, end int) {
		for y := start; y < end; y++ {
			row := make([]float64, width)
			for x := 0; x < width; x++ {
				var sum, sumSq float64
				n := 0
				for wy := y - varianceRadius; wy <= y+varianceRadius; wy++ {
					if wy < 0 || wy >= height {
						continue
					}
					for wx := x - varianceRadius; wx <= x+varianceRadius; wx++ {
						if wx < 0 || wx >= width {
							continue
						}
						v := lum[wy][wx]
						sum += v
						sumSq += v * v
						n++
					}
				}
				mean := sum / float64(n)
				row[x] = sumSq/float64(n) - mean*mean
			}
			out[y] = row
		}
	})
	return out
}

// absDiffU8 returns the absolute difference of two bytes as an int.
func absDiffU8(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// clamp restricts a value to the range [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
