package ocr

import (
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/ironsheep/image-diff-mcp/internal/detection"
	"github.com/ironsheep/image-diff-mcp/internal/imaging"
)

// LineJob is one unit of recognition work: the cropped image of a single
// changed text line, ready for submission.
type LineJob struct {
	// Index is the line's reading-order position, copied from the group.
	Index int

	// Hint is optional expected-content wording forwarded to the service.
	Hint string

	// ImageData is the base64-encoded PNG crop of the line.
	ImageData string

	// ImageName is a unique diagnostic name for the submission.
	ImageName string
}

// CropOptions controls how line boxes are cut from the source image.
type CropOptions struct {
	// Padding is added on every side of the line box before cropping,
	// clipped at the image border.
	Padding int

	// Scale resizes the crop; values above 1 upsample small text for
	// better recognition. 1.0 leaves the crop untouched.
	Scale float64
}

// DefaultCropOptions returns the standard line-crop parameters.
func DefaultCropOptions() CropOptions {
	return CropOptions{Padding: 4, Scale: 1.0}
}

// JobsFromLines crops each line group out of the source image and packages
// the crops as submission-ready jobs.
//
// The source is the after-side of the diff: recognition wants the new text,
// not the old. Hints are matched to lines by index; missing entries mean no
// hint. Job image names embed the line index and a random suffix so retried
// submissions remain distinguishable in service logs.
func JobsFromLines(src image.Image, groups []detection.LineGroup, hints []string, opts CropOptions) ([]LineJob, error) {
	if src == nil {
		return nil, fmt.Errorf("source image is required")
	}

	jobs := make([]LineJob, 0, len(groups))
	for _, g := range groups {
		crop, err := imaging.CropPadded(src, g.Box.Rect(), opts.Padding, opts.Scale)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", g.Index, err)
		}
		data, err := imaging.EncodePNGBase64(crop)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", g.Index, err)
		}

		hint := ""
		if g.Index >= 0 && g.Index < len(hints) {
			hint = hints[g.Index]
		}

		jobs = append(jobs, LineJob{
			Index:     g.Index,
			Hint:      hint,
			ImageData: data,
			ImageName: fmt.Sprintf("line-%03d-%s.png", g.Index, shortID()),
		})
	}
	return jobs, nil
}

// shortID returns a short random suffix for diagnostic names.
func shortID() string {
	return uuid.NewString()[:8]
}
