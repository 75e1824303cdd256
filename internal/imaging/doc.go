// Package imaging provides the pixel-level operations of the diff pipeline.
//
// This package implements loading and caching of screenshot pairs, the pixel
// diff that turns two equally sized images into a binary change mask,
// padded cropping of detected line boxes, PNG/base64 encoding for wire
// payloads, and annotated overlays for visual inspection. All operations
// work with standard Go image.Image types.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// Diff masks and overlay boxes always use a (0,0) origin even when an input
// carries offset bounds; pixels are compared relative to each image's
// top-left corner.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. Individual image operations
// are stateless and can be called concurrently on different images. Operations
// on the same image should be synchronized by the caller if the image is mutable.
//
// # Determinism
//
// Diff runs in parallel across rows, but every pixel decision depends only on
// the inputs and options, never on scheduling, so repeated runs over the same
// pair produce byte-identical masks and counts.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Image pairs whose dimensions differ (ErrDimensionMismatch)
//   - Crop regions falling entirely outside the image
//   - File I/O errors during image loading
//   - Encoding errors during image output
//
// # Performance Considerations
//
// For repeated operations on the same pair, use ImageCache to avoid redundant
// disk reads. Adaptive diffing computes two luminance planes, two Sobel
// passes and a windowed variance, roughly 50 arithmetic operations per pixel;
// disable DiffOptions.Adaptive when comparing synthetic images with flat
// backgrounds.
package imaging
