package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
)

// OverlayBox pairs a rectangle with the label drawn at its top-left corner.
type OverlayBox struct {
	Rect  image.Rectangle
	Label string
}

// OverlayResult contains the annotated image
type OverlayResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
	BoxCount    int    `json:"box_count"`
}

// Overlay draws labeled rectangles onto a copy of an image.
//
// Box coordinates are offsets from the image's top-left corner, matching the
// coordinate space of diff masks and detected regions. Outlines are two
// pixels wide; labels use a small built-in digit font, so line indexes render
// without pulling in a font library. An unparseable color falls back to
// semi-transparent red.
func Overlay(img image.Image, boxes []OverlayBox, colorHex string) (*OverlayResult, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	boxColor, err := parseHexColor(colorHex)
	if err != nil {
		boxColor = color.RGBA{255, 0, 0, 128} // Default: semi-transparent red
	}

	result := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(result, result.Bounds(), img, bounds.Min, draw.Src)

	labelColor := color.RGBA{255, 255, 255, 255}
	labelBg := color.RGBA{0, 0, 0, 180}

	for _, box := range boxes {
		drawRectOutline(result, box.Rect, boxColor)
		if box.Label != "" {
			drawLabel(result, box.Rect.Min.X+2, box.Rect.Min.Y+2, box.Label, labelColor, labelBg)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, result); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &OverlayResult{
		Width:       width,
		Height:      height,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
		BoxCount:    len(boxes),
	}, nil
}

// drawRectOutline draws a two-pixel rectangle outline, clipped to the image.
func drawRectOutline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	bounds := img.Bounds()
	for t := 0; t < 2; t++ {
		top := r.Min.Y + t
		bottom := r.Max.Y - 1 - t
		for x := r.Min.X; x < r.Max.X; x++ {
			if x < bounds.Min.X || x >= bounds.Max.X {
				continue
			}
			if top >= bounds.Min.Y && top < bounds.Max.Y {
				img.Set(x, top, c)
			}
			if bottom >= bounds.Min.Y && bottom < bounds.Max.Y {
				img.Set(x, bottom, c)
			}
		}

		left := r.Min.X + t
		right := r.Max.X - 1 - t
		for y := r.Min.Y; y < r.Max.Y; y++ {
			if y < bounds.Min.Y || y >= bounds.Max.Y {
				continue
			}
			if left >= bounds.Min.X && left < bounds.Max.X {
				img.Set(left, y, c)
			}
			if right >= bounds.Min.X && right < bounds.Max.X {
				img.Set(right, y, c)
			}
		}
	}
}

// parseHexColor parses a hex color string like "#FF0000" or "#FF000080"
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}

// drawLabel draws a simple text label at the given position
// This is a basic implementation - for production, consider using a font library
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	// Simple 3x5 pixel font for digits and comma
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
		',': {"000", "000", "000", "010", "010"},
	}

	bounds := img.Bounds()
	charWidth := 4
	labelWidth := len(text) * charWidth
	labelHeight := 7

	// Draw background
	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			px, py := x+dx, y+dy
			if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
				img.Set(px, py, bg)
			}
		}
	}

	// Draw text
	cx := x
	for _, ch := range text {
		glyph, ok := glyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, line := range glyph {
			for col, pixel := range line {
				if pixel == '1' {
					px, py := cx+col, y+row
					if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
						img.Set(px, py, fg)
					}
				}
			}
		}
		cx += charWidth
	}
}
