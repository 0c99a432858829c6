package pdfops

import (
	"fmt"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Rect is a placement rectangle in page fractions with a top-left origin,
// as supplied by callers (x, y, width, height all in [0,1]).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the rectangle lies within the page.
func (r Rect) Valid() bool {
	return r.Width > 0 && r.Height > 0 &&
		r.X >= 0 && r.Y >= 0 &&
		r.X+r.Width <= 1 && r.Y+r.Height <= 1
}

// Placement is a rectangle in PDF user space (points, bottom-left origin).
type Placement struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// PlaceOnPage converts a fractional top-left rectangle into PDF user space.
// PDF coordinates grow upward, so the vertical axis flips around the full
// rectangle: pdfY = pageH - (y+height)*pageH.
func PlaceOnPage(r Rect, pageWidth, pageHeight float64) Placement {
	return Placement{
		X:      r.X * pageWidth,
		Y:      pageHeight - (r.Y+r.Height)*pageHeight,
		Width:  r.Width * pageWidth,
		Height: r.Height * pageHeight,
	}
}

// Compositor overlays raster images onto PDF pages via pdfcpu.
type Compositor struct{}

// NewCompositor builds a compositor.
func NewCompositor() *Compositor {
	return &Compositor{}
}

// StampImage embeds imagePath onto the given 1-indexed page of pdfPath at
// the fractional rectangle and re-serializes the PDF to outPath. The image
// is scaled so its width fills the rectangle; pdfcpu preserves the image's
// aspect ratio, so the rendered height follows the image and the
// rectangle's height only anchors the vertical offset. imagePixelWidth is
// the image's natural raster width.
func (c *Compositor) StampImage(pdfPath, outPath, imagePath string, page int, rect Rect, imagePixelWidth int) error {
	if page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", page)
	}
	if !rect.Valid() {
		return fmt.Errorf("rectangle out of page bounds: %+v", rect)
	}
	if imagePixelWidth <= 0 {
		return fmt.Errorf("image pixel width must be > 0, got %d", imagePixelWidth)
	}
	dims, err := api.PageDimsFile(pdfPath)
	if err != nil {
		return fmt.Errorf("page dims: %w", err)
	}
	if page > len(dims) {
		return fmt.Errorf("page %d out of range, document has %d pages", page, len(dims))
	}
	dim := dims[page-1]
	placement := PlaceOnPage(rect, dim.Width, dim.Height)

	// pdfcpu renders an image watermark at its natural size (1px = 1pt)
	// times the absolute scale factor, anchored at pos plus offset.
	scale := placement.Width / float64(imagePixelWidth)
	desc := fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:%.4f abs, rot:0", placement.X, placement.Y, scale)
	wm, err := api.ImageWatermark(imagePath, desc, true, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("build watermark: %w", err)
	}
	if err := api.AddWatermarksFile(pdfPath, outPath, []string{strconv.Itoa(page)}, wm, nil); err != nil {
		return fmt.Errorf("stamp image: %w", err)
	}
	return nil
}
