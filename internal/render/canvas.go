package render

import (
	"image"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/manpreetbhatti/inkroom/internal/document"
)

const (
	previewPadding = 20
	maxPreviewSide = 4096
	emptyPreview   = 200
)

// Canvas is a raster document.Surface.
type Canvas struct {
	dc *gg.Context
}

var _ document.Surface = (*Canvas)(nil)

func New(width, height int) *Canvas {
	return &Canvas{dc: gg.NewContext(width, height)}
}

func (c *Canvas) Clear(background string) {
	c.dc.SetHexColor(background)
	c.dc.Clear()
}

func (c *Canvas) SetStroke(color string, width float64) {
	c.dc.SetHexColor(color)
	c.dc.SetLineWidth(math.Max(width, 1))
}

func (c *Canvas) SetDash(dashes ...float64) {
	c.dc.SetDash(dashes...)
}

func (c *Canvas) MoveTo(x, y float64) { c.dc.MoveTo(x, y) }

func (c *Canvas) LineTo(x, y float64) { c.dc.LineTo(x, y) }

func (c *Canvas) ClosePath() { c.dc.ClosePath() }

func (c *Canvas) Stroke() { c.dc.Stroke() }

func (c *Canvas) StrokeRect(x, y, w, h float64) {
	c.dc.DrawRectangle(x, y, w, h)
	c.dc.Stroke()
}

func (c *Canvas) StrokeCircle(cx, cy, r float64) {
	c.dc.DrawCircle(cx, cy, r)
	c.dc.Stroke()
}

func (c *Canvas) FillRect(x, y, w, h float64, color string) {
	c.dc.Push()
	defer c.dc.Pop()
	c.dc.SetHexColor(color)
	c.dc.DrawRectangle(x, y, w, h)
	c.dc.Fill()
}

// FillText draws with the text baseline at y.
func (c *Canvas) FillText(text string, x, y float64, color string) {
	c.dc.Push()
	defer c.dc.Pop()
	c.dc.SetHexColor(color)
	c.dc.DrawString(text, x, y)
}

func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

func (c *Canvas) EncodePNG(w io.Writer) error {
	return c.dc.EncodePNG(w)
}

// Preview renders a document onto a canvas sized to its content.
func Preview(doc *document.Document, dark bool) *Canvas {
	elements := doc.Elements()
	if len(elements) == 0 {
		c := New(emptyPreview, emptyPreview)
		doc.Render(c, dark)
		return c
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range elements {
		b := elements[i].Bounds()
		minX = math.Min(minX, b.X)
		minY = math.Min(minY, b.Y)
		maxX = math.Max(maxX, b.X+b.Width)
		maxY = math.Max(maxY, b.Y+b.Height)
	}

	w := clampSide(maxX - minX + 2*previewPadding)
	h := clampSide(maxY - minY + 2*previewPadding)

	c := New(w, h)
	c.dc.Translate(previewPadding-minX, previewPadding-minY)
	doc.Render(c, dark)
	return c
}

func clampSide(v float64) int {
	side := int(math.Ceil(v))
	if side < 1 {
		return 1
	}
	if side > maxPreviewSide {
		return maxPreviewSide
	}
	return side
}
