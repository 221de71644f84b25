package document

const (
	Black = "#000000"
	White = "#ffffff"

	lightBackground = White
	darkBackground  = "#1f2937"
	selectionColor  = "#007bff"
)

// Surface is the minimal 2D drawing target the document renders onto.
type Surface interface {
	Clear(background string)
	SetStroke(color string, width float64)
	SetDash(dashes ...float64)
	MoveTo(x, y float64)
	LineTo(x, y float64)
	ClosePath()
	Stroke()
	StrokeRect(x, y, w, h float64)
	StrokeCircle(cx, cy, r float64)
	FillRect(x, y, w, h float64, color string)
	FillText(text string, x, y float64, color string)
}

// DefaultStroke is the stroke color given to new elements.
func DefaultStroke(dark bool) string {
	if dark {
		return White
	}
	return Black
}

// StrokeFor applies the dark mode override: pure black becomes pure white.
func StrokeFor(color string, dark bool) string {
	if dark && color == Black {
		return White
	}
	return color
}

// Render clears the surface and draws every element in z-order, then the
// selection box if something is selected.
func (d *Document) Render(s Surface, dark bool) {
	bg := lightBackground
	if dark {
		bg = darkBackground
	}
	s.Clear(bg)

	for _, e := range d.elements {
		DrawElement(s, e, dark)
	}
	if sel := d.Selected(); sel != nil {
		DrawSelection(s, sel)
	}
}

// RenderPreview renders the document with an uncommitted element on top.
func (d *Document) RenderPreview(s Surface, preview *Element, dark bool) {
	d.Render(s, dark)
	if preview != nil {
		DrawElement(s, preview, dark)
	}
}

func DrawElement(s Surface, e *Element, dark bool) {
	color := StrokeFor(e.StrokeColor, dark)
	s.SetStroke(color, e.StrokeWidth)

	switch e.Type {
	case Rectangle:
		if e.Width != 0 && e.Height != 0 {
			s.StrokeRect(e.X, e.Y, e.Width, e.Height)
		}
	case Circle:
		if e.Radius > 0 {
			s.StrokeCircle(e.X, e.Y, e.Radius)
		}
	case Diamond:
		if e.Width != 0 && e.Height != 0 {
			cx, cy := e.X+e.Width/2, e.Y+e.Height/2
			s.MoveTo(cx, e.Y)
			s.LineTo(e.X+e.Width, cy)
			s.LineTo(cx, e.Y+e.Height)
			s.LineTo(e.X, cy)
			s.ClosePath()
			s.Stroke()
		}
	case Line:
		s.MoveTo(e.X, e.Y)
		s.LineTo(e.EndX, e.EndY)
		s.Stroke()
	case Arrow:
		s.MoveTo(e.X, e.Y)
		s.LineTo(e.EndX, e.EndY)
		s.Stroke()

		left, right := e.ArrowHead()
		s.MoveTo(e.EndX, e.EndY)
		s.LineTo(left.X, left.Y)
		s.MoveTo(e.EndX, e.EndY)
		s.LineTo(right.X, right.Y)
		s.Stroke()
	case Pencil:
		if len(e.Points) > 1 {
			s.MoveTo(e.Points[0].X, e.Points[0].Y)
			for _, p := range e.Points[1:] {
				s.LineTo(p.X, p.Y)
			}
			s.Stroke()
		}
	case Text:
		if e.Text != "" {
			s.FillText(e.Text, e.X, e.Y, color)
		}
	}
}

func DrawSelection(s Surface, e *Element) {
	box := SelectionBox(e)

	s.SetStroke(selectionColor, 2)
	s.SetDash(5, 5)
	s.StrokeRect(box.X, box.Y, box.Width, box.Height)
	s.SetDash()

	for _, p := range HandleCenters(e) {
		s.FillRect(p.X-HandleSize/2, p.Y-HandleSize/2, HandleSize, HandleSize, selectionColor)
	}
}
