package document

import (
	"encoding/json"
	"fmt"
	"math"
)

type Kind string

const (
	Rectangle Kind = "rectangle"
	Diamond   Kind = "diamond"
	Circle    Kind = "circle"
	Line      Kind = "line"
	Arrow     Kind = "arrow"
	Pencil    Kind = "pencil"
	Text      Kind = "text"
)

func (k Kind) Valid() bool {
	switch k {
	case Rectangle, Diamond, Circle, Line, Arrow, Pencil, Text:
		return true
	}
	return false
}

const (
	// Distance within which a line, arrow or pencil stroke is hit
	StrokeTolerance = 5.0

	TextBoxWidth  = 100.0
	TextBoxHeight = 20.0

	ArrowHeadLength = 20.0

	// Resizes that would bring a side to this length or less are rejected
	MinResizeSide = 5.0
	MinRadius     = 5.0
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is one drawable object. Which geometry fields are meaningful
// depends on Type.
type Element struct {
	Type        Kind
	ID          string
	X, Y        float64
	Width       float64
	Height      float64
	Radius      float64
	EndX, EndY  float64
	Points      []Point
	Text        string
	StrokeColor string
	FillColor   string
	StrokeWidth float64
}

type wireElement struct {
	Type        Kind     `json:"type"`
	ID          string   `json:"id"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Radius      *float64 `json:"radius,omitempty"`
	EndX        *float64 `json:"endX,omitempty"`
	EndY        *float64 `json:"endY,omitempty"`
	Points      []Point  `json:"points,omitempty"`
	Text        *string  `json:"text,omitempty"`
	StrokeColor string   `json:"strokeColor"`
	FillColor   string   `json:"fillColor,omitempty"`
	StrokeWidth float64  `json:"strokeWidth"`
}

// MarshalJSON emits exactly the geometry fields of the element's kind.
func (e Element) MarshalJSON() ([]byte, error) {
	w := wireElement{
		Type:        e.Type,
		ID:          e.ID,
		X:           e.X,
		Y:           e.Y,
		StrokeColor: e.StrokeColor,
		FillColor:   e.FillColor,
		StrokeWidth: e.StrokeWidth,
	}
	switch e.Type {
	case Rectangle, Diamond:
		w.Width, w.Height = &e.Width, &e.Height
	case Circle:
		w.Radius = &e.Radius
	case Line, Arrow:
		w.EndX, w.EndY = &e.EndX, &e.EndY
	case Pencil:
		w.Points = e.Points
		if w.Points == nil {
			w.Points = []Point{}
		}
	case Text:
		w.Text = &e.Text
	}
	return json.Marshal(w)
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var w wireElement
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return fmt.Errorf("unknown element type %q", w.Type)
	}
	if w.ID == "" {
		return fmt.Errorf("%s element has no id", w.Type)
	}
	*e = Element{
		Type:        w.Type,
		ID:          w.ID,
		X:           w.X,
		Y:           w.Y,
		Width:       deref(w.Width),
		Height:      deref(w.Height),
		Radius:      deref(w.Radius),
		Points:      w.Points,
		StrokeColor: w.StrokeColor,
		FillColor:   w.FillColor,
		StrokeWidth: w.StrokeWidth,
	}
	if w.Text != nil {
		e.Text = *w.Text
	}
	if e.Type == Line || e.Type == Arrow {
		// A line without an end point collapses onto its anchor
		e.EndX, e.EndY = e.X, e.Y
		if w.EndX != nil {
			e.EndX = *w.EndX
		}
		if w.EndY != nil {
			e.EndY = *w.EndY
		}
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Clone returns a deep copy.
func (e Element) Clone() Element {
	if e.Points != nil {
		pts := make([]Point, len(e.Points))
		copy(pts, e.Points)
		e.Points = pts
	}
	return e
}

func CloneElements(elements []Element) []Element {
	out := make([]Element, len(elements))
	for i, e := range elements {
		out[i] = e.Clone()
	}
	return out
}

type Rect struct {
	X, Y, Width, Height float64
}

// Bounds is the axis-aligned box used for selection and resize handles.
func (e *Element) Bounds() Rect {
	switch e.Type {
	case Rectangle, Diamond:
		return normalize(e.X, e.Y, e.Width, e.Height)
	case Circle:
		if e.Radius > 0 {
			return Rect{e.X - e.Radius, e.Y - e.Radius, e.Radius * 2, e.Radius * 2}
		}
	case Line, Arrow:
		return Rect{
			X:      math.Min(e.X, e.EndX),
			Y:      math.Min(e.Y, e.EndY),
			Width:  math.Abs(e.EndX - e.X),
			Height: math.Abs(e.EndY - e.Y),
		}
	case Text:
		// Text is drawn with its baseline at the anchor
		return Rect{e.X, e.Y - TextBoxHeight, TextBoxWidth, TextBoxHeight}
	case Pencil:
		if len(e.Points) > 0 {
			minX, minY := e.Points[0].X, e.Points[0].Y
			maxX, maxY := minX, minY
			for _, p := range e.Points[1:] {
				minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
				minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
			}
			return Rect{minX, minY, maxX - minX, maxY - minY}
		}
	}
	return Rect{X: e.X, Y: e.Y}
}

func normalize(x, y, w, h float64) Rect {
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	return Rect{x, y, w, h}
}

func (r Rect) contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Contains runs the kind-specific hit test for a point.
func (e *Element) Contains(x, y float64) bool {
	switch e.Type {
	case Rectangle, Diamond:
		// Zero-size shapes stay invisible and cannot be picked
		if e.Width == 0 || e.Height == 0 {
			return false
		}
		return e.Bounds().contains(x, y)
	case Circle:
		if e.Radius <= 0 {
			return false
		}
		return math.Hypot(x-e.X, y-e.Y) <= e.Radius
	case Line, Arrow:
		return distanceToSegment(x, y, e.X, e.Y, e.EndX, e.EndY) <= StrokeTolerance
	case Pencil:
		for _, p := range e.Points {
			if math.Hypot(x-p.X, y-p.Y) <= StrokeTolerance {
				return true
			}
		}
	case Text:
		return e.Bounds().contains(x, y)
	}
	return false
}

func distanceToSegment(px, py, x1, y1, x2, y2 float64) float64 {
	cx, cy := x2-x1, y2-y1
	lenSq := cx*cx + cy*cy

	t := -1.0
	if lenSq != 0 {
		t = ((px-x1)*cx + (py-y1)*cy) / lenSq
	}

	var xx, yy float64
	switch {
	case t < 0:
		xx, yy = x1, y1
	case t > 1:
		xx, yy = x2, y2
	default:
		xx, yy = x1+t*cx, y1+t*cy
	}
	return math.Hypot(px-xx, py-yy)
}

// Move translates the anchor and every coordinate that depends on it.
func (e *Element) Move(dx, dy float64) {
	e.X += dx
	e.Y += dy
	switch e.Type {
	case Line, Arrow:
		e.EndX += dx
		e.EndY += dy
	case Pencil:
		for i := range e.Points {
			e.Points[i].X += dx
			e.Points[i].Y += dy
		}
	}
}

// Resize drags one corner by (dx, dy) while the opposite corner stays put.
// It reports whether the geometry changed.
func (e *Element) Resize(c Corner, dx, dy float64) bool {
	switch e.Type {
	case Rectangle, Diamond:
		if dx == 0 && dy == 0 {
			return false
		}
		// Corners are visual, so work on the normalized box
		b := normalize(e.X, e.Y, e.Width, e.Height)
		x, y, w, h := b.X, b.Y, b.Width, b.Height
		switch c {
		case TopLeft:
			w, h = w-dx, h-dy
			x, y = x+dx, y+dy
		case TopRight:
			w, h = w+dx, h-dy
			y += dy
		case BottomLeft:
			w, h = w-dx, h+dy
			x += dx
		case BottomRight:
			w, h = w+dx, h+dy
		default:
			return false
		}
		if math.Abs(w) <= MinResizeSide || math.Abs(h) <= MinResizeSide {
			return false
		}
		e.X, e.Y, e.Width, e.Height = x, y, w, h
		return true

	case Circle:
		if e.Radius <= 0 || c == NoCorner {
			return false
		}
		direction := 1.0
		if c == TopLeft || c == BottomLeft {
			direction = -1
		}
		e.Radius = math.Max(MinRadius, e.Radius+direction*math.Hypot(dx, dy)/2)
		return true

	case Line, Arrow:
		switch c {
		case TopLeft:
			e.X += dx
			e.Y += dy
			return true
		case BottomRight:
			e.EndX += dx
			e.EndY += dy
			return true
		}
	}
	return false
}

// ArrowHead returns the two barb tips drawn from the end point of an arrow.
func (e *Element) ArrowHead() (Point, Point) {
	angle := math.Atan2(e.EndY-e.Y, e.EndX-e.X)
	left := Point{
		X: e.EndX - ArrowHeadLength*math.Cos(angle-math.Pi/6),
		Y: e.EndY - ArrowHeadLength*math.Sin(angle-math.Pi/6),
	}
	right := Point{
		X: e.EndX - ArrowHeadLength*math.Cos(angle+math.Pi/6),
		Y: e.EndY - ArrowHeadLength*math.Sin(angle+math.Pi/6),
	}
	return left, right
}
