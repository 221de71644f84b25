package document

import "math"

type Corner int

const (
	NoCorner Corner = iota
	TopLeft
	TopRight
	BottomLeft
	BottomRight
)

func (c Corner) String() string {
	switch c {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomLeft:
		return "bottom-left"
	case BottomRight:
		return "bottom-right"
	}
	return "none"
}

const (
	HandleSize = 8.0

	// Gap between an element's bounds and its selection box
	SelectionInset = 5.0

	handleTolerance = 5.0
)

// Document is the ordered element collection of one open room view.
// Insertion order is z-order: later elements draw on top and are hit first.
// It is not safe for concurrent use.
type Document struct {
	elements []*Element
	selected string
}

func New(elements []Element) *Document {
	d := &Document{}
	d.Reset(elements)
	return d
}

// Reset replaces the whole element sequence with a copy of elements and
// drops the selection.
func (d *Document) Reset(elements []Element) {
	d.elements = make([]*Element, len(elements))
	for i := range elements {
		e := elements[i].Clone()
		d.elements[i] = &e
	}
	d.selected = ""
}

// Elements returns a deep copy of the sequence.
func (d *Document) Elements() []Element {
	out := make([]Element, len(d.elements))
	for i, e := range d.elements {
		out[i] = e.Clone()
	}
	return out
}

func (d *Document) Len() int {
	return len(d.elements)
}

func (d *Document) index(id string) int {
	for i, e := range d.elements {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the live element with the given id. Mutations through the
// pointer are visible to the document.
func (d *Document) Get(id string) *Element {
	if i := d.index(id); i >= 0 {
		return d.elements[i]
	}
	return nil
}

func (d *Document) Insert(e Element) {
	c := e.Clone()
	d.elements = append(d.elements, &c)
}

// Replace swaps the element with the same id in place. Unknown ids are ignored.
func (d *Document) Replace(id string, e Element) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	c := e.Clone()
	d.elements[i] = &c
	if d.selected == id && c.ID != id {
		d.selected = c.ID
	}
	return true
}

// Remove deletes by id. Unknown ids are ignored.
func (d *Document) Remove(id string) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.elements = append(d.elements[:i], d.elements[i+1:]...)
	if d.selected == id {
		d.selected = ""
	}
	return true
}

// HitTest returns the top-most element containing the point, or nil.
func (d *Document) HitTest(x, y float64) *Element {
	for i := len(d.elements) - 1; i >= 0; i-- {
		if d.elements[i].Contains(x, y) {
			return d.elements[i]
		}
	}
	return nil
}

func (d *Document) Select(id string) bool {
	if d.index(id) < 0 {
		return false
	}
	d.selected = id
	return true
}

func (d *Document) ClearSelection() {
	d.selected = ""
}

func (d *Document) Selected() *Element {
	if d.selected == "" {
		return nil
	}
	return d.Get(d.selected)
}

// SelectionBox is the dashed rectangle drawn around a selected element.
func SelectionBox(e *Element) Rect {
	b := e.Bounds()
	return Rect{
		X:      b.X - SelectionInset,
		Y:      b.Y - SelectionInset,
		Width:  b.Width + 2*SelectionInset,
		Height: b.Height + 2*SelectionInset,
	}
}

// HandleCenters returns the corner handle positions of the selection box.
func HandleCenters(e *Element) map[Corner]Point {
	box := SelectionBox(e)
	return map[Corner]Point{
		TopLeft:     {box.X, box.Y},
		TopRight:    {box.X + box.Width, box.Y},
		BottomLeft:  {box.X, box.Y + box.Height},
		BottomRight: {box.X + box.Width, box.Y + box.Height},
	}
}

// ResizeHandleAt reports which corner handle of e, if any, is under the point.
func ResizeHandleAt(x, y float64, e *Element) Corner {
	centers := HandleCenters(e)
	for _, c := range []Corner{TopLeft, TopRight, BottomLeft, BottomRight} {
		p := centers[c]
		if math.Abs(x-p.X) < HandleSize+handleTolerance && math.Abs(y-p.Y) < HandleSize+handleTolerance {
			return c
		}
	}
	return NoCorner
}
