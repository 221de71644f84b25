package session

import (
	"encoding/json"
	"log"
	"math"
	"reflect"

	"github.com/google/uuid"
	"github.com/manpreetbhatti/inkroom/internal/document"
	"github.com/manpreetbhatti/inkroom/internal/history"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

type Tool string

const (
	ToolSelect    Tool = "select"
	ToolRectangle Tool = "rectangle"
	ToolCircle    Tool = "circle"
	ToolDiamond   Tool = "diamond"
	ToolArrow     Tool = "arrow"
	ToolLine      Tool = "line"
	ToolPencil    Tool = "pencil"
	ToolText      Tool = "text"
	ToolEraser    Tool = "eraser"
)

// Mode is the pointer interaction in progress. Exactly one holds at a time.
type Mode int

const (
	Idle Mode = iota
	Drawing
	Dragging
	Resizing
	Erasing
)

func (m Mode) String() string {
	switch m {
	case Drawing:
		return "drawing"
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	case Erasing:
		return "erasing"
	}
	return "idle"
}

const defaultStrokeWidth = 2

// Outbox receives every event the view wants broadcast to the room.
type Outbox interface {
	Send(m *protocol.Message)
}

// Observers are optional callbacks fired synchronously from the view.
type Observers struct {
	OnChange   func(elements []document.Element, cursor int)
	OnPresence func(count int)
	OnChat     func(userID, message string)
	OnNotice   func(message string)
}

// View is the local model of one open room: document, history and pointer
// state. It is not safe for concurrent use; Session serializes access.
type View struct {
	roomID protocol.RoomID
	out    Outbox
	obs    Observers

	doc  *document.Document
	hist *history.History

	tool Tool
	dark bool
	mode Mode

	// Drawing
	draft          *document.Element
	startX, startY float64

	// Dragging and resizing
	before           *document.Element
	corner           document.Corner
	lastX, lastY     float64
	offsetX, offsetY float64

	// Erasing
	erased int

	newID func() string
}

func NewView(roomID protocol.RoomID, out Outbox, initial []document.Element) *View {
	return &View{
		roomID: roomID,
		out:    out,
		doc:    document.New(initial),
		hist:   history.New(initial),
		tool:   ToolSelect,
		newID:  uuid.NewString,
	}
}

func (v *View) SetObservers(obs Observers) {
	v.obs = obs
}

func (v *View) RoomID() protocol.RoomID { return v.roomID }

func (v *View) Tool() Tool { return v.tool }

func (v *View) Mode() Mode { return v.mode }

func (v *View) Dark() bool { return v.dark }

func (v *View) Cursor() int { return v.hist.Cursor() }

func (v *View) HistoryLen() int { return v.hist.Len() }

// Elements returns a deep copy of the document.
func (v *View) Elements() []document.Element {
	return v.doc.Elements()
}

func (v *View) Selected() *document.Element {
	if sel := v.doc.Selected(); sel != nil {
		c := sel.Clone()
		return &c
	}
	return nil
}

// Draft is the element being drawn, not yet part of the document.
func (v *View) Draft() *document.Element {
	if v.draft == nil {
		return nil
	}
	c := v.draft.Clone()
	return &c
}

func (v *View) Render(s document.Surface) {
	v.doc.RenderPreview(s, v.draft, v.dark)
}

// Hydrate replaces the whole local state with authoritative elements. Any
// in-progress interaction and unsent local state is discarded.
func (v *View) Hydrate(roomID protocol.RoomID, elements []document.Element) {
	v.roomID = roomID
	v.cancel()
	v.doc.Reset(elements)
	v.hist.Reset(elements)
	v.changed()
}

func (v *View) SetDarkMode(dark bool) {
	v.dark = dark
}

// SetTool drops the selection and abandons any interaction in progress.
func (v *View) SetTool(t Tool) {
	v.cancel()
	v.doc.ClearSelection()
	v.tool = t
}

func (v *View) send(m *protocol.Message) {
	if v.out != nil {
		v.out.Send(m)
	}
}

func (v *View) changed() {
	if v.obs.OnChange != nil {
		v.obs.OnChange(v.doc.Elements(), v.hist.Cursor())
	}
}

func (v *View) commit() {
	v.hist.Commit(v.doc.Elements())
	v.changed()
}

func (v *View) sendDrawing(e *document.Element) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("⚠️ Failed to encode element %s: %v", e.ID, err)
		return
	}
	v.send(&protocol.Message{Type: protocol.TypeDrawing, RoomID: v.roomID, Message: string(data)})
}

func (v *View) sendUpdated(e *document.Element) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("⚠️ Failed to encode element %s: %v", e.ID, err)
		return
	}
	v.send(&protocol.Message{Type: protocol.TypeElementUpdated, RoomID: v.roomID, Element: data})
}

func (v *View) sendSnapshot(t protocol.MessageType, elements []document.Element) {
	data, err := json.Marshal(elements)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s snapshot: %v", t, err)
		return
	}
	v.send(protocol.NewSnapshot(t, v.roomID, data))
}

func (v *View) newElement(kind document.Kind, x, y float64) *document.Element {
	e := &document.Element{
		Type:        kind,
		ID:          v.newID(),
		X:           x,
		Y:           y,
		StrokeColor: document.DefaultStroke(v.dark),
		StrokeWidth: defaultStrokeWidth,
	}
	switch kind {
	case document.Line, document.Arrow:
		e.EndX, e.EndY = x, y
	case document.Pencil:
		e.Points = []document.Point{{X: x, Y: y}}
	}
	return e
}

func drawingKind(t Tool) (document.Kind, bool) {
	switch t {
	case ToolRectangle:
		return document.Rectangle, true
	case ToolCircle:
		return document.Circle, true
	case ToolDiamond:
		return document.Diamond, true
	case ToolArrow:
		return document.Arrow, true
	case ToolLine:
		return document.Line, true
	case ToolPencil:
		return document.Pencil, true
	}
	return "", false
}

// Pointer input

func (v *View) PointerDown(x, y float64) {
	if v.mode != Idle {
		return
	}

	switch v.tool {
	case ToolSelect:
		v.pressSelect(x, y)
	case ToolEraser:
		v.mode = Erasing
		if v.eraseAt(x, y) {
			v.commit()
		}
	case ToolText:
		// text is placed through EnterText
	default:
		kind, ok := drawingKind(v.tool)
		if !ok {
			return
		}
		v.mode = Drawing
		v.startX, v.startY = x, y
		v.draft = v.newElement(kind, x, y)
	}
}

func (v *View) pressSelect(x, y float64) {
	if sel := v.doc.Selected(); sel != nil {
		if corner := document.ResizeHandleAt(x, y, sel); corner != document.NoCorner {
			v.beginEdit(sel, x, y)
			v.mode = Resizing
			v.corner = corner
			return
		}
		if sel.Contains(x, y) {
			v.beginEdit(sel, x, y)
			v.mode = Dragging
			v.offsetX, v.offsetY = x-sel.X, y-sel.Y
			return
		}
	}

	if hit := v.doc.HitTest(x, y); hit != nil {
		v.doc.Select(hit.ID)
	} else {
		v.doc.ClearSelection()
	}
}

func (v *View) beginEdit(sel *document.Element, x, y float64) {
	before := sel.Clone()
	v.before = &before
	v.lastX, v.lastY = x, y
}

func (v *View) PointerMove(x, y float64) {
	switch v.mode {
	case Erasing:
		if v.eraseAt(x, y) {
			v.erased++
		}

	case Resizing:
		if sel := v.doc.Selected(); sel != nil {
			sel.Resize(v.corner, x-v.lastX, y-v.lastY)
		}
		v.lastX, v.lastY = x, y

	case Dragging:
		if sel := v.doc.Selected(); sel != nil {
			sel.Move(x-v.offsetX-sel.X, y-v.offsetY-sel.Y)
		}

	case Drawing:
		v.extendDraft(x, y)
	}
}

func (v *View) extendDraft(x, y float64) {
	d := v.draft
	switch d.Type {
	case document.Pencil:
		if last := d.Points[len(d.Points)-1]; last.X != x || last.Y != y {
			d.Points = append(d.Points, document.Point{X: x, Y: y})
		}
	case document.Line, document.Arrow:
		d.EndX, d.EndY = x, y
	case document.Rectangle, document.Diamond:
		d.Width, d.Height = x-v.startX, y-v.startY
	case document.Circle:
		d.Radius = math.Hypot(x-v.startX, y-v.startY)
	}
}

// PointerUp finishes the interaction at (x, y) and commits it.
func (v *View) PointerUp(x, y float64) {
	v.PointerMove(x, y)

	switch v.mode {
	case Erasing:
		if v.erased > 0 {
			v.commit()
		}

	case Dragging, Resizing:
		sel := v.doc.Selected()
		if sel != nil && v.before != nil && !reflect.DeepEqual(*sel, *v.before) {
			v.commit()
			v.sendUpdated(sel)
		}

	case Drawing:
		e := *v.draft
		v.doc.Insert(e)
		v.draft = nil
		v.commit()
		v.sendDrawing(&e)
	}

	v.reset()
}

// PointerLeave ends the interaction without a release. Drafts and drags are
// abandoned; erasures already sent are committed.
func (v *View) PointerLeave() {
	if v.mode == Erasing && v.erased > 0 {
		v.commit()
	}
	v.cancel()
}

// cancel abandons the interaction in progress, restoring a dragged element.
func (v *View) cancel() {
	if (v.mode == Dragging || v.mode == Resizing) && v.before != nil {
		v.doc.Replace(v.before.ID, *v.before)
	}
	v.reset()
}

func (v *View) reset() {
	v.mode = Idle
	v.draft = nil
	v.before = nil
	v.corner = document.NoCorner
	v.erased = 0
}

// eraseAt removes the top-most element under the point and broadcasts it.
func (v *View) eraseAt(x, y float64) bool {
	hit := v.doc.HitTest(x, y)
	if hit == nil {
		return false
	}
	id := hit.ID
	v.doc.Remove(id)
	v.send(&protocol.Message{Type: protocol.TypeElementRemoved, RoomID: v.roomID, ElementID: id})
	v.changed()
	return true
}

// Text

// EnterText places a new text element with its baseline at (x, y).
func (v *View) EnterText(x, y float64, text string) {
	if text == "" {
		return
	}
	e := v.newElement(document.Text, x, y)
	e.Text = text
	v.doc.Insert(*e)
	v.commit()
	v.sendDrawing(e)
}

// EditText replaces the text of the selected text element.
func (v *View) EditText(text string) bool {
	sel := v.doc.Selected()
	if sel == nil || sel.Type != document.Text || v.mode != Idle {
		return false
	}
	sel.Text = text
	v.commit()
	v.sendUpdated(sel)
	return true
}

// History

func (v *View) Undo() {
	if !v.hist.CanUndo() {
		return
	}
	elements, _ := v.hist.Undo()
	v.cancel()
	v.doc.Reset(elements)
	v.changed()
	v.sendSnapshot(protocol.TypeUndo, elements)
}

func (v *View) Redo() {
	elements, ok := v.hist.Redo()
	if !ok {
		return
	}
	v.cancel()
	v.doc.Reset(elements)
	v.changed()
	v.sendSnapshot(protocol.TypeRedo, elements)
}

func (v *View) Clear() {
	v.cancel()
	v.doc.Reset(nil)
	v.hist.Clear()
	v.changed()
	v.send(&protocol.Message{Type: protocol.TypeClearCanvas, RoomID: v.roomID})
}

func (v *View) SendChat(text string) {
	if text == "" {
		return
	}
	v.send(&protocol.Message{Type: protocol.TypeChat, RoomID: v.roomID, Message: text})
}

// Remote events

// ApplyRemote folds an event relayed from a peer into the local state.
// Element edits never touch history; snapshots and clears replace it.
func (v *View) ApplyRemote(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeDrawing:
		var e document.Element
		if err := json.Unmarshal([]byte(m.Message), &e); err != nil {
			log.Printf("⚠️ Ignoring undecodable drawing: %v", err)
			return
		}
		if !v.doc.Replace(e.ID, e) {
			v.doc.Insert(e)
		}
		v.changed()

	case protocol.TypeElementUpdated:
		var e document.Element
		if err := json.Unmarshal(m.Element, &e); err != nil {
			log.Printf("⚠️ Ignoring undecodable element update: %v", err)
			return
		}
		if v.editing(e.ID) {
			// The peer's write wins; our drag restarts from it
			before := e.Clone()
			v.before = &before
		}
		if v.doc.Replace(e.ID, e) {
			v.changed()
		}

	case protocol.TypeElementRemoved:
		if v.editing(m.ElementID) {
			v.reset()
		}
		if v.doc.Remove(m.ElementID) {
			v.changed()
		}

	case protocol.TypeClearCanvas:
		v.cancel()
		v.doc.Reset(nil)
		v.hist.Clear()
		v.changed()

	case protocol.TypeUndo, protocol.TypeRedo:
		var elements []document.Element
		if err := json.Unmarshal(m.Elements, &elements); err != nil {
			log.Printf("⚠️ Ignoring undecodable %s snapshot: %v", m.Type, err)
			return
		}
		v.cancel()
		v.hist.Adopt(elements)
		v.doc.Reset(elements)
		v.changed()

	case protocol.TypeUserCount:
		if v.obs.OnPresence != nil {
			v.obs.OnPresence(m.Count)
		}

	case protocol.TypeChat:
		if v.obs.OnChat != nil {
			v.obs.OnChat(m.UserID, m.Message)
		}

	case protocol.TypeError:
		log.Printf("⚠️ Server notice: %s", m.Message)
		if v.obs.OnNotice != nil {
			v.obs.OnNotice(m.Message)
		}
	}
}

// editing reports whether a drag or resize of id is in progress.
func (v *View) editing(id string) bool {
	return (v.mode == Dragging || v.mode == Resizing) && v.before != nil && v.before.ID == id
}
