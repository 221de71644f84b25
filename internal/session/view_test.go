package session

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/manpreetbhatti/inkroom/internal/document"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

// outbox records sent events
type outbox struct {
	sent []*protocol.Message
}

func (o *outbox) Send(m *protocol.Message) { o.sent = append(o.sent, m) }

func (o *outbox) take() []*protocol.Message {
	sent := o.sent
	o.sent = nil
	return sent
}

type peer struct {
	*View
	out *outbox
}

func newPeer(initial ...document.Element) *peer {
	out := &outbox{}
	v := NewView("1", out, initial)
	n := 0
	v.newID = func() string {
		n++
		return fmt.Sprintf("el-%d", n)
	}
	return &peer{View: v, out: out}
}

// flush delivers everything the peer has sent to the others through the
// wire encoding.
func (from *peer) flush(t *testing.T, to ...*peer) []*protocol.Message {
	t.Helper()
	sent := from.out.take()
	for _, m := range sent {
		decoded, err := protocol.Decode(protocol.Encode(m))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if err := protocol.Validate(decoded); err != nil {
			t.Fatalf("Sent invalid %s: %v", m.Type, err)
		}
		for _, p := range to {
			p.ApplyRemote(decoded)
		}
	}
	return sent
}

func drag(v *View, x0, y0, x1, y1 float64) {
	v.PointerDown(x0, y0)
	v.PointerMove((x0+x1)/2, (y0+y1)/2)
	v.PointerMove(x1, y1)
	v.PointerUp(x1, y1)
}

func rectangle(id string, x, y, w, h float64) document.Element {
	return document.Element{Type: document.Rectangle, ID: id, X: x, Y: y, Width: w, Height: h, StrokeColor: document.Black, StrokeWidth: 2}
}

func TestTwoPeerUndoRedo(t *testing.T) {
	a, b := newPeer(), newPeer()

	a.SetTool(ToolRectangle)
	drag(a.View, 10, 10, 60, 40)
	sent := a.flush(t, b)

	if len(sent) != 1 || sent[0].Type != protocol.TypeDrawing {
		t.Fatalf("Expected one drawing event, got %+v", sent)
	}
	got := b.Elements()
	if len(got) != 1 {
		t.Fatalf("Peer B should have one element, got %d", len(got))
	}
	r := got[0]
	if r.Type != document.Rectangle || r.X != 10 || r.Y != 10 || r.Width != 50 || r.Height != 30 {
		t.Errorf("Unexpected rectangle on peer B: %+v", r)
	}

	a.Undo()
	sent = a.flush(t, b)
	if len(sent) != 1 || sent[0].Type != protocol.TypeUndo || string(sent[0].Elements) != "[]" {
		t.Fatalf("Expected undo with an empty snapshot, got %+v", sent)
	}
	if b.doc.Len() != 0 {
		t.Errorf("Peer B should be empty after undo, got %d", b.doc.Len())
	}

	a.Redo()
	a.flush(t, b)
	got = b.Elements()
	if len(got) != 1 || got[0].ID != r.ID || got[0].Width != 50 {
		t.Errorf("Peer B should have the rectangle back, got %+v", got)
	}
	if !reflect.DeepEqual(a.Elements(), b.Elements()) {
		t.Errorf("Peers diverged:\nA %+v\nB %+v", a.Elements(), b.Elements())
	}
}

func TestUndoThenRedoRestoresExactly(t *testing.T) {
	a := newPeer()
	a.SetTool(ToolPencil)
	drag(a.View, 0, 0, 10, 10)
	a.SetTool(ToolCircle)
	drag(a.View, 50, 50, 53, 54)

	before := a.Elements()
	a.Undo()
	if len(a.Elements()) != 1 {
		t.Fatalf("Undo should drop the circle, got %+v", a.Elements())
	}
	a.Redo()
	if !reflect.DeepEqual(before, a.Elements()) {
		t.Errorf("Redo should restore\n%+v\ngot\n%+v", before, a.Elements())
	}

	// Nothing further to redo
	a.out.take()
	a.Redo()
	if len(a.out.take()) != 0 {
		t.Error("Redo at the last entry should not send anything")
	}
}

func TestUndoAtStartIsNoop(t *testing.T) {
	a := newPeer(rectangle("r", 0, 0, 10, 10))
	a.Undo()
	if len(a.out.take()) != 0 || a.doc.Len() != 1 {
		t.Error("Undo at cursor 0 should do nothing")
	}
}

func TestRemoteClear(t *testing.T) {
	a, b := newPeer(), newPeer()
	b.SetTool(ToolRectangle)
	drag(b.View, 0, 0, 20, 20)
	drag(b.View, 30, 30, 50, 50)

	a.Clear()
	a.flush(t, b)

	if b.doc.Len() != 0 || b.HistoryLen() != 1 || b.Cursor() != 0 {
		t.Errorf("Expected empty document with one history entry, got %d elements, %d entries, cursor %d",
			b.doc.Len(), b.HistoryLen(), b.Cursor())
	}
}

func TestRemoteSnapshotTruncatesRedo(t *testing.T) {
	b := newPeer()
	b.SetTool(ToolLine)
	drag(b.View, 0, 0, 10, 0)
	drag(b.View, 0, 10, 10, 10)
	b.Undo()
	if !b.hist.CanRedo() {
		t.Fatal("Expected a redo entry before the remote snapshot")
	}

	snapshot, _ := json.Marshal([]document.Element{rectangle("remote", 1, 1, 20, 20)})
	b.ApplyRemote(protocol.NewSnapshot(protocol.TypeRedo, "1", snapshot))

	if b.hist.CanRedo() {
		t.Error("Adopting a snapshot should drop redo entries")
	}
	if b.Cursor() != 2 || b.HistoryLen() != 3 {
		t.Errorf("Expected cursor 2 of 3 entries, got %d of %d", b.Cursor(), b.HistoryLen())
	}
	if got := b.Elements(); len(got) != 1 || got[0].ID != "remote" {
		t.Errorf("Document should be the snapshot, got %+v", got)
	}
}

func TestDragMovesAndBroadcasts(t *testing.T) {
	a := newPeer(rectangle("r", 10, 10, 50, 30))

	a.PointerDown(20, 20)
	a.PointerUp(20, 20)
	if sel := a.Selected(); sel == nil || sel.ID != "r" {
		t.Fatalf("Click should select the rectangle, got %+v", sel)
	}
	if len(a.out.take()) != 0 || a.HistoryLen() != 1 {
		t.Error("Selecting should not commit or send")
	}

	drag(a.View, 20, 20, 40, 25)

	got := a.Elements()[0]
	if got.X != 30 || got.Y != 15 || got.Width != 50 {
		t.Errorf("Expected rectangle moved by (20,5), got %+v", got)
	}
	sent := a.out.take()
	if len(sent) != 1 || sent[0].Type != protocol.TypeElementUpdated {
		t.Fatalf("Expected one elementUpdated, got %+v", sent)
	}
	var e document.Element
	json.Unmarshal(sent[0].Element, &e)
	if e.X != 30 || e.Y != 15 {
		t.Errorf("Update should carry the new position, got %+v", e)
	}
	if a.HistoryLen() != 2 {
		t.Errorf("Drag should commit once, got %d entries", a.HistoryLen())
	}
}

func TestResizeFromTopLeftHandle(t *testing.T) {
	a := newPeer(rectangle("r", 10, 10, 50, 30))
	a.PointerDown(20, 20)
	a.PointerUp(20, 20)

	// Selection box top-left handle is at (5,5)
	a.PointerDown(5, 5)
	if a.Mode() != Resizing {
		t.Fatalf("Expected resizing, got %v", a.Mode())
	}
	a.PointerMove(15, 15)
	a.PointerUp(15, 15)

	got := a.Elements()[0]
	if got.X != 20 || got.Y != 20 || got.Width != 40 || got.Height != 20 {
		t.Errorf("Expected (20,20) 40x20 with bottom-right fixed, got %+v", got)
	}

	// Shrinking the height to 5 is rejected
	a.out.take()
	a.PointerDown(15, 15)
	a.PointerMove(15, 30)
	a.PointerUp(15, 30)

	after := a.Elements()[0]
	if after.Height != 20 || after.Width != 40 {
		t.Errorf("Degenerate resize should be a no-op, got %+v", after)
	}
	if len(a.out.take()) != 0 {
		t.Error("No-op resize should not be broadcast")
	}
}

func TestPointerLeaveAbandons(t *testing.T) {
	a := newPeer(rectangle("r", 10, 10, 50, 30))

	a.SetTool(ToolDiamond)
	a.PointerDown(100, 100)
	a.PointerMove(150, 150)
	if a.Draft() == nil {
		t.Fatal("Expected a draft while drawing")
	}
	a.PointerLeave()
	if a.doc.Len() != 1 || a.Draft() != nil || a.Mode() != Idle {
		t.Errorf("Leaving should abandon the draft")
	}

	a.SetTool(ToolSelect)
	a.PointerDown(20, 20)
	a.PointerUp(20, 20)
	a.PointerDown(20, 20)
	a.PointerMove(80, 80)
	a.PointerLeave()

	if got := a.Elements()[0]; got.X != 10 || got.Y != 10 {
		t.Errorf("Leaving mid-drag should restore the element, got %+v", got)
	}
	if len(a.out.take()) != 0 || a.HistoryLen() != 1 {
		t.Error("Abandoned interactions must not commit or send")
	}
}

func TestEraser(t *testing.T) {
	a := newPeer(
		rectangle("a", 0, 0, 10, 10),
		rectangle("b", 20, 0, 10, 10),
		rectangle("c", 40, 0, 10, 10),
	)
	a.SetTool(ToolEraser)

	a.PointerDown(5, 5)
	a.PointerUp(5, 5)
	if a.doc.Len() != 2 || a.HistoryLen() != 2 {
		t.Fatalf("Press should erase and commit, got %d elements, %d entries", a.doc.Len(), a.HistoryLen())
	}

	a.PointerDown(100, 100)
	a.PointerMove(25, 5)
	a.PointerMove(45, 5)
	a.PointerUp(45, 5)

	if a.doc.Len() != 0 {
		t.Errorf("Dragging should erase everything touched, got %+v", a.Elements())
	}
	if a.HistoryLen() != 3 {
		t.Errorf("Drag erasing should commit once on release, got %d entries", a.HistoryLen())
	}

	var removed []string
	for _, m := range a.out.take() {
		if m.Type == protocol.TypeElementRemoved {
			removed = append(removed, m.ElementID)
		}
	}
	if !reflect.DeepEqual(removed, []string{"a", "b", "c"}) {
		t.Errorf("Expected removals a,b,c, got %v", removed)
	}
}

func TestTextEnterAndEdit(t *testing.T) {
	a, b := newPeer(), newPeer()

	a.EnterText(100, 100, "")
	if a.doc.Len() != 0 {
		t.Error("Empty text should not be placed")
	}

	a.EnterText(100, 100, "hello")
	a.flush(t, b)
	if got := b.Elements(); len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("Peer should receive the text, got %+v", got)
	}

	// Text box spans 100..200 by 80..100
	a.PointerDown(150, 90)
	a.PointerUp(150, 90)
	if !a.EditText("world") {
		t.Fatal("EditText should apply to the selected text element")
	}
	sent := a.flush(t, b)
	if len(sent) != 1 || sent[0].Type != protocol.TypeElementUpdated {
		t.Fatalf("Expected elementUpdated, got %+v", sent)
	}
	if got := b.Elements(); got[0].Text != "world" {
		t.Errorf("Peer should see the edit, got %+v", got[0])
	}
	if a.HistoryLen() != 3 {
		t.Errorf("Placing and editing should each commit, got %d entries", a.HistoryLen())
	}

	a.SetTool(ToolSelect)
	if a.EditText("nothing selected") {
		t.Error("EditText without a selection should be rejected")
	}
}

func TestSetToolClearsSelection(t *testing.T) {
	a := newPeer(rectangle("r", 10, 10, 50, 30))
	a.PointerDown(20, 20)
	a.PointerUp(20, 20)

	a.SetTool(ToolPencil)
	if a.Selected() != nil {
		t.Error("Changing tool should clear the selection")
	}
}

func TestRemoteEdits(t *testing.T) {
	b := newPeer(rectangle("r", 10, 10, 50, 30))
	b.PointerDown(20, 20)
	b.PointerUp(20, 20)

	element, _ := json.Marshal(rectangle("n", 0, 0, 5, 5))
	b.ApplyRemote(&protocol.Message{Type: protocol.TypeDrawing, RoomID: "1", Message: string(element)})
	b.ApplyRemote(&protocol.Message{Type: protocol.TypeDrawing, RoomID: "1", Message: string(element)})
	if b.doc.Len() != 2 {
		t.Errorf("Duplicate drawing should replace, got %d elements", b.doc.Len())
	}
	if b.HistoryLen() != 1 {
		t.Error("Remote drawings should not commit history")
	}

	updated, _ := json.Marshal(rectangle("r", 70, 70, 10, 10))
	b.ApplyRemote(&protocol.Message{Type: protocol.TypeElementUpdated, RoomID: "1", Element: updated})
	if sel := b.Selected(); sel == nil || sel.X != 70 {
		t.Errorf("Selection should follow the updated element, got %+v", sel)
	}

	ghost, _ := json.Marshal(rectangle("ghost", 0, 0, 1, 1))
	b.ApplyRemote(&protocol.Message{Type: protocol.TypeElementUpdated, RoomID: "1", Element: ghost})
	if b.doc.Len() != 2 {
		t.Error("Updating an unknown element should be ignored")
	}

	b.ApplyRemote(&protocol.Message{Type: protocol.TypeElementRemoved, RoomID: "1", ElementID: "r"})
	if b.Selected() != nil || b.doc.Len() != 1 {
		t.Error("Removing the selected element should clear the selection")
	}
	if b.doc.HitTest(75, 75) != nil {
		t.Error("Removed element should no longer be hit")
	}
}

func TestObservers(t *testing.T) {
	b := newPeer()
	var count int
	var chat, notice string
	changes := 0
	b.SetObservers(Observers{
		OnChange:   func([]document.Element, int) { changes++ },
		OnPresence: func(n int) { count = n },
		OnChat:     func(user, msg string) { chat = user + ": " + msg },
		OnNotice:   func(msg string) { notice = msg },
	})

	b.ApplyRemote(protocol.NewUserCount("1", 3))
	b.ApplyRemote(&protocol.Message{Type: protocol.TypeChat, RoomID: "1", Message: "hi", UserID: "user-a"})
	b.ApplyRemote(protocol.NewNotice("Invalid chat payload"))
	b.EnterText(0, 0, "x")

	if count != 3 || chat != "user-a: hi" || notice != "Invalid chat payload" || changes != 1 {
		t.Errorf("Unexpected observer state: count=%d chat=%q notice=%q changes=%d", count, chat, notice, changes)
	}
}
