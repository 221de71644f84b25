package history

import "github.com/manpreetbhatti/inkroom/internal/document"

// History is a linear snapshot stack with a cursor. There are no redo
// branches: committing discards everything past the cursor.
type History struct {
	entries [][]document.Element
	cursor  int
}

// New starts a history whose only entry is a copy of initial.
func New(initial []document.Element) *History {
	h := &History{}
	h.Reset(initial)
	return h
}

// Reset drops all entries and keeps a single copy of elements at cursor 0.
func (h *History) Reset(elements []document.Element) {
	h.entries = [][]document.Element{document.CloneElements(elements)}
	h.cursor = 0
}

// Clear resets to one empty entry.
func (h *History) Clear() {
	h.Reset(nil)
}

// Commit records the current document state as the newest entry.
func (h *History) Commit(elements []document.Element) {
	h.entries = append(h.entries[:h.cursor+1], document.CloneElements(elements))
	h.cursor = len(h.entries) - 1
}

// Adopt applies a snapshot received from a peer: it is appended past the
// cursor like a local commit, so cursors never need to agree across peers.
func (h *History) Adopt(snapshot []document.Element) {
	h.Commit(snapshot)
}

// Undo steps the cursor back and returns a copy of the entry it lands on.
func (h *History) Undo() ([]document.Element, bool) {
	if h.cursor == 0 {
		return nil, false
	}
	h.cursor--
	return document.CloneElements(h.entries[h.cursor]), true
}

func (h *History) Redo() ([]document.Element, bool) {
	if h.cursor >= len(h.entries)-1 {
		return nil, false
	}
	h.cursor++
	return document.CloneElements(h.entries[h.cursor]), true
}

func (h *History) Current() []document.Element {
	return document.CloneElements(h.entries[h.cursor])
}

func (h *History) Cursor() int {
	return h.cursor
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) CanUndo() bool { return h.cursor > 0 }

func (h *History) CanRedo() bool { return h.cursor < len(h.entries)-1 }
