package room

// Room is the live membership of one room id. It holds no lock of its
// own; the owner serializes access.
type Room[M comparable] struct {
	ID      string
	members map[M]struct{}
}

// Creates an empty room with the given ID
func New[M comparable](id string) *Room[M] {
	return &Room[M]{
		ID:      id,
		members: make(map[M]struct{}),
	}
}

// Add reports whether m was not already a member.
func (r *Room[M]) Add(m M) bool {
	if _, ok := r.members[m]; ok {
		return false
	}
	r.members[m] = struct{}{}
	return true
}

func (r *Room[M]) Remove(m M) bool {
	if _, ok := r.members[m]; !ok {
		return false
	}
	delete(r.members, m)
	return true
}

func (r *Room[M]) Has(m M) bool {
	_, ok := r.members[m]
	return ok
}

func (r *Room[M]) Len() int {
	return len(r.members)
}

func (r *Room[M]) Empty() bool {
	return len(r.members) == 0
}

// Each calls fn for every member in no particular order
func (r *Room[M]) Each(fn func(M)) {
	for m := range r.members {
		fn(m)
	}
}
