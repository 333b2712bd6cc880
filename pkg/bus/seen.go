package bus

// seenRing remembers the last N event ids for duplicate suppression. A
// bounded ring keeps memory flat over a long session; an id older than the
// window may be delivered again, which the store's id-dedup absorbs.
type seenRing struct {
	ids  []string
	set  map[string]struct{}
	next int
}

func newSeenRing(n int) *seenRing {
	if n <= 0 {
		n = 256
	}
	return &seenRing{ids: make([]string, n), set: make(map[string]struct{}, n)}
}

// Add records id and reports whether it was new.
func (r *seenRing) Add(id string) bool {
	if _, ok := r.set[id]; ok {
		return false
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return true
}
