package alerts

import "sync"

const DefaultTrackerCapacity = 10000

// Tracker remembers which sample and kind pairs were already reported. It
// keeps at most capacity keys and forgets the oldest first.
type Tracker struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	ring  []string
	next  int
	count int
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	return &Tracker{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Diff returns the items not seen before, in input order, and remembers them.
func (t *Tracker) Diff(items []Item) []Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fresh []Item
	for _, it := range items {
		k := it.key()
		if _, ok := t.seen[k]; ok {
			continue
		}
		t.remember(k)
		fresh = append(fresh, it)
	}
	return fresh
}

func (t *Tracker) remember(k string) {
	if t.count == len(t.ring) {
		// Full: next holds the oldest key.
		delete(t.seen, t.ring[t.next])
	} else {
		t.count++
	}
	t.ring[t.next] = k
	t.next = (t.next + 1) % len(t.ring)
	t.seen[k] = struct{}{}
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
