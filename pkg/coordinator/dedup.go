package coordinator

import (
	"time"

	"github.com/cornelk/hashmap"
)

// DefaultDedupWindow is how long a payload seen by an adapter is ignored.
const DefaultDedupWindow = 10 * time.Second

type seenSet = hashmap.Map[string, time.Time]

// dedup remembers, per adapter, the payloads seen recently.
type dedup struct {
	window time.Duration
	now    func() time.Time
	seen   *hashmap.Map[string, *seenSet]
}

func newDedup(window time.Duration, now func() time.Time) *dedup {
	return &dedup{window: window, now: now, seen: hashmap.New[string, *seenSet]()}
}

func (d *dedup) adapter(id string) *seenSet {
	if s, ok := d.seen.Get(id); ok {
		return s
	}
	s, _ := d.seen.GetOrInsert(id, hashmap.New[string, time.Time]())
	return s
}

// prune drops the entries of adapter id older than the window.
func (d *dedup) prune(id string) {
	s := d.adapter(id)
	limit := d.now().Add(-d.window)
	var stale []string
	s.Range(func(k string, at time.Time) bool {
		if !at.After(limit) {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		s.Del(k)
	}
}

// check records data for adapter id and reports whether it was already
// seen inside the window.
func (d *dedup) check(id string, data []byte) bool {
	s := d.adapter(id)
	key := string(data)
	at, seen := s.Get(key)
	s.Set(key, d.now())
	return seen && at.After(d.now().Add(-d.window))
}

// markAll records data as seen by every adapter that received something.
func (d *dedup) markAll(data []byte) {
	now := d.now()
	d.seen.Range(func(_ string, s *seenSet) bool {
		s.Set(string(data), now)
		return true
	})
}

func (d *dedup) len(id string) int {
	return d.adapter(id).Len()
}
