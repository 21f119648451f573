package security

import "time"

// retainAfter keeps the items stamped strictly after cutoff, in place
func retainAfter[T any](items []T, cutoff time.Time, at func(T) time.Time) []T {
	kept := items[:0]
	for _, it := range items {
		if at(it).After(cutoff) {
			kept = append(kept, it)
		}
	}
	clear(items[len(kept):])
	return kept
}

func stamp(t time.Time) time.Time { return t }

type windowCounter struct {
	window  time.Duration
	entries []time.Time
}

// SlidingWindow counts timestamped hits per key over a trailing window.
// Every read or write of a key first drops entries at or before now-window.
type SlidingWindow struct {
	counters *shardedMap[*windowCounter]
}

// NewSlidingWindow creates an empty sliding-window counter
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{counters: newShardedMap[*windowCounter]()}
}

// Hit records now against key unless max entries already sit in the window.
// It returns the in-window count after the call, the oldest in-window entry
// and whether the hit was admitted. Check and record happen under one lock.
func (w *SlidingWindow) Hit(key string, now time.Time, window time.Duration, max int) (count int, oldest time.Time, admitted bool) {
	w.counters.update(key, func(c *windowCounter, ok bool) (*windowCounter, bool) {
		if !ok {
			c = &windowCounter{window: window}
		}
		c.window = window
		c.entries = retainAfter(c.entries, now.Add(-window), stamp)

		if len(c.entries) >= max {
			count = len(c.entries)
			oldest = c.entries[0]
			return c, true
		}

		c.entries = append(c.entries, now)
		count = len(c.entries)
		oldest = c.entries[0]
		admitted = true
		return c, true
	})
	return count, oldest, admitted
}

// Observe records now unconditionally and returns the in-window count.
// At most keep entries are retained, which is enough to answer "more than
// keep-1 hits?" without holding every timestamp of a flood.
func (w *SlidingWindow) Observe(key string, now time.Time, window time.Duration, keep int) int {
	var count int
	w.counters.update(key, func(c *windowCounter, ok bool) (*windowCounter, bool) {
		if !ok {
			c = &windowCounter{window: window}
		}
		c.entries = retainAfter(c.entries, now.Add(-window), stamp)
		c.entries = append(c.entries, now)
		if keep > 0 && len(c.entries) > keep {
			n := copy(c.entries, c.entries[len(c.entries)-keep:])
			clear(c.entries[n:])
			c.entries = c.entries[:n]
		}
		count = len(c.entries)
		return c, true
	})
	return count
}

// Count returns the in-window count for key without recording a hit
func (w *SlidingWindow) Count(key string, now time.Time) int {
	var count int
	w.counters.update(key, func(c *windowCounter, ok bool) (*windowCounter, bool) {
		if !ok {
			return nil, false
		}
		c.entries = retainAfter(c.entries, now.Add(-c.window), stamp)
		count = len(c.entries)
		return c, count > 0
	})
	return count
}

// Sweep drops expired entries everywhere and removes keys left empty
func (w *SlidingWindow) Sweep(now time.Time) int {
	removed := 0
	w.counters.sweep(func(_ string, c *windowCounter) (*windowCounter, bool) {
		c.entries = retainAfter(c.entries, now.Add(-c.window), stamp)
		if len(c.entries) == 0 {
			removed++
			return nil, false
		}
		return c, true
	})
	return removed
}

// Len returns the number of tracked keys
func (w *SlidingWindow) Len() int {
	return w.counters.len()
}
