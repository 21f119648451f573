package security

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSlidingWindow_Hit(t *testing.T) {
	w := NewSlidingWindow()

	count, oldest, admitted := w.Hit("k", t0, time.Minute, 2)
	assert.True(t, admitted)
	assert.Equal(t, 1, count)
	assert.Equal(t, t0, oldest)

	_, _, admitted = w.Hit("k", t0.Add(10*time.Second), time.Minute, 2)
	assert.True(t, admitted)

	count, oldest, admitted = w.Hit("k", t0.Add(20*time.Second), time.Minute, 2)
	assert.False(t, admitted)
	assert.Equal(t, 2, count)
	assert.Equal(t, t0, oldest)

	// the entry stamped exactly at now-window is already outside
	count, oldest, admitted = w.Hit("k", t0.Add(time.Minute), time.Minute, 2)
	assert.True(t, admitted)
	assert.Equal(t, 2, count)
	assert.Equal(t, t0.Add(10*time.Second), oldest)
}

func TestSlidingWindow_ObserveKeepsBoundedEntries(t *testing.T) {
	w := NewSlidingWindow()

	var count int
	for i := 0; i < 500; i++ {
		count = w.Observe("ip", t0.Add(time.Duration(i)*time.Millisecond), time.Minute, 51)
	}

	assert.Equal(t, 51, count)
	assert.Equal(t, 51, w.Count("ip", t0.Add(time.Second)))
}

func TestSlidingWindow_SweepRemovesEmptyKeys(t *testing.T) {
	w := NewSlidingWindow()
	for i := 0; i < 10; i++ {
		w.Hit(fmt.Sprintf("key-%d", i), t0, time.Minute, 5)
	}
	w.Hit("fresh", t0.Add(2*time.Minute), time.Minute, 5)

	assert.Equal(t, 10, w.Sweep(t0.Add(2*time.Minute)))
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 0, w.Sweep(t0.Add(2*time.Minute)))
	assert.Equal(t, 0, w.Count("key-3", t0.Add(2*time.Minute)))
}

func TestShardedMap_UpdateAndSweep(t *testing.T) {
	m := newShardedMap[int]()

	for i := 0; i < 1000; i++ {
		m.update(fmt.Sprintf("k%d", i), func(v int, _ bool) (int, bool) { return v + i, true })
	}
	assert.Equal(t, 1000, m.len())

	m.update("k1", func(int, bool) (int, bool) { return 0, false })
	assert.Equal(t, 999, m.len())

	m.sweep(func(_ string, v int) (int, bool) { return v, v%2 == 0 })
	assert.Equal(t, 500, m.len())
}

func TestBlockList_AddReportsNewlyBlocked(t *testing.T) {
	b := NewBlockList(time.Minute, 0)

	_, newly := b.Add("10.0.0.1", "auto", false, t0)
	assert.True(t, newly)
	_, newly = b.Add("10.0.0.1", "auto", false, t0.Add(time.Second))
	assert.False(t, newly)

	_, newly = b.Add("10.0.0.1", "auto", false, t0.Add(2*time.Minute))
	assert.True(t, newly, "an expired entry counts as not blocked")

	entry, _ := b.Add("10.0.0.2", "manual", true, t0)
	assert.Nil(t, entry.ExpiresAt)
	assert.Equal(t, 1, b.Sweep(t0.Add(10*time.Minute)))
	assert.Equal(t, 1, b.Len(t0.Add(10*time.Minute)))
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.1", "10.0.0.1"},
		{" ::ffff:10.0.0.1 ", "10.0.0.1"},
		{"2001:DB8::1", "2001:db8::1"},
		{"not-an-ip", "not-an-ip"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeIP(tt.in))
		})
	}
}
