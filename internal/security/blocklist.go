package security

import (
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

type blockEntry struct {
	reason    string
	manual    bool
	blockedAt time.Time
	expiresAt time.Time // zero means the block never expires
}

func (e blockEntry) activeAt(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// BlockList is the set of addresses denied service. Entries only leave the
// set through Remove or, when a TTL is configured, by expiring.
type BlockList struct {
	mu        sync.RWMutex
	entries   map[string]blockEntry
	autoTTL   time.Duration
	manualTTL time.Duration
}

// NewBlockList creates an empty block list. A zero TTL keeps blocks forever.
func NewBlockList(autoTTL, manualTTL time.Duration) *BlockList {
	return &BlockList{
		entries:   make(map[string]blockEntry),
		autoTTL:   autoTTL,
		manualTTL: manualTTL,
	}
}

// Add blocks ip and reports whether it was not already blocked
func (b *BlockList) Add(ip, reason string, manual bool, now time.Time) (models.BlockedIP, bool) {
	entry := blockEntry{reason: reason, manual: manual, blockedAt: now}
	ttl := b.autoTTL
	if manual {
		ttl = b.manualTTL
	}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev, existed := b.entries[ip]
	b.entries[ip] = entry
	return entry.toModel(ip), !existed || !prev.activeAt(now)
}

// Restore inserts an entry exactly as described, used when seeding from a mirror
func (b *BlockList) Restore(blocked models.BlockedIP) {
	entry := blockEntry{reason: blocked.Reason, manual: blocked.Manual, blockedAt: blocked.BlockedAt}
	if blocked.ExpiresAt != nil {
		entry.expiresAt = *blocked.ExpiresAt
	}

	b.mu.Lock()
	b.entries[normalizeIP(blocked.IP)] = entry
	b.mu.Unlock()
}

// Remove unblocks ip and reports whether it was present
func (b *BlockList) Remove(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[ip]
	delete(b.entries, ip)
	return ok
}

// Contains reports whether ip is blocked at now, dropping an expired entry
func (b *BlockList) Contains(ip string, now time.Time) bool {
	b.mu.RLock()
	entry, ok := b.entries[ip]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if entry.activeAt(now) {
		return true
	}

	b.mu.Lock()
	if current, ok := b.entries[ip]; ok && !current.activeAt(now) {
		delete(b.entries, ip)
	}
	b.mu.Unlock()
	return false
}

// List returns the active entries sorted by address
func (b *BlockList) List(now time.Time) []models.BlockedIP {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.BlockedIP, 0, len(b.entries))
	for ip, entry := range b.entries {
		if entry.activeAt(now) {
			out = append(out, entry.toModel(ip))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Len returns the number of active entries
func (b *BlockList) Len(now time.Time) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, entry := range b.entries {
		if entry.activeAt(now) {
			n++
		}
	}
	return n
}

// Sweep removes expired entries and returns how many were dropped
func (b *BlockList) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for ip, entry := range b.entries {
		if !entry.activeAt(now) {
			delete(b.entries, ip)
			removed++
		}
	}
	return removed
}

func (e blockEntry) toModel(ip string) models.BlockedIP {
	m := models.BlockedIP{IP: ip, Reason: e.reason, Manual: e.manual, BlockedAt: e.blockedAt}
	if !e.expiresAt.IsZero() {
		expires := e.expiresAt
		m.ExpiresAt = &expires
	}
	return m
}

// normalizeIP canonicalizes parseable addresses so that "::ffff:10.0.0.1"
// and "10.0.0.1" share one entry. Other strings are only trimmed.
func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if addr, err := netip.ParseAddr(ip); err == nil {
		return addr.Unmap().String()
	}
	return ip
}
