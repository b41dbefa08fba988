package message

import (
	"context"
	"sync"
	"time"
)

// Dedup drops webhook redeliveries by remembering message ids for a TTL.
type Dedup struct {
	mu    sync.Mutex
	cache map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

// NewDedup returns a Dedup whose cleanup loop stops with ctx.
func NewDedup(ctx context.Context, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	d := &Dedup{
		cache: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
	go d.cleanupLoop(ctx)
	return d
}

// IsDuplicate returns true if this message ID was seen within the TTL.
// If not a duplicate, records it and returns false.
func (d *Dedup) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if seen, exists := d.cache[key]; exists && now.Sub(seen) <= d.ttl {
		return true
	}
	d.cache[key] = now
	return false
}

func (d *Dedup) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.purge()
		}
	}
}

func (d *Dedup) purge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.ttl)
	for k, t := range d.cache {
		if t.Before(cutoff) {
			delete(d.cache, k)
		}
	}
}
