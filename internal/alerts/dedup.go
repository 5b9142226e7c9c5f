package alerts

import (
	"sync"
	"time"

	"github.com/michalkurzeja/go-clock"

	"github.com/zdex/evcpms/internal/models"
)

// DefaultCooldown is the suppression window for repeated alerts of one kind.
const DefaultCooldown = 5 * time.Minute

// Deduplicator remembers when each (station, alert type) pair last fired.
type Deduplicator struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
}

func NewDeduplicator(cooldown time.Duration) *Deduplicator {
	return &Deduplicator{cooldown: cooldown, last: make(map[string]time.Time)}
}

// ShouldFire reports whether an alert may fire now and, if so, records it.
func (d *Deduplicator) ShouldFire(identity string, alertType models.AlertType) bool {
	return d.AllowKey(identity + "|" + string(alertType))
}

func (d *Deduplicator) AllowKey(key string) bool {
	if d.cooldown <= 0 {
		return true
	}
	now := clock.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.last[key]; ok && now.Sub(ts) < d.cooldown {
		return false
	}
	d.last[key] = now
	d.compact(now)
	return true
}

// compact drops expired keys so stations that went away do not pile up.
func (d *Deduplicator) compact(now time.Time) {
	if len(d.last) < 1024 {
		return
	}
	for k, ts := range d.last {
		if now.Sub(ts) >= d.cooldown {
			delete(d.last, k)
		}
	}
}
