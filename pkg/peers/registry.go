package peers

import (
	"sync"
	"time"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
)

// Registry holds the latest published snapshot. The poller writes it once per
// successful cycle; readers get copies.
type Registry struct {
	mu        sync.RWMutex
	peers     []PeerRecord
	updatedAt time.Time
	degraded  bool
}

func NewRegistry() *Registry { return &Registry{} }

// SetSnapshot publishes a complete snapshot and clears the degraded flag.
func (r *Registry) SetSnapshot(recs []PeerRecord, at time.Time) {
	cp := make([]PeerRecord, len(recs))
	copy(cp, recs)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = cp
	r.updatedAt = at
	r.degraded = false
}

// SetDegraded marks the node unreachable. The retained snapshot stays as is.
func (r *Registry) SetDegraded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = true
}

// Snapshot returns a copy of the current peer list and its publish time.
func (r *Registry) Snapshot() ([]PeerRecord, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerRecord, len(r.peers))
	copy(out, r.peers)
	return out, r.updatedAt
}

// Degraded reports whether the last poll attempt failed.
func (r *Registry) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// Count returns the current peer count.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// CountByNetwork buckets the current peers by network type.
func (r *Registry) CountByNetwork() map[addrutil.Network]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[addrutil.Network]int)
	for _, p := range r.peers {
		out[p.Network]++
	}
	return out
}

// CountByDirection buckets the current peers by connection direction.
func (r *Registry) CountByDirection() map[Direction]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Direction]int)
	for _, p := range r.peers {
		out[p.Direction]++
	}
	return out
}
