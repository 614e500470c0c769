package peers

import (
	"sync"
	"time"
)

// ChangeLog is the rolling churn log. Eviction is purely time based: entries
// older than the retention window are pruned at the start of every cycle,
// never by count.
type ChangeLog struct {
	mu        sync.RWMutex
	retention time.Duration
	events    []ChangeEvent
}

func NewChangeLog(retention time.Duration) *ChangeLog {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &ChangeLog{retention: retention}
}

// Retention returns the configured window.
func (l *ChangeLog) Retention() time.Duration {
	return l.retention
}

// Append adds events in arrival order.
func (l *ChangeLog) Append(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events...)
}

// Prune drops entries older than the retention window.
func (l *ChangeLog) Prune(now time.Time) {
	cutoff := now.Add(-l.retention)
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := 0
	for idx < len(l.events) && l.events[idx].Time.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		l.events = append([]ChangeEvent(nil), l.events[idx:]...)
	}
}

// Window returns the events within the last window duration, capped at the
// retention window. window <= 0 means the whole retained log.
func (l *ChangeLog) Window(window time.Duration, now time.Time) []ChangeEvent {
	if window <= 0 || window > l.retention {
		window = l.retention
	}
	cutoff := now.Add(-window)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ChangeEvent
	for _, ev := range l.events {
		if !ev.Time.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the retained event count.
func (l *ChangeLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
