package peers

import "time"

// Diff computes churn between two consecutive snapshots. Peers match by
// node-assigned id; a peer whose other fields changed is still the same peer.
// Disconnects come first, then connects, each in snapshot order. O(n) via set
// membership.
//
// Ids are assumed unique per connection within a node run. If the node ever
// reuses an id across unrelated connections the diff reports no churn for it.
func Diff(prev, curr []PeerRecord, now time.Time) []ChangeEvent {
	prevIDs := make(map[int64]struct{}, len(prev))
	for _, p := range prev {
		prevIDs[p.ID] = struct{}{}
	}
	currIDs := make(map[int64]struct{}, len(curr))
	for _, p := range curr {
		currIDs[p.ID] = struct{}{}
	}

	var events []ChangeEvent
	for _, p := range prev {
		if _, ok := currIDs[p.ID]; !ok {
			events = append(events, ChangeEvent{
				Type:    ChangeDisconnected,
				Time:    now,
				Addr:    p.Addr,
				Network: p.Network,
			})
		}
	}
	for _, p := range curr {
		if _, ok := prevIDs[p.ID]; !ok {
			events = append(events, ChangeEvent{
				Type:    ChangeConnected,
				Time:    now,
				Addr:    p.Addr,
				Network: p.Network,
			})
		}
	}
	return events
}
