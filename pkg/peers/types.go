// Package peers maintains the live view of node connections: the periodic
// snapshot poller, the churn diff between consecutive snapshots, and the
// rolling change log served to clients.
package peers

import (
	"context"
	"time"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
)

// Direction tells who opened the connection.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// PeerRecord is one live connection as reported by the node. Rebuilt from
// scratch every poll cycle, never persisted.
type PeerRecord struct {
	ID             int64            `json:"id"`
	Addr           string           `json:"addr"`
	Network        addrutil.Network `json:"network"`
	Direction      Direction        `json:"direction"`
	BytesSent      uint64           `json:"bytes_sent"`
	BytesRecv      uint64           `json:"bytes_recv"`
	PingMs         float64          `json:"ping_ms"`
	ConnectedSince time.Time        `json:"connected_since"`
	UserAgent      string           `json:"user_agent"`
	InAddrManager  bool             `json:"in_addr_manager"`
}

// ChangeType classifies a churn event.
type ChangeType string

const (
	ChangeConnected    ChangeType = "connected"
	ChangeDisconnected ChangeType = "disconnected"
)

// ChangeEvent is one connect or disconnect transition between two
// consecutive snapshots.
type ChangeEvent struct {
	Type    ChangeType       `json:"type"`
	Time    time.Time        `json:"time"`
	Addr    string           `json:"addr"`
	Network addrutil.Network `json:"network"`
}

// Source produces the current peer list. Implementations report node
// unreachability as an error; the poller keeps the previous snapshot then.
type Source interface {
	Peers(ctx context.Context) ([]PeerRecord, error)
}
