package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/geostore"
	"github.com/mbhillrn/peerwatch/pkg/metrics"
	"github.com/mbhillrn/peerwatch/pkg/peers"
)

// Message types pushed to websocket subscribers.
const (
	TypePeersUpdate = "peers_update"
	TypeGeoUpdate   = "geo_update"
	TypeKeepalive   = "keepalive"
)

const writeWait = 10 * time.Second

type peersUpdateMsg struct {
	Type           string              `json:"type"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Degraded       bool                `json:"degraded"`
	PendingLookups int                 `json:"pending_lookups"`
	Peers          []peers.MergedPeer  `json:"peers"`
	Events         []peers.ChangeEvent `json:"events,omitempty"`
}

type geoUpdateMsg struct {
	Type   string             `json:"type"`
	Record geostore.GeoRecord `json:"record"`
}

type keepaliveMsg struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingCounter reports how many geolocation lookups are queued.
type PendingCounter interface {
	Pending() int
}

// Config tunes the hub.
type Config struct {
	// Keepalive is the interval between keepalive pushes.
	Keepalive time.Duration
	// Buffer is the per-subscriber outbound queue length.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.Keepalive <= 0 {
		c.Keepalive = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 32
	}
	return c
}

// subscriber is one live websocket client. Its send channel is drained by a
// dedicated writer goroutine so one slow client never stalls a broadcast.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.quit)
		s.conn.Close()
	})
}

// Hub fans poll and lookup events out to websocket subscribers. It is the
// Sink of the poller and the Notifier of the resolver. The last published
// cycle is retained so a fresh subscriber gets the current state right away.
type Hub struct {
	geo     peers.GeoReader
	pending PendingCounter
	cfg     Config
	log     *zap.Logger

	mu   sync.Mutex
	subs map[string]*subscriber
	last peers.Update
}

func New(geo peers.GeoReader, pending PendingCounter, cfg Config, logger *zap.Logger) *Hub {
	return &Hub{
		geo:     geo,
		pending: pending,
		cfg:     cfg.withDefaults(),
		log:     logger,
		subs:    make(map[string]*subscriber),
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Serve registers conn as a subscriber, pushes the current snapshot to it and
// blocks until the client goes away or the hub shuts down. The hub owns the
// connection from here on.
func (h *Hub) Serve(conn *websocket.Conn) {
	s := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.Buffer),
		quit: make(chan struct{}),
	}
	// Queued before registration so the snapshot is always the first message,
	// never interleaved behind a broadcast.
	if b, err := json.Marshal(h.snapshotPayload()); err == nil {
		s.send <- b
	}
	n := h.add(s)
	h.log.Info("ws_client_connected", zap.String("subscriber", s.id), zap.Int("subscribers", n))

	go h.writer(s)
	h.reader(s)
}

// PublishPeersUpdate broadcasts the outcome of one poll cycle merged with the
// geo cache.
func (h *Hub) PublishPeersUpdate(u peers.Update) {
	msg := peersUpdateMsg{
		Type:           TypePeersUpdate,
		UpdatedAt:      u.UpdatedAt,
		Degraded:       u.Degraded,
		PendingLookups: h.pending.Pending(),
		Peers:          peers.MergeGeo(u.Peers, h.geo),
		Events:         u.Events,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("ws_payload_marshal_failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.last = peers.Update{Peers: u.Peers, Degraded: u.Degraded, UpdatedAt: u.UpdatedAt}
	h.mu.Unlock()
	h.broadcast(b)
}

// PublishGeoUpdate broadcasts a single refreshed cache record.
func (h *Hub) PublishGeoUpdate(rec geostore.GeoRecord) {
	b, err := json.Marshal(geoUpdateMsg{Type: TypeGeoUpdate, Record: rec})
	if err != nil {
		h.log.Error("ws_payload_marshal_failed", zap.Error(err))
		return
	}
	h.broadcast(b)
}

// Run pushes keepalives until ctx is cancelled, then closes every subscriber.
// Keepalives are independent of data cycles so dead connections surface even
// when nothing changes.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.cfg.Keepalive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case now := <-t.C:
			b, err := json.Marshal(keepaliveMsg{Type: TypeKeepalive, Timestamp: now.UTC()})
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

// snapshotPayload builds the greeting for a fresh subscriber: the retained
// last cycle with no churn events. History stays behind the pull API.
func (h *Hub) snapshotPayload() peersUpdateMsg {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	return peersUpdateMsg{
		Type:           TypePeersUpdate,
		UpdatedAt:      last.UpdatedAt,
		Degraded:       last.Degraded,
		PendingLookups: h.pending.Pending(),
		Peers:          peers.MergeGeo(last.Peers, h.geo),
	}
}

// broadcast queues b for every subscriber. A subscriber with a full queue is
// disconnected on the spot; the rest of the broadcast is unaffected.
func (h *Hub) broadcast(b []byte) {
	var stalled []*subscriber
	h.mu.Lock()
	for _, s := range h.subs {
		select {
		case s.send <- b:
		default:
			stalled = append(stalled, s)
		}
	}
	h.mu.Unlock()
	for _, s := range stalled {
		metrics.WSDropped.Inc()
		h.log.Warn("ws_client_dropped",
			zap.String("subscriber", s.id), zap.Int("buffer", cap(s.send)))
		h.drop(s)
	}
}

func (h *Hub) writer(s *subscriber) {
	for {
		select {
		case b := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.log.Debug("ws_client_write_error", zap.String("subscriber", s.id), zap.Error(err))
				h.drop(s)
				return
			}
		case <-s.quit:
			return
		}
	}
}

// reader drains inbound frames to surface client disconnects. Subscribers are
// listen-only; anything they send is discarded.
func (h *Hub) reader(s *subscriber) {
	defer h.drop(s)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(s *subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s.id] = s
	n := len(h.subs)
	metrics.Subscribers.Set(float64(n))
	return n
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	_, known := h.subs[s.id]
	if known {
		delete(h.subs, s.id)
		metrics.Subscribers.Set(float64(len(h.subs)))
	}
	n := len(h.subs)
	h.mu.Unlock()
	s.close()
	if known {
		h.log.Info("ws_client_disconnected", zap.String("subscriber", s.id), zap.Int("subscribers", n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[string]*subscriber)
	metrics.Subscribers.Set(0)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
