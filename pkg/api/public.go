package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/geostore"
	"github.com/mbhillrn/peerwatch/pkg/peers"
)

// GeoCache is the read side of the geo store used by the public handlers.
type GeoCache interface {
	Get(addr string) (geostore.GeoRecord, bool, error)
	Stats() (geostore.Stats, error)
}

// PendingCounter reports queued lookups.
type PendingCounter interface {
	Pending() int
}

// SubscriberCounter reports connected websocket clients.
type SubscriberCounter interface {
	Subscribers() int
}

type Public struct {
	Reg     *peers.Registry
	Changes *peers.ChangeLog
	Geo     GeoCache
	Pending PendingCounter
	Subs    SubscriberCounter
}

func NewPublic(reg *peers.Registry, changes *peers.ChangeLog, geo GeoCache, pending PendingCounter, subs SubscriberCounter) *Public {
	return &Public{Reg: reg, Changes: changes, Geo: geo, Pending: pending, Subs: subs}
}

type peersResponse struct {
	UpdatedAt time.Time          `json:"updated_at"`
	Degraded  bool               `json:"degraded"`
	Peers     []peers.MergedPeer `json:"peers"`
}

// Peers handles GET /api/peers: the current snapshot joined with cached
// geolocation.
func (p *Public) Peers(w http.ResponseWriter, r *http.Request) {
	snap, at := p.Reg.Snapshot()
	writeJSON(w, http.StatusOK, peersResponse{
		UpdatedAt: at,
		Degraded:  p.Reg.Degraded(),
		Peers:     peers.MergeGeo(snap, p.Geo),
	})
}

type statsResponse struct {
	UpdatedAt      time.Time                `json:"updated_at"`
	Degraded       bool                     `json:"degraded"`
	PeersTotal     int                      `json:"peers_total"`
	ByNetwork      map[addrutil.Network]int `json:"by_network"`
	ByDirection    map[peers.Direction]int  `json:"by_direction"`
	Cache          geostore.Stats           `json:"cache"`
	PendingLookups int                      `json:"pending_lookups"`
	ChangeEvents   int                      `json:"change_events"`
	Subscribers    int                      `json:"subscribers"`
}

// Stats handles GET /api/stats.
func (p *Public) Stats(w http.ResponseWriter, r *http.Request) {
	cache, err := p.Geo.Stats()
	if err != nil {
		http.Error(w, "cache unavailable", http.StatusInternalServerError)
		return
	}
	_, at := p.Reg.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		UpdatedAt:      at,
		Degraded:       p.Reg.Degraded(),
		PeersTotal:     p.Reg.Count(),
		ByNetwork:      p.Reg.CountByNetwork(),
		ByDirection:    p.Reg.CountByDirection(),
		Cache:          cache,
		PendingLookups: p.Pending.Pending(),
		ChangeEvents:   p.Changes.Len(),
		Subscribers:    p.Subs.Subscribers(),
	})
}

type changesResponse struct {
	WindowSeconds int                 `json:"window_seconds"`
	Count         int                 `json:"count"`
	Events        []peers.ChangeEvent `json:"events"`
}

// ChangeFeed handles GET /api/changes?window=SECONDS. A missing or oversized
// window falls back to the full retention.
func (p *Public) ChangeFeed(w http.ResponseWriter, r *http.Request) {
	window := p.Changes.Retention()
	if raw := r.URL.Query().Get("window"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			http.Error(w, "bad window", http.StatusBadRequest)
			return
		}
		window = time.Duration(secs) * time.Second
	}
	events := p.Changes.Window(window, time.Now())
	effective := window
	if effective <= 0 || effective > p.Changes.Retention() {
		effective = p.Changes.Retention()
	}
	writeJSON(w, http.StatusOK, changesResponse{
		WindowSeconds: int(effective / time.Second),
		Count:         len(events),
		Events:        events,
	})
}
