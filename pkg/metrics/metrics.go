package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PeersConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pw_peers_connected", Help: "Connected peers per network"},
		[]string{"network"},
	)
	CacheRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pw_geo_cache_records", Help: "Geo cache records per status"},
		[]string{"status"},
	)
	PendingLookups = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pw_lookups_pending", Help: "Addresses queued for geolocation"},
	)
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pw_ws_subscribers", Help: "Live websocket subscribers"},
	)
	PollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pw_polls_total", Help: "Completed poll cycles"},
	)
	PollFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pw_poll_failures_total", Help: "Poll cycles that failed against the node"},
	)
	PollsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pw_polls_skipped_total", Help: "Ticks skipped because a cycle was still running"},
	)
	Lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pw_lookups_total", Help: "Geolocation lookups per outcome"},
		[]string{"outcome"},
	)
	ChurnEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pw_churn_events_total", Help: "Peer churn events per type"},
		[]string{"type"},
	)
	WSDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pw_ws_dropped_total", Help: "Subscribers dropped on overflow or write error"},
	)
)

func Init() {
	prometheus.MustRegister(PeersConnected, CacheRecords, PendingLookups, Subscribers)
	prometheus.MustRegister(PollsTotal, PollFailures, PollsSkipped, Lookups, ChurnEvents, WSDropped)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
