// Package resolver is the lookup scheduler: a single worker drains a FIFO
// queue of addresses and calls the external geolocation provider under a
// global minimum spacing. Overlay and non-routable addresses are classified
// locally and never reach the provider. A periodic rescan of the store picks
// up addresses whose retry backoff has elapsed, whether or not they are still
// connected.
package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/geoprov"
	"github.com/mbhillrn/peerwatch/pkg/geostore"
	"github.com/mbhillrn/peerwatch/pkg/metrics"
)

// Provider resolves one address externally.
type Provider interface {
	Lookup(ctx context.Context, addr string) (geoprov.Result, error)
}

// Store is the slice of the geo cache the scheduler needs.
type Store interface {
	Upsert(addr string, up geostore.Update) (geostore.GeoRecord, error)
	Pending(limit int) ([]string, error)
	Eligible(now time.Time, limit int) ([]string, error)
}

// Notifier receives every refreshed record, failures included, so live
// subscribers can track status transitions.
type Notifier interface {
	PublishGeoUpdate(rec geostore.GeoRecord)
}

// Config tunes the scheduler.
type Config struct {
	// Spacing is the minimum wall-clock gap between provider calls.
	Spacing time.Duration
	// LookupTimeout bounds one provider call.
	LookupTimeout time.Duration
	// RescanEvery is the store rescan interval for due retries.
	RescanEvery time.Duration
	// QueueSize caps the lookup queue; overflow is dropped and the rescan
	// picks the address up later.
	QueueSize int
}

func (c *Config) withDefaults() {
	if c.Spacing <= 0 {
		c.Spacing = 1500 * time.Millisecond
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 10 * time.Second
	}
	if c.RescanEvery <= 0 {
		c.RescanEvery = 10 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

type task struct {
	addr    string
	network addrutil.Network
}

// Resolver owns the queue and the single worker goroutine.
type Resolver struct {
	provider Provider
	store    Store
	notify   Notifier
	log      *zap.Logger
	cfg      Config

	queue   chan task
	pending atomic.Int64

	mu     sync.Mutex
	queued map[string]struct{}

	// lastCall is touched only by the worker goroutine.
	lastCall time.Time
}

func New(provider Provider, store Store, notify Notifier, cfg Config, logger *zap.Logger) *Resolver {
	cfg.withDefaults()
	return &Resolver{
		provider: provider,
		store:    store,
		notify:   notify,
		log:      logger,
		cfg:      cfg,
		queue:    make(chan task, cfg.QueueSize),
		queued:   make(map[string]struct{}),
	}
}

// Enqueue queues addr for lookup. Duplicates of an address already queued or
// in flight are dropped, as is everything past a full queue; the periodic
// rescan catches both cases later.
func (r *Resolver) Enqueue(addr string, network addrutil.Network) {
	norm := addrutil.Normalize(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queued[norm]; ok {
		return
	}
	select {
	case r.queue <- task{addr: norm, network: network}:
		r.queued[norm] = struct{}{}
		r.pending.Add(1)
	default:
		r.log.Warn("lookup_queue_full", zap.String("address", norm))
	}
}

// Pending returns the number of addresses queued or in flight.
func (r *Resolver) Pending() int {
	return int(r.pending.Load())
}

// Run processes the queue until ctx is cancelled. An in-flight lookup always
// completes before Run returns.
func (r *Resolver) Run(ctx context.Context) {
	r.prime()
	rescan := time.NewTicker(r.cfg.RescanEvery)
	defer rescan.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-rescan.C:
			r.rescan()
		case tk := <-r.queue:
			r.process(tk)
		}
	}
}

// prime seeds the queue with the backlog a previous run left unfinished.
// Addresses on the retry ladder follow via the first rescan tick.
func (r *Resolver) prime() {
	addrs, err := r.store.Pending(cap(r.queue))
	if err != nil {
		r.log.Error("lookup_prime_failed", zap.Error(err))
		return
	}
	for _, a := range addrs {
		r.Enqueue(a, "")
	}
	if len(addrs) > 0 {
		r.log.Info("lookup_backlog_primed", zap.Int("count", len(addrs)))
	}
}

func (r *Resolver) rescan() {
	addrs, err := r.store.Eligible(time.Now(), cap(r.queue))
	if err != nil {
		r.log.Error("lookup_rescan_failed", zap.Error(err))
		return
	}
	for _, a := range addrs {
		r.Enqueue(a, "")
	}
	if len(addrs) > 0 {
		r.log.Info("lookup_rescan", zap.Int("eligible", len(addrs)))
	}
}

func (r *Resolver) process(tk task) {
	defer func() {
		r.mu.Lock()
		delete(r.queued, tk.addr)
		r.mu.Unlock()
		r.pending.Add(-1)
	}()

	network := tk.network
	if network == "" || network == addrutil.NetworkUnknown {
		network = addrutil.Classify(tk.addr)
	}

	// Overlay and non-routable addresses are decided locally: no provider
	// call, no spacing consumed.
	if addrutil.IsOverlay(network) || !addrutil.IsRoutable(tk.addr) {
		rec, err := r.store.Upsert(tk.addr, geostore.Update{
			Network: network,
			Status:  geostore.StatusPrivate,
		})
		if err != nil {
			r.log.Error("lookup_store_failed", zap.String("address", tk.addr), zap.Error(err))
			return
		}
		metrics.Lookups.WithLabelValues("private").Inc()
		r.log.Debug("lookup_private",
			zap.String("address", tk.addr), zap.String("network", string(network)))
		r.notify.PublishGeoUpdate(rec)
		return
	}

	r.waitSpacing()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LookupTimeout)
	res, err := r.provider.Lookup(ctx, tk.addr)
	cancel()
	if err != nil {
		outcome := "failed"
		switch {
		case errors.Is(err, geoprov.ErrThrottled):
			outcome = "throttled"
		case errors.Is(err, geoprov.ErrTimeout):
			outcome = "timeout"
		}
		metrics.Lookups.WithLabelValues(outcome).Inc()
		rec, uerr := r.store.Upsert(tk.addr, geostore.Update{
			Network: network,
			Status:  geostore.StatusUnavailable,
			Lookup:  &geostore.LookupResult{OK: false},
		})
		if uerr != nil {
			r.log.Error("lookup_store_failed", zap.String("address", tk.addr), zap.Error(uerr))
			return
		}
		r.log.Warn("lookup_failed",
			zap.String("address", tk.addr),
			zap.String("outcome", outcome),
			zap.Int("retry_count", rec.RetryCount),
			zap.Error(err))
		r.notify.PublishGeoUpdate(rec)
		return
	}

	rec, uerr := r.store.Upsert(tk.addr, geostore.Update{
		Network:     network,
		Status:      geostore.StatusOK,
		Country:     res.Country,
		CountryCode: res.CountryCode,
		Region:      res.Region,
		City:        res.City,
		ISP:         res.ISP,
		ASInfo:      res.ASInfo,
		Lat:         &res.Lat,
		Lon:         &res.Lon,
		Hosting:     &res.Hosting,
		Lookup:      &geostore.LookupResult{OK: true},
	})
	if uerr != nil {
		r.log.Error("lookup_store_failed", zap.String("address", tk.addr), zap.Error(uerr))
		return
	}
	metrics.Lookups.WithLabelValues("ok").Inc()
	r.log.Info("lookup_ok",
		zap.String("address", tk.addr),
		zap.String("country", rec.CountryCode),
		zap.String("city", rec.City))
	r.notify.PublishGeoUpdate(rec)
}

// waitSpacing blocks until the global inter-call gap has elapsed. Processing
// N provider-bound lookups therefore takes at least (N-1) times the spacing.
func (r *Resolver) waitSpacing() {
	if !r.lastCall.IsZero() {
		if wait := r.cfg.Spacing - time.Since(r.lastCall); wait > 0 {
			time.Sleep(wait)
		}
	}
	r.lastCall = time.Now()
}
