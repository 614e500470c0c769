package peers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/geostore"
	"github.com/mbhillrn/peerwatch/pkg/metrics"
)

// Update is the outcome of one completed poll cycle.
type Update struct {
	Peers     []PeerRecord
	Events    []ChangeEvent
	Degraded  bool
	UpdatedAt time.Time
}

// Sink consumes completed cycle updates (the event hub).
type Sink interface {
	PublishPeersUpdate(u Update)
}

// Scheduler queues addresses for geolocation.
type Scheduler interface {
	Enqueue(addr string, network addrutil.Network)
}

// GeoWriter is the write side of the geo cache used for presence upserts.
type GeoWriter interface {
	Upsert(addr string, up geostore.Update) (geostore.GeoRecord, error)
}

// PollerConfig tunes the snapshot loop.
type PollerConfig struct {
	// Interval between snapshot fetches.
	Interval time.Duration
	// Retention window of the change log.
	Retention time.Duration
}

// Poller drives the snapshot cycle: fetch, diff, presence upserts, lookup
// enqueue, publish. At most one cycle runs at a time; a tick firing during a
// running cycle is dropped, never queued.
type Poller struct {
	source Source
	geo    GeoWriter
	sched  Scheduler
	sink   Sink
	log    *zap.Logger

	interval time.Duration
	registry *Registry
	changes  *ChangeLog

	sem chan struct{}
	wg  sync.WaitGroup

	prev []PeerRecord
}

func NewPoller(source Source, geo GeoWriter, sched Scheduler, sink Sink, cfg PollerConfig, logger *zap.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		source:   source,
		geo:      geo,
		sched:    sched,
		sink:     sink,
		log:      logger,
		interval: interval,
		registry: NewRegistry(),
		changes:  NewChangeLog(cfg.Retention),
		sem:      make(chan struct{}, 1),
	}
}

// Registry exposes the latest snapshot for readers.
func (p *Poller) Registry() *Registry { return p.registry }

// Changes exposes the rolling churn log.
func (p *Poller) Changes() *ChangeLog { return p.changes }

// Run polls until ctx is cancelled. The first cycle starts immediately. An
// in-flight cycle finishes before Run returns.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	p.spawnCycle()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-t.C:
			p.spawnCycle()
		}
	}
}

func (p *Poller) spawnCycle() {
	select {
	case p.sem <- struct{}{}:
	default:
		metrics.PollsSkipped.Inc()
		p.log.Debug("poll_tick_skipped")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.cycle()
	}()
}

// cycle runs one fetch-diff-publish pass. The fetch uses its own timeout
// rather than the run context so a cycle in flight during shutdown completes.
func (p *Poller) cycle() {
	start := time.Now()
	p.changes.Prune(start)

	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()
	curr, err := p.source.Peers(ctx)
	if err != nil {
		p.registry.SetDegraded()
		metrics.PollFailures.Inc()
		p.log.Warn("poll_failed", zap.Error(err))
		snap, at := p.registry.Snapshot()
		p.sink.PublishPeersUpdate(Update{Peers: snap, Degraded: true, UpdatedAt: at})
		return
	}

	now := time.Now()
	events := Diff(p.prev, curr, now)
	p.prev = curr
	p.changes.Append(events)
	p.registry.SetSnapshot(curr, now)

	for _, ev := range events {
		metrics.ChurnEvents.WithLabelValues(string(ev.Type)).Inc()
		if ev.Type != ChangeConnected {
			continue
		}
		rec, err := p.geo.Upsert(ev.Addr, geostore.Update{Network: ev.Network})
		if err != nil {
			p.log.Error("presence_upsert_failed",
				zap.String("address", addrutil.Normalize(ev.Addr)), zap.Error(err))
			continue
		}
		if geostore.ShouldRetry(rec, now) {
			p.sched.Enqueue(rec.Address, rec.Network)
		}
	}

	metrics.PollsTotal.Inc()
	p.sink.PublishPeersUpdate(Update{Peers: curr, Events: events, UpdatedAt: now})
	p.log.Info("poll_cycle",
		zap.Int("peers", len(curr)),
		zap.Int("churn", len(events)),
		zap.Duration("took", time.Since(start)))
}
