package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/geostore"
	"github.com/mbhillrn/peerwatch/pkg/metrics"
)

var (
	allNetworks = []addrutil.Network{
		addrutil.NetworkIPv4, addrutil.NetworkIPv6, addrutil.NetworkOnion,
		addrutil.NetworkI2P, addrutil.NetworkCJDNS, addrutil.NetworkUnknown,
	}
	allStatuses = []geostore.Status{
		geostore.StatusPending, geostore.StatusOK,
		geostore.StatusPrivate, geostore.StatusUnavailable,
	}
)

// startStatsLoop keeps the slow-moving gauges fresh. Counters are bumped
// inline by the components; gauges over the registry and the cache are
// cheaper to sample than to maintain on every mutation.
func startStatsLoop(ctx context.Context, a *app, logger *zap.Logger) {
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			byNet := a.poller.Registry().CountByNetwork()
			for _, n := range allNetworks {
				metrics.PeersConnected.WithLabelValues(string(n)).Set(float64(byNet[n]))
			}

			st, err := a.store.Stats()
			if err != nil {
				logger.Warn("stats_refresh_failed", zap.Error(err))
				continue
			}
			for _, s := range allStatuses {
				metrics.CacheRecords.WithLabelValues(string(s)).Set(float64(st.ByStatus[s]))
			}

			metrics.PendingLookups.Set(float64(a.resolver.Pending()))
		}
	}()
}
