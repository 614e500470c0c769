package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/geoprov"
	"github.com/mbhillrn/peerwatch/pkg/geostore"
)

type fakeProvider struct {
	mu      sync.Mutex
	results map[string]geoprov.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeProvider) Lookup(ctx context.Context, addr string) (geoprov.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addr)
	if err, ok := f.errs[addr]; ok {
		return geoprov.Result{}, err
	}
	return f.results[addr], nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu   sync.Mutex
	recs []geostore.GeoRecord
}

func (f *fakeNotifier) PublishGeoUpdate(rec geostore.GeoRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

func newTestResolver(t *testing.T, p Provider, cfg Config) (*Resolver, *geostore.Store, *fakeNotifier) {
	t.Helper()
	store, err := geostore.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	n := &fakeNotifier{}
	return New(p, store, n, cfg, zap.NewNop()), store, n
}

func TestProcess_OnionNeverReachesProvider(t *testing.T) {
	p := &fakeProvider{}
	r, store, notify := newTestResolver(t, p, Config{})

	r.process(task{addr: "examplehost.onion", network: addrutil.NetworkOnion})

	require.Zero(t, p.callCount())
	rec, found, err := store.Get("examplehost.onion")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, geostore.StatusPrivate, rec.Status)
	require.Equal(t, 1, notify.count())
}

func TestProcess_ReservedRangeIsPrivate(t *testing.T) {
	p := &fakeProvider{}
	r, store, _ := newTestResolver(t, p, Config{})

	// Network unknown: the worker classifies before deciding.
	r.process(task{addr: "10.1.2.3"})

	require.Zero(t, p.callCount())
	rec, found, err := store.Get("10.1.2.3")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, geostore.StatusPrivate, rec.Status)
	require.Equal(t, addrutil.NetworkIPv4, rec.Network)
}

func TestProcess_SuccessStoresResult(t *testing.T) {
	p := &fakeProvider{results: map[string]geoprov.Result{
		"51.15.120.4": {
			Country: "Iceland", CountryCode: "IS", Region: "Capital Region",
			City: "Reykjavik", Lat: 64.1355, Lon: -21.8954,
			ISP: "Advania", ASInfo: "AS50613", Hosting: true,
		},
	}}
	r, store, notify := newTestResolver(t, p, Config{Spacing: time.Millisecond})

	r.process(task{addr: "51.15.120.4", network: addrutil.NetworkIPv4})

	rec, found, err := store.Get("51.15.120.4")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, geostore.StatusOK, rec.Status)
	require.Equal(t, "Iceland", rec.Country)
	require.Equal(t, "IS", rec.CountryCode)
	require.InDelta(t, 64.1355, rec.Lat, 0.0001)
	require.True(t, rec.Hosting)
	require.Zero(t, rec.RetryCount)
	require.False(t, rec.LastLookup.IsZero())
	require.Equal(t, 1, notify.count())
}

func TestProcess_FailureWalksBackoff(t *testing.T) {
	p := &fakeProvider{errs: map[string]error{
		"198.18.0.9": geoprov.ErrProvider,
	}}
	r, store, notify := newTestResolver(t, p, Config{Spacing: time.Millisecond})

	r.process(task{addr: "198.18.0.9", network: addrutil.NetworkIPv4})
	r.process(task{addr: "198.18.0.9", network: addrutil.NetworkIPv4})

	rec, found, err := store.Get("198.18.0.9")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, geostore.StatusUnavailable, rec.Status)
	require.Equal(t, 2, rec.RetryCount)
	require.Equal(t, 2, notify.count(), "failures notify subscribers too")
}

func TestProcess_ThrottleIsOrdinaryFailure(t *testing.T) {
	p := &fakeProvider{
		errs:    map[string]error{"198.18.0.9": geoprov.ErrThrottled},
		results: map[string]geoprov.Result{"51.15.120.4": {Country: "Iceland"}},
	}
	r, store, _ := newTestResolver(t, p, Config{Spacing: time.Millisecond})

	r.process(task{addr: "198.18.0.9", network: addrutil.NetworkIPv4})
	r.process(task{addr: "51.15.120.4", network: addrutil.NetworkIPv4})

	require.Equal(t, 2, p.callCount(), "worker continues past a throttle")

	throttled, _, err := store.Get("198.18.0.9")
	require.NoError(t, err)
	require.Equal(t, geostore.StatusUnavailable, throttled.Status)
	require.Equal(t, 1, throttled.RetryCount)

	resolved, _, err := store.Get("51.15.120.4")
	require.NoError(t, err)
	require.Equal(t, geostore.StatusOK, resolved.Status)
}

func TestProcess_SpacingBoundsThroughput(t *testing.T) {
	p := &fakeProvider{results: map[string]geoprov.Result{
		"1.1.1.1": {}, "8.8.8.8": {}, "9.9.9.9": {},
	}}
	spacing := 120 * time.Millisecond
	r, _, _ := newTestResolver(t, p, Config{Spacing: spacing})

	start := time.Now()
	r.process(task{addr: "1.1.1.1", network: addrutil.NetworkIPv4})
	r.process(task{addr: "8.8.8.8", network: addrutil.NetworkIPv4})
	r.process(task{addr: "9.9.9.9", network: addrutil.NetworkIPv4})

	require.GreaterOrEqual(t, time.Since(start), 2*spacing,
		"three lookups take at least two spacing gaps")
	require.Equal(t, 3, p.callCount())
}

func TestEnqueue_DeduplicatesAndCounts(t *testing.T) {
	r, _, _ := newTestResolver(t, &fakeProvider{}, Config{})

	r.Enqueue("51.15.120.4:8333", addrutil.NetworkIPv4)
	r.Enqueue("51.15.120.4", addrutil.NetworkIPv4) // same address, no port
	require.Equal(t, 1, r.Pending())

	r.Enqueue("8.8.8.8", addrutil.NetworkIPv4)
	require.Equal(t, 2, r.Pending())
}

func TestPrime_SeedsUnfinishedBacklog(t *testing.T) {
	p := &fakeProvider{}
	r, store, _ := newTestResolver(t, p, Config{})

	_, err := store.Upsert("198.18.0.9", geostore.Update{Network: addrutil.NetworkIPv4})
	require.NoError(t, err)
	_, err = store.Upsert("51.15.120.4", geostore.Update{
		Network: addrutil.NetworkIPv4,
		Status:  geostore.StatusOK,
		Lookup:  &geostore.LookupResult{OK: true},
	})
	require.NoError(t, err)

	r.prime()
	require.Equal(t, 1, r.Pending())
}

func TestRun_DrainsQueueUntilCancelled(t *testing.T) {
	p := &fakeProvider{results: map[string]geoprov.Result{
		"1.1.1.1": {Country: "Australia"},
		"8.8.8.8": {Country: "United States"},
	}}
	r, store, _ := newTestResolver(t, p, Config{Spacing: time.Millisecond, RescanEvery: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	r.Enqueue("1.1.1.1", addrutil.NetworkIPv4)
	r.Enqueue("8.8.8.8", addrutil.NetworkIPv4)

	require.Eventually(t, func() bool {
		a, _, _ := store.Get("1.1.1.1")
		b, _, _ := store.Get("8.8.8.8")
		return a.Status == geostore.StatusOK && b.Status == geostore.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.Zero(t, r.Pending())
	cancel()
	<-done
}
