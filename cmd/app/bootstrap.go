package main

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	cfgfile "github.com/mbhillrn/peerwatch/pkg/config"
	"github.com/mbhillrn/peerwatch/pkg/geoprov"
	"github.com/mbhillrn/peerwatch/pkg/geostore"
	"github.com/mbhillrn/peerwatch/pkg/hub"
	"github.com/mbhillrn/peerwatch/pkg/nodeclient"
	"github.com/mbhillrn/peerwatch/pkg/peers"
	"github.com/mbhillrn/peerwatch/pkg/resolver"
	"github.com/mbhillrn/peerwatch/pkg/secrets"
)

type app struct {
	store    *geostore.Store
	client   *nodeclient.Client
	resolver *resolver.Resolver
	poller   *peers.Poller
	hub      *hub.Hub
}

// pendingFunc adapts a closure to the hub's PendingCounter. The resolver
// is constructed after the hub, so the hub gets a closure over it.
type pendingFunc func() int

func (f pendingFunc) Pending() int { return f() }

func initComponents(cfg config, logger *zap.Logger) (*app, error) {
	instanceID := uuid.NewString()
	logger.Info("instance_started",
		zap.String("instance_id", instanceID),
		zap.String("version", Version),
	)

	eps := loadEndpoints(cfg, logger)

	store, err := geostore.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}

	client := nodeclient.New(nodeclient.Options{
		URL:        eps.Node.URL,
		User:       eps.Node.User,
		Pass:       eps.Node.Pass,
		CookiePath: eps.Node.CookiePath,
		Timeout:    eps.Node.Timeout(),
	}, logger)

	provider, err := geoprov.New(geoprov.Options{
		BaseURL: eps.Provider.BaseURL,
		Timeout: eps.Provider.Timeout(),
		Socks5:  eps.Provider.Socks5,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var res *resolver.Resolver
	h := hub.New(store, pendingFunc(func() int {
		if res == nil {
			return 0
		}
		return res.Pending()
	}), hub.Config{Keepalive: cfg.Keepalive}, logger)

	res = resolver.New(provider, store, h, resolver.Config{
		Spacing:       eps.Provider.Spacing(),
		LookupTimeout: eps.Provider.Timeout(),
		RescanEvery:   cfg.Rescan,
	}, logger)

	poller := peers.NewPoller(client, store, res, h, peers.PollerConfig{
		Interval:  cfg.PollInterval,
		Retention: cfg.Retention,
	}, logger)

	logger.Info("components_ready",
		zap.String("node_url", secrets.RedactURL(eps.Node.URL)),
		zap.String("provider", eps.Provider.BaseURL),
		zap.String("data_dir", cfg.DataDir),
	)

	return &app{
		store:    store,
		client:   client,
		resolver: res,
		poller:   poller,
		hub:      h,
	}, nil
}

func loadEndpoints(cfg config, logger *zap.Logger) cfgfile.Endpoints {
	eps, err := cfgfile.Load(cfg.EndpointsFile, logger)
	if err != nil {
		logger.Warn("endpoints_file_unavailable",
			zap.String("path", cfg.EndpointsFile),
			zap.Error(err),
		)
		return cfgfile.Default()
	}
	return eps
}
