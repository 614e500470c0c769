// Package nodeclient is the JSON-RPC peer source: it asks the local node for
// its current connections and maps them into peer records. Authentication is
// rpcuser/rpcpass or a cookie file, re-read once on 401 because a node
// restart rotates the cookie.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/peers"
	"github.com/mbhillrn/peerwatch/pkg/secrets"
)

// ErrNodeUnavailable is returned for every failure class: transport, HTTP,
// RPC error objects and undecodable bodies alike.
var ErrNodeUnavailable = errors.New("node unavailable")

const maxResponseBytes = 8 << 20

// Options configures the RPC connection.
type Options struct {
	URL        string
	User       string
	Pass       string
	CookiePath string
	Timeout    time.Duration
}

// Client calls the node's JSON-RPC endpoint. Safe for concurrent use.
type Client struct {
	opts Options
	http *http.Client
	log  *zap.Logger

	mu   sync.Mutex
	user string
	pass string

	reqID atomic.Uint64
}

func New(opts Options, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		opts: opts,
		http: &http.Client{Timeout: timeout},
		log:  logger,
		user: opts.User,
		pass: opts.Pass,
	}
	secrets.Register(opts.Pass)
	if opts.CookiePath != "" {
		if err := c.loadCookie(); err != nil {
			logger.Warn("rpc_cookie_read_failed",
				zap.String("path", opts.CookiePath), zap.Error(err))
		}
	}
	return c
}

// Peers implements peers.Source via getpeerinfo. Address manager membership
// comes from getnodeaddresses; when that call fails or is unsupported the
// flag stays false for everyone rather than failing the snapshot.
func (c *Client) Peers(ctx context.Context) ([]peers.PeerRecord, error) {
	var info []peerInfo
	if err := c.call(ctx, "getpeerinfo", nil, &info); err != nil {
		return nil, fmt.Errorf("%w: getpeerinfo: %v", ErrNodeUnavailable, err)
	}
	known := c.knownAddresses(ctx)

	out := make([]peers.PeerRecord, 0, len(info))
	for _, p := range info {
		host := addrutil.Normalize(p.Addr)
		network := addrutil.ParseNetwork(p.Network)
		if network == addrutil.NetworkUnknown {
			network = addrutil.Classify(host)
		}
		direction := peers.DirectionOut
		if p.Inbound {
			direction = peers.DirectionIn
		}
		var since time.Time
		if p.ConnTime > 0 {
			since = time.Unix(p.ConnTime, 0).UTC()
		}
		_, inMgr := known[host]
		out = append(out, peers.PeerRecord{
			ID:             p.ID,
			Addr:           p.Addr,
			Network:        network,
			Direction:      direction,
			BytesSent:      p.BytesSent,
			BytesRecv:      p.BytesRecv,
			PingMs:         p.PingTime * 1000,
			ConnectedSince: since,
			UserAgent:      p.SubVer,
			InAddrManager:  inMgr,
		})
	}
	return out, nil
}

func (c *Client) knownAddresses(ctx context.Context) map[string]struct{} {
	var addrs []nodeAddress
	if err := c.call(ctx, "getnodeaddresses", []any{0}, &addrs); err != nil {
		c.log.Debug("getnodeaddresses_failed", zap.Error(err))
		return nil
	}
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[addrutil.Normalize(a.Address)] = struct{}{}
	}
	return set
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.opts.CookiePath != "" {
		resp.Body.Close()
		if err := c.loadCookie(); err != nil {
			return fmt.Errorf("reload cookie: %w", err)
		}
		if resp, err = c.post(ctx, body); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	user, pass := c.credentials()
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	return c.http.Do(req)
}

func (c *Client) credentials() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.pass
}

func (c *Client) loadCookie() error {
	b, err := os.ReadFile(c.opts.CookiePath)
	if err != nil {
		return err
	}
	user, pass, ok := strings.Cut(strings.TrimSpace(string(b)), ":")
	if !ok {
		return fmt.Errorf("cookie file %s: malformed", c.opts.CookiePath)
	}
	secrets.Register(pass)
	c.mu.Lock()
	c.user, c.pass = user, pass
	c.mu.Unlock()
	return nil
}
