// Package geoprov talks to an ip-api.com compatible geolocation endpoint.
// The provider is unauthenticated and externally rate limited; callers own
// the request budget and treat every failure here as retryable.
package geoprov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const defaultFields = "status,message,country,countryCode,regionName,city,lat,lon,isp,as,hosting"

var (
	// ErrProvider covers transport failures, non-200 answers and malformed
	// or fail-status bodies.
	ErrProvider = errors.New("geo provider error")
	// ErrThrottled marks a provider-side rate limit hit.
	ErrThrottled = errors.New("geo provider throttled")
	// ErrTimeout marks a lookup that exceeded its deadline.
	ErrTimeout = errors.New("geo provider timeout")
)

// Result is one resolved address.
type Result struct {
	Country     string
	CountryCode string
	Region      string
	City        string
	Lat         float64
	Lon         float64
	ISP         string
	ASInfo      string
	Hosting     bool
}

// Options configures the provider client.
type Options struct {
	// BaseURL without trailing slash, e.g. http://ip-api.com/json.
	BaseURL string
	// Timeout bounds one lookup end to end.
	Timeout time.Duration
	// Socks5 optionally routes lookups through a SOCKS5 proxy
	// (host:port), e.g. a local Tor daemon.
	Socks5 string
}

// Client queries the provider over plain HTTP GET.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(opts Options) (*Client, error) {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = "http://ip-api.com/json"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 8 * time.Second,
	}
	if opts.Socks5 != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.Socks5, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", opts.Socks5, err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// response is the ip-api.com wire format.
type response struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ISP         string  `json:"isp"`
	AS          string  `json:"as"`
	Hosting     bool    `json:"hosting"`
}

// Lookup resolves one address. All failure classes map onto the three
// sentinels; none of them is fatal to the caller.
func (c *Client) Lookup(ctx context.Context, addr string) (Result, error) {
	u := c.baseURL + "/" + url.PathEscape(addr) + "?fields=" + defaultFields
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", ErrProvider, err)
	}
	if isThrottled(resp) {
		return Result{}, fmt.Errorf("%w: status %d", ErrThrottled, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	var raw response
	if err := json.Unmarshal(body, &raw); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrProvider, err)
	}
	if !strings.EqualFold(raw.Status, "success") {
		msg := raw.Message
		if msg == "" {
			msg = "status " + raw.Status
		}
		if looksThrottled(msg) {
			return Result{}, fmt.Errorf("%w: %s", ErrThrottled, msg)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrProvider, msg)
	}

	return Result{
		Country:     raw.Country,
		CountryCode: raw.CountryCode,
		Region:      raw.RegionName,
		City:        raw.City,
		Lat:         raw.Lat,
		Lon:         raw.Lon,
		ISP:         raw.ISP,
		ASInfo:      raw.AS,
		Hosting:     raw.Hosting,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue) && ue.Timeout()
}
