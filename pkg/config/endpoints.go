// Package config loads the endpoints file: where the node RPC lives and which
// geolocation provider to query. Values support ${VAR} environment expansion
// so credentials stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// NodeEndpoint describes the monitored node's RPC endpoint.
type NodeEndpoint struct {
	URL        string `yaml:"url" json:"url"`
	User       string `yaml:"user" json:"user"`
	Pass       string `yaml:"pass" json:"pass"`
	CookiePath string `yaml:"cookiePath" json:"cookiePath"`
	TimeoutMs  int    `yaml:"timeoutMs" json:"timeoutMs"`
}

// Timeout returns the RPC timeout, defaulted when unset.
func (n NodeEndpoint) Timeout() time.Duration {
	if n.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

// ProviderEndpoint describes the geolocation HTTP provider.
type ProviderEndpoint struct {
	BaseURL   string `yaml:"baseUrl" json:"baseUrl"`
	TimeoutMs int    `yaml:"timeoutMs" json:"timeoutMs"`
	SpacingMs int    `yaml:"spacingMs" json:"spacingMs"`
	Socks5    string `yaml:"socks5" json:"socks5"`
}

// Timeout returns the per-lookup deadline, defaulted when unset.
func (p ProviderEndpoint) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Spacing returns the minimum gap between provider calls, defaulted when
// unset. The default keeps well under the free-tier 45 requests per minute.
func (p ProviderEndpoint) Spacing() time.Duration {
	if p.SpacingMs <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(p.SpacingMs) * time.Millisecond
}

// Endpoints is the full endpoints file.
type Endpoints struct {
	Node     NodeEndpoint     `yaml:"node" json:"node"`
	Provider ProviderEndpoint `yaml:"provider" json:"provider"`
}

// Default returns the configuration used when no endpoints file exists: a
// node on localhost and the public ip-api instance.
func Default() Endpoints {
	return Endpoints{
		Node:     NodeEndpoint{URL: "http://127.0.0.1:8332"},
		Provider: ProviderEndpoint{BaseURL: "http://ip-api.com/json"},
	}
}

var envRe = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`) // Searching for environment variables to substitute.

// Load reads and validates the endpoints file at path, expanding ${VAR}
// placeholders from the environment first.
func Load(path string, logger *zap.Logger) (Endpoints, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Endpoints{}, err
	}
	b = envRe.ReplaceAllFunc(b, func(m []byte) []byte {
		k := string(envRe.FindSubmatch(m)[1])
		val := os.Getenv(k)
		if val == "" {
			logger.Warn("env variable is empty during config expansion",
				zap.String("file", path),
				zap.String("var", k))
		}
		return []byte(val)
	})

	// If any ${VAR} remains -> misconfiguration
	if envRe.Match(b) {
		logger.Error("unresolved ${VAR} placeholders left after env expansion",
			zap.String("file", path))
	}

	var eps Endpoints
	if err := yaml.Unmarshal(b, &eps); err != nil {
		return Endpoints{}, fmt.Errorf("%s: %w", path, err)
	}
	if eps.Node.URL == "" {
		return Endpoints{}, fmt.Errorf("%s: node.url is required", path)
	}
	if eps.Provider.BaseURL == "" {
		eps.Provider.BaseURL = Default().Provider.BaseURL
	}
	return eps, nil
}
