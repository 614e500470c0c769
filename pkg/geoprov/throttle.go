package geoprov

import (
	"net/http"
	"strings"
)

// isThrottled reads the provider's rate-limit signals. ip-api.com counts
// the free-tier window down in X-Rl and answers 429 once it is spent;
// Retry-After covers proxies and compatible providers.
func isThrottled(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if strings.TrimSpace(resp.Header.Get("X-Rl")) == "0" {
		return true
	}
	return strings.TrimSpace(resp.Header.Get("Retry-After")) != ""
}

// looksThrottled classifies a fail-status message from the response body.
func looksThrottled(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many request") ||
		strings.Contains(s, "quota")
}
