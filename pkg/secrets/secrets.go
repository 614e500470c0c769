// Package secrets keeps node credentials and API keys out of log output.
// Values are collected from the environment at first use; credentials loaded
// at runtime (cookie files) are added through Register.
package secrets

import (
	"net/url"
	"os"
	"strings"
	"sync"
)

var (
	once sync.Once
	mu   sync.RWMutex
	vals []string

	headerKeySet = map[string]struct{}{
		"x-api-key":           {},
		"x-admin-key":         {},
		"authorization":       {},
		"proxy-authorization": {},
		"api-key":             {},
	}

	envNameSensitivePatterns = []string{
		"API_KEY", "TOKEN", "SECRET", "PASSWORD", "RPC_PASS", "ACCESS_KEY", "PRIVATE_KEY",
	}
)

func initSensitiveEnvs() {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name, val := parts[0], parts[1]
		up := strings.ToUpper(name)
		for _, pat := range envNameSensitivePatterns {
			if strings.Contains(up, pat) && val != "" {
				vals = append(vals, val)
				break
			}
		}
	}
}

// Register adds credentials discovered at runtime, such as the contents of an
// RPC cookie file, to the redaction set.
func Register(secrets ...string) {
	once.Do(initSensitiveEnvs)
	mu.Lock()
	defer mu.Unlock()
	for _, s := range secrets {
		if s != "" {
			vals = append(vals, s)
		}
	}
}

// RedactHeaders masks the values of credential-bearing headers.
func RedactHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return h
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, ok := headerKeySet[strings.ToLower(k)]; ok {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

// RedactString masks every known secret value occurring in s.
func RedactString(s string) string {
	once.Do(initSensitiveEnvs)
	mu.RLock()
	defer mu.RUnlock()
	for _, val := range vals {
		if val == "" {
			continue
		}
		s = strings.ReplaceAll(s, val, "[HIDDEN]")
	}
	return s
}

// RedactURL strips userinfo embedded in a URL, keeping the rest intact so the
// endpoint stays identifiable in logs.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return RedactString(raw)
	}
	u.User = nil
	return u.String()
}
