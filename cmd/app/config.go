package main

import (
	"os"
	"time"
)

type config struct {
	Host          string
	Port          string
	AdminKey      string
	DataDir       string
	EndpointsFile string
	LogLevel      string
	PollInterval  time.Duration
	Retention     time.Duration
	Rescan        time.Duration
	Keepalive     time.Duration
}

func loadConfig() config {
	return config{
		Host:          getEnv("SERVER_HOST", "0.0.0.0"),
		Port:          getEnv("SERVER_PORT", "8080"),
		AdminKey:      getEnv("ADMIN_API_KEY", "changeme"),
		DataDir:       getEnv("DATA_DIR", "data/geocache"),
		EndpointsFile: getEnv("ENDPOINTS_FILE", "configs/endpoints.yaml"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PollInterval:  getEnvDuration("POLL_INTERVAL", 10*time.Second),
		Retention:     getEnvDuration("CHANGELOG_RETENTION", 15*time.Minute),
		Rescan:        getEnvDuration("RESCAN_INTERVAL", 10*time.Minute),
		Keepalive:     getEnvDuration("WS_KEEPALIVE", 30*time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
