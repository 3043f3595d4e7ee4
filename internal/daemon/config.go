package daemon

import (
	"os"
	"strconv"
	"time"
)

// Config holds the Daemon's pool-sizing and timing policy, per SPEC_FULL.md
// §4.6: "{min_workers, max_workers, idle_timeout, health_check_interval,
// max_requests_per_worker, request_timeout}".
type Config struct {
	MinWorkers          int
	MaxWorkers          int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	MaxRequestsPerWorker int
	RequestTimeout      time.Duration

	// GracePeriod bounds how long a retired or hung worker gets to exit on
	// its own Shutdown/SIGTERM before the Daemon escalates to SIGKILL
	// (§4.6.4/§4.6.6's "wait briefly"/"grace period").
	GracePeriod time.Duration
}

// DefaultConfig returns the spec's stated defaults: 4 / 8 / 60s / 5s / 1000
// / 30s.
func DefaultConfig() Config {
	return Config{
		MinWorkers:           4,
		MaxWorkers:           8,
		IdleTimeout:          60 * time.Second,
		HealthCheckInterval:  5 * time.Second,
		MaxRequestsPerWorker: 1000,
		RequestTimeout:       30 * time.Second,
		GracePeriod:          2 * time.Second,
	}
}

// LoadConfigFromEnv overlays RUSH_MIN_WORKERS/RUSH_MAX_WORKERS/
// RUSH_IDLE_TIMEOUT/RUSH_HEALTH_CHECK_INTERVAL/RUSH_MAX_REQUESTS_PER_WORKER/
// RUSH_REQUEST_TIMEOUT onto DefaultConfig(), read once at daemon startup per
// SPEC_FULL.md §2's Configuration ambient concern. Malformed values are
// ignored, keeping the default.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	intVar(&cfg.MinWorkers, "RUSH_MIN_WORKERS")
	intVar(&cfg.MaxWorkers, "RUSH_MAX_WORKERS")
	durationVar(&cfg.IdleTimeout, "RUSH_IDLE_TIMEOUT")
	durationVar(&cfg.HealthCheckInterval, "RUSH_HEALTH_CHECK_INTERVAL")
	intVar(&cfg.MaxRequestsPerWorker, "RUSH_MAX_REQUESTS_PER_WORKER")
	durationVar(&cfg.RequestTimeout, "RUSH_REQUEST_TIMEOUT")
	return cfg
}

func intVar(dst *int, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func durationVar(dst *time.Duration, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
