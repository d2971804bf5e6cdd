package config

import "time"

// RateLimitConfig drives the Redis token bucket on the reserve and cancel
// endpoints.  Guests are keyed by client IP and get their own, smaller
// bucket; members are keyed by subject.
type RateLimitConfig struct {
	Enabled        bool
	MemberCapacity int
	GuestCapacity  int
	RefillInterval time.Duration
	TTL            time.Duration
	// PerTarget gives every occurrence or reservation its own bucket, so a
	// holder retrying one slot does not lock them out of the rest.
	PerTarget bool
	Prefix    string
}

func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		MemberCapacity: envInt("RATE_LIMIT_CAPACITY", 20),
		GuestCapacity:  envInt("RATE_LIMIT_GUEST_CAPACITY", 5),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 3*time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		PerTarget:      envBool("RATE_LIMIT_PER_TARGET", false),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "studio:rl"),
	}
	if cfg.MemberCapacity < 1 {
		cfg.MemberCapacity = 1
	}
	if cfg.GuestCapacity < 1 || cfg.GuestCapacity > cfg.MemberCapacity {
		cfg.GuestCapacity = cfg.MemberCapacity
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	// A bucket must outlive a full refill or it resets to full early.
	if floor := 5 * cfg.RefillInterval; cfg.TTL < floor {
		cfg.TTL = floor
	}
	return cfg
}
