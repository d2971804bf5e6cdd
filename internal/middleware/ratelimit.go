package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/studio-reservation/internal/config"
)

// spend refills a bucket in whole intervals of one token and takes one.
// Returns {allowed, left, retry_after_ms}.
var spend = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local cap = tonumber(ARGV[2])
	local every = tonumber(ARGV[3])
	local b = redis.call('HMGET', KEYS[1], 'left', 'at')
	local left = tonumber(b[1]) or cap
	local at = tonumber(b[2]) or now
	local steps = math.floor(math.max(0, now - at) / every)
	if steps > 0 then
		left = math.min(cap, left + steps)
		at = at + steps * every
	end
	local ok, wait = 0, 0
	if left > 0 then
		ok, left = 1, left - 1
	else
		wait = math.max(0, every - (now - at))
	end
	redis.call('HSET', KEYS[1], 'left', left, 'at', at)
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
	return { ok, left, wait }
`)

// NewTokenBucket limits reserve and cancel calls per holder.  It must run
// after OptionalJWT so members are recognised.  Without Redis, or when
// the script fails, requests pass.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *slog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, capacity := bucketFor(cfg, c)
			vals, err := spend.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				capacity,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
			).Int64Slice()
			if err != nil || len(vals) != 3 {
				log.Warn("rate limit check skipped", slog.String("key", key), slog.String("result", fmt.Sprint(vals)), slog.Any("error", err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))
			if vals[0] != 1 {
				secs := int(math.Ceil(float64(vals[2]) / 1000))
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too many reservation attempts",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

// bucketFor returns the bucket key and its capacity for the caller.
func bucketFor(cfg config.RateLimitConfig, c echo.Context) (string, int) {
	key, capacity := cfg.Prefix+":guest:"+c.RealIP(), cfg.GuestCapacity
	if sub, ok := c.Get("user_id").(string); ok && sub != "" {
		key, capacity = cfg.Prefix+":member:"+sub, cfg.MemberCapacity
	}
	if cfg.PerTarget {
		if id := c.Param("id"); id != "" {
			key += ":" + c.Path() + ":" + id
		}
	}
	return key, capacity
}
