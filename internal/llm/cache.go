package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dileep-u-k/agent-host/internal/version"
)

const (
	cacheKeyPrefix  = "llmcache"
	defaultCacheTTL = 1 * time.Hour
)

// CachingClient decorates another Client with a Redis-backed response cache.
//
// The key is a versioned hash of the model plus the entire serialized
// conversation, so two sessions that reach an identical message log get the
// same cached answer while any divergence produces a fresh upstream call.
// Only completed responses are cached; streams pass through untouched and
// transport-error sentinels are never stored.
type CachingClient struct {
	inner Client
	rdb   *redis.Client
	model string
	ttl   time.Duration
}

var _ Client = (*CachingClient)(nil)

// NewCachingClient wraps inner with a response cache. A nil rdb returns the
// inner client unchanged so callers can wire the cache unconditionally.
func NewCachingClient(inner Client, rdb *redis.Client, model string) Client {
	if rdb == nil {
		return inner
	}
	return &CachingClient{inner: inner, rdb: rdb, model: model, ttl: defaultCacheTTL}
}

// GetResponse checks the cache before delegating to the wrapped client.
func (c *CachingClient) GetResponse(ctx context.Context, messages []Message) *Response {
	key, ok := c.cacheKey(messages)
	if ok {
		if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
			var resp Response
			if json.Unmarshal([]byte(cached), &resp) == nil {
				log.Debug().Str("key", key).Msg("response cache hit")
				return &resp
			}
		}
	}

	resp := c.inner.GetResponse(ctx, messages)

	// Error sentinels describe a transient upstream failure; caching one
	// would replay the outage long after it resolved.
	if ok && !IsTransportError(resp) {
		if data, err := json.Marshal(resp); err == nil {
			if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
				log.Warn().Err(err).Msg("failed to cache provider response")
			}
		}
	}
	return resp
}

// GetResponseStream passes through to the wrapped client. Streamed sequences
// are consumed incrementally and are not worth reassembling for the cache.
func (c *CachingClient) GetResponseStream(ctx context.Context, messages []Message) <-chan *Response {
	return c.inner.GetResponseStream(ctx, messages)
}

func (c *CachingClient) cacheKey(messages []Message) (string, bool) {
	data, err := json.Marshal(messages)
	if err != nil {
		return "", false
	}
	return version.GenerateVersionedCacheKey(cacheKeyPrefix, c.model+":"+string(data)), true
}
