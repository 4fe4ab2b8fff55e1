// Package cache implements the provider-aware response cache (C3):
// fingerprint-keyed, TTL-bounded, with per-key single-flight coalescing so
// concurrent identical requests produce exactly one upstream call. The
// backing store is github.com/maypok86/otter/v2 (W-TinyLFU, size-bounded),
// the same library and wrapped-entry-with-manual-expiresAt pattern as
// eugener-gandalf's internal/cache/memory.go; single-flight coalescing on
// top is grounded on golang.org/x/sync/singleflight as imported by the
// BaSui01-agentflow example in this pack.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/coregate/gateway/internal/gwtypes"
	"golang.org/x/sync/singleflight"
)

// canonicalRequest is the cache-relevant subset of a Request, per §3's
// CacheEntry key definition. Fingerprint sorts the stop sequences so the
// key does not depend on their order.
type canonicalRequest struct {
	Provider         string            `json:"provider"`
	LogicalModelID   string            `json:"logicalModelId"`
	Messages         []gwtypes.Message `json:"messages"`
	Temperature      float64           `json:"temperature"`
	MaxTokens        int               `json:"maxTokens"`
	TopP             float64           `json:"topP"`
	FrequencyPenalty float64           `json:"frequencyPenalty"`
	PresencePenalty  float64           `json:"presencePenalty"`
	Stop             []string          `json:"stop"`
}

// Fingerprint computes the SHA-256[0:16 hex] canonical key for a request
// scoped to provider, so re-routing to a different provider can never
// return another provider's cached output. json.Marshal on a struct with
// fixed field order (not a map) already yields canonical output regardless
// of caller field-assignment order or numeric literal form, satisfying the
// "reordering keys / differing whitespace / equivalent numeric encodings
// yield the same key" round-trip property in §8.
func Fingerprint(provider string, req gwtypes.Request) string {
	stop := append([]string(nil), req.Parameters.Stop...)
	sort.Strings(stop)
	cr := canonicalRequest{
		Provider:         provider,
		LogicalModelID:   req.LogicalModelID,
		Messages:         req.Messages,
		Temperature:      req.Parameters.Temperature,
		MaxTokens:        req.Parameters.MaxTokens,
		TopP:             req.Parameters.TopP,
		FrequencyPenalty: req.Parameters.FrequencyPenalty,
		PresencePenalty:  req.Parameters.PresencePenalty,
		Stop:             stop,
	}
	b, _ := json.Marshal(cr)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// Admit reports whether a response is eligible for caching, per §4.3's
// admission policy, and the TTL it should be stored with.
func Admit(req gwtypes.Request, resp gwtypes.Response) (ttl time.Duration, ok bool) {
	if req.Stream {
		return 0, false
	}
	if req.Parameters.Temperature > 0.3 {
		return 0, false
	}
	for _, c := range resp.Choices {
		if len(c.Message.ToolCalls) > 0 {
			return 0, false
		}
	}
	switch {
	case req.Parameters.Temperature <= 0.1:
		return 60 * time.Minute, true
	case req.Parameters.Temperature <= 0.3:
		return 30 * time.Minute, true
	default:
		return 0, false
	}
}

// maxEntryTTL bounds otter's own writing-expiry calculator. Admit never
// hands out a TTL longer than this; the cache still enforces each entry's
// actual (possibly shorter) TTL itself via entry.expiresAt, the same
// wrapped-value-with-manual-expiry shape as eugener-gandalf's own Memory
// cache.
const maxEntryTTL = 24 * time.Hour

// entry wraps a cached response with the expiration time Set gave it.
type entry struct {
	value     gwtypes.Response
	expiresAt time.Time
}

// Cache is a size-bounded, W-TinyLFU response cache with single-flight
// coalescing on Get-or-fill.
type Cache struct {
	store *otter.Cache[string, entry]
	group singleflight.Group
}

// New creates a Cache holding at most maxEntries live responses, evicted by
// otter's W-TinyLFU admission/eviction policy once that bound is exceeded.
func New(maxEntries int, _ time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	store := otter.Must(&otter.Options[string, entry]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](maxEntryTTL),
	})
	return &Cache{store: store}
}

// Get returns a cached response, reporting a miss (not an error) on expired
// entries, per §4.3.
func (c *Cache) Get(key string) (gwtypes.Response, bool) {
	e, ok := c.store.GetIfPresent(key)
	if !ok {
		return gwtypes.Response{}, false
	}
	if time.Now().After(e.expiresAt) {
		c.store.Invalidate(key)
		return gwtypes.Response{}, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL (sliding expiration is just
// Set called again on every read by the caller — the cache itself doesn't
// distinguish the two call shapes from §4.3).
func (c *Cache) Set(key string, value gwtypes.Response, ttl time.Duration) {
	c.store.Set(key, entry{value: value, expiresAt: time.Now().Add(ttl)})
}

// GetOrFill returns a cached hit, or calls fill exactly once per key even
// under concurrent callers (§8 invariant #5), storing the result per admit.
func (c *Cache) GetOrFill(key string, req gwtypes.Request, fill func() (gwtypes.Response, error)) (gwtypes.Response, bool, error) {
	if resp, ok := c.Get(key); ok {
		return resp, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := fill()
		if err != nil {
			return gwtypes.Response{}, err
		}
		if ttl, ok := Admit(req, resp); ok {
			c.Set(key, resp, ttl)
		}
		return resp, nil
	})
	if err != nil {
		return gwtypes.Response{}, false, err
	}
	return v.(gwtypes.Response), false, nil
}

// Purge evicts every cached entry, for admin/test use.
func (c *Cache) Purge() {
	c.store.InvalidateAll()
}
