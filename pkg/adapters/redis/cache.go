// Package redis caches computed plans so repeated requests against the
// same registry skip the search.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/transmute/pkg/planner"
)

// ErrMiss is returned when no plan is cached for a key.
var ErrMiss = planner.ErrNoCachedPlan

// PlanCache stores serialised plans keyed by canonical request
// signature.
type PlanCache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the cache.
type Option func(*PlanCache)

// WithTTL sets the expiration for cached plans.
func WithTTL(ttl time.Duration) Option {
	return func(c *PlanCache) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *PlanCache) {
		c.prefix = prefix
	}
}

// New creates a cache connecting to the given address.
func New(address, password string, db int, opts ...Option) *PlanCache {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a cache from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *PlanCache {
	cache := &PlanCache{
		client: client,
		prefix: "transmute:plan:",
		ttl:    0, // no expiration by default
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

// key hashes a request signature (see planner.RequestSignature) so
// arbitrarily long signatures become fixed-size redis keys.
func (c *PlanCache) key(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get fetches the plan cached for a request signature. Returns ErrMiss
// when absent.
func (c *PlanCache) Get(ctx context.Context, signature string) (*planner.Plan, error) {
	data, err := c.client.Get(ctx, c.key(signature)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("plan cache get: %w", err)
	}
	return planner.Decode(data)
}

// Put stores a plan under a request signature.
func (c *PlanCache) Put(ctx context.Context, signature string, plan *planner.Plan) error {
	data, err := plan.Encode()
	if err != nil {
		return fmt.Errorf("plan cache put: %w", err)
	}
	if err := c.client.Set(ctx, c.key(signature), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("plan cache put: %w", err)
	}
	return nil
}

// Invalidate removes a cached plan.
func (c *PlanCache) Invalidate(ctx context.Context, signature string) error {
	return c.client.Del(ctx, c.key(signature)).Err()
}

// Close releases the client connection.
func (c *PlanCache) Close() error {
	return c.client.Close()
}
