package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/registry"
)

func testCache(t *testing.T, opts ...Option) (*PlanCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client, opts...), mr
}

func testPlan(t *testing.T) *planner.Plan {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterDecl(converter.Simple("serde.json-to-yaml",
		property.NewPattern().WithEq("format", "json"),
		property.NewPattern().WithEq("format", "yaml"))))

	plan, err := planner.New(reg).Plan(
		property.New().With("format", "json"),
		property.NewPattern().WithEq("format", "yaml"),
		planner.One, planner.One)
	require.NoError(t, err)
	return plan
}

func TestPutGetRoundtrip(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	plan := testPlan(t)

	key := planner.RequestSignature(property.New().With("format", "json"),
		property.NewPattern().WithEq("format", "yaml"),
		planner.ObjectiveSteps, planner.One, planner.One)

	require.NoError(t, cache.Put(ctx, key, plan))

	got, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, plan.ConverterIDs(), got.ConverterIDs())
	assert.True(t, plan.Final.Equal(got.Final))
}

func TestGetMiss(t *testing.T) {
	cache, _ := testCache(t)
	_, err := cache.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRequestSignatureDeterministic(t *testing.T) {
	source := property.New().With("format", "json").With("path", "a.json")
	target := property.NewPattern().WithEq("format", "yaml")

	k1 := planner.RequestSignature(source, target, planner.ObjectiveSteps, planner.One, planner.One)
	k2 := planner.RequestSignature(source.Clone(), target, planner.ObjectiveSteps, planner.One, planner.One)
	assert.Equal(t, k1, k2)

	k3 := planner.RequestSignature(source, target, planner.ObjectiveQuality, planner.One, planner.One)
	assert.NotEqual(t, k1, k3)

	k4 := planner.RequestSignature(source, target, planner.ObjectiveSteps, planner.Many, planner.One)
	assert.NotEqual(t, k1, k4)
}

func TestTTLExpiry(t *testing.T) {
	cache, mr := testCache(t, WithTTL(time.Minute))
	ctx := context.Background()

	key := "expiring"
	require.NoError(t, cache.Put(ctx, key, testPlan(t)))

	_, err := cache.Get(ctx, key)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestInvalidate(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "k", testPlan(t)))
	require.NoError(t, cache.Invalidate(ctx, "k"))

	_, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewFromClient(client, WithPrefix("a:"))
	b := NewFromClient(client, WithPrefix("b:"))
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "k", testPlan(t)))

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
