package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"equihire-go/internal/model"
)

type failingCache struct{}

func (failingCache) Get(context.Context, string) (model.EmbeddingVector, bool, error) {
	return model.EmbeddingVector{}, false, errors.New("redis down")
}

func (failingCache) Set(context.Context, string, model.EmbeddingVector) error {
	return errors.New("redis down")
}

func TestCacheKey(t *testing.T) {
	if CacheKey("Go developer", "v1") == CacheKey("go developer", "v1") {
		t.Fatalf("normalization preserves case, keys must differ")
	}
	if CacheKey("Go  developer", "v1") != CacheKey("Go developer ", "v1") {
		t.Fatalf("whitespace differences must map to the same key")
	}
	if CacheKey("Go developer", "v1") == CacheKey("Go developer", "v2") {
		t.Fatalf("model version must be part of the key")
	}
}

func TestCachedEmbedderReusesVector(t *testing.T) {
	p := &fakeProvider{encode: constVectors(4, 0.5)}
	base := NewEmbedder(p, Options{ModelVersion: "v1", Dimensions: 4})
	l1 := NewMemoryCache(time.Minute)
	l2 := NewMemoryCache(time.Minute)
	e := NewCachedEmbedder(base, l1, l2)

	ctx := context.Background()
	if _, err := e.Embed(ctx, "go developer", model.KindJob); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := e.Embed(ctx, "  go   developer", model.KindJob); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}

	if _, err := e.Embed(ctx, "go developer with kafka", model.KindJob); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("changed text must miss the cache, calls = %d", p.calls)
	}
}

func TestCachedEmbedderBackfillsUpperTier(t *testing.T) {
	p := &fakeProvider{encode: constVectors(4, 0.5)}
	base := NewEmbedder(p, Options{ModelVersion: "v1", Dimensions: 4})
	l1 := NewMemoryCache(time.Minute)
	l2 := NewMemoryCache(time.Minute)
	ctx := context.Background()

	key := CacheKey("rust developer", "v1")
	if err := l2.Set(ctx, key, model.EmbeddingVector{Values: []float32{1, 0, 0, 0}, ModelVersion: "v1"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	e := NewCachedEmbedder(base, l1, l2)
	v, err := e.Embed(ctx, "rust developer", model.KindResume)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if v.Values[0] != 1 || p.calls != 0 {
		t.Fatalf("expected L2 hit without provider call, got %+v calls=%d", v, p.calls)
	}
	if _, ok, _ := l1.Get(ctx, key); !ok {
		t.Fatalf("expected L1 to be back-filled")
	}
}

func TestCachedEmbedderToleratesCacheFailure(t *testing.T) {
	p := &fakeProvider{encode: constVectors(4, 0.5)}
	base := NewEmbedder(p, Options{ModelVersion: "v1", Dimensions: 4})
	e := NewCachedEmbedder(base, failingCache{})

	if _, err := e.Embed(context.Background(), "go", model.KindJob); err != nil {
		t.Fatalf("cache failure must not fail embedding: %v", err)
	}
}

func TestCachedEmbedderBatchOnlyEncodesMisses(t *testing.T) {
	p := &fakeProvider{encode: constVectors(4, 0.5)}
	base := NewEmbedder(p, Options{ModelVersion: "v1", Dimensions: 4})
	e := NewCachedEmbedder(base, NewMemoryCache(time.Minute))
	ctx := context.Background()

	if _, err := e.Embed(ctx, "alpha", model.KindResume); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	out, err := e.EmbedBatch(ctx, []string{"alpha", "beta"}, model.KindResume)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	last := p.inputs[len(p.inputs)-1]
	if len(last) != 1 || last[0] != "beta" {
		t.Fatalf("expected only the miss to be encoded, got %v", last)
	}
}
