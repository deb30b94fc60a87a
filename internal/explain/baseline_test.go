package explain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"equihire-go/pkg/errs"
	"equihire-go/pkg/vectorindex"
)

type countingSource struct {
	vectorindex.Index
	calls atomic.Int32
	err   error
}

func (s *countingSource) Vectors(ctx context.Context, fn func(id string, vector []float32) error) error {
	s.calls.Add(1)
	if s.err != nil {
		return s.err
	}
	return s.Index.Vectors(ctx, fn)
}

func TestBaselineCacheMeanVector(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemoryIndex(2)
	_ = idx.Upsert(ctx, "a", []float32{1, 0})
	_ = idx.Upsert(ctx, "b", []float32{0, 1})
	src := &countingSource{Index: idx}
	cache := NewBaselineCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := cache.Reference(ctx, "v1")
			if err != nil {
				t.Errorf("Reference() error = %v", err)
				return
			}
			if ref[0] != 0.5 || ref[1] != 0.5 {
				t.Errorf("ref = %v, want [0.5 0.5]", ref)
			}
		}()
	}
	wg.Wait()

	if _, err := cache.Reference(ctx, "v1"); err != nil {
		t.Fatalf("Reference() error = %v", err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("mean computed %d times, want once per model version", n)
	}

	cache.Invalidate("v1")
	_, _ = cache.Reference(ctx, "v1")
	if n := src.calls.Load(); n != 2 {
		t.Fatalf("Invalidate must force recomputation, calls = %d", n)
	}
}

func TestBaselineCacheEmptyIndex(t *testing.T) {
	cache := NewBaselineCache(vectorindex.NewMemoryIndex(3))
	ref, err := cache.Reference(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Reference() error = %v", err)
	}
	for _, x := range ref {
		if x != 0 {
			t.Fatalf("empty index must give a zero reference, got %v", ref)
		}
	}
}

func TestBaselineCacheSourceError(t *testing.T) {
	src := &countingSource{Index: vectorindex.NewMemoryIndex(2), err: errors.New("es down")}
	cache := NewBaselineCache(src)
	_, err := cache.Reference(context.Background(), "v1")
	if !errs.IsRetryable(err) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	cache.Set("v1", []float32{1, 2})
	ref, err := cache.Reference(context.Background(), "v1")
	if err != nil || ref[1] != 2 {
		t.Fatalf("Set must seed the cache, got %v %v", ref, err)
	}
}
