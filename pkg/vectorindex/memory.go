package vectorindex

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"equihire-go/pkg/errs"
)

// entry 创建后不再修改，替换时整体换指针。
type entry struct {
	vector []float32
	norm   float64
}

type memoryIndex struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]*entry
	gen     atomic.Uint64
}

// NewMemoryIndex 创建暴力精确检索的内存索引。dim<=0 时以第一条写入的维度为准。
// 代数从随机起点开始计数，重启后或其他实例上的同号计数不会撞上共享缓存里的旧报告。
func NewMemoryIndex(dim int) Index {
	m := &memoryIndex{dim: dim, entries: make(map[string]*entry)}
	m.gen.Store(rand.Uint64())
	return m
}

func (m *memoryIndex) Backend() string { return "memory" }

func (m *memoryIndex) Exact() bool { return true }

func (m *memoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim
}

func (m *memoryIndex) Generation(context.Context) (uint64, error) { return m.gen.Load(), nil }

// Upsert 复制向量后在锁内替换指针，读者只会看到旧值或新值。
func (m *memoryIndex) Upsert(ctx context.Context, id string, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return errs.NewInput("id", "must not be empty")
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)
	e := &entry{vector: cp, norm: magnitude(cp)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim <= 0 && len(cp) > 0 {
		m.dim = len(cp)
	}
	if err := checkDim(m.dim, id, cp); err != nil {
		return err
	}
	m.entries[id] = e
	m.gen.Add(1)
	return nil
}

func (m *memoryIndex) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return errs.ErrNotFound
	}
	delete(m.entries, id)
	m.gen.Add(1)
	return nil
}

func (m *memoryIndex) Get(ctx context.Context, id string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := make([]float32, len(e.vector))
	copy(out, e.vector)
	return out, nil
}

func (m *memoryIndex) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

type snapshotItem struct {
	id string
	e  *entry
}

func (m *memoryIndex) snapshot() (int, []snapshotItem) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]snapshotItem, 0, len(m.entries))
	for id, e := range m.entries {
		items = append(items, snapshotItem{id: id, e: e})
	}
	return m.dim, items
}

// Query 在快照上计算分数，计算过程中不持有锁。
func (m *memoryIndex) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if err := validateTopK(topK); err != nil {
		return nil, err
	}
	dim, items := m.snapshot()
	if len(items) == 0 {
		return []Hit{}, nil
	}
	if err := checkDim(dim, "", vector); err != nil {
		return nil, err
	}

	qNorm := magnitude(vector)
	hits := make([]Hit, 0, len(items))
	for i, it := range items {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var dot float64
		for j, x := range it.e.vector {
			dot += float64(x) * float64(vector[j])
		}
		hits = append(hits, Hit{ID: it.id, Score: cosineFrom(dot, qNorm, it.e.norm)})
	}

	SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *memoryIndex) Vectors(ctx context.Context, fn func(id string, vector []float32) error) error {
	_, items := m.snapshot()
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(it.id, it.e.vector); err != nil {
			return err
		}
	}
	return nil
}
