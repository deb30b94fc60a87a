package explain

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
)

// VectorSource 是计算参考向量所需的只读视图，vectorindex.Index 满足该接口。
type VectorSource interface {
	Vectors(ctx context.Context, fn func(id string, vector []float32) error) error
	Dimensions() int
}

// BaselineCache 按模型版本缓存参考向量（所有简历向量的均值）。
// 每个模型版本只计算一次，直到显式 Invalidate。
type BaselineCache struct {
	source VectorSource
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string][]float32
}

// NewBaselineCache 创建一个从 source 计算均值向量的缓存。
func NewBaselineCache(source VectorSource) *BaselineCache {
	return &BaselineCache{source: source, entries: make(map[string][]float32)}
}

// Reference 返回 modelVersion 对应的参考向量。索引为空时返回零向量，此时基线分数为 0。
func (c *BaselineCache) Reference(ctx context.Context, modelVersion string) ([]float32, error) {
	c.mu.RLock()
	ref, ok := c.entries[modelVersion]
	c.mu.RUnlock()
	if ok {
		return ref, nil
	}

	v, err, _ := c.group.Do(modelVersion, func() (interface{}, error) {
		c.mu.RLock()
		ref, ok := c.entries[modelVersion]
		c.mu.RUnlock()
		if ok {
			return ref, nil
		}
		ref, err := c.compute(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[modelVersion] = ref
		c.mu.Unlock()
		log.Infof("[Explainer] 参考向量已计算, modelVersion: %s", modelVersion)
		return ref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Set 直接指定参考向量，用于离线计算好的基线。
func (c *BaselineCache) Set(modelVersion string, ref []float32) {
	cp := make([]float32, len(ref))
	copy(cp, ref)
	c.mu.Lock()
	c.entries[modelVersion] = cp
	c.mu.Unlock()
}

// Invalidate 丢弃某个模型版本的参考向量。
func (c *BaselineCache) Invalidate(modelVersion string) {
	c.mu.Lock()
	delete(c.entries, modelVersion)
	c.mu.Unlock()
}

func (c *BaselineCache) compute(ctx context.Context) ([]float32, error) {
	dim := c.source.Dimensions()
	sum := make([]float64, dim)
	n := 0
	err := c.source.Vectors(ctx, func(id string, vector []float32) error {
		if len(vector) != dim {
			return fmt.Errorf("简历 %s 向量维度 %d 与索引维度 %d 不一致", id, len(vector), dim)
		}
		for i, x := range vector {
			sum[i] += float64(x)
		}
		n++
		return nil
	})
	if err != nil {
		return nil, errs.Unavailable("baseline", err)
	}

	ref := make([]float32, dim)
	if n == 0 {
		return ref, nil
	}
	for i := range sum {
		ref[i] = float32(sum[i] / float64(n))
	}
	return ref, nil
}
