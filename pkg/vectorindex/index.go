// Package vectorindex 存储简历向量并按余弦相似度做 top-K 检索。
package vectorindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"equihire-go/pkg/errs"
)

// Hit 是一条检索结果。
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Index 定义了相似度索引的契约。
// Upsert 对同一 id 原子替换；Query 最多返回 topK 条，分数相同按 id 升序。
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Query(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	Delete(ctx context.Context, id string) error
	// Get 返回某个 id 当前的向量副本，不存在时返回 errs.ErrNotFound。
	Get(ctx context.Context, id string) ([]float32, error)
	Len(ctx context.Context) (int, error)
	// Generation 标识当前候选池的版本，任何写入或删除之后都会变化。
	// 不同进程、不同候选池不会得到相同的值，可直接用作共享缓存的键。
	Generation(ctx context.Context) (uint64, error)
	// Vectors 遍历当前所有向量，回调中不得修改 vector。
	Vectors(ctx context.Context, fn func(id string, vector []float32) error) error
	// Exact 为 true 表示结果是暴力精确计算的，false 表示近似检索。
	Exact() bool
	Dimensions() int
	Backend() string
}

// DimensionMismatchError 表示向量维度与索引维度不一致。
type DimensionMismatchError struct {
	ID       string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("dimension mismatch for %s: expected %d, got %d", e.ID, e.Expected, e.Got)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionMismatchError) Kind() errs.Kind { return errs.KindInput }

func (e *DimensionMismatchError) Unwrap() error {
	return &errs.InputError{Field: "vector", Reason: fmt.Sprintf("expected %d dimensions, got %d", e.Expected, e.Got)}
}

// Cosine 计算 dot(a,b)/(|a|·|b|)。任一向量模长为 0 时返回 0。
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Expected: len(a), Got: len(b)}
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return cosineFrom(dot, math.Sqrt(na), math.Sqrt(nb)), nil
}

func cosineFrom(dot, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	s := dot / (normA * normB)
	// 浮点误差可能让结果略微越界
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// SortHits 按分数降序排列，分数相同按 id 升序。
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func validateTopK(topK int) error {
	if topK <= 0 {
		return errs.NewInput("topK", "must be positive")
	}
	return nil
}

func checkDim(expected int, id string, v []float32) error {
	if expected > 0 && len(v) != expected {
		return &DimensionMismatchError{ID: id, Expected: expected, Got: len(v)}
	}
	if len(v) == 0 {
		return errs.NewInput("vector", "must not be empty")
	}
	return nil
}

// stateGeneration 由外部存储的状态（文档数、最近更新时间）推导代数。
// 所有实例看到同一份数据时得到同一个值。
func stateGeneration(backend, name string, count, latest int64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(backend))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(name))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(count))
	binary.BigEndian.PutUint64(buf[8:], uint64(latest))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
