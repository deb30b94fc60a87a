package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

type hashingProvider struct {
	dimensions int
}

// NewHashingProvider 创建一个本地的特征哈希 Provider。
// 输出只取决于文本本身，用于离线环境和测试。
func NewHashingProvider(dimensions int) Provider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &hashingProvider{dimensions: dimensions}
}

func (p *hashingProvider) Name() string { return "hashing" }

func (p *hashingProvider) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

// vector 对单词和相邻词对做带符号哈希累加，最后做 L2 归一化。
func (p *hashingProvider) vector(text string) []float32 {
	acc := make([]float64, p.dimensions)
	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		p.add(acc, tok, 1.0)
		if i > 0 {
			p.add(acc, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, p.dimensions)
	if norm == 0 {
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func (p *hashingProvider) add(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}
