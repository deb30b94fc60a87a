// Package model 定义了匹配流水线的领域对象以及与数据库表对应的 Go 结构体。
package model

import "time"

// DocKind 区分被向量化的文本来源。
type DocKind string

const (
	KindJob    DocKind = "JOB"
	KindResume DocKind = "RESUME"
)

// Valid 判断 kind 是否为已知取值。
func (k DocKind) Valid() bool {
	return k == KindJob || k == KindResume
}

// EmbeddingVector 是一段文本的定长向量表示。
// 同一部署内所有向量维度一致；文本变化时整体替换，不做局部更新。
type EmbeddingVector struct {
	OwnerID      string    `json:"ownerId"`
	Kind         DocKind   `json:"kind"`
	Values       []float32 `json:"values"`
	ModelVersion string    `json:"modelVersion"`
	GeneratedAt  time.Time `json:"generatedAt"`
	// Truncated 表示原文超过模型 token 窗口，只保留了前 N 个 token。
	Truncated  bool `json:"truncated"`
	TextLength int  `json:"textLength"`
}

// Dim 返回向量维度。
func (v EmbeddingVector) Dim() int {
	return len(v.Values)
}
