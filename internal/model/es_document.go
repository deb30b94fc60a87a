package model

import "time"

// EsResumeVector 定义了存储在 Elasticsearch 中的简历向量文档。
type EsResumeVector struct {
	ResumeID     string    `json:"resume_id"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UpdatedAt    time.Time `json:"updated_at"`
}
