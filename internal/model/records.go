package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Job 对应 jobs 表，由外部 CRUD 系统维护，这里只读取文本。
type Job struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Job) TableName() string {
	return "jobs"
}

// Resume 对应 resumes 表。ObjectKey 非空时原始文件存放在对象存储中。
type Resume struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	FileName  string    `gorm:"type:varchar(255)" json:"fileName"`
	ObjectKey string    `gorm:"type:varchar(255)" json:"objectKey"`
	Text      string    `gorm:"type:text" json:"text"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Resume) TableName() string {
	return "resumes"
}

// ProtectedAttribute 是候选人的一条受保护属性标签，一个候选人可以有多条。
type ProtectedAttribute struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ResumeID  string `gorm:"type:varchar(64);not null;index" json:"resumeId"`
	Attribute string `gorm:"type:varchar(64);not null" json:"attribute"`
	Group     string `gorm:"type:varchar(64);column:group_name" json:"group"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ProtectedAttribute) TableName() string {
	return "protected_attributes"
}

// MatchResultRecord 是持久化后的 MatchResult。
type MatchResultRecord struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	RequestID         string    `gorm:"type:varchar(64);not null;index"`
	JobID             string    `gorm:"type:varchar(64);not null;index"`
	ResumeID          string    `gorm:"type:varchar(64);not null"`
	Score             float64   `gorm:"not null"`
	Rank              int       `gorm:"not null"`
	Partial           bool      `gorm:"not null;default:false"`
	MissingComponents string    `gorm:"type:varchar(255)"`
	PartialReason     string    `gorm:"type:text"`
	FairnessReportID  string    `gorm:"type:varchar(64)"`
	Generation        uint64    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (MatchResultRecord) TableName() string {
	return "match_results"
}

// FairnessReportRecord 保存完整报告的 JSON，便于审计回溯。
type FairnessReportRecord struct {
	ID         string    `gorm:"type:varchar(64);primaryKey"`
	JobID      string    `gorm:"type:varchar(64);not null;index"`
	TopK       int       `gorm:"not null"`
	Generation uint64    `gorm:"not null"`
	Passed     bool      `gorm:"not null"`
	Payload    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (FairnessReportRecord) TableName() string {
	return "fairness_reports"
}

// ExplanationRecord 保存某个 (job, resume) 对的解释。
type ExplanationRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	JobID     string    `gorm:"type:varchar(64);not null;index:idx_explanation_pair"`
	ResumeID  string    `gorm:"type:varchar(64);not null;index:idx_explanation_pair"`
	Method    string    `gorm:"type:varchar(32);not null"`
	Score     float64   `gorm:"not null"`
	Baseline  float64   `gorm:"not null"`
	Converged bool      `gorm:"not null"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ExplanationRecord) TableName() string {
	return "explanations"
}

// ResumeVector 对应 pgvector 后端中的向量表，每个 resume 只有一行。
type ResumeVector struct {
	ResumeID     string          `gorm:"type:varchar(64);primaryKey;column:resume_id"`
	Embedding    pgvector.Vector `gorm:"column:embedding"`
	ModelVersion string          `gorm:"type:varchar(50);column:model_version"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime;column:updated_at"`
}
