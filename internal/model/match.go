package model

import "time"

// MatchState 是一次匹配请求所处的阶段。
type MatchState string

const (
	StateReceived  MatchState = "RECEIVED"
	StateEmbedded  MatchState = "EMBEDDED"
	StateRanked    MatchState = "RANKED"
	StateAudited   MatchState = "AUDITED"
	StateExplained MatchState = "EXPLAINED"
	StateComplete  MatchState = "COMPLETE"
	StateFailed    MatchState = "FAILED"
)

// 可能缺失的增强组件名称。
const (
	ComponentFairness    = "fairness"
	ComponentExplanation = "explanation"
)

// MatchCandidate 是某个 (job, resume) 对的相似度检索结果。
// Rank 从 1 开始，分数相同时按 resume id 升序。
type MatchCandidate struct {
	JobID    string  `json:"jobId"`
	ResumeID string  `json:"resumeId"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// MatchResult 是编排器交给下游的最小单元。
// 要么完整（分数 + 解释），要么 Partial=true 并写明缺失的组件。
type MatchResult struct {
	Candidate         MatchCandidate `json:"candidate"`
	Explanation       *Explanation   `json:"explanation,omitempty"`
	FairnessReportID  string         `json:"fairnessReportId,omitempty"`
	Partial           bool           `json:"partial"`
	MissingComponents []string       `json:"missingComponents,omitempty"`
	PartialReason     string         `json:"partialReason,omitempty"`
}

// MarkPartial 记录一个缺失组件，同一组件只记录一次。
func (r *MatchResult) MarkPartial(component, reason string) {
	r.Partial = true
	for _, c := range r.MissingComponents {
		if c == component {
			return
		}
	}
	r.MissingComponents = append(r.MissingComponents, component)
	if r.PartialReason == "" {
		r.PartialReason = reason
	} else {
		r.PartialReason = r.PartialReason + "; " + reason
	}
}

// MatchRequest 是 computeMatches 的输入。
// Explain 列出调用方需要解释的 resume id，解释是按需计算的。
type MatchRequest struct {
	JobID   string   `json:"jobId"`
	JobText string   `json:"jobText"`
	TopK    int      `json:"topK"`
	Explain []string `json:"explain"`
}

// MatchResponse 汇总一次匹配请求的全部输出。
// 排序完成后 State 总是 COMPLETE；请求在审计或解释期间被取消时，
// InterruptedAt 记录取消前到达的阶段，缺失的部分体现在 Partial 中。
type MatchResponse struct {
	RequestID     string          `json:"requestId"`
	JobID         string          `json:"jobId"`
	State         MatchState      `json:"state"`
	InterruptedAt MatchState      `json:"interruptedAt,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	TopK          int             `json:"topK"`
	PoolSize      int             `json:"poolSize"`
	IndexSize     int             `json:"indexSize"`
	Generation    uint64          `json:"generation"`
	ModelVersion  string          `json:"modelVersion"`
	Results       []MatchResult   `json:"results"`
	Report        *FairnessReport `json:"fairnessReport,omitempty"`
	Partial       bool            `json:"partial"`
	Missing       []string        `json:"missingComponents,omitempty"`
	ComputedAt    LocalTime       `json:"computedAt"`
}

// RankingSnapshot 记录某次排序所基于的索引快照，用于判断缓存的报告是否过期。
type RankingSnapshot struct {
	JobID      string           `json:"jobId"`
	TopK       int              `json:"topK"`
	Generation uint64           `json:"generation"`
	IndexSize  int              `json:"indexSize"`
	Candidates []MatchCandidate `json:"candidates"`
	CreatedAt  time.Time        `json:"createdAt"`
}
