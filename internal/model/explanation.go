package model

import "time"

// Contribution 是一个特征对分数的贡献。
type Contribution struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// KeywordSignal 是一个关键词在 job 与简历中的出现情况。
// 只列出 job 中出现的关键词，简历也包含时 Weight 为正，缺失时为负。
type KeywordSignal struct {
	Keyword  string  `json:"keyword"`
	InResume bool    `json:"inResume"`
	Weight   float64 `json:"weight"`
}

// TermEvidence 是基于原文的可读证据，与向量归因互相独立。
type TermEvidence struct {
	CommonTermCount int             `json:"commonTermCount"`
	CommonTerms     []string        `json:"commonTerms"`
	Keywords        []KeywordSignal `json:"keywords,omitempty"`
}

// Explanation 是某个 (job, resume) 对的可加性归因。
// 所有 Weight 之和 + Baseline 在数值容差内等于 Score。
type Explanation struct {
	JobID         string         `json:"jobId"`
	ResumeID      string         `json:"resumeId"`
	Method        string         `json:"method"`
	Score         float64        `json:"score"`
	Baseline      float64        `json:"baseline"`
	Contributions []Contribution `json:"contributions"`
	// Summary 是给人看的一句话结论，Terms 在能取到两边原文时才有。
	Summary string        `json:"summary"`
	Terms   *TermEvidence `json:"terms,omitempty"`
	// Converged 为 false 时这是一个尽力而为的部分解释。
	Converged    bool      `json:"converged"`
	Samples      int       `json:"samples,omitempty"`
	ModelVersion string    `json:"modelVersion"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Total 返回所有贡献之和。
func (e Explanation) Total() float64 {
	var sum float64
	for _, c := range e.Contributions {
		sum += c.Weight
	}
	return sum
}
