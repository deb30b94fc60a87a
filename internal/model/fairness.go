package model

import "time"

// AttributeLabels 是单个候选人在各受保护属性上的分组，例如 {"gender": "female"}。
type AttributeLabels map[string]string

// LabelSet 按 resume id 索引受保护属性标签。只用于公平性审计，不参与排序。
type LabelSet map[string]AttributeLabels

// ThresholdBand 是可接受的差异比区间，两端均为闭区间。
type ThresholdBand struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains 判断 ratio 是否落在区间内。
func (b ThresholdBand) Contains(ratio float64) bool {
	return ratio >= b.Lower && ratio <= b.Upper
}

// 报告标记。
const (
	FlagSingleGroup      = "single-group"
	FlagNoSelection      = "no-selection"
	FlagInsufficientData = "insufficient-data"
	FlagNoLabeledGroups  = "no-labeled-groups"
)

// GroupStat 是某个分组的选择率统计。
type GroupStat struct {
	Group         string  `json:"group"`
	PoolCount     int     `json:"poolCount"`
	SelectedCount int     `json:"selectedCount"`
	SelectionRate float64 `json:"selectionRate"`
}

// AttributeReport 是单个受保护属性上的审计结果。
type AttributeReport struct {
	Attribute        string      `json:"attribute"`
	Groups           []GroupStat `json:"groups"`
	DisparityRatio   float64     `json:"disparityRatio"`
	ParityDifference float64     `json:"parityDifference"`
	Passed           bool        `json:"passed"`
	ParityWithin     bool        `json:"parityWithinLimit"`
	Flags            []string    `json:"flags,omitempty"`
	// InsufficientData 列出池中没有任何成员的已知分组，不参与差异比计算。
	InsufficientData []string `json:"insufficientData,omitempty"`
	UnlabeledCount   int      `json:"unlabeledCount"`
}

// HasFlag 判断报告是否带有某个标记。
func (a AttributeReport) HasFlag(flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// FairnessReport 是某个 job 在固定 top-K 截断下的公平性审计报告。
type FairnessReport struct {
	ID       string `json:"id"`
	JobID    string `json:"jobId"`
	TopK     int    `json:"topK"`
	PoolSize int    `json:"poolSize"`
	// IndexSize 是审计时索引中的候选人总数，PoolTruncated 表示基准池只覆盖了排序靠前的一部分。
	IndexSize     int               `json:"indexSize"`
	PoolTruncated bool              `json:"poolTruncated"`
	SelectedCount int               `json:"selectedCount"`
	Generation    uint64            `json:"generation"`
	Band          ThresholdBand     `json:"band"`
	ParityLimit   float64           `json:"parityLimit"`
	Attributes    []AttributeReport `json:"attributes"`
	// UnlabeledCount 是池中完全没有标签的候选人数量。
	UnlabeledCount int       `json:"unlabeledCount"`
	Passed         bool      `json:"passed"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// Attribute 按名称查找属性报告。
func (r *FairnessReport) Attribute(name string) (AttributeReport, bool) {
	for _, a := range r.Attributes {
		if a.Attribute == name {
			return a, true
		}
	}
	return AttributeReport{}, false
}

// GroupWeight 是重加权缓解方案中某个分组的样本权重。
type GroupWeight struct {
	Group         string  `json:"group"`
	SelectionRate float64 `json:"selectionRate"`
	Weight        float64 `json:"weight"`
}

// AdjustedScore 是重加权后的候选人分数，上限为 1。
type AdjustedScore struct {
	ResumeID      string  `json:"resumeId"`
	Group         string  `json:"group,omitempty"`
	OriginalScore float64 `json:"originalScore"`
	AdjustedScore float64 `json:"adjustedScore"`
	Weight        float64 `json:"weight"`
}

// MitigationPlan 给出某个受保护属性上的重加权建议。
type MitigationPlan struct {
	JobID       string          `json:"jobId"`
	ReportID    string          `json:"reportId"`
	Attribute   string          `json:"attribute"`
	Strategy    string          `json:"strategy"`
	OverallRate float64         `json:"overallRate"`
	Weights     []GroupWeight   `json:"weights"`
	Adjusted    []AdjustedScore `json:"adjustedScores"`
	GeneratedAt time.Time       `json:"generatedAt"`
}
