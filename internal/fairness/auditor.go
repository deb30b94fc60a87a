// Package fairness 在排序结果上计算受保护属性的群体差异指标。
// Audit 是纯函数，不做任何 I/O。
package fairness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"equihire-go/internal/config"
	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
)

// DefaultBand 是默认的可接受差异比区间。
var DefaultBand = model.ThresholdBand{Lower: 0.8, Upper: 1.25}

// DefaultParityLimit 是人口均等差异的默认上限。
const DefaultParityLimit = 0.1

// Policy 是审计使用的阈值策略。
type Policy struct {
	Band        model.ThresholdBand
	ParityLimit float64
	// ExpectedGroups 中在池里没有成员的分组会进入 InsufficientData。
	ExpectedGroups map[string][]string
}

// PolicyFromConfig 从配置构造 Policy。
func PolicyFromConfig(cfg config.FairnessConfig) Policy {
	p := Policy{
		Band:           model.ThresholdBand{Lower: cfg.BandLower, Upper: cfg.BandUpper},
		ParityLimit:    cfg.ParityLimit,
		ExpectedGroups: cfg.ExpectedGroups,
	}
	if p.Band.Lower <= 0 && p.Band.Upper <= 0 {
		p.Band = DefaultBand
	}
	if p.ParityLimit <= 0 {
		p.ParityLimit = DefaultParityLimit
	}
	return p
}

// Auditor 是编排器使用的审计接口。
type Auditor interface {
	Audit(ctx context.Context, jobID string, ranked []model.MatchCandidate, labels model.LabelSet, topK int) (*model.FairnessReport, error)
}

type auditor struct {
	policy Policy
	now    func() time.Time
}

// NewAuditor 创建一个使用给定策略的 Auditor。
func NewAuditor(policy Policy) Auditor {
	return &auditor{policy: policy, now: time.Now}
}

func (a *auditor) Audit(ctx context.Context, jobID string, ranked []model.MatchCandidate, labels model.LabelSet, topK int) (*model.FairnessReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report, err := Audit(ranked, labels, topK, a.policy)
	if err != nil {
		return nil, err
	}
	report.ID = uuid.NewString()
	report.JobID = jobID
	report.GeneratedAt = a.now()
	return report, nil
}

// Audit 以 ranked[:topK] 为入选集合、整个 ranked 为候选池计算各属性的选择率和差异比。
// 缺失或非法的标签不会中止审计，只计入 UnlabeledCount。
func Audit(ranked []model.MatchCandidate, labels model.LabelSet, topK int, policy Policy) (*model.FairnessReport, error) {
	if topK <= 0 {
		return nil, errs.NewInput("topK", "must be positive")
	}
	seen := make(map[string]struct{}, len(ranked))
	for _, c := range ranked {
		if _, dup := seen[c.ResumeID]; dup {
			return nil, errs.NewInput("ranked", fmt.Sprintf("duplicate resume id %q", c.ResumeID))
		}
		seen[c.ResumeID] = struct{}{}
	}

	selectedN := topK
	if selectedN > len(ranked) {
		selectedN = len(ranked)
	}

	report := &model.FairnessReport{
		TopK:          topK,
		PoolSize:      len(ranked),
		SelectedCount: selectedN,
		Band:          policy.Band,
		ParityLimit:   policy.ParityLimit,
		Attributes:    []model.AttributeReport{},
	}

	for _, c := range ranked {
		if !hasAnyLabel(labels[c.ResumeID]) {
			report.UnlabeledCount++
		}
	}

	for _, attr := range attributesOf(ranked, labels, policy.ExpectedGroups) {
		report.Attributes = append(report.Attributes, auditAttribute(attr, ranked, selectedN, labels, policy))
	}

	report.Passed = len(report.Attributes) > 0
	for _, a := range report.Attributes {
		if !a.Passed {
			report.Passed = false
		}
	}
	return report, nil
}

func auditAttribute(attr string, ranked []model.MatchCandidate, selectedN int, labels model.LabelSet, policy Policy) model.AttributeReport {
	out := model.AttributeReport{Attribute: attr, Groups: []model.GroupStat{}}

	pool := map[string]int{}
	selected := map[string]int{}
	for i, c := range ranked {
		group := groupOf(labels[c.ResumeID], attr)
		if group == "" {
			out.UnlabeledCount++
			continue
		}
		pool[group]++
		if i < selectedN {
			selected[group]++
		}
	}

	for _, g := range policy.ExpectedGroups[attr] {
		g = strings.TrimSpace(g)
		if g != "" && pool[g] == 0 {
			out.InsufficientData = append(out.InsufficientData, g)
		}
	}
	sort.Strings(out.InsufficientData)
	if len(out.InsufficientData) > 0 {
		out.Flags = append(out.Flags, model.FlagInsufficientData)
	}

	names := make([]string, 0, len(pool))
	for g := range pool {
		names = append(names, g)
	}
	sort.Strings(names)

	minRate, maxRate := 0.0, 0.0
	for i, g := range names {
		rate := float64(selected[g]) / float64(pool[g])
		out.Groups = append(out.Groups, model.GroupStat{
			Group:         g,
			PoolCount:     pool[g],
			SelectedCount: selected[g],
			SelectionRate: rate,
		})
		if i == 0 || rate < minRate {
			minRate = rate
		}
		if i == 0 || rate > maxRate {
			maxRate = rate
		}
	}

	switch {
	case len(names) == 0:
		out.Flags = append(out.Flags, model.FlagNoLabeledGroups)
		out.Passed = false
		return out
	case len(names) == 1:
		out.DisparityRatio = 1.0
		out.Flags = append(out.Flags, model.FlagSingleGroup)
	case maxRate == 0:
		out.DisparityRatio = 1.0
		out.Flags = append(out.Flags, model.FlagNoSelection)
	default:
		out.DisparityRatio = minRate / maxRate
	}

	out.ParityDifference = maxRate - minRate
	out.ParityWithin = out.ParityDifference <= policy.ParityLimit
	out.Passed = policy.Band.Contains(out.DisparityRatio)
	return out
}

// attributesOf 收集池中出现过的属性名以及配置中声明的属性，按名称排序。
func attributesOf(ranked []model.MatchCandidate, labels model.LabelSet, expected map[string][]string) []string {
	set := map[string]struct{}{}
	for _, c := range ranked {
		for attr := range labels[c.ResumeID] {
			if a := strings.TrimSpace(attr); a != "" {
				set[a] = struct{}{}
			}
		}
	}
	for attr := range expected {
		set[attr] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func groupOf(l model.AttributeLabels, attr string) string {
	if l == nil {
		return ""
	}
	if g, ok := l[attr]; ok {
		return strings.TrimSpace(g)
	}
	// 标签键可能带有多余空白
	for k, g := range l {
		if strings.TrimSpace(k) == attr {
			return strings.TrimSpace(g)
		}
	}
	return ""
}

func hasAnyLabel(l model.AttributeLabels) bool {
	for k, g := range l {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(g) != "" {
			return true
		}
	}
	return false
}
