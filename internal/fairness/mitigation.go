package fairness

import (
	"math"
	"sort"

	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
)

// StrategyReweighting 是目前唯一支持的缓解策略。
const StrategyReweighting = "reweighting"

// Mitigate 基于报告生成重加权方案：权重 = 整体选择率 / 分组选择率，分组选择率为 0 时权重取 1。
// attribute 为空时选择差异比最低的属性。调整后的分数上限为 1，不改变原始排序结果。
func Mitigate(report *model.FairnessReport, ranked []model.MatchCandidate, labels model.LabelSet, attribute string) (*model.MitigationPlan, error) {
	if report == nil {
		return nil, errs.NewInput("report", "missing fairness report")
	}
	target, ok := pickAttribute(report, attribute)
	if !ok {
		if attribute == "" {
			return nil, errs.NewInput("attribute", "report has no labeled attributes")
		}
		return nil, errs.NewInput("attribute", "unknown attribute "+attribute)
	}

	plan := &model.MitigationPlan{
		JobID:     report.JobID,
		ReportID:  report.ID,
		Attribute: target.Attribute,
		Strategy:  StrategyReweighting,
		Weights:   []model.GroupWeight{},
		Adjusted:  []model.AdjustedScore{},
	}

	var labeledPool, labeledSelected int
	for _, g := range target.Groups {
		labeledPool += g.PoolCount
		labeledSelected += g.SelectedCount
	}
	if labeledPool > 0 {
		plan.OverallRate = float64(labeledSelected) / float64(labeledPool)
	}

	weights := make(map[string]float64, len(target.Groups))
	for _, g := range target.Groups {
		w := 1.0
		if g.SelectionRate > 0 {
			w = plan.OverallRate / g.SelectionRate
		}
		weights[g.Group] = w
		plan.Weights = append(plan.Weights, model.GroupWeight{
			Group:         g.Group,
			SelectionRate: g.SelectionRate,
			Weight:        w,
		})
	}

	for _, c := range ranked {
		group := groupOf(labels[c.ResumeID], target.Attribute)
		w, ok := weights[group]
		if !ok {
			w = 1.0
		}
		plan.Adjusted = append(plan.Adjusted, model.AdjustedScore{
			ResumeID:      c.ResumeID,
			Group:         group,
			OriginalScore: c.Score,
			AdjustedScore: math.Min(1.0, c.Score*w),
			Weight:        w,
		})
	}
	sort.SliceStable(plan.Adjusted, func(i, j int) bool {
		a, b := plan.Adjusted[i], plan.Adjusted[j]
		if a.AdjustedScore != b.AdjustedScore {
			return a.AdjustedScore > b.AdjustedScore
		}
		return a.ResumeID < b.ResumeID
	})
	return plan, nil
}

func pickAttribute(report *model.FairnessReport, attribute string) (model.AttributeReport, bool) {
	if attribute != "" {
		a, ok := report.Attribute(attribute)
		if !ok || len(a.Groups) == 0 {
			return model.AttributeReport{}, false
		}
		return a, true
	}
	var best model.AttributeReport
	found := false
	for _, a := range report.Attributes {
		if len(a.Groups) == 0 {
			continue
		}
		if !found || a.DisparityRatio < best.DisparityRatio {
			best = a
			found = true
		}
	}
	return best, found
}
