package fairness

import (
	"context"
	"fmt"
	"math"
	"testing"

	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
)

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func defaultPolicy() Policy {
	return Policy{Band: DefaultBand, ParityLimit: DefaultParityLimit}
}

// buildPool 生成 n 个候选人，按给定顺序排名，label 决定每个位置的分组。
func buildPool(n int, label func(i int) string) ([]model.MatchCandidate, model.LabelSet) {
	ranked := make([]model.MatchCandidate, n)
	labels := model.LabelSet{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("r%03d", i)
		ranked[i] = model.MatchCandidate{ResumeID: id, Score: 1 - float64(i)/float64(n), Rank: i + 1}
		if g := label(i); g != "" {
			labels[id] = model.AttributeLabels{"gender": g}
		}
	}
	return ranked, labels
}

func TestAuditDisparateSelection(t *testing.T) {
	// 前 10 名全部属于 A，A/B 各 50 人
	ranked, labels := buildPool(100, func(i int) string {
		if i < 10 || (i >= 20 && i < 60) {
			return "A"
		}
		return "B"
	})

	report, err := Audit(ranked, labels, 10, defaultPolicy())
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	attr, ok := report.Attribute("gender")
	if !ok {
		t.Fatalf("missing gender attribute")
	}
	rates := map[string]float64{}
	for _, g := range attr.Groups {
		rates[g.Group] = g.SelectionRate
	}
	if !approx(rates["A"], 0.2) || !approx(rates["B"], 0) {
		t.Fatalf("rates = %v, want A=0.2 B=0", rates)
	}
	if !approx(attr.DisparityRatio, 0) {
		t.Fatalf("ratio = %v, want 0", attr.DisparityRatio)
	}
	if attr.Passed || report.Passed {
		t.Fatalf("expected failure outside band")
	}
	if !approx(attr.ParityDifference, 0.2) || attr.ParityWithin {
		t.Fatalf("parity = %v within=%v, want 0.2 outside limit", attr.ParityDifference, attr.ParityWithin)
	}
	if report.PoolSize != 100 || report.SelectedCount != 10 {
		t.Fatalf("pool=%d selected=%d", report.PoolSize, report.SelectedCount)
	}
}

func TestAuditBalancedSelectionPasses(t *testing.T) {
	ranked, labels := buildPool(40, func(i int) string {
		if i%2 == 0 {
			return "A"
		}
		return "B"
	})
	report, err := Audit(ranked, labels, 10, defaultPolicy())
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	attr, _ := report.Attribute("gender")
	if !approx(attr.DisparityRatio, 1) || !attr.Passed || !report.Passed {
		t.Fatalf("balanced selection must pass, got %+v", attr)
	}
	if !attr.ParityWithin {
		t.Fatalf("parity difference %v should be within limit", attr.ParityDifference)
	}
}

func TestAuditEdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		n, topK    int
		label      func(i int) string
		expected   map[string][]string
		wantRatio  float64
		wantPassed bool
		wantFlag   string
	}{
		{
			name:       "single group",
			n:          10,
			topK:       3,
			label:      func(int) string { return "A" },
			wantRatio:  1,
			wantPassed: true,
			wantFlag:   model.FlagSingleGroup,
		},
		{
			name:  "nobody labeled",
			n:     5,
			topK:  2,
			label: func(int) string { return "" },
			// 属性只来自配置
			expected:   map[string][]string{"gender": {"A", "B"}},
			wantRatio:  0,
			wantPassed: false,
			wantFlag:   model.FlagNoLabeledGroups,
		},
		{
			name: "expected group absent",
			n:    10,
			topK: 4,
			label: func(i int) string {
				if i%2 == 0 {
					return "A"
				}
				return "B"
			},
			expected:   map[string][]string{"gender": {"A", "B", "C"}},
			wantRatio:  1,
			wantPassed: true,
			wantFlag:   model.FlagInsufficientData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked, labels := buildPool(tt.n, tt.label)
			policy := defaultPolicy()
			policy.ExpectedGroups = tt.expected
			report, err := Audit(ranked, labels, tt.topK, policy)
			if err != nil {
				t.Fatalf("Audit() error = %v", err)
			}
			attr, ok := report.Attribute("gender")
			if !ok {
				t.Fatalf("missing gender attribute: %+v", report)
			}
			if !approx(attr.DisparityRatio, tt.wantRatio) {
				t.Errorf("ratio = %v, want %v", attr.DisparityRatio, tt.wantRatio)
			}
			if attr.Passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", attr.Passed, tt.wantPassed)
			}
			if !attr.HasFlag(tt.wantFlag) {
				t.Errorf("flags = %v, want %s", attr.Flags, tt.wantFlag)
			}
		})
	}
}

func TestAuditNoSelectionFlag(t *testing.T) {
	ranked, labels := buildPool(4, func(i int) string {
		if i < 2 {
			return "A"
		}
		return "B"
	})
	// 前两名无标签，入选集合里没有任何带标签的候选人
	delete(labels, "r000")
	delete(labels, "r001")
	labels["r002"] = model.AttributeLabels{"gender": "A"}
	report, err := Audit(ranked, labels, 2, defaultPolicy())
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	attr, _ := report.Attribute("gender")
	if !attr.HasFlag(model.FlagNoSelection) || !approx(attr.DisparityRatio, 1) {
		t.Fatalf("expected no-selection with ratio 1, got %+v", attr)
	}
	if report.UnlabeledCount != 2 {
		t.Fatalf("unlabeled = %d, want 2", report.UnlabeledCount)
	}
}

func TestAuditUnlabeledAndMalformed(t *testing.T) {
	ranked, labels := buildPool(6, func(i int) string {
		if i < 4 {
			return []string{"A", "B"}[i%2]
		}
		return ""
	})
	// 空白标签视为缺失
	labels["r004"] = model.AttributeLabels{"gender": "  "}
	report, err := Audit(ranked, labels, 2, defaultPolicy())
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if report.UnlabeledCount != 2 {
		t.Fatalf("UnlabeledCount = %d, want 2", report.UnlabeledCount)
	}
	attr, _ := report.Attribute("gender")
	if attr.UnlabeledCount != 2 {
		t.Fatalf("attribute UnlabeledCount = %d, want 2", attr.UnlabeledCount)
	}
	total := 0
	for _, g := range attr.Groups {
		total += g.PoolCount
	}
	if total != 4 {
		t.Fatalf("labeled pool = %d, want 4", total)
	}
}

func TestAuditInputValidation(t *testing.T) {
	ranked := []model.MatchCandidate{{ResumeID: "a"}, {ResumeID: "a"}}
	if _, err := Audit(ranked, nil, 1, defaultPolicy()); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("duplicate ids must be an input error, got %v", err)
	}
	if _, err := Audit(nil, nil, 0, defaultPolicy()); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("topK=0 must be an input error, got %v", err)
	}
}

func TestAuditEmptyPool(t *testing.T) {
	report, err := Audit(nil, nil, 5, defaultPolicy())
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if report.Passed || len(report.Attributes) != 0 || report.SelectedCount != 0 {
		t.Fatalf("empty pool report = %+v", report)
	}
}

func TestAuditorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAuditor(defaultPolicy())
	if _, err := a.Audit(ctx, "job", nil, nil, 1); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestAuditorStampsReport(t *testing.T) {
	ranked, labels := buildPool(4, func(i int) string { return []string{"A", "B"}[i%2] })
	report, err := NewAuditor(defaultPolicy()).Audit(context.Background(), "job-1", ranked, labels, 2)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if report.ID == "" || report.JobID != "job-1" || report.GeneratedAt.IsZero() {
		t.Fatalf("report not stamped: %+v", report)
	}
}

func TestMitigateWeights(t *testing.T) {
	ranked, labels := buildPool(100, func(i int) string {
		if i < 10 || (i >= 20 && i < 60) {
			return "A"
		}
		return "B"
	})
	report, err := Audit(ranked, labels, 10, defaultPolicy())
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}

	plan, err := Mitigate(report, ranked, labels, "")
	if err != nil {
		t.Fatalf("Mitigate() error = %v", err)
	}
	if plan.Attribute != "gender" || plan.Strategy != StrategyReweighting {
		t.Fatalf("unexpected plan header %+v", plan)
	}
	if !approx(plan.OverallRate, 0.1) {
		t.Fatalf("overall rate = %v, want 0.1", plan.OverallRate)
	}
	weights := map[string]float64{}
	for _, w := range plan.Weights {
		weights[w.Group] = w.Weight
	}
	if !approx(weights["A"], 0.5) || !approx(weights["B"], 1) {
		t.Fatalf("weights = %v, want A=0.5 B=1", weights)
	}
	if len(plan.Adjusted) != len(ranked) {
		t.Fatalf("adjusted = %d, want %d", len(plan.Adjusted), len(ranked))
	}
	for _, a := range plan.Adjusted {
		if a.AdjustedScore > 1 {
			t.Fatalf("adjusted score above 1: %+v", a)
		}
	}
	for i := 1; i < len(plan.Adjusted); i++ {
		if plan.Adjusted[i-1].AdjustedScore < plan.Adjusted[i].AdjustedScore {
			t.Fatalf("adjusted scores not sorted at %d", i)
		}
	}
}

func TestMitigateUnknownAttribute(t *testing.T) {
	ranked, labels := buildPool(4, func(i int) string { return "A" })
	report, _ := Audit(ranked, labels, 2, defaultPolicy())
	if _, err := Mitigate(report, ranked, labels, "age"); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
	if _, err := Mitigate(nil, ranked, labels, ""); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("expected input error for nil report, got %v", err)
	}
}
