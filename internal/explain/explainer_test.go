package explain

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/vectorindex"
)

func additive(t *testing.T, score, baseline, total float64) {
	t.Helper()
	if math.Abs(total+baseline-score) > 1e-6 {
		t.Fatalf("sum(%v) + baseline(%v) = %v, want score %v", total, baseline, total+baseline, score)
	}
}

func syntheticInput(t *testing.T) Input {
	t.Helper()
	job := []float32{0.9, 0.1, 0.3, 0.2}
	resume := []float32{0.6, 0.5, 0.1, 0.4}
	score, err := vectorindex.Cosine(job, resume)
	if err != nil {
		t.Fatalf("Cosine() error = %v", err)
	}
	return Input{
		JobID:     "job-1",
		ResumeID:  "res-1",
		Job:       job,
		Resume:    resume,
		Score:     score,
		Reference: []float32{0.25, 0.25, 0.25, 0.25},
		Features:  PerDimension(4),
	}
}

func TestExplainAdditivityFourDims(t *testing.T) {
	for _, method := range []string{MethodLinear, MethodShapley, MethodLeaveOneOut} {
		t.Run(method, func(t *testing.T) {
			e, err := New(Options{Method: method, Seed: 7})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			in := syntheticInput(t)
			exp, err := e.Explain(context.Background(), in)
			if err != nil {
				t.Fatalf("Explain() error = %v", err)
			}
			if len(exp.Contributions) != 4 {
				t.Fatalf("contributions = %d, want 4", len(exp.Contributions))
			}
			if !exp.Converged {
				t.Fatalf("expected converged explanation")
			}
			if math.Abs(exp.Score-in.Score) > 1e-9 {
				t.Fatalf("score = %v, want %v", exp.Score, in.Score)
			}
			ref, _ := vectorindex.Cosine(in.Job, in.Reference)
			if math.Abs(exp.Baseline-ref) > 1e-9 {
				t.Fatalf("baseline = %v, want %v", exp.Baseline, ref)
			}
			additive(t, exp.Score, exp.Baseline, exp.Total())
		})
	}
}

func TestExplainContributionOrder(t *testing.T) {
	e, _ := New(Options{Method: MethodLinear})
	exp, err := e.Explain(context.Background(), syntheticInput(t))
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	for i := 1; i < len(exp.Contributions); i++ {
		prev, cur := exp.Contributions[i-1], exp.Contributions[i]
		if math.Abs(prev.Weight) < math.Abs(cur.Weight) {
			t.Fatalf("contributions not ordered by |weight|: %+v", exp.Contributions)
		}
		if math.Abs(prev.Weight) == math.Abs(cur.Weight) && prev.Feature > cur.Feature {
			t.Fatalf("ties must be ordered by name: %+v", exp.Contributions)
		}
	}
}

func TestExplainExactShapleyMatchesLinearOnOrthogonalGroups(t *testing.T) {
	// 参考向量为零时 v(S) 只与 S 内的维度有关，Shapley 值退化为各分组的点积
	in := syntheticInput(t)
	in.Reference = []float32{0, 0, 0, 0}
	shapley, _ := New(Options{Method: MethodShapley})
	linear, _ := New(Options{Method: MethodLinear})

	a, err := shapley.Explain(context.Background(), in)
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	b, _ := linear.Explain(context.Background(), in)
	if a.Baseline != 0 {
		t.Fatalf("baseline with zero reference = %v, want 0", a.Baseline)
	}
	additive(t, a.Score, a.Baseline, a.Total())
	additive(t, b.Score, b.Baseline, b.Total())
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func sampledInput(t *testing.T) Input {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	job := randomVector(rng, 64)
	resume := randomVector(rng, 64)
	score, _ := vectorindex.Cosine(job, resume)
	return Input{
		Job:       job,
		Resume:    resume,
		Score:     score,
		Reference: randomVector(rng, 64),
		Features:  EqualBuckets(64, 16),
	}
}

func TestExplainSampledShapleyReproducible(t *testing.T) {
	opts := Options{Method: MethodShapley, Seed: 42, MaxSamples: 500, Tolerance: 1e-3, ExactMaxGroups: 8}
	in := sampledInput(t)

	e1, _ := New(opts)
	e2, _ := New(opts)
	a, err := e1.Explain(context.Background(), in)
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	b, err := e2.Explain(context.Background(), in)
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if a.Samples == 0 {
		t.Fatalf("expected sampling path")
	}
	if a.Samples != b.Samples || len(a.Contributions) != len(b.Contributions) {
		t.Fatalf("runs differ: %d vs %d samples", a.Samples, b.Samples)
	}
	for i := range a.Contributions {
		if a.Contributions[i] != b.Contributions[i] {
			t.Fatalf("contribution %d differs: %+v vs %+v", i, a.Contributions[i], b.Contributions[i])
		}
	}
	additive(t, a.Score, a.Baseline, a.Total())
}

func TestExplainSampledShapleyNotConverged(t *testing.T) {
	e, _ := New(Options{Method: MethodShapley, Seed: 1, MaxSamples: 5, Tolerance: 1e-12, ExactMaxGroups: 4})
	exp, err := e.Explain(context.Background(), sampledInput(t))
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if exp.Converged {
		t.Fatalf("expected partial explanation")
	}
	if !strings.HasSuffix(exp.Summary, "attribution is approximate") {
		t.Fatalf("summary = %q, want approximate marker", exp.Summary)
	}
	if exp.Samples != 5 {
		t.Fatalf("samples = %d, want 5", exp.Samples)
	}
	// 未收敛时仍然给出满足可加性的尽力而为结果
	additive(t, exp.Score, exp.Baseline, exp.Total())
}

func TestExplainCancelledBeforeSampling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, _ := New(Options{Method: MethodShapley, ExactMaxGroups: 2})
	if _, err := e.Explain(ctx, sampledInput(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExplainInputErrors(t *testing.T) {
	e, _ := New(Options{})

	in := syntheticInput(t)
	in.Score += 0.01
	if _, err := e.Explain(context.Background(), in); errs.FieldOf(err) != "score" {
		t.Fatalf("expected score input error, got %v", err)
	}

	in = syntheticInput(t)
	in.Resume = []float32{1, 0}
	var dm *vectorindex.DimensionMismatchError
	if _, err := e.Explain(context.Background(), in); !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}

	in = syntheticInput(t)
	in.Features = FeatureMap{{Name: "a", Dims: []int{0, 1}}}
	if _, err := e.Explain(context.Background(), in); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("incomplete feature map must be an input error, got %v", err)
	}

	if _, err := New(Options{Method: "gradient"}); errs.FieldOf(err) != "method" {
		t.Fatalf("expected method input error, got %v", err)
	}
}

func TestExplainZeroVectors(t *testing.T) {
	e, _ := New(Options{Method: MethodLeaveOneOut})
	in := Input{
		Job:       []float32{1, 0, 0, 0},
		Resume:    []float32{0, 0, 0, 0},
		Reference: []float32{1, 1, 0, 0},
		Features:  PerDimension(4),
	}
	exp, err := e.Explain(context.Background(), in)
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if exp.Score != 0 {
		t.Fatalf("zero resume must score 0, got %v", exp.Score)
	}
	additive(t, exp.Score, exp.Baseline, exp.Total())
}

func TestFeatureMapFromConfig(t *testing.T) {
	fm, err := NewFeatureMap([]config.FeatureGroupConfig{
		{Name: "skills", From: 0, To: 2},
		{Name: "experience", From: 4, To: 6},
	}, 8, 4)
	if err != nil {
		t.Fatalf("NewFeatureMap() error = %v", err)
	}
	if err := fm.Validate(8); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	names := []string{}
	for _, g := range fm {
		names = append(names, g.Name)
	}
	want := []string{"skills", OtherFeature, "experience"}
	if len(names) != len(want) {
		t.Fatalf("groups = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("groups = %v, want %v", names, want)
		}
	}

	if _, err := NewFeatureMap([]config.FeatureGroupConfig{
		{Name: "a", From: 0, To: 3},
		{Name: "b", From: 2, To: 4},
	}, 4, 2); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("overlapping groups must fail, got %v", err)
	}
}

func TestEqualBuckets(t *testing.T) {
	fm := EqualBuckets(10, 3)
	if len(fm) != 3 {
		t.Fatalf("buckets = %d, want 3", len(fm))
	}
	if err := fm.Validate(10); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(fm[2].Dims) != 4 {
		t.Fatalf("last bucket must absorb the remainder, got %d dims", len(fm[2].Dims))
	}
}
