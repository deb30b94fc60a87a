// Package explain 把一个 (job, resume) 的余弦分数分解为各特征分组的可加性贡献。
//
// 所有方法都满足 sum(contributions) + baseline = score，其中 baseline 是 job 与参考向量的相似度。
package explain

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"equihire-go/internal/config"
	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
	"equihire-go/pkg/vectorindex"
)

// 支持的归因方法。
const (
	MethodLinear      = "linear"
	MethodShapley     = "shapley"
	MethodLeaveOneOut = "leave_one_out"
)

// Tolerance 是分数比对与可加性检查使用的相对容差。
const Tolerance = 1e-6

const (
	defaultGroups         = 8
	defaultMaxSamples     = 2000
	defaultTolerance      = 1e-4
	defaultExactMaxGroups = 10
	// 精确枚举需要 2^n 次求值，超过该上限一律走采样。
	hardExactLimit = 20
	minSamples     = 30
)

// Input 是一次归因计算的输入。
type Input struct {
	JobID        string
	ResumeID     string
	Job          []float32
	Resume       []float32
	Score        float64
	Reference    []float32
	Features     FeatureMap
	ModelVersion string
}

// Explainer 计算可加性归因。实现必须是并发安全的。
type Explainer interface {
	Explain(ctx context.Context, in Input) (*model.Explanation, error)
	Method() string
}

// Options 配置 Explainer。
type Options struct {
	Method         string
	Features       FeatureMap
	Seed           uint64
	MaxSamples     int
	Tolerance      float64
	ExactMaxGroups int
}

type explainer struct {
	opts Options
	now  func() time.Time
}

// New 创建一个 Explainer，未知的方法名返回 InputError。
func New(opts Options) (Explainer, error) {
	switch opts.Method {
	case "":
		opts.Method = MethodLinear
	case MethodLinear, MethodShapley, MethodLeaveOneOut:
	default:
		return nil, errs.NewInput("method", fmt.Sprintf("unsupported attribution method %q", opts.Method))
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = defaultMaxSamples
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = defaultTolerance
	}
	if opts.ExactMaxGroups <= 0 {
		opts.ExactMaxGroups = defaultExactMaxGroups
	}
	if opts.ExactMaxGroups > hardExactLimit {
		opts.ExactMaxGroups = hardExactLimit
	}
	return &explainer{opts: opts, now: time.Now}, nil
}

// NewFromConfig 按配置和向量维度创建 Explainer。
func NewFromConfig(cfg config.ExplainerConfig, dim int) (Explainer, error) {
	groups := cfg.Groups
	if groups <= 0 {
		groups = defaultGroups
	}
	features, err := NewFeatureMap(cfg.FeatureGroups, dim, groups)
	if err != nil {
		return nil, err
	}
	return New(Options{
		Method:         cfg.Method,
		Features:       features,
		Seed:           cfg.Seed,
		MaxSamples:     cfg.MaxSamples,
		Tolerance:      cfg.Tolerance,
		ExactMaxGroups: cfg.ExactMaxGroups,
	})
}

func (e *explainer) Method() string { return e.opts.Method }

func (e *explainer) Explain(ctx context.Context, in Input) (*model.Explanation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := len(in.Job)
	if dim == 0 {
		return nil, errs.NewInput("job", "empty vector")
	}
	if len(in.Resume) != dim {
		return nil, &vectorindex.DimensionMismatchError{ID: in.ResumeID, Expected: dim, Got: len(in.Resume)}
	}
	ref := in.Reference
	if ref == nil {
		ref = make([]float32, dim)
	}
	if len(ref) != dim {
		return nil, &vectorindex.DimensionMismatchError{ID: "reference", Expected: dim, Got: len(ref)}
	}
	for name, v := range map[string][]float32{"job": in.Job, "resume": in.Resume, "reference": ref} {
		if !finite(v) {
			return nil, errs.NewInput(name, "vector contains NaN or Inf")
		}
	}

	features := in.Features
	if features == nil {
		features = e.opts.Features
	}
	if features == nil {
		features = EqualBuckets(dim, defaultGroups)
	}
	if err := features.Validate(dim); err != nil {
		return nil, err
	}

	actual, err := vectorindex.Cosine(in.Job, in.Resume)
	if err != nil {
		return nil, err
	}
	if !within(in.Score, actual) {
		return nil, errs.NewInput("score", fmt.Sprintf("score %.9f does not match cosine %.9f", in.Score, actual))
	}

	g := newGame(in.Job, in.Resume, ref, features)
	exp := &model.Explanation{
		JobID:        in.JobID,
		ResumeID:     in.ResumeID,
		Method:       e.opts.Method,
		Score:        g.full(),
		Baseline:     g.empty(),
		ModelVersion: in.ModelVersion,
		Converged:    true,
	}

	var weights []float64
	switch e.opts.Method {
	case MethodShapley:
		if len(features) <= e.opts.ExactMaxGroups {
			weights = g.exactShapley()
		} else {
			weights, exp.Samples, exp.Converged, err = g.sampledShapley(ctx, e.opts.Seed, e.opts.MaxSamples, e.opts.Tolerance)
			if err != nil {
				return nil, err
			}
		}
	case MethodLeaveOneOut:
		weights = g.leaveOneOut()
	default:
		weights = g.linear()
	}

	exp.Contributions = make([]model.Contribution, len(features))
	for i, f := range features {
		exp.Contributions[i] = model.Contribution{Feature: f.Name, Weight: weights[i]}
	}
	for _, c := range exp.Contributions {
		if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) {
			return nil, &errs.ComputationError{Component: "explainer", Reason: "non-finite contribution for " + c.Feature}
		}
	}
	sortContributions(exp.Contributions)

	if !within(exp.Total()+exp.Baseline, exp.Score) {
		log.Warnf("[Explainer] 归因不满足可加性, job: %s, resume: %s, sum+baseline: %.9f, score: %.9f",
			in.JobID, in.ResumeID, exp.Total()+exp.Baseline, exp.Score)
		exp.Converged = false
	}
	exp.Summary = summarize(exp)
	exp.GeneratedAt = e.now()
	return exp, nil
}

// game 预先按分组聚合点积与平方和，v(S) 的求值只需 O(分组数)。
// v(S) = cos(job, x_S)，x_S 在 S 中的维度取简历，其余取参考向量（两者都已单位化）。
type game struct {
	n                    int
	dotR, dotB, sqR, sqB []float64
	linearW              []float64
	sumDotB, sumSqB      float64
}

func newGame(job, resume, ref []float32, features FeatureMap) *game {
	j := unit(job)
	r := unit(resume)
	b := unit(ref)
	g := &game{
		n:       len(features),
		dotR:    make([]float64, len(features)),
		dotB:    make([]float64, len(features)),
		sqR:     make([]float64, len(features)),
		sqB:     make([]float64, len(features)),
		linearW: make([]float64, len(features)),
	}
	for i, f := range features {
		for _, d := range f.Dims {
			g.dotR[i] += j[d] * r[d]
			g.dotB[i] += j[d] * b[d]
			g.sqR[i] += r[d] * r[d]
			g.sqB[i] += b[d] * b[d]
			g.linearW[i] += j[d] * (r[d] - b[d])
		}
		g.sumDotB += g.dotB[i]
		g.sumSqB += g.sqB[i]
	}
	return g
}

func value(dot, sq float64) float64 {
	if sq <= 0 {
		return 0
	}
	return dot / math.Sqrt(sq)
}

// eval 计算 in 中为 true 的分组取简历值时的 v(S)。
func (g *game) eval(in func(i int) bool) float64 {
	var dot, sq float64
	for i := 0; i < g.n; i++ {
		if in(i) {
			dot += g.dotR[i]
			sq += g.sqR[i]
		} else {
			dot += g.dotB[i]
			sq += g.sqB[i]
		}
	}
	return value(dot, sq)
}

func (g *game) full() float64 {
	return g.eval(func(int) bool { return true })
}

func (g *game) empty() float64 {
	return g.eval(func(int) bool { return false })
}

func (g *game) linear() []float64 {
	out := make([]float64, g.n)
	copy(out, g.linearW)
	return out
}

func (g *game) exactShapley() []float64 {
	n := g.n
	size := 1 << n
	v := make([]float64, size)
	for mask := 0; mask < size; mask++ {
		m := mask
		v[mask] = g.eval(func(i int) bool { return m&(1<<i) != 0 })
	}

	// w[s] = s!(n-s-1)!/n!
	w := make([]float64, n)
	for s := 0; s < n; s++ {
		w[s] = math.Exp(lgamma(s+1) + lgamma(n-s) - lgamma(n+1))
	}

	phi := make([]float64, n)
	for mask := 0; mask < size; mask++ {
		s := popcount(mask)
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				continue
			}
			phi[i] += w[s] * (v[mask|1<<i] - v[mask])
		}
	}
	return phi
}

// sampledShapley 用随机排列估计 Shapley 值。每个排列的边际贡献之和恰为 v(N)-v(∅)，
// 所以任意时刻的均值都满足可加性；收敛判据是所有分组均值的标准误不超过 tol。
func (g *game) sampledShapley(ctx context.Context, seed uint64, maxSamples int, tol float64) ([]float64, int, bool, error) {
	n := g.n
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	mean := make([]float64, n)
	m2 := make([]float64, n)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	start := g.empty()

	samples := 0
	converged := false
	for samples < maxSamples {
		if samples%16 == 0 {
			if err := ctx.Err(); err != nil {
				if samples == 0 {
					return nil, 0, false, err
				}
				break
			}
		}
		rng.Shuffle(n, func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })

		dot, sq := g.sumDotB, g.sumSqB
		prev := start
		samples++
		for _, i := range perm {
			dot += g.dotR[i] - g.dotB[i]
			sq += g.sqR[i] - g.sqB[i]
			cur := value(dot, sq)
			delta := cur - prev
			prev = cur

			d := delta - mean[i]
			mean[i] += d / float64(samples)
			m2[i] += d * (delta - mean[i])
		}

		if samples >= minSamples && maxStdErr(m2, samples) <= tol {
			converged = true
			break
		}
	}
	if !converged {
		log.Warnf("[Explainer] Shapley 采样未收敛, samples: %d, stderr: %.3g, tolerance: %.3g", samples, maxStdErr(m2, samples), tol)
	}
	return mean, samples, converged, nil
}

// leaveOneOut 计算 v(N)-v(N\{g})，并按比例缩放使总和等于 score-baseline。
func (g *game) leaveOneOut() []float64 {
	full := g.full()
	target := full - g.empty()
	deltas := make([]float64, g.n)
	var total float64
	for i := 0; i < g.n; i++ {
		skip := i
		deltas[i] = full - g.eval(func(k int) bool { return k != skip })
		total += deltas[i]
	}
	if math.Abs(total) < 1e-12 {
		// 各分组单独移除都不影响分数，无法按比例缩放
		return g.linear()
	}
	scale := target / total
	for i := range deltas {
		deltas[i] *= scale
	}
	return deltas
}

func sortContributions(cs []model.Contribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := math.Abs(cs[i].Weight), math.Abs(cs[j].Weight)
		if a != b {
			return a > b
		}
		return cs[i].Feature < cs[j].Feature
	})
}

func unit(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += out[i] * out[i]
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func within(a, b float64) bool {
	return math.Abs(a-b) <= Tolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func maxStdErr(m2 []float64, samples int) float64 {
	if samples < 2 {
		return math.Inf(1)
	}
	var worst float64
	for _, x := range m2 {
		se := math.Sqrt(x / float64(samples-1) / float64(samples))
		if se > worst {
			worst = se
		}
	}
	return worst
}

func lgamma(x int) float64 {
	v, _ := math.Lgamma(float64(x))
	return v
}

func popcount(x int) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
