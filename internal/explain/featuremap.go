package explain

import (
	"fmt"
	"sort"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
)

// OtherFeature 收纳未被任何命名分组覆盖的维度。
const OtherFeature = "other"

// FeatureGroup 是一组被归为同一个可读特征的维度。
type FeatureGroup struct {
	Name string
	Dims []int
}

// FeatureMap 把原始维度划分为互不相交的特征分组，覆盖全部维度。
type FeatureMap []FeatureGroup

// EqualBuckets 把 dim 个维度平均切成 n 段，最后一段吸收余数。
func EqualBuckets(dim, n int) FeatureMap {
	if n <= 0 || n > dim {
		n = dim
	}
	size := dim / n
	out := make(FeatureMap, 0, n)
	for i := 0; i < n; i++ {
		from := i * size
		to := from + size
		if i == n-1 {
			to = dim
		}
		out = append(out, rangeGroup(fmt.Sprintf("dims[%d:%d]", from, to), from, to))
	}
	return out
}

// PerDimension 为每个维度生成一个分组，名称形如 dim_3。
func PerDimension(dim int) FeatureMap {
	out := make(FeatureMap, dim)
	for i := 0; i < dim; i++ {
		out[i] = FeatureGroup{Name: fmt.Sprintf("dim_%d", i), Dims: []int{i}}
	}
	return out
}

// NewFeatureMap 根据配置构造特征映射。未配置分组时退化为 buckets 个等宽分组；
// 配置了分组但没有覆盖全部维度时，剩余维度归入 other。
func NewFeatureMap(groups []config.FeatureGroupConfig, dim, buckets int) (FeatureMap, error) {
	if dim <= 0 {
		return nil, errs.NewInput("dimensions", "must be positive")
	}
	if len(groups) == 0 {
		return EqualBuckets(dim, buckets), nil
	}

	owner := make([]string, dim)
	out := make(FeatureMap, 0, len(groups)+1)
	names := map[string]struct{}{}
	for _, g := range groups {
		if g.Name == "" || g.Name == OtherFeature {
			return nil, errs.NewInput("feature_groups", fmt.Sprintf("invalid group name %q", g.Name))
		}
		if _, dup := names[g.Name]; dup {
			return nil, errs.NewInput("feature_groups", fmt.Sprintf("duplicate group %q", g.Name))
		}
		names[g.Name] = struct{}{}
		if g.From < 0 || g.To > dim || g.From >= g.To {
			return nil, errs.NewInput("feature_groups", fmt.Sprintf("group %q has invalid range [%d, %d)", g.Name, g.From, g.To))
		}
		for d := g.From; d < g.To; d++ {
			if owner[d] != "" {
				return nil, errs.NewInput("feature_groups", fmt.Sprintf("dimension %d claimed by %q and %q", d, owner[d], g.Name))
			}
			owner[d] = g.Name
		}
		out = append(out, rangeGroup(g.Name, g.From, g.To))
	}

	var rest []int
	for d, name := range owner {
		if name == "" {
			rest = append(rest, d)
		}
	}
	if len(rest) > 0 {
		out = append(out, FeatureGroup{Name: OtherFeature, Dims: rest})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Dims[0] < out[j].Dims[0] })
	return out, nil
}

// Validate 检查分组是否恰好覆盖 [0, dim) 中的每个维度一次。
func (m FeatureMap) Validate(dim int) error {
	if len(m) == 0 {
		return errs.NewInput("featureMap", "empty")
	}
	seen := make([]bool, dim)
	covered := 0
	for _, g := range m {
		for _, d := range g.Dims {
			if d < 0 || d >= dim {
				return errs.NewInput("featureMap", fmt.Sprintf("group %q references dimension %d outside [0, %d)", g.Name, d, dim))
			}
			if seen[d] {
				return errs.NewInput("featureMap", fmt.Sprintf("dimension %d appears twice", d))
			}
			seen[d] = true
			covered++
		}
	}
	if covered != dim {
		return errs.NewInput("featureMap", fmt.Sprintf("covers %d of %d dimensions", covered, dim))
	}
	return nil
}

func rangeGroup(name string, from, to int) FeatureGroup {
	dims := make([]int, 0, to-from)
	for d := from; d < to; d++ {
		dims = append(dims, d)
	}
	return FeatureGroup{Name: name, Dims: dims}
}
