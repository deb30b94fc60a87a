package explain

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"equihire-go/internal/model"
)

// DefaultKeywords 是未配置关键词时使用的列表。
var DefaultKeywords = []string{
	"python", "java", "javascript", "react", "sql", "docker", "kubernetes", "aws",
	"machine learning", "experience", "education", "certification", "project", "skill",
}

const (
	keywordMatchWeight   = 0.1
	keywordMissingWeight = -0.05
	// 响应里最多列出的共同词数量，CommonTermCount 仍是完整计数
	maxListedTerms = 20
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "in": true, "is": true, "of": true, "on": true, "or": true,
	"the": true, "to": true, "with": true,
}

// tokens 把文本小写后按非字母数字切分。保留 + 和 #，以免 c++、c# 被切碎。
func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
}

func termSet(toks []string) map[string]bool {
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		if !stopwords[t] {
			set[t] = true
		}
	}
	return set
}

// containsPhrase 判断分词后的文本是否包含完整的关键词（可以是多个词）。
func containsPhrase(joined string, keyword string) bool {
	kw := strings.Join(tokens(keyword), " ")
	if kw == "" {
		return false
	}
	return strings.Contains(joined, " "+kw+" ")
}

// CompareTerms 统计 job 与简历的共同词，并检查每个关键词在两边的出现情况。
// 只有出现在 job 中的关键词会被列出。keywords 为 nil 时使用 DefaultKeywords。
func CompareTerms(jobText, resumeText string, keywords []string) *model.TermEvidence {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	jobToks, resumeToks := tokens(jobText), tokens(resumeText)
	jobSet, resumeSet := termSet(jobToks), termSet(resumeToks)

	common := make([]string, 0)
	for t := range jobSet {
		if resumeSet[t] {
			common = append(common, t)
		}
	}
	sort.Strings(common)
	ev := &model.TermEvidence{CommonTermCount: len(common), CommonTerms: common}
	if len(common) > maxListedTerms {
		ev.CommonTerms = common[:maxListedTerms]
	}

	jobJoined := " " + strings.Join(jobToks, " ") + " "
	resumeJoined := " " + strings.Join(resumeToks, " ") + " "
	for _, kw := range keywords {
		if !containsPhrase(jobJoined, kw) {
			continue
		}
		sig := model.KeywordSignal{Keyword: kw, Weight: keywordMissingWeight}
		if containsPhrase(resumeJoined, kw) {
			sig.InResume = true
			sig.Weight = keywordMatchWeight
		}
		ev.Keywords = append(ev.Keywords, sig)
	}
	return ev
}

// Describe 在解释上附加原文证据并重写摘要。任一侧原文为空时只保留数值摘要。
func Describe(exp *model.Explanation, jobText, resumeText string, keywords []string) {
	if strings.TrimSpace(jobText) == "" || strings.TrimSpace(resumeText) == "" {
		exp.Summary = summarize(exp)
		return
	}
	exp.Terms = CompareTerms(jobText, resumeText, keywords)
	exp.Summary = summarize(exp)
}

// summarize 生成一句话结论：分数、共同词数、最大的正负贡献以及关键词命中情况。
func summarize(exp *model.Explanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Match score of %.3f", exp.Score)
	if exp.Terms != nil {
		fmt.Fprintf(&b, " based on %d common terms", exp.Terms.CommonTermCount)
	}
	fmt.Fprintf(&b, " (baseline %.3f)", exp.Baseline)

	var top, bottom *model.Contribution
	for i := range exp.Contributions {
		c := &exp.Contributions[i]
		if c.Weight > 0 && (top == nil || c.Weight > top.Weight) {
			top = c
		}
		if c.Weight < 0 && (bottom == nil || c.Weight < bottom.Weight) {
			bottom = c
		}
	}
	if top != nil {
		fmt.Fprintf(&b, "; strongest factor %s (%+.3f)", top.Feature, top.Weight)
	}
	if bottom != nil {
		fmt.Fprintf(&b, "; weakest factor %s (%+.3f)", bottom.Feature, bottom.Weight)
	}

	if exp.Terms != nil && len(exp.Terms.Keywords) > 0 {
		var matched, missing []string
		for _, k := range exp.Terms.Keywords {
			if k.InResume {
				matched = append(matched, k.Keyword)
			} else {
				missing = append(missing, k.Keyword)
			}
		}
		if len(matched) > 0 {
			fmt.Fprintf(&b, "; matched keywords: %s", strings.Join(matched, ", "))
		}
		if len(missing) > 0 {
			fmt.Fprintf(&b, "; missing keywords: %s", strings.Join(missing, ", "))
		}
	}
	if !exp.Converged {
		b.WriteString("; attribution is approximate")
	}
	return b.String()
}
