package explain

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"equihire-go/internal/model"
)

func TestCompareTerms(t *testing.T) {
	ev := CompareTerms(
		"Senior Python developer with SQL and Docker experience",
		"Python engineer. SQL, five years of experience",
		nil,
	)
	if ev.CommonTermCount != 3 {
		t.Fatalf("common = %d (%v), want 3", ev.CommonTermCount, ev.CommonTerms)
	}
	if want := []string{"experience", "python", "sql"}; !reflect.DeepEqual(ev.CommonTerms, want) {
		t.Fatalf("terms = %v, want %v", ev.CommonTerms, want)
	}
	want := []model.KeywordSignal{
		{Keyword: "python", InResume: true, Weight: keywordMatchWeight},
		{Keyword: "sql", InResume: true, Weight: keywordMatchWeight},
		{Keyword: "docker", InResume: false, Weight: keywordMissingWeight},
		{Keyword: "experience", InResume: true, Weight: keywordMatchWeight},
	}
	if !reflect.DeepEqual(ev.Keywords, want) {
		t.Fatalf("keywords = %+v, want %+v", ev.Keywords, want)
	}
}

func TestCompareTermsKeywordBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		job      string
		resume   string
		keywords []string
		want     []model.KeywordSignal
	}{
		{
			name:     "java is not matched inside javascript",
			job:      "JavaScript developer",
			resume:   "java and javascript",
			keywords: []string{"java", "javascript"},
			want:     []model.KeywordSignal{{Keyword: "javascript", InResume: true, Weight: keywordMatchWeight}},
		},
		{
			name:     "multi-word keyword across punctuation",
			job:      "Machine-learning engineer",
			resume:   "did machine learning at scale",
			keywords: []string{"machine learning"},
			want:     []model.KeywordSignal{{Keyword: "machine learning", InResume: true, Weight: keywordMatchWeight}},
		},
		{
			name:     "symbols kept in tokens",
			job:      "C++ and C# engineer",
			resume:   "c# only",
			keywords: []string{"c++", "c#"},
			want: []model.KeywordSignal{
				{Keyword: "c++", InResume: false, Weight: keywordMissingWeight},
				{Keyword: "c#", InResume: true, Weight: keywordMatchWeight},
			},
		},
		{
			name:     "no keyword in job",
			job:      "warehouse operator",
			resume:   "python",
			keywords: nil,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareTerms(tt.job, tt.resume, tt.keywords).Keywords
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("keywords = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompareTermsListIsCapped(t *testing.T) {
	words := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		words = append(words, fmt.Sprintf("term%02d", i))
	}
	text := strings.Join(words, " ")
	ev := CompareTerms(text, text, []string{})
	if ev.CommonTermCount != 25 || len(ev.CommonTerms) != maxListedTerms {
		t.Fatalf("count = %d listed = %d, want 25 and %d", ev.CommonTermCount, len(ev.CommonTerms), maxListedTerms)
	}
}

func TestDescribe(t *testing.T) {
	exp := &model.Explanation{
		Score:     0.72,
		Baseline:  0.1,
		Converged: true,
		Contributions: []model.Contribution{
			{Feature: "skills", Weight: 0.5},
			{Feature: "tenure", Weight: -0.08},
			{Feature: "education", Weight: 0.2},
		},
	}
	Describe(exp, "python docker engineer", "python engineer", nil)

	if exp.Terms == nil || exp.Terms.CommonTermCount != 2 {
		t.Fatalf("terms = %+v, want 2 common terms", exp.Terms)
	}
	for _, part := range []string{
		"Match score of 0.720 based on 2 common terms (baseline 0.100)",
		"strongest factor skills (+0.500)",
		"weakest factor tenure (-0.080)",
		"matched keywords: python",
		"missing keywords: docker",
	} {
		if !strings.Contains(exp.Summary, part) {
			t.Errorf("summary %q missing %q", exp.Summary, part)
		}
	}
}

func TestDescribeWithoutResumeText(t *testing.T) {
	exp := &model.Explanation{Score: 0.5, Converged: true}
	Describe(exp, "python engineer", "", nil)
	if exp.Terms != nil {
		t.Fatalf("terms = %+v, want nil without resume text", exp.Terms)
	}
	if exp.Summary != "Match score of 0.500 (baseline 0.000)" {
		t.Fatalf("summary = %q", exp.Summary)
	}
}
