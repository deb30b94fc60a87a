package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/tasks"
)

// fakeEmbedder 按文本返回预置向量，failures 次调用之前先返回可重试错误。
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	failures int
	fatal    error
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, kind model.DocKind) (model.EmbeddingVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fatal != nil {
		return model.EmbeddingVector{}, f.fatal
	}
	if f.failures > 0 {
		f.failures--
		return model.EmbeddingVector{}, errs.Unavailable("embedder", errors.New("model server busy"))
	}
	if text == "" {
		return model.EmbeddingVector{}, errs.NewInput("text", "must not be empty")
	}
	v, ok := f.vectors[text]
	if !ok {
		return model.EmbeddingVector{}, errs.NewInput("text", "unknown text "+text)
	}
	return model.EmbeddingVector{Kind: kind, Values: append([]float32(nil), v...), ModelVersion: "fake-v1", GeneratedAt: time.Now()}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, kind model.DocKind) ([]model.EmbeddingVector, error) {
	out := make([]model.EmbeddingVector, 0, len(texts))
	for _, t := range texts {
		v, err := f.Embed(ctx, t, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) ModelVersion() string { return "fake-v1" }
func (f *fakeEmbedder) Dimensions() int      { return 4 }

// fakeCandidates 是内存版的 CandidateRepository。
type fakeCandidates struct {
	mu        sync.Mutex
	jobs      map[string]model.Job
	resumes   map[string]model.Resume
	labels    model.LabelSet
	labelsErr error
	saveErr   error
}

func newFakeCandidates() *fakeCandidates {
	return &fakeCandidates{jobs: map[string]model.Job{}, resumes: map[string]model.Resume{}, labels: model.LabelSet{}}
}

func (f *fakeCandidates) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &j, nil
}

func (f *fakeCandidates) ListJobs(_ context.Context, afterID string, limit int) ([]model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Job
	for _, j := range f.jobs {
		if j.ID > afterID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCandidates) GetResume(_ context.Context, resumeID string) (*model.Resume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resumes[resumeID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

func (f *fakeCandidates) ListResumes(_ context.Context, afterID string, limit int) ([]model.Resume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Resume
	for _, r := range f.resumes {
		if r.ID > afterID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCandidates) SaveResume(_ context.Context, resume *model.Resume, labels model.AttributeLabels) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.resumes[resume.ID] = *resume
	if labels != nil {
		f.labels[resume.ID] = labels
	}
	return nil
}

func (f *fakeCandidates) DeleteResume(_ context.Context, resumeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.resumes[resumeID]; !ok {
		return errs.ErrNotFound
	}
	delete(f.resumes, resumeID)
	delete(f.labels, resumeID)
	return nil
}

func (f *fakeCandidates) LabelsFor(_ context.Context, resumeIDs []string) (model.LabelSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelsErr != nil {
		return nil, f.labelsErr
	}
	out := model.LabelSet{}
	for _, id := range resumeIDs {
		if l, ok := f.labels[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

// fakeMatches 记录写入的结果。
type fakeMatches struct {
	mu           sync.Mutex
	results      map[string][]model.MatchResult
	reports      []*model.FairnessReport
	explanations []*model.Explanation
}

func newFakeMatches() *fakeMatches {
	return &fakeMatches{results: map[string][]model.MatchResult{}}
}

func (f *fakeMatches) SaveResults(_ context.Context, resp *model.MatchResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[resp.JobID] = append(f.results[resp.JobID], resp.Results...)
	return nil
}

func (f *fakeMatches) SaveReport(_ context.Context, report *model.FairnessReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeMatches) LatestReport(_ context.Context, jobID string, generation uint64, topK int) (*model.FairnessReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.reports) - 1; i >= 0; i-- {
		if r := f.reports[i]; r.JobID == jobID && r.TopK == topK && r.Generation == generation {
			return r, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeMatches) SaveExplanation(_ context.Context, exp *model.Explanation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.explanations = append(f.explanations, exp)
	return nil
}

func (f *fakeMatches) HasResults(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results[jobID]) > 0, nil
}

// fakeEvents 收集发布的事件。
type fakeEvents struct {
	mu     sync.Mutex
	events []tasks.MatchComputedEvent
}

func (f *fakeEvents) PublishMatchComputed(_ context.Context, evt tasks.MatchComputedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
