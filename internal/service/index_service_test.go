package service

import (
	"context"
	"errors"
	"testing"

	"equihire-go/internal/model"
	"equihire-go/internal/repository"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/vectorindex"
)

func newIndexHarness(t *testing.T) (IndexService, *fakeEmbedder, vectorindex.Index, *fakeCandidates) {
	t.Helper()
	stubSleep(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"go developer":   {1, 0, 0, 0},
		"java developer": {0, 1, 0, 0},
	}}
	idx := vectorindex.NewMemoryIndex(4)
	cands := newFakeCandidates()
	svc := NewIndexService(emb, idx, cands, nil, Options{Retry: RetryPolicy{MaxAttempts: 2}})
	return svc, emb, idx, cands
}

// failingUpsertIndex 在写入时返回不可重试的错误，其余操作交给真实索引。
type failingUpsertIndex struct {
	vectorindex.Index
	err error
}

func (f failingUpsertIndex) Upsert(context.Context, string, []float32) error { return f.err }

func TestIndexResume(t *testing.T) {
	svc, _, idx, cands := newIndexHarness(t)
	ctx := context.Background()

	vec, err := svc.IndexResume(ctx, IndexRequest{
		ResumeID: " r-1 ",
		Text:     "go developer",
		Labels:   model.AttributeLabels{"gender": "female"},
	})
	if err != nil {
		t.Fatalf("IndexResume() error = %v", err)
	}
	if vec.OwnerID != "r-1" || vec.Dim() != 4 {
		t.Fatalf("vector = %+v, want owner r-1 with 4 dims", vec)
	}
	if n, _ := idx.Len(ctx); n != 1 {
		t.Fatalf("index len = %d, want 1", n)
	}
	if _, ok := cands.resumes["r-1"]; !ok {
		t.Fatal("resume should be stored")
	}
	if cands.labels["r-1"]["gender"] != "female" {
		t.Fatalf("labels = %v", cands.labels["r-1"])
	}

	// 再次写入整体替换旧向量，nil 标签保留原值
	if _, err := svc.IndexResume(ctx, IndexRequest{ResumeID: "r-1", Text: "java developer"}); err != nil {
		t.Fatalf("IndexResume() error = %v", err)
	}
	got, err := idx.Get(ctx, "r-1")
	if err != nil || got[1] != 1 {
		t.Fatalf("vector = %v err = %v, want replaced vector", got, err)
	}
	if cands.labels["r-1"]["gender"] != "female" {
		t.Fatal("labels should survive a text-only update")
	}
}

func TestIndexResumeEmbedFailureLeavesNoState(t *testing.T) {
	svc, emb, idx, cands := newIndexHarness(t)
	emb.failures = 5

	_, err := svc.IndexResume(context.Background(), IndexRequest{ResumeID: "r-1", Text: "go developer"})
	if errs.KindOf(err) != errs.KindDependency {
		t.Fatalf("err = %v, want dependency error", err)
	}
	if n, _ := idx.Len(context.Background()); n != 0 || len(cands.resumes) != 0 {
		t.Fatal("nothing should be written when embedding fails")
	}
}

func TestIndexResumeUpsertFailureLeavesStoreUntouched(t *testing.T) {
	stubSleep(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{"go developer": {1, 0, 0, 0}}}
	idx := failingUpsertIndex{Index: vectorindex.NewMemoryIndex(4), err: errs.NewInput("vector", "rejected")}
	cands := newFakeCandidates()
	svc := NewIndexService(emb, idx, cands, nil, Options{Retry: RetryPolicy{MaxAttempts: 2}})

	_, err := svc.IndexResume(context.Background(), IndexRequest{
		ResumeID: "r-1",
		Text:     "go developer",
		Labels:   model.AttributeLabels{"gender": "female"},
	})
	if errs.FieldOf(err) != "vector" {
		t.Fatalf("err = %v, want the index error", err)
	}
	if len(cands.resumes) != 0 || len(cands.labels) != 0 {
		t.Fatalf("store = %v %v, want nothing written when the index rejects the vector", cands.resumes, cands.labels)
	}
}

func TestIndexResumeSaveFailureRestoresIndex(t *testing.T) {
	svc, _, idx, cands := newIndexHarness(t)
	ctx := context.Background()

	if _, err := svc.IndexResume(ctx, IndexRequest{ResumeID: "r-1", Text: "go developer"}); err != nil {
		t.Fatalf("IndexResume() error = %v", err)
	}
	cands.saveErr = errors.New("connection reset")

	// 已存在的简历：恢复旧向量
	if _, err := svc.IndexResume(ctx, IndexRequest{ResumeID: "r-1", Text: "java developer"}); err == nil {
		t.Fatal("IndexResume() error = nil, want the store error")
	}
	got, err := idx.Get(ctx, "r-1")
	if err != nil || got[0] != 1 {
		t.Fatalf("vector = %v err = %v, want the previous vector restored", got, err)
	}
	if cands.resumes["r-1"].Text != "go developer" {
		t.Fatalf("stored text = %q, want unchanged", cands.resumes["r-1"].Text)
	}

	// 新简历：从索引中删除
	if _, err := svc.IndexResume(ctx, IndexRequest{ResumeID: "r-2", Text: "java developer"}); err == nil {
		t.Fatal("IndexResume() error = nil, want the store error")
	}
	if _, err := idx.Get(ctx, "r-2"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Get(r-2) err = %v, want not found after rollback", err)
	}
	if n, _ := idx.Len(ctx); n != 1 {
		t.Fatalf("index len = %d, want 1", n)
	}
}

func TestIndexResumeWithoutStoreCachesText(t *testing.T) {
	stubSleep(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{"go developer": {1, 0, 0, 0}}}
	texts := repository.NewMemorySnapshotRepository()
	svc := NewIndexService(emb, vectorindex.NewMemoryIndex(4), nil, texts, Options{Retry: RetryPolicy{MaxAttempts: 2}})
	ctx := context.Background()

	if _, err := svc.IndexResume(ctx, IndexRequest{ResumeID: "r-1", Text: "go developer"}); err != nil {
		t.Fatalf("IndexResume() error = %v", err)
	}
	if text, _ := texts.Text(ctx, model.KindResume, "r-1"); text != "go developer" {
		t.Fatalf("cached text = %q", text)
	}
	if err := svc.RemoveResume(ctx, "r-1"); err != nil {
		t.Fatalf("RemoveResume() error = %v", err)
	}
	if text, _ := texts.Text(ctx, model.KindResume, "r-1"); text != "" {
		t.Fatalf("cached text = %q after removal, want empty", text)
	}
}

func TestIndexResumeInputErrors(t *testing.T) {
	svc, _, _, _ := newIndexHarness(t)
	tests := []struct {
		name  string
		req   IndexRequest
		field string
	}{
		{name: "missing id", req: IndexRequest{Text: "go developer"}, field: "resumeId"},
		{name: "empty text", req: IndexRequest{ResumeID: "r-1"}, field: "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.IndexResume(context.Background(), tt.req)
			if errs.FieldOf(err) != tt.field {
				t.Fatalf("err = %v, want input error on %s", err, tt.field)
			}
		})
	}
}

func TestRemoveResume(t *testing.T) {
	svc, _, idx, cands := newIndexHarness(t)
	ctx := context.Background()

	if _, err := svc.IndexResume(ctx, IndexRequest{ResumeID: "r-1", Text: "go developer"}); err != nil {
		t.Fatalf("IndexResume() error = %v", err)
	}
	if err := svc.RemoveResume(ctx, "r-1"); err != nil {
		t.Fatalf("RemoveResume() error = %v", err)
	}
	if n, _ := idx.Len(ctx); n != 0 || len(cands.resumes) != 0 {
		t.Fatal("resume should be gone from index and store")
	}
	if err := svc.RemoveResume(ctx, "r-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second remove err = %v, want not found", err)
	}
}

func TestReindex(t *testing.T) {
	svc, _, idx, cands := newIndexHarness(t)
	ctx := context.Background()
	cands.resumes["r-1"] = model.Resume{ID: "r-1", Text: "go developer"}
	cands.resumes["r-2"] = model.Resume{ID: "r-2", Text: "java developer"}
	cands.resumes["r-3"] = model.Resume{ID: "r-3", Text: ""}

	n, err := svc.Reindex(ctx, 2)
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("indexed = %d, want 2 (empty resume skipped)", n)
	}
	if size, _ := idx.Len(ctx); size != 2 {
		t.Fatalf("index len = %d, want 2", size)
	}
}
