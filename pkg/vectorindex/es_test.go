package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"

	"equihire-go/pkg/errs"
)

func newFakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestESIndexQueryConvertsScores(t *testing.T) {
	var gotBody map[string]interface{}
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"C","_score":0.85,"_source":{"resume_id":"C"}},
			{"_id":"A","_score":1.0,"_source":{"resume_id":"A"}},
			{"_id":"B","_score":0.85,"_source":{"resume_id":"B"}}
		]}}`))
	})

	idx := NewESIndex(client, "resume_vectors", 4, "v1")
	hits, err := idx.Query(context.Background(), []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len = %d, want 2", len(hits))
	}
	if hits[0].ID != "A" || !approx(hits[0].Score, 1) {
		t.Fatalf("hits[0] = %+v, want A(1.0)", hits[0])
	}
	if hits[1].ID != "B" || !approx(hits[1].Score, 0.7) {
		t.Fatalf("hits[1] = %+v, want B(0.7) by id tie-break", hits[1])
	}
	knn, ok := gotBody["knn"].(map[string]interface{})
	if !ok || knn["field"] != "vector" {
		t.Fatalf("expected knn query, got %v", gotBody)
	}
	if idx.Exact() {
		t.Fatalf("elasticsearch backend is approximate")
	}
}

func TestESIndexUnavailable(t *testing.T) {
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
	})
	idx := NewESIndex(client, "resume_vectors", 4, "v1")
	_, err := idx.Query(context.Background(), []float32{1, 0, 0, 0}, 2)
	if !errs.IsRetryable(err) {
		t.Fatalf("expected retryable dependency error, got %v", err)
	}
}

func TestESIndexDimensionCheck(t *testing.T) {
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	idx := NewESIndex(client, "resume_vectors", 4, "v1")
	if err := idx.Upsert(context.Background(), "a", []float32{1, 2}); errs.KindOf(err) != errs.KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestESIndexGet(t *testing.T) {
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/_doc/missing") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"found":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"_id":"A","found":true,"_source":{"resume_id":"A","vector":[0.5,0.25,0,1]}}`))
	})
	idx := NewESIndex(client, "resume_vectors", 4, "v1")

	v, err := idx.Get(context.Background(), "A")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(v) != 4 || v[0] != 0.5 || v[3] != 1 {
		t.Fatalf("vector = %v", v)
	}
	if _, err := idx.Get(context.Background(), "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	raw, _ := io.ReadAll(r.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
	}
	return body
}

func TestESIndexGenerationFromIndexState(t *testing.T) {
	count, latest := 3, int64(1700000000000)
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["track_total_hits"] != true {
			t.Errorf("generation query must count every document, got %v", body)
		}
		_, _ = w.Write([]byte(fmt.Sprintf(`{"hits":{"total":{"value":%d},"hits":[]},"aggregations":{"latest":{"value":%d}}}`, count, latest)))
	})
	ctx := context.Background()
	a := NewESIndex(client, "resume_vectors", 4, "v1")
	b := NewESIndex(client, "resume_vectors", 4, "v1")

	ga, err := a.Generation(ctx)
	if err != nil {
		t.Fatalf("Generation() error = %v", err)
	}
	if gb, _ := b.Generation(ctx); gb != ga {
		t.Fatalf("instances over the same index disagree: %d != %d", ga, gb)
	}
	latest++
	if g, _ := a.Generation(ctx); g == ga {
		t.Fatal("a write elsewhere must change the generation")
	}
}

func TestESIndexRejectsZeroVector(t *testing.T) {
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
	})
	idx := NewESIndex(client, "resume_vectors", 4, "v1")
	err := idx.Upsert(context.Background(), "z", []float32{0, 0, 0, 0})
	if errs.KindOf(err) != errs.KindInput || errs.IsRetryable(err) {
		t.Fatalf("err = %v, want non-retryable input error", err)
	}
}

func TestESIndexBadRequestIsInputError(t *testing.T) {
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"illegal_argument_exception"}}`))
	})
	idx := NewESIndex(client, "resume_vectors", 4, "v1")
	_, err := idx.Query(context.Background(), []float32{1, 0, 0, 0}, 2)
	if errs.KindOf(err) != errs.KindInput || errs.IsRetryable(err) {
		t.Fatalf("err = %v, want non-retryable input error", err)
	}
}

func setPageSize(t *testing.T, n int) {
	t.Helper()
	old := esPageSize
	esPageSize = n
	t.Cleanup(func() { esPageSize = old })
}

func TestESIndexQueryBeyondPageScoresWholePool(t *testing.T) {
	setPageSize(t, 2)
	var requests []map[string]interface{}
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		requests = append(requests, body)
		if _, ok := body["search_after"]; !ok {
			_, _ = w.Write([]byte(`{"hits":{"hits":[
				{"_score":2.0,"_source":{"resume_id":"A"},"sort":[2.0,"A"]},
				{"_score":1.7,"_source":{"resume_id":"C"},"sort":[1.7,"C"]}
			]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_score":1.0,"_source":{"resume_id":"B"},"sort":[1.0,"B"]}
		]}}`))
	})
	idx := NewESIndex(client, "resume_vectors", 4, "v1")

	hits, err := idx.Query(context.Background(), []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 3 || hits[0].ID != "A" || hits[1].ID != "C" || hits[2].ID != "B" {
		t.Fatalf("hits = %+v, want A C B", hits)
	}
	if !approx(hits[0].Score, 1) || !approx(hits[1].Score, 0.7) || !approx(hits[2].Score, 0) {
		t.Fatalf("scores = %+v, want cos = _score - 1", hits)
	}
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want 2 pages", len(requests))
	}
	query := requests[0]["query"].(map[string]interface{})
	if _, ok := query["script_score"]; !ok {
		t.Fatalf("expected exact script_score query, got %v", query)
	}
}

func TestESIndexVectorsPagesThroughIndex(t *testing.T) {
	setPageSize(t, 2)
	client := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if _, ok := body["search_after"]; !ok {
			_, _ = w.Write([]byte(`{"hits":{"hits":[
				{"_source":{"resume_id":"A","vector":[1,0,0,0]},"sort":["A"]},
				{"_source":{"resume_id":"B","vector":[0,1,0,0]},"sort":["B"]}
			]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_source":{"resume_id":"C","vector":[0,0,1,0]},"sort":["C"]}
		]}}`))
	})
	idx := NewESIndex(client, "resume_vectors", 4, "v1")

	var ids []string
	err := idx.Vectors(context.Background(), func(id string, _ []float32) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Vectors() error = %v", err)
	}
	if strings.Join(ids, ",") != "A,B,C" {
		t.Fatalf("ids = %v, want the whole index", ids)
	}
}
