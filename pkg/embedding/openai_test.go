package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
)

func TestOpenAIProviderEncode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 || req.Model != "text-embedding-3-small" {
			t.Errorf("unexpected request %+v", req)
		}
		// 乱序返回，客户端需要按 index 排序
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "secret", Model: "text-embedding-3-small"})
	out, err := p.Encode(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if out[0][0] != 1 || out[1][1] != 1 {
		t.Fatalf("vectors not ordered by index: %v", out)
	}
}

func TestOpenAIProviderStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
		{name: "server error", status: http.StatusServiceUnavailable, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: srv.URL, Model: "m"})
			_, err := p.Encode(context.Background(), []string{"a"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errs.IsRetryable(err); got != tt.retryable {
				t.Fatalf("IsRetryable() = %v, want %v (err=%v)", got, tt.retryable, err)
			}
		})
	}
}
