package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
)

type openAIProvider struct {
	cfg     config.EmbeddingConfig
	client  *resty.Client
	limiter *rate.Limiter
}

// NewOpenAIProvider 创建 OpenAI 兼容 /embeddings 接口的 Provider。
func NewOpenAIProvider(cfg config.EmbeddingConfig) Provider {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &openAIProvider{cfg: cfg, client: client, limiter: limiter}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *openAIProvider) Name() string { return "openai" }

// Encode 调用 OpenAI 兼容接口获取向量。429 和 5xx 视为依赖暂时不可用。
func (p *openAIProvider) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, errs.Unavailable("embedder", err)
		}
	}
	log.Debugf("[EmbeddingClient] 开始调用 Embedding API, model: %s, 条数: %d", p.cfg.Model, len(texts))

	var out embeddingResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(embeddingRequest{Model: p.cfg.Model, Input: texts, Dimensions: p.cfg.Dimensions}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/embeddings")
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, errs.Unavailable("embedder", fmt.Errorf("call embedding api: %w", err))
	}

	status := resp.StatusCode()
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		log.Warnf("[EmbeddingClient] Embedding API 暂时不可用: %s", resp.Status())
		return nil, errs.Unavailable("embedder", fmt.Errorf("embedding api returned %s", resp.Status()))
	}
	if resp.IsError() {
		log.Errorf("[EmbeddingClient] Embedding API 返回错误状态码: %s, body: %s", resp.Status(), resp.String())
		return nil, fmt.Errorf("embedding api returned %s", resp.Status())
	}

	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(out.Data), len(texts))
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("received empty embedding at index %d", d.Index)
		}
		vectors[i] = d.Embedding
	}
	log.Debugf("[EmbeddingClient] 成功获取向量, 条数: %d, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}
