package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
)

type geminiProvider struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiProvider 创建基于 Gemini EmbedContent 的 Provider。
func NewGeminiProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding.api_key is required for the gemini provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &geminiProvider{client: client, model: model, dimensions: cfg.Dimensions}, nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	var embedCfg *genai.EmbedContentConfig
	if p.dimensions > 0 {
		embedCfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(p.dimensions))}
	}

	result, err := p.client.Models.EmbedContent(ctx, p.model, contents, embedCfg)
	if err != nil {
		if isRetryableGeminiError(err) {
			log.Warnf("[GeminiEmbedder] EmbedContent 暂时失败: %v", err)
			return nil, errs.Unavailable("embedder", err)
		}
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned an unexpected number of embeddings")
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("embedding vector %d is empty", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// isRetryableGeminiError 按 HTTP 状态码判断：429 和 5xx 可重试，其它客户端错误不重试。
func isRetryableGeminiError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code == 429 || apiErrPtr.Code >= 500
	}
	return errs.KindOf(err) == errs.KindDependency
}
