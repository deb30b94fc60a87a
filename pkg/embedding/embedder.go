// Package embedding 将简历和职位描述文本转换为定长向量。
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"equihire-go/internal/config"
	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
)

// DefaultMaxTokens 是未配置时保留的最大空白分词 token 数。
const DefaultMaxTokens = 256

// Embedder 定义了文本向量化的接口。
type Embedder interface {
	Embed(ctx context.Context, text string, kind model.DocKind) (model.EmbeddingVector, error)
	EmbedBatch(ctx context.Context, texts []string, kind model.DocKind) ([]model.EmbeddingVector, error)
	ModelVersion() string
	Dimensions() int
}

// Provider 是具体的模型后端，只负责把已规范化的文本编码为向量。
type Provider interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// EmptyInputError 表示文本在空白规范化后为空。
type EmptyInputError struct {
	DocKind model.DocKind
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("empty %s text after whitespace normalization", e.DocKind)
}

func (e *EmptyInputError) Kind() errs.Kind { return errs.KindInput }

func (e *EmptyInputError) Unwrap() error {
	return &errs.InputError{Field: "text", Reason: "empty after whitespace normalization"}
}

// EmbeddingFailure 表示编码或分词失败，附带原文长度和截断标记。
type EmbeddingFailure struct {
	TextLength int
	Truncated  bool
	Err        error
}

func (e *EmbeddingFailure) Error() string {
	return fmt.Sprintf("embedding failed (text_length=%d, truncated=%t): %v", e.TextLength, e.Truncated, e.Err)
}

func (e *EmbeddingFailure) Unwrap() error { return e.Err }

// Kind 沿用底层错误的类别；无法识别时视为输入问题，不做重试。
func (e *EmbeddingFailure) Kind() errs.Kind {
	if k := errs.KindOf(e.Err); k != errs.KindUnknown {
		return k
	}
	return errs.KindInput
}

// Options 控制向量化服务的行为。
type Options struct {
	ModelVersion string
	Dimensions   int
	MaxTokens    int
}

type embedder struct {
	provider Provider
	opts     Options
	now      func() time.Time
}

// NewEmbedder 用给定的 Provider 创建 Embedder。
func NewEmbedder(provider Provider, opts Options) Embedder {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &embedder{provider: provider, opts: opts, now: time.Now}
}

// New 根据配置选择 Provider 并创建 Embedder。
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider = NewOpenAIProvider(cfg)
	case "gemini":
		provider, err = NewGeminiProvider(ctx, cfg)
	case "hashing", "":
		provider = NewHashingProvider(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("不支持的 embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("[Embedder] 使用 provider: %s, model_version: %s, 维度: %d, max_tokens: %d",
		provider.Name(), cfg.ModelVersion, cfg.Dimensions, cfg.MaxTokens)
	return NewEmbedder(provider, Options{
		ModelVersion: cfg.ModelVersion,
		Dimensions:   cfg.Dimensions,
		MaxTokens:    cfg.MaxTokens,
	}), nil
}

func (e *embedder) ModelVersion() string { return e.opts.ModelVersion }

func (e *embedder) Dimensions() int { return e.opts.Dimensions }

// prepared 是规范化和截断后的输入。
type prepared struct {
	text       string
	textLength int
	truncated  bool
}

func (e *embedder) prepare(text string, kind model.DocKind) (prepared, error) {
	length := utf8.RuneCountInString(text)
	if !utf8.ValidString(text) {
		return prepared{}, &EmbeddingFailure{
			TextLength: len(text),
			Err:        errs.NewInput("text", "invalid UTF-8 encoding"),
		}
	}
	normalized := Normalize(text)
	if normalized == "" {
		return prepared{}, &EmptyInputError{DocKind: kind}
	}
	truncatedText, truncated := Truncate(normalized, e.opts.MaxTokens)
	if truncated {
		log.Warnf("[Embedder] 文本超过 %d 个 token, 仅保留前 %d 个, kind: %s, text_len: %d",
			e.opts.MaxTokens, e.opts.MaxTokens, kind, length)
	}
	return prepared{text: truncatedText, textLength: length, truncated: truncated}, nil
}

// Embed 规范化文本后调用 Provider 生成向量。
func (e *embedder) Embed(ctx context.Context, text string, kind model.DocKind) (model.EmbeddingVector, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text}, kind)
	if err != nil {
		return model.EmbeddingVector{}, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化，任何一条输入非法时整体失败，不返回部分结果。
func (e *embedder) EmbedBatch(ctx context.Context, texts []string, kind model.DocKind) ([]model.EmbeddingVector, error) {
	if !kind.Valid() {
		return nil, errs.NewInput("kind", fmt.Sprintf("unknown document kind %q", kind))
	}
	if len(texts) == 0 {
		return nil, errs.NewInput("texts", "at least one text is required")
	}

	inputs := make([]prepared, len(texts))
	payload := make([]string, len(texts))
	anyTruncated := false
	for i, t := range texts {
		p, err := e.prepare(t, kind)
		if err != nil {
			return nil, err
		}
		inputs[i] = p
		payload[i] = p.text
		anyTruncated = anyTruncated || p.truncated
	}

	raw, err := e.provider.Encode(ctx, payload)
	if err != nil {
		log.Errorf("[Embedder] provider %s 编码失败, 条数: %d, error: %v", e.provider.Name(), len(payload), err)
		return nil, &EmbeddingFailure{TextLength: inputs[0].textLength, Truncated: anyTruncated, Err: err}
	}
	if len(raw) != len(payload) {
		return nil, &EmbeddingFailure{
			TextLength: inputs[0].textLength,
			Truncated:  anyTruncated,
			Err:        fmt.Errorf("provider returned %d vectors for %d inputs", len(raw), len(payload)),
		}
	}

	now := e.now()
	out := make([]model.EmbeddingVector, len(raw))
	for i, values := range raw {
		if err := e.validate(values); err != nil {
			return nil, &EmbeddingFailure{TextLength: inputs[i].textLength, Truncated: inputs[i].truncated, Err: err}
		}
		out[i] = model.EmbeddingVector{
			Kind:         kind,
			Values:       values,
			ModelVersion: e.opts.ModelVersion,
			GeneratedAt:  now,
			Truncated:    inputs[i].truncated,
			TextLength:   inputs[i].textLength,
		}
	}
	return out, nil
}

// validate 检查维度和数值有效性。维度不一致是硬错误，从不填充或截断。
func (e *embedder) validate(values []float32) error {
	if e.opts.Dimensions > 0 && len(values) != e.opts.Dimensions {
		return errs.NewInput("dimensions", fmt.Sprintf("expected %d, provider returned %d", e.opts.Dimensions, len(values)))
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return &errs.ComputationError{Component: "embedder", Reason: fmt.Sprintf("invalid value at index %d: %v", i, v)}
		}
	}
	return nil
}
