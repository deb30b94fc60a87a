package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"equihire-go/internal/model"
	"equihire-go/pkg/embedding"
)

// maxBatch 限制单次批量向量化的文本数量。
const maxBatch = 64

// EmbeddingHandler 直接暴露 Embedder，便于调试与离线评估。
type EmbeddingHandler struct {
	embedder embedding.Embedder
}

// NewEmbeddingHandler 创建 EmbeddingHandler。
func NewEmbeddingHandler(embedder embedding.Embedder) *EmbeddingHandler {
	return &EmbeddingHandler{embedder: embedder}
}

type embedRequest struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

type embedBatchRequest struct {
	Texts []string `json:"texts"`
	Kind  string   `json:"kind"`
}

// Embed 处理单条文本的向量化请求。
func (h *EmbeddingHandler) Embed(c *gin.Context) {
	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	kind, ok := parseKind(c, req.Kind)
	if !ok {
		return
	}
	vec, err := h.embedder.Embed(c.Request.Context(), req.Text, kind)
	if err != nil {
		respondError(c, "Embed", err, nil)
		return
	}
	respondOK(c, "向量化成功", vec)
}

// EmbedBatch 处理批量向量化请求，任意一条失败则整批失败。
func (h *EmbeddingHandler) EmbedBatch(c *gin.Context) {
	var req embedBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if len(req.Texts) == 0 || len(req.Texts) > maxBatch {
		badRequest(c, "texts", "must contain between 1 and 64 texts")
		return
	}
	kind, ok := parseKind(c, req.Kind)
	if !ok {
		return
	}
	vecs, err := h.embedder.EmbedBatch(c.Request.Context(), req.Texts, kind)
	if err != nil {
		respondError(c, "EmbedBatch", err, nil)
		return
	}
	respondOK(c, "批量向量化成功", vecs)
}

func parseKind(c *gin.Context, raw string) (model.DocKind, bool) {
	if raw == "" {
		return model.KindResume, true
	}
	kind := model.DocKind(strings.ToUpper(raw))
	if !kind.Valid() {
		badRequest(c, "kind", "must be JOB or RESUME")
		return "", false
	}
	return kind, true
}
