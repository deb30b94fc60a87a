package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"equihire-go/pkg/embedding"
	"equihire-go/pkg/vectorindex"
)

// HealthHandler 报告索引与模型的运行状态，不需要认证。
type HealthHandler struct {
	index    vectorindex.Index
	embedder embedding.Embedder
}

// NewHealthHandler 创建 HealthHandler。
func NewHealthHandler(index vectorindex.Index, embedder embedding.Embedder) *HealthHandler {
	return &HealthHandler{index: index, embedder: embedder}
}

// Health 返回索引规模与代数。索引不可达时返回 503。
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	size, err := h.index.Len(ctx)
	var generation uint64
	if err == nil {
		generation, err = h.index.Generation(ctx)
	}
	status, state := http.StatusOK, "UP"
	if err != nil {
		status, state = http.StatusServiceUnavailable, "DEGRADED"
	}
	body := gin.H{
		"status":       state,
		"indexBackend": h.index.Backend(),
		"indexSize":    size,
		"generation":   generation,
		"exact":        h.index.Exact(),
		"modelVersion": h.embedder.ModelVersion(),
		"dimensions":   h.embedder.Dimensions(),
	}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(status, gin.H{"code": status, "message": state, "data": body})
}
