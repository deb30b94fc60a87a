package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers 聚合所有 handler，便于在 main 与测试中统一注册路由。
type Handlers struct {
	Match     *MatchHandler
	Resume    *ResumeHandler
	Embedding *EmbeddingHandler
	Health    *HealthHandler
}

// Register 注册 /health 与 /api/v1 下的业务路由，auth 作用于业务路由。
func Register(r *gin.Engine, h Handlers, auth gin.HandlerFunc) {
	r.GET("/health", h.Health.Health)

	api := r.Group("/api/v1")
	if auth != nil {
		api.Use(auth)
	}
	{
		matches := api.Group("/matches")
		matches.POST("", h.Match.ComputeMatches)
		matches.GET("/:jobId/explanations/:resumeId", h.Match.ExplainMatch)
		matches.GET("/:jobId/fairness", h.Match.GetFairnessReport)
		matches.GET("/:jobId/fairness/mitigation", h.Match.Mitigate)
		matches.GET("/:jobId/fairness/:reportId/archive", h.Match.ReportArchive)
	}
	{
		resumes := api.Group("/resumes")
		resumes.PUT("/:resumeId", h.Resume.UpsertResume)
		resumes.DELETE("/:resumeId", h.Resume.DeleteResume)
	}
	{
		embeddings := api.Group("/embeddings")
		embeddings.POST("", h.Embedding.Embed)
		embeddings.POST("/batch", h.Embedding.EmbedBatch)
	}
}
