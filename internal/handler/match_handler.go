package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"equihire-go/internal/model"
	"equihire-go/internal/service"
	"equihire-go/pkg/log"
)

// MatchHandler 负责匹配、解释与公平性报告相关的 API。
type MatchHandler struct {
	matchService service.MatchService
}

// NewMatchHandler 创建一个新的 MatchHandler 实例。
func NewMatchHandler(matchService service.MatchService) *MatchHandler {
	return &MatchHandler{matchService: matchService}
}

// ComputeMatches 处理匹配请求。排序完成后即返回 200，缺失的组件体现在 partial 字段中。
func (h *MatchHandler) ComputeMatches(c *gin.Context) {
	var req model.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}

	resp, err := h.matchService.ComputeMatches(c.Request.Context(), req)
	if err != nil {
		respondError(c, "ComputeMatches", err, resp)
		return
	}
	log.Infof("[MatchHandler] 匹配完成, jobId: %s, state: %s, partial: %v", resp.JobID, resp.State, resp.Partial)
	respondOK(c, "匹配完成", resp)
}

// ExplainMatch 处理单个 (job, resume) 对的解释请求。
func (h *MatchHandler) ExplainMatch(c *gin.Context) {
	exp, err := h.matchService.ExplainMatch(c.Request.Context(), c.Param("jobId"), c.Param("resumeId"))
	if err != nil {
		respondError(c, "ExplainMatch", err, nil)
		return
	}
	respondOK(c, "获取解释成功", exp)
}

// GetFairnessReport 返回 job 在当前候选池下的公平性报告。
func (h *MatchHandler) GetFairnessReport(c *gin.Context) {
	topK, ok := queryTopK(c)
	if !ok {
		return
	}
	report, err := h.matchService.GetFairnessReport(c.Request.Context(), c.Param("jobId"), topK)
	if err != nil {
		respondError(c, "GetFairnessReport", err, nil)
		return
	}
	respondOK(c, "获取公平性报告成功", report)
}

// Mitigate 返回重加权缓解建议，attribute 为空时选择差异最大的属性。
func (h *MatchHandler) Mitigate(c *gin.Context) {
	topK, ok := queryTopK(c)
	if !ok {
		return
	}
	plan, err := h.matchService.Mitigate(c.Request.Context(), c.Param("jobId"), topK, c.Query("attribute"))
	if err != nil {
		respondError(c, "Mitigate", err, nil)
		return
	}
	respondOK(c, "获取缓解建议成功", plan)
}

// ReportArchive 返回已归档报告的下载链接。
func (h *MatchHandler) ReportArchive(c *gin.Context) {
	url, err := h.matchService.ReportArchiveURL(c.Request.Context(), c.Param("jobId"), c.Param("reportId"))
	if err != nil {
		respondError(c, "ReportArchive", err, nil)
		return
	}
	respondOK(c, "获取报告下载链接成功", gin.H{"url": url})
}

func queryTopK(c *gin.Context) (int, bool) {
	raw := c.Query("topK")
	if raw == "" {
		return 0, true
	}
	topK, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "topK", "must be an integer")
		return 0, false
	}
	return topK, true
}
