package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"equihire-go/internal/model"
	"equihire-go/internal/service"
	"equihire-go/pkg/log"
	"equihire-go/pkg/tasks"
)

// IndexTaskProducer 把索引任务投递到消息队列，kafka.Producer 满足该接口。
type IndexTaskProducer interface {
	ProduceIndexTask(ctx context.Context, task tasks.ResumeIndexTask) error
}

// ResumeHandler 负责简历的写入与删除。
type ResumeHandler struct {
	indexService service.IndexService
	producer     IndexTaskProducer
}

// NewResumeHandler 创建 ResumeHandler。producer 为 nil 时只支持同步写入。
func NewResumeHandler(indexService service.IndexService, producer IndexTaskProducer) *ResumeHandler {
	return &ResumeHandler{indexService: indexService, producer: producer}
}

// upsertResumeRequest 是 PUT /resumes/:resumeId 的请求体。
// Text 与 ObjectKey 二选一；Async 为 true 时通过 Kafka 异步处理。
type upsertResumeRequest struct {
	Text      string            `json:"text"`
	ObjectKey string            `json:"objectKey"`
	FileName  string            `json:"fileName"`
	Labels    map[string]string `json:"labels"`
	Async     bool              `json:"async"`
}

// UpsertResume 写入或替换一份简历。
func (h *ResumeHandler) UpsertResume(c *gin.Context) {
	resumeID := c.Param("resumeId")
	var req upsertResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}

	if req.Async || (strings.TrimSpace(req.Text) == "" && req.ObjectKey != "") {
		h.enqueue(c, tasks.ResumeIndexTask{
			ResumeID:  resumeID,
			Text:      req.Text,
			ObjectKey: req.ObjectKey,
			FileName:  req.FileName,
			Labels:    req.Labels,
		})
		return
	}

	indexReq := service.IndexRequest{ResumeID: resumeID, Text: req.Text, FileName: req.FileName}
	if req.Labels != nil {
		indexReq.Labels = model.AttributeLabels(req.Labels)
	}
	vec, err := h.indexService.IndexResume(c.Request.Context(), indexReq)
	if err != nil {
		respondError(c, "UpsertResume", err, nil)
		return
	}
	respondOK(c, "简历已索引", gin.H{
		"resumeId":     resumeID,
		"dimensions":   vec.Dim(),
		"modelVersion": vec.ModelVersion,
		"truncated":    vec.Truncated,
	})
}

// DeleteResume 从索引与数据库中删除简历。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	if err := h.indexService.RemoveResume(c.Request.Context(), c.Param("resumeId")); err != nil {
		respondError(c, "DeleteResume", err, nil)
		return
	}
	respondOK(c, "简历已删除", nil)
}

func (h *ResumeHandler) enqueue(c *gin.Context, task tasks.ResumeIndexTask) {
	if strings.TrimSpace(task.ResumeID) == "" {
		badRequest(c, "resumeId", "must not be empty")
		return
	}
	if h.producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "异步索引未启用"})
		return
	}
	if err := h.producer.ProduceIndexTask(c.Request.Context(), task); err != nil {
		log.Errorf("[ResumeHandler] 投递索引任务失败, resumeId: %s, error: %v", task.ResumeID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "投递索引任务失败"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "索引任务已提交",
		"data":    gin.H{"resumeId": task.ResumeID},
	})
}
