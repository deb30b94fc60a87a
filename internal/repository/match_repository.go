package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"equihire-go/internal/model"
)

// MatchRepository 持久化匹配结果、公平性报告和解释。
type MatchRepository interface {
	SaveResults(ctx context.Context, resp *model.MatchResponse) error
	SaveReport(ctx context.Context, report *model.FairnessReport) error
	LatestReport(ctx context.Context, jobID string, generation uint64, topK int) (*model.FairnessReport, error)
	SaveExplanation(ctx context.Context, exp *model.Explanation) error
	HasResults(ctx context.Context, jobID string) (bool, error)
}

type matchRepository struct {
	db *gorm.DB
}

// NewMatchRepository 创建一个新的 MatchRepository 实例。
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db}
}

// SaveResults 把一次请求的全部结果写入 match_results，报告与解释单独保存。
func (r *matchRepository) SaveResults(ctx context.Context, resp *model.MatchResponse) error {
	if len(resp.Results) == 0 {
		return nil
	}
	records := make([]*model.MatchResultRecord, 0, len(resp.Results))
	for _, res := range resp.Results {
		records = append(records, &model.MatchResultRecord{
			RequestID:         resp.RequestID,
			JobID:             resp.JobID,
			ResumeID:          res.Candidate.ResumeID,
			Score:             res.Candidate.Score,
			Rank:              res.Candidate.Rank,
			Partial:           res.Partial,
			MissingComponents: strings.Join(res.MissingComponents, ","),
			PartialReason:     res.PartialReason,
			FairnessReportID:  res.FairnessReportID,
			Generation:        resp.Generation,
		})
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

// SaveReport 保存完整报告的 JSON。
func (r *matchRepository) SaveReport(ctx context.Context, report *model.FairnessReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化公平性报告失败: %w", err)
	}
	return r.db.WithContext(ctx).Create(&model.FairnessReportRecord{
		ID:         report.ID,
		JobID:      report.JobID,
		TopK:       report.TopK,
		Generation: report.Generation,
		Passed:     report.Passed,
		Payload:    string(payload),
	}).Error
}

// LatestReport 返回某个 job 在给定候选池版本和 topK 下最近的一份报告。
func (r *matchRepository) LatestReport(ctx context.Context, jobID string, generation uint64, topK int) (*model.FairnessReport, error) {
	var rec model.FairnessReportRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND top_k = ? AND generation = ?", jobID, topK, generation).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, notFound("fairness report for job", jobID, err)
	}
	var report model.FairnessReport
	if err := json.Unmarshal([]byte(rec.Payload), &report); err != nil {
		return nil, fmt.Errorf("解析公平性报告失败: %w", err)
	}
	return &report, nil
}

// SaveExplanation 保存一条解释。
func (r *matchRepository) SaveExplanation(ctx context.Context, exp *model.Explanation) error {
	payload, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("序列化解释失败: %w", err)
	}
	return r.db.WithContext(ctx).Create(&model.ExplanationRecord{
		JobID:     exp.JobID,
		ResumeID:  exp.ResumeID,
		Method:    exp.Method,
		Score:     exp.Score,
		Baseline:  exp.Baseline,
		Converged: exp.Converged,
		Payload:   string(payload),
	}).Error
}

// HasResults 判断某个 job 是否已经有持久化的匹配结果。
func (r *matchRepository) HasResults(ctx context.Context, jobID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.MatchResultRecord{}).Where("job_id = ?", jobID).Limit(1).Count(&n).Error
	return n > 0, err
}
