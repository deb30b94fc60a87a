// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
)

// CandidateRepository 读取 job/resume 文本与受保护属性标签。
// 标签是可选的，缺失时公平性审计会把对应候选人计为未标注。
type CandidateRepository interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, afterID string, limit int) ([]model.Job, error)
	GetResume(ctx context.Context, resumeID string) (*model.Resume, error)
	ListResumes(ctx context.Context, afterID string, limit int) ([]model.Resume, error)
	SaveResume(ctx context.Context, resume *model.Resume, labels model.AttributeLabels) error
	DeleteResume(ctx context.Context, resumeID string) error
	LabelsFor(ctx context.Context, resumeIDs []string) (model.LabelSet, error)
}

type candidateRepository struct {
	db *gorm.DB
}

// NewCandidateRepository 创建一个新的 CandidateRepository 实例。
func NewCandidateRepository(db *gorm.DB) CandidateRepository {
	return &candidateRepository{db: db}
}

// GetJob 根据 ID 查找职位。
func (r *candidateRepository) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	if err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, notFound("job", jobID, err)
	}
	return &job, nil
}

// ListJobs 按 ID 游标分页列出职位。
func (r *candidateRepository) ListJobs(ctx context.Context, afterID string, limit int) ([]model.Job, error) {
	var jobs []model.Job
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// GetResume 根据 ID 查找简历。
func (r *candidateRepository) GetResume(ctx context.Context, resumeID string) (*model.Resume, error) {
	var resume model.Resume
	if err := r.db.WithContext(ctx).Where("id = ?", resumeID).First(&resume).Error; err != nil {
		return nil, notFound("resume", resumeID, err)
	}
	return &resume, nil
}

// ListResumes 按 ID 游标分页列出简历，用于全量重建索引。
func (r *candidateRepository) ListResumes(ctx context.Context, afterID string, limit int) ([]model.Resume, error) {
	var resumes []model.Resume
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&resumes).Error
	return resumes, err
}

// SaveResume 在同一个事务里插入或整体替换简历文本和标签。labels 为 nil 时保留原有标签。
func (r *candidateRepository) SaveResume(ctx context.Context, resume *model.Resume, labels model.AttributeLabels) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"file_name", "object_key", "text", "updated_at"}),
		}).Create(resume).Error
		if err != nil {
			return err
		}
		if labels == nil {
			return nil
		}
		return replaceLabels(tx, resume.ID, labels)
	})
}

// DeleteResume 删除简历及其标签。
func (r *candidateRepository) DeleteResume(ctx context.Context, resumeID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resume_id = ?", resumeID).Delete(&model.ProtectedAttribute{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", resumeID).Delete(&model.Resume{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("resume %s: %w", resumeID, errs.ErrNotFound)
		}
		return nil
	})
}

// LabelsFor 批量读取标签。没有任何标签的候选人不会出现在结果中。
func (r *candidateRepository) LabelsFor(ctx context.Context, resumeIDs []string) (model.LabelSet, error) {
	labels := model.LabelSet{}
	if len(resumeIDs) == 0 {
		return labels, nil
	}
	var rows []model.ProtectedAttribute
	// 候选池可能很大，分批查询避免 IN 子句过长
	for start := 0; start < len(resumeIDs); start += 500 {
		end := start + 500
		if end > len(resumeIDs) {
			end = len(resumeIDs)
		}
		var batch []model.ProtectedAttribute
		if err := r.db.WithContext(ctx).Where("resume_id IN ?", resumeIDs[start:end]).Find(&batch).Error; err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	for _, row := range rows {
		attr := strings.TrimSpace(row.Attribute)
		if attr == "" {
			continue
		}
		if labels[row.ResumeID] == nil {
			labels[row.ResumeID] = model.AttributeLabels{}
		}
		labels[row.ResumeID][attr] = row.Group
	}
	return labels, nil
}

func replaceLabels(tx *gorm.DB, resumeID string, labels model.AttributeLabels) error {
	if err := tx.Where("resume_id = ?", resumeID).Delete(&model.ProtectedAttribute{}).Error; err != nil {
		return err
	}
	if len(labels) == 0 {
		return nil
	}
	rows := make([]model.ProtectedAttribute, 0, len(labels))
	for attr, group := range labels {
		rows = append(rows, model.ProtectedAttribute{ResumeID: resumeID, Attribute: attr, Group: group})
	}
	return tx.Create(&rows).Error
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, errs.ErrNotFound)
	}
	return err
}
