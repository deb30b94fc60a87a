// Package service 实现了匹配流水线的业务编排：简历入库索引、匹配、审计与解释。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"equihire-go/internal/model"
	"equihire-go/internal/repository"
	"equihire-go/pkg/embedding"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
	"equihire-go/pkg/vectorindex"
)

// IndexRequest 是一次简历写入请求。Labels 为 nil 时保留原有标签。
type IndexRequest struct {
	ResumeID  string
	Text      string
	FileName  string
	ObjectKey string
	Labels    model.AttributeLabels
}

// IndexService 负责把简历文本向量化并写入相似度索引。
type IndexService interface {
	IndexResume(ctx context.Context, req IndexRequest) (*model.EmbeddingVector, error)
	RemoveResume(ctx context.Context, resumeID string) error
	Reindex(ctx context.Context, batchSize int) (int, error)
}

type indexService struct {
	embedder       embedding.Embedder
	index          vectorindex.Index
	candidates     repository.CandidateRepository
	texts          repository.TextStore
	retry          RetryPolicy
	embedTimeout   time.Duration
	indexTimeout   time.Duration
	persistTimeout time.Duration
}

// NewIndexService 创建 IndexService。candidates 为 nil 时简历原文只写入 texts，
// 两者都为 nil 时只维护索引。
func NewIndexService(embedder embedding.Embedder, index vectorindex.Index, candidates repository.CandidateRepository, texts repository.TextStore, opts Options) IndexService {
	persistTimeout := opts.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &indexService{
		embedder:       embedder,
		index:          index,
		candidates:     candidates,
		texts:          texts,
		retry:          opts.Retry,
		embedTimeout:   opts.EmbedTimeout,
		indexTimeout:   opts.IndexTimeout,
		persistTimeout: persistTimeout,
	}
}

// IndexResume 依次向量化、写索引、落库。向量化或写索引失败时什么都不会写入；
// 落库失败时把索引恢复为写入前的状态，保证索引与数据库一致。
// 同一 resume 的再次写入会整体替换旧向量。
func (s *indexService) IndexResume(ctx context.Context, req IndexRequest) (*model.EmbeddingVector, error) {
	req.ResumeID = strings.TrimSpace(req.ResumeID)
	if req.ResumeID == "" {
		return nil, errs.NewInput("resumeId", "must not be empty")
	}
	log.Infof("[IndexService] 开始索引简历, resumeId: %s, 文本长度: %d", req.ResumeID, len(req.Text))

	var vec model.EmbeddingVector
	err := withRetry(ctx, s.retry, "embedder", s.embedTimeout, func(ctx context.Context) error {
		var err error
		vec, err = s.embedder.Embed(ctx, req.Text, model.KindResume)
		return err
	})
	if err != nil {
		log.Warnf("[IndexService] 简历向量化失败, resumeId: %s, error: %v", req.ResumeID, err)
		return nil, err
	}
	vec.OwnerID = req.ResumeID

	previous, err := s.previousVector(ctx, req.ResumeID)
	if err != nil {
		return nil, err
	}
	err = withRetry(ctx, s.retry, "index", s.indexTimeout, func(ctx context.Context) error {
		return s.index.Upsert(ctx, req.ResumeID, vec.Values)
	})
	if err != nil {
		log.Errorf("[IndexService] 写入索引失败, resumeId: %s, error: %v", req.ResumeID, err)
		return nil, err
	}

	if err := s.save(ctx, req); err != nil {
		log.Errorf("[IndexService] 保存简历失败，回滚索引, resumeId: %s, error: %v", req.ResumeID, err)
		s.restore(ctx, req.ResumeID, previous)
		return nil, err
	}
	log.Infof("[IndexService] 简历索引完成, resumeId: %s, 维度: %d, truncated: %v", req.ResumeID, vec.Dim(), vec.Truncated)
	return &vec, nil
}

// previousVector 返回写入前的向量，不存在时返回 nil。
func (s *indexService) previousVector(ctx context.Context, resumeID string) ([]float32, error) {
	var previous []float32
	err := withRetry(ctx, s.retry, "index", s.indexTimeout, func(ctx context.Context) error {
		v, err := s.index.Get(ctx, resumeID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		previous = v
		return err
	})
	return previous, err
}

// save 把简历原文和标签写入数据库；没有数据库时原文写入文本缓存。
func (s *indexService) save(ctx context.Context, req IndexRequest) error {
	if s.candidates != nil {
		resume := &model.Resume{ID: req.ResumeID, FileName: req.FileName, ObjectKey: req.ObjectKey, Text: req.Text}
		if err := s.candidates.SaveResume(ctx, resume, req.Labels); err != nil {
			return fmt.Errorf("保存简历失败: %w", err)
		}
		return nil
	}
	if s.texts != nil {
		if err := s.texts.SaveText(ctx, model.KindResume, req.ResumeID, req.Text, 0); err != nil {
			return fmt.Errorf("缓存简历原文失败: %w", err)
		}
	}
	return nil
}

// restore 把索引恢复为 previous，previous 为 nil 时删除该条目。请求取消后仍会执行。
func (s *indexService) restore(ctx context.Context, resumeID string, previous []float32) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	var err error
	if previous != nil {
		err = s.index.Upsert(rctx, resumeID, previous)
	} else {
		err = s.index.Delete(rctx, resumeID)
	}
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		log.Errorf("[IndexService] 回滚索引失败, resumeId: %s, error: %v", resumeID, err)
	}
}

// RemoveResume 从索引和数据库中删除简历。两边都不存在时返回 ErrNotFound。
func (s *indexService) RemoveResume(ctx context.Context, resumeID string) error {
	if strings.TrimSpace(resumeID) == "" {
		return errs.NewInput("resumeId", "must not be empty")
	}
	indexErr := withRetry(ctx, s.retry, "index", s.indexTimeout, func(ctx context.Context) error {
		return s.index.Delete(ctx, resumeID)
	})
	if indexErr != nil && !errors.Is(indexErr, errs.ErrNotFound) {
		return indexErr
	}

	var repoErr error
	if s.candidates != nil {
		repoErr = s.candidates.DeleteResume(ctx, resumeID)
		if repoErr != nil && !errors.Is(repoErr, errs.ErrNotFound) {
			return repoErr
		}
	} else {
		repoErr = errs.ErrNotFound
	}

	if s.texts != nil {
		if err := s.texts.DeleteText(ctx, model.KindResume, resumeID); err != nil {
			log.Warnf("[IndexService] 删除简历原文缓存失败, resumeId: %s, error: %v", resumeID, err)
		}
	}

	if indexErr != nil && repoErr != nil {
		return fmt.Errorf("resume %s: %w", resumeID, errs.ErrNotFound)
	}
	log.Infof("[IndexService] 简历已删除, resumeId: %s", resumeID)
	return nil
}

// Reindex 从数据库分批读取全部简历并重新写入索引，返回成功写入的数量。
// 单条简历的输入错误会被跳过并记录日志。
func (s *indexService) Reindex(ctx context.Context, batchSize int) (int, error) {
	if s.candidates == nil {
		return 0, errors.New("reindex requires a candidate repository")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	indexed := 0
	after := ""
	for {
		resumes, err := s.candidates.ListResumes(ctx, after, batchSize)
		if err != nil {
			return indexed, fmt.Errorf("读取简历失败: %w", err)
		}
		if len(resumes) == 0 {
			break
		}
		after = resumes[len(resumes)-1].ID

		for _, r := range resumes {
			if err := ctx.Err(); err != nil {
				return indexed, err
			}
			var vec model.EmbeddingVector
			err := withRetry(ctx, s.retry, "embedder", s.embedTimeout, func(ctx context.Context) error {
				var err error
				vec, err = s.embedder.Embed(ctx, r.Text, model.KindResume)
				return err
			})
			if err == nil {
				err = withRetry(ctx, s.retry, "index", s.indexTimeout, func(ctx context.Context) error {
					return s.index.Upsert(ctx, r.ID, vec.Values)
				})
			}
			if err != nil {
				if errs.KindOf(err) == errs.KindInput {
					log.Warnf("[IndexService] 跳过无法索引的简历, resumeId: %s, error: %v", r.ID, err)
					continue
				}
				return indexed, err
			}
			indexed++
		}
		log.Infof("[IndexService] 重建索引进度: %d", indexed)
	}
	return indexed, nil
}
