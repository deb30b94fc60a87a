// Package pipeline 定义了简历入库的异步处理流程：下载文件 → 提取文本 → 向量化 → 写入索引。
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"equihire-go/internal/model"
	"equihire-go/internal/service"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
	"equihire-go/pkg/tasks"
)

// ObjectFetcher 从对象存储读取原始文件，storage.Bucket 满足该接口。
type ObjectFetcher interface {
	Fetch(ctx context.Context, objectKey string) ([]byte, error)
}

// TextExtractor 从文件中提取纯文本，tika.Client 满足该接口。
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, fileName string) (string, error)
}

// Processor 封装了简历处理的所有依赖和逻辑。
type Processor struct {
	fetcher   ObjectFetcher
	extractor TextExtractor
	indexer   service.IndexService
}

// NewProcessor 创建一个新的 Processor 实例。fetcher/extractor 为 nil 时只接受带文本的任务。
func NewProcessor(fetcher ObjectFetcher, extractor TextExtractor, indexer service.IndexService) *Processor {
	return &Processor{fetcher: fetcher, extractor: extractor, indexer: indexer}
}

// Process 是简历处理的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.ResumeIndexTask) error {
	log.Infof("[Processor] 开始处理简历, ResumeID: %s, ObjectKey: %s, Delete: %v", task.ResumeID, task.ObjectKey, task.Delete)

	if task.Delete {
		if err := p.indexer.RemoveResume(ctx, task.ResumeID); err != nil {
			log.Errorf("[Processor] 删除简历失败, ResumeID: %s, Error: %v", task.ResumeID, err)
			return err
		}
		log.Infof("[Processor] 简历已删除, ResumeID: %s", task.ResumeID)
		return nil
	}

	text := task.Text
	if strings.TrimSpace(text) == "" {
		var err error
		if text, err = p.extract(ctx, task); err != nil {
			return err
		}
	}

	req := service.IndexRequest{
		ResumeID:  task.ResumeID,
		Text:      text,
		FileName:  task.FileName,
		ObjectKey: task.ObjectKey,
	}
	if task.Labels != nil {
		req.Labels = model.AttributeLabels(task.Labels)
	}
	if _, err := p.indexer.IndexResume(ctx, req); err != nil {
		log.Errorf("[Processor] 简历索引失败, ResumeID: %s, Error: %v", task.ResumeID, err)
		return err
	}
	log.Infof("[Processor] 简历处理成功完成, ResumeID: %s", task.ResumeID)
	return nil
}

// extract 下载文件并交给 Tika 提取文本。
func (p *Processor) extract(ctx context.Context, task tasks.ResumeIndexTask) (string, error) {
	if task.ObjectKey == "" {
		return "", errs.NewInput("text", "task carries neither text nor object key")
	}
	if p.fetcher == nil || p.extractor == nil {
		return "", errs.Unavailable("storage", fmt.Errorf("file extraction is not configured"))
	}

	log.Infof("[Processor] 步骤1: 从MinIO下载文件, Object: %s", task.ObjectKey)
	data, err := p.fetcher.Fetch(ctx, task.ObjectKey)
	if err != nil {
		log.Errorf("[Processor] 从MinIO下载文件失败, Object: %s, Error: %v", task.ObjectKey, err)
		return "", fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	if len(data) == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.ObjectKey)
		return "", errs.NewInput("file", "object is empty")
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", len(data))

	fileName := task.FileName
	if fileName == "" {
		fileName = task.ObjectKey
	}
	log.Info("[Processor] 步骤2: 使用Tika提取文本内容")
	text, err := p.extractor.ExtractText(ctx, data, fileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", fileName, err)
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] Tika提取的文本内容为空, 处理中止, FileName: %s", fileName)
		return "", errs.NewInput("file", "no text could be extracted")
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))
	return text, nil
}
