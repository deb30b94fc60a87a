// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
}

// Bucket 封装了单个存储桶上的读写操作：简历原文读取与公平性报告归档。
type Bucket struct {
	client        *minio.Client
	name          string
	archivePrefix string
}

// NewBucket 创建一个 Bucket。archivePrefix 为报告归档的目录前缀。
func NewBucket(client *minio.Client, cfg config.MinIOConfig) *Bucket {
	prefix := cfg.ArchivePrefix
	if prefix == "" {
		prefix = "fairness-reports"
	}
	return &Bucket{client: client, name: cfg.BucketName, archivePrefix: prefix}
}

// Fetch 读取整个对象。对象不存在时返回 errs.ErrNotFound。
func (b *Bucket) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	object, err := b.client.GetObject(ctx, b.name, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, errs.Unavailable("storage", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", objectKey, errs.ErrNotFound)
		}
		return nil, errs.Unavailable("storage", err)
	}
	return data, nil
}

// ArchiveKey 返回报告在存储桶中的对象名。
func (b *Bucket) ArchiveKey(jobID, reportID string) string {
	return fmt.Sprintf("%s/%s/%s.json", b.archivePrefix, jobID, reportID)
}

// ArchiveJSON 把 v 序列化后写入 ArchiveKey(jobID, reportID)。
func (b *Bucket) ArchiveJSON(ctx context.Context, jobID, reportID string, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("序列化归档内容失败: %w", err)
	}
	key := b.ArchiveKey(jobID, reportID)
	_, err = b.client.PutObject(ctx, b.name, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", errs.Unavailable("storage", err)
	}
	return key, nil
}

// PresignedURL 为对象生成一个限时下载链接。
func (b *Bucket) PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if _, err := b.client.StatObject(ctx, b.name, objectKey, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("object %s: %w", objectKey, errs.ErrNotFound)
		}
		return "", errs.Unavailable("storage", err)
	}
	u, err := b.client.PresignedGetObject(ctx, b.name, objectKey, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return u.String(), nil
}
