package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"

	"equihire-go/internal/model"
)

// SnapshotRepository 缓存每个 job 最近一次的排序快照以及按 (job, generation, topK) 划分的公平性报告。
// 未命中时返回 (nil, nil)。
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snap *model.RankingSnapshot, ttl time.Duration) error
	GetSnapshot(ctx context.Context, jobID string, topK int) (*model.RankingSnapshot, error)
	SaveReport(ctx context.Context, report *model.FairnessReport, ttl time.Duration) error
	GetReport(ctx context.Context, jobID string, generation uint64, topK int) (*model.FairnessReport, error)
	TextStore
}

// TextStore 保存 job/resume 原文，供没有数据库时的解释和审计使用。
// ttl<=0 表示不过期；未命中时返回 ("", nil)。
type TextStore interface {
	SaveText(ctx context.Context, kind model.DocKind, id, text string, ttl time.Duration) error
	Text(ctx context.Context, kind model.DocKind, id string) (string, error)
	DeleteText(ctx context.Context, kind model.DocKind, id string) error
}

func snapshotKey(jobID string, topK int) string {
	return fmt.Sprintf("match:snapshot:%s:%d", jobID, topK)
}

func reportKey(jobID string, generation uint64, topK int) string {
	return fmt.Sprintf("fairness:report:%s:%d:%d", jobID, generation, topK)
}

func textKey(kind model.DocKind, id string) string {
	return fmt.Sprintf("text:%s:%s", strings.ToLower(string(kind)), id)
}

type redisSnapshotRepository struct {
	redisClient *redis.Client
}

// NewSnapshotRepository 创建基于 Redis 的 SnapshotRepository。
func NewSnapshotRepository(redisClient *redis.Client) SnapshotRepository {
	return &redisSnapshotRepository{redisClient: redisClient}
}

func (r *redisSnapshotRepository) SaveSnapshot(ctx context.Context, snap *model.RankingSnapshot, ttl time.Duration) error {
	return r.setJSON(ctx, snapshotKey(snap.JobID, snap.TopK), snap, ttl)
}

func (r *redisSnapshotRepository) GetSnapshot(ctx context.Context, jobID string, topK int) (*model.RankingSnapshot, error) {
	var snap model.RankingSnapshot
	ok, err := r.getJSON(ctx, snapshotKey(jobID, topK), &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (r *redisSnapshotRepository) SaveReport(ctx context.Context, report *model.FairnessReport, ttl time.Duration) error {
	return r.setJSON(ctx, reportKey(report.JobID, report.Generation, report.TopK), report, ttl)
}

func (r *redisSnapshotRepository) GetReport(ctx context.Context, jobID string, generation uint64, topK int) (*model.FairnessReport, error) {
	var report model.FairnessReport
	ok, err := r.getJSON(ctx, reportKey(jobID, generation, topK), &report)
	if err != nil || !ok {
		return nil, err
	}
	return &report, nil
}

func (r *redisSnapshotRepository) SaveText(ctx context.Context, kind model.DocKind, id, text string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.redisClient.Set(ctx, textKey(kind, id), text, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", textKey(kind, id), err)
	}
	return nil
}

func (r *redisSnapshotRepository) Text(ctx context.Context, kind model.DocKind, id string) (string, error) {
	text, err := r.redisClient.Get(ctx, textKey(kind, id)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", textKey(kind, id), err)
	}
	return text, nil
}

func (r *redisSnapshotRepository) DeleteText(ctx context.Context, kind model.DocKind, id string) error {
	return r.redisClient.Del(ctx, textKey(kind, id)).Err()
}

func (r *redisSnapshotRepository) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.redisClient.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (r *redisSnapshotRepository) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := r.redisClient.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

type memorySnapshotRepository struct {
	c *gocache.Cache
}

// NewMemorySnapshotRepository 创建进程内的 SnapshotRepository，未配置 Redis 时使用。
func NewMemorySnapshotRepository() SnapshotRepository {
	return &memorySnapshotRepository{c: gocache.New(time.Hour, 10*time.Minute)}
}

func (m *memorySnapshotRepository) SaveSnapshot(_ context.Context, snap *model.RankingSnapshot, ttl time.Duration) error {
	cp := *snap
	cp.Candidates = append([]model.MatchCandidate(nil), snap.Candidates...)
	m.c.Set(snapshotKey(snap.JobID, snap.TopK), &cp, ttlOrDefault(ttl))
	return nil
}

func (m *memorySnapshotRepository) GetSnapshot(_ context.Context, jobID string, topK int) (*model.RankingSnapshot, error) {
	v, ok := m.c.Get(snapshotKey(jobID, topK))
	if !ok {
		return nil, nil
	}
	return v.(*model.RankingSnapshot), nil
}

func (m *memorySnapshotRepository) SaveReport(_ context.Context, report *model.FairnessReport, ttl time.Duration) error {
	m.c.Set(reportKey(report.JobID, report.Generation, report.TopK), report, ttlOrDefault(ttl))
	return nil
}

func (m *memorySnapshotRepository) GetReport(_ context.Context, jobID string, generation uint64, topK int) (*model.FairnessReport, error) {
	v, ok := m.c.Get(reportKey(jobID, generation, topK))
	if !ok {
		return nil, nil
	}
	return v.(*model.FairnessReport), nil
}

func (m *memorySnapshotRepository) SaveText(_ context.Context, kind model.DocKind, id, text string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(textKey(kind, id), text, ttl)
	return nil
}

func (m *memorySnapshotRepository) Text(_ context.Context, kind model.DocKind, id string) (string, error) {
	v, ok := m.c.Get(textKey(kind, id))
	if !ok {
		return "", nil
	}
	return v.(string), nil
}

func (m *memorySnapshotRepository) DeleteText(_ context.Context, kind model.DocKind, id string) error {
	m.c.Delete(textKey(kind, id))
	return nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.DefaultExpiration
	}
	return ttl
}
