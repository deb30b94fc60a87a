// Package app 按配置组装服务的全部依赖，供 HTTP 服务和命令行工具共用。
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"equihire-go/internal/config"
	"equihire-go/internal/explain"
	"equihire-go/internal/fairness"
	"equihire-go/internal/pipeline"
	"equihire-go/internal/repository"
	"equihire-go/internal/service"
	"equihire-go/pkg/database"
	"equihire-go/pkg/embedding"
	"equihire-go/pkg/es"
	"equihire-go/pkg/kafka"
	"equihire-go/pkg/log"
	"equihire-go/pkg/storage"
	"equihire-go/pkg/tika"
	"equihire-go/pkg/vectorindex"
)

// App 持有组装好的服务与底层客户端。可选依赖未配置时对应字段为 nil。
type App struct {
	Config config.Config

	DB       *gorm.DB
	Redis    *redis.Client
	Bucket   *storage.Bucket
	Producer *kafka.Producer

	Embedder   embedding.Embedder
	Index      vectorindex.Index
	Baseline   *explain.BaselineCache
	Candidates repository.CandidateRepository
	Matches    repository.MatchRepository

	IndexService service.IndexService
	MatchService service.MatchService
	Processor    *pipeline.Processor
}

// Build 按配置初始化依赖。数据库、Redis、MinIO、Kafka 只在配置了地址时启用。
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	if dsn(cfg.Database) != "" {
		database.InitDB(cfg.Database)
		a.DB = database.DB
		a.Candidates = repository.NewCandidateRepository(a.DB)
		a.Matches = repository.NewMatchRepository(a.DB)
	} else {
		log.Warnf("[App] 未配置数据库, 以无持久化模式运行")
	}

	if cfg.Database.Redis.Addr != "" {
		database.InitRedis(cfg.Database.Redis)
		a.Redis = database.RDB
	}

	if cfg.MinIO.Endpoint != "" {
		storage.InitMinIO(cfg.MinIO)
		a.Bucket = storage.NewBucket(storage.MinioClient, cfg.MinIO)
	}

	if cfg.Kafka.Brokers != "" {
		a.Producer = kafka.NewProducer(cfg.Kafka)
	}

	base, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("初始化 embedder 失败: %w", err)
	}
	tiers := []embedding.Cache{embedding.NewMemoryCache(cfg.Embedding.CacheTTL)}
	if a.Redis != nil {
		tiers = append(tiers, embedding.NewRedisCache(a.Redis, cfg.Embedding.CacheTTL))
	}
	a.Embedder = embedding.NewCachedEmbedder(base, tiers...)

	if a.Index, err = a.buildIndex(ctx); err != nil {
		return nil, err
	}
	a.Baseline = explain.NewBaselineCache(a.Index)

	explainer, err := explain.NewFromConfig(cfg.Explainer, a.Embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("初始化 explainer 失败: %w", err)
	}

	var snapshots repository.SnapshotRepository
	if a.Redis != nil {
		snapshots = repository.NewSnapshotRepository(a.Redis)
	} else {
		snapshots = repository.NewMemorySnapshotRepository()
	}

	opts := service.OptionsFromConfig(cfg)
	deps := service.Dependencies{
		Embedder:   a.Embedder,
		Index:      a.Index,
		Auditor:    fairness.NewAuditor(fairness.PolicyFromConfig(cfg.Fairness)),
		Explainer:  explainer,
		Baseline:   a.Baseline,
		Candidates: a.Candidates,
		Matches:    a.Matches,
		Snapshots:  snapshots,
	}
	// 指针只在非 nil 时赋给接口字段，避免出现持有 nil 指针的非 nil 接口
	if a.Producer != nil {
		deps.Events = a.Producer
	}
	if a.Bucket != nil {
		deps.Archive = a.Bucket
	}
	a.MatchService = service.NewMatchService(deps, opts)
	a.IndexService = service.NewIndexService(a.Embedder, a.Index, a.Candidates, snapshots, opts)

	var fetcher pipeline.ObjectFetcher
	if a.Bucket != nil {
		fetcher = a.Bucket
	}
	var extractor pipeline.TextExtractor
	if cfg.Tika.ServerURL != "" {
		extractor = tika.NewClient(cfg.Tika)
	}
	a.Processor = pipeline.NewProcessor(fetcher, extractor, a.IndexService)

	log.Infof("[App] 依赖初始化完成, index: %s, exact: %v, model: %s, 维度: %d",
		a.Index.Backend(), a.Index.Exact(), a.Embedder.ModelVersion(), a.Embedder.Dimensions())
	return a, nil
}

func (a *App) buildIndex(ctx context.Context) (vectorindex.Index, error) {
	dim := a.Embedder.Dimensions()
	version := a.Embedder.ModelVersion()
	switch a.Config.Index.Backend {
	case "", "memory":
		return vectorindex.NewMemoryIndex(dim), nil
	case "elasticsearch":
		if err := es.InitES(a.Config.Elasticsearch, dim); err != nil {
			return nil, fmt.Errorf("初始化 Elasticsearch 失败: %w", err)
		}
		return vectorindex.NewESIndex(es.ESClient, a.Config.Elasticsearch.IndexName, dim, version), nil
	case "pgvector":
		if a.DB == nil || a.Config.Database.Driver != "postgres" {
			return nil, fmt.Errorf("pgvector 索引需要 postgres 数据库")
		}
		return vectorindex.NewPgvectorIndex(ctx, a.DB, a.Config.Index.TableName, dim, version)
	default:
		return nil, fmt.Errorf("不支持的索引后端: %s", a.Config.Index.Backend)
	}
}

// Reindex 重建索引并让参考向量在下次解释时重新计算。
func (a *App) Reindex(ctx context.Context, batchSize int) (int, error) {
	n, err := a.IndexService.Reindex(ctx, batchSize)
	a.Baseline.Invalidate(a.Embedder.ModelVersion())
	return n, err
}

// Close 释放外部连接。
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			log.Warnf("[App] 关闭 Kafka producer 失败: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func dsn(cfg config.DatabaseConfig) string {
	if strings.EqualFold(cfg.Driver, "postgres") {
		return cfg.Postgres.DSN
	}
	return cfg.MySQL.DSN
}
