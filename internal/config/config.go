// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Index         IndexConfig         `mapstructure:"index"`
	Fairness      FairnessConfig      `mapstructure:"fairness"`
	Explainer     ExplainerConfig     `mapstructure:"explainer"`
	Matching      MatchingConfig      `mapstructure:"matching"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
// Driver 取值 mysql 或 postgres；使用 pgvector 索引时必须是 postgres。
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PostgresConfig 存储 PostgreSQL 数据库的配置。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 只保留校验所需的密钥，签发由外部账户系统负责。
type JWTConfig struct {
	Secret       string   `mapstructure:"secret"`
	AllowedRoles []string `mapstructure:"allowed_roles"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	IndexTopic string `mapstructure:"index_topic"`
	EventTopic string `mapstructure:"event_topic"`
	GroupID    string `mapstructure:"group_id"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	ArchivePrefix   string `mapstructure:"archive_prefix"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider     string        `mapstructure:"provider"` // openai | gemini | hashing
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	ModelVersion string        `mapstructure:"model_version"`
	Dimensions   int           `mapstructure:"dimensions"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// IndexConfig 选择向量索引后端。
type IndexConfig struct {
	Backend   string `mapstructure:"backend"` // memory | elasticsearch | pgvector
	PoolLimit int    `mapstructure:"pool_limit"`
	TableName string `mapstructure:"table_name"`
}

// FairnessConfig 存储公平性审计的策略参数。
type FairnessConfig struct {
	BandLower   float64       `mapstructure:"band_lower"`
	BandUpper   float64       `mapstructure:"band_upper"`
	ParityLimit float64       `mapstructure:"parity_limit"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// ExpectedGroups 列出每个属性应当出现的分组，池中缺席的分组会被标记为数据不足。
	ExpectedGroups map[string][]string `mapstructure:"expected_groups"`
}

// FeatureGroupConfig 将一段连续维度 [From, To) 命名为一个可读特征。
type FeatureGroupConfig struct {
	Name string `mapstructure:"name"`
	From int    `mapstructure:"from"`
	To   int    `mapstructure:"to"`
}

// ExplainerConfig 存储归因解释的参数。
type ExplainerConfig struct {
	Method         string               `mapstructure:"method"` // linear | shapley | leave_one_out
	Groups         int                  `mapstructure:"groups"`
	FeatureGroups  []FeatureGroupConfig `mapstructure:"feature_groups"`
	Seed           uint64               `mapstructure:"seed"`
	MaxSamples     int                  `mapstructure:"max_samples"`
	Tolerance      float64              `mapstructure:"tolerance"`
	ExactMaxGroups int                  `mapstructure:"exact_max_groups"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	MaxConcurrency int                  `mapstructure:"max_concurrency"`
	// Keywords 是解释摘要中单独检查的关键词，为空时使用内置列表。
	Keywords []string `mapstructure:"keywords"`
}

// RetryConfig 配置依赖调用的指数退避。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MatchingConfig 存储编排器相关的配置。
type MatchingConfig struct {
	DefaultTopK    int           `mapstructure:"default_top_k"`
	MaxTopK        int           `mapstructure:"max_top_k"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	IndexTimeout   time.Duration `mapstructure:"index_timeout"`
	ReportCacheTTL time.Duration `mapstructure:"report_cache_ttl"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("jwt.allowed_roles", []string{"RECRUITER", "ADMIN"})
	v.SetDefault("kafka.index_topic", "resume-index")
	v.SetDefault("kafka.event_topic", "match-events")
	v.SetDefault("kafka.group_id", "equihire-go-indexer")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("tika.timeout", "30s")
	v.SetDefault("elasticsearch.index_name", "resume_vectors")
	v.SetDefault("minio.archive_prefix", "fairness-reports")

	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.model_version", "v1")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.max_tokens", 256)
	v.SetDefault("embedding.timeout", "5s")
	v.SetDefault("embedding.cache_ttl", "168h")

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.pool_limit", 0)
	v.SetDefault("index.table_name", "resume_embeddings")

	v.SetDefault("fairness.band_lower", 0.8)
	v.SetDefault("fairness.band_upper", 1.25)
	v.SetDefault("fairness.parity_limit", 0.1)
	v.SetDefault("fairness.timeout", "2s")

	v.SetDefault("explainer.method", "linear")
	v.SetDefault("explainer.groups", 8)
	v.SetDefault("explainer.seed", 42)
	v.SetDefault("explainer.max_samples", 2000)
	v.SetDefault("explainer.tolerance", 1e-4)
	v.SetDefault("explainer.exact_max_groups", 10)
	v.SetDefault("explainer.timeout", "3s")
	v.SetDefault("explainer.max_concurrency", 4)

	v.SetDefault("matching.default_top_k", 10)
	v.SetDefault("matching.max_top_k", 200)
	v.SetDefault("matching.request_timeout", "15s")
	v.SetDefault("matching.index_timeout", "3s")
	v.SetDefault("matching.report_cache_ttl", "24h")
	v.SetDefault("matching.retry.max_attempts", 3)
	v.SetDefault("matching.retry.base_delay", "200ms")
	v.SetDefault("matching.retry.max_delay", "2s")
}

// Load 读取指定路径的 YAML 配置，环境变量（. 替换为 _）优先于文件。
// configPath 为空时只使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查会影响评分一致性的配置项。
func (c Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions 必须为正数, 当前: %d", c.Embedding.Dimensions)
	}
	if c.Fairness.BandLower <= 0 || c.Fairness.BandUpper < c.Fairness.BandLower {
		return fmt.Errorf("fairness 阈值区间非法: [%v, %v]", c.Fairness.BandLower, c.Fairness.BandUpper)
	}
	for _, g := range c.Explainer.FeatureGroups {
		if g.From < 0 || g.To > c.Embedding.Dimensions || g.From >= g.To {
			return fmt.Errorf("explainer.feature_groups[%s] 维度范围非法: [%d, %d)", g.Name, g.From, g.To)
		}
	}
	switch c.Index.Backend {
	case "memory", "elasticsearch", "pgvector":
	default:
		return fmt.Errorf("不支持的 index.backend: %s", c.Index.Backend)
	}
	if c.Index.Backend == "pgvector" && c.Database.Driver != "postgres" {
		return fmt.Errorf("pgvector 索引要求 database.driver=postgres")
	}
	return nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
