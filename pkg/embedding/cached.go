package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"

	"equihire-go/internal/model"
	"equihire-go/pkg/log"
)

// Cache 是向量缓存的存储后端。
type Cache interface {
	Get(ctx context.Context, key string) (model.EmbeddingVector, bool, error)
	Set(ctx context.Context, key string, v model.EmbeddingVector) error
}

// CacheKey 由规范化文本的哈希和模型版本组成。文本一变，key 就变。
func CacheKey(text, modelVersion string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return "embedding:" + modelVersion + ":" + hex.EncodeToString(sum[:])
}

type memoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache 创建进程内缓存，ttl<=0 表示不过期。
func NewMemoryCache(ttl time.Duration) Cache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &memoryCache{store: gocache.New(ttl, 10*time.Minute)}
}

func (c *memoryCache) Get(_ context.Context, key string) (model.EmbeddingVector, bool, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return model.EmbeddingVector{}, false, nil
	}
	return v.(model.EmbeddingVector), true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, v model.EmbeddingVector) error {
	c.store.Set(key, v, gocache.DefaultExpiration)
	return nil
}

type redisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache 创建 Redis 缓存，向量以 JSON 形式存储。
func NewRedisCache(rdb *redis.Client, ttl time.Duration) Cache {
	return &redisCache{rdb: rdb, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, key string) (model.EmbeddingVector, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.EmbeddingVector{}, false, nil
	}
	if err != nil {
		return model.EmbeddingVector{}, false, err
	}
	var v model.EmbeddingVector
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.EmbeddingVector{}, false, err
	}
	return v, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, v model.EmbeddingVector) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}

type cachedEmbedder struct {
	next  Embedder
	tiers []Cache
}

// NewCachedEmbedder 在 Embedder 外包一层多级缓存，按顺序查找，命中后回填更靠前的层。
// 缓存读写失败只记录日志，不影响向量化本身。
func NewCachedEmbedder(next Embedder, tiers ...Cache) Embedder {
	return &cachedEmbedder{next: next, tiers: tiers}
}

func (c *cachedEmbedder) ModelVersion() string { return c.next.ModelVersion() }

func (c *cachedEmbedder) Dimensions() int { return c.next.Dimensions() }

func (c *cachedEmbedder) Embed(ctx context.Context, text string, kind model.DocKind) (model.EmbeddingVector, error) {
	key := CacheKey(text, c.next.ModelVersion())
	if v, ok := c.lookup(ctx, key); ok {
		v.Kind = kind
		return v, nil
	}
	v, err := c.next.Embed(ctx, text, kind)
	if err != nil {
		return model.EmbeddingVector{}, err
	}
	c.fill(ctx, key, v, len(c.tiers))
	return v, nil
}

func (c *cachedEmbedder) EmbedBatch(ctx context.Context, texts []string, kind model.DocKind) ([]model.EmbeddingVector, error) {
	out := make([]model.EmbeddingVector, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		keys[i] = CacheKey(t, c.next.ModelVersion())
		if v, ok := c.lookup(ctx, keys[i]); ok {
			v.Kind = kind
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.EmbedBatch(ctx, missTexts, kind)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		c.fill(ctx, keys[i], fresh[j], len(c.tiers))
	}
	return out, nil
}

func (c *cachedEmbedder) lookup(ctx context.Context, key string) (model.EmbeddingVector, bool) {
	for i, tier := range c.tiers {
		v, ok, err := tier.Get(ctx, key)
		if err != nil {
			log.Warnf("[EmbeddingCache] 读取第 %d 级缓存失败: %v", i+1, err)
			continue
		}
		if ok {
			c.fill(ctx, key, v, i)
			return v, true
		}
	}
	return model.EmbeddingVector{}, false
}

// fill 写入前 upto 级缓存。
func (c *cachedEmbedder) fill(ctx context.Context, key string, v model.EmbeddingVector, upto int) {
	for i := 0; i < upto; i++ {
		if err := c.tiers[i].Set(ctx, key, v); err != nil {
			log.Warnf("[EmbeddingCache] 写入第 %d 级缓存失败: %v", i+1, err)
		}
	}
}
