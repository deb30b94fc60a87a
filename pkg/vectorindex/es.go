package vectorindex

import (
	"context"
	"errors"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/tidwall/gjson"

	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/es"
	"equihire-go/pkg/log"
)

// esPageSize 是单次查询的上限，与 ES 默认 max_result_window 及 kNN 的 k 上限一致。
// 超出部分通过 search_after 翻页。
var esPageSize = 10000

type esIndex struct {
	client       *elasticsearch.Client
	indexName    string
	dim          int
	modelVersion string
}

// NewESIndex 创建基于 Elasticsearch dense_vector kNN 的近似索引。
// cosine 相似度的 dense_vector 不接受零向量，这类简历在 Upsert 时以 InputError 拒绝。
func NewESIndex(client *elasticsearch.Client, indexName string, dim int, modelVersion string) Index {
	return &esIndex{client: client, indexName: indexName, dim: dim, modelVersion: modelVersion}
}

func (x *esIndex) Backend() string { return "elasticsearch" }

func (x *esIndex) Exact() bool { return false }

func (x *esIndex) Dimensions() int { return x.dim }

// Generation 由文档总数和最大 updated_at 推导，多个实例共享同一个索引时结果一致。
// 写入和删除都带 refresh=true，返回前即对查询可见。
func (x *esIndex) Generation(ctx context.Context) (uint64, error) {
	body, err := es.Search(ctx, x.client, x.indexName, map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"aggs": map[string]interface{}{
			"latest": map[string]interface{}{"max": map[string]interface{}{"field": "updated_at"}},
		},
	})
	if err != nil {
		return 0, x.wrap(err)
	}
	count := gjson.GetBytes(body, "hits.total.value").Int()
	latest := gjson.GetBytes(body, "aggregations.latest.value").Int()
	return stateGeneration(x.Backend(), x.indexName, count, latest), nil
}

func (x *esIndex) Upsert(ctx context.Context, id string, vector []float32) error {
	if id == "" {
		return errs.NewInput("id", "must not be empty")
	}
	if err := checkDim(x.dim, id, vector); err != nil {
		return err
	}
	if magnitude(vector) == 0 {
		return errs.NewInput("vector", "zero-magnitude vectors are not supported by the elasticsearch backend")
	}
	doc := model.EsResumeVector{ResumeID: id, Vector: vector, ModelVersion: x.modelVersion, UpdatedAt: time.Now()}
	if err := es.IndexResumeVector(ctx, x.client, x.indexName, doc); err != nil {
		return x.wrap(err)
	}
	return nil
}

func (x *esIndex) Delete(ctx context.Context, id string) error {
	found, err := es.DeleteResumeVector(ctx, x.client, x.indexName, id)
	if err != nil {
		return x.wrap(err)
	}
	if !found {
		return errs.ErrNotFound
	}
	return nil
}

func (x *esIndex) Get(ctx context.Context, id string) ([]float32, error) {
	body, found, err := es.GetResumeVector(ctx, x.client, x.indexName, id)
	if err != nil {
		return nil, x.wrap(err)
	}
	if !found {
		return nil, errs.ErrNotFound
	}
	return vectorOf(gjson.GetBytes(body, "_source.vector")), nil
}

func (x *esIndex) Len(ctx context.Context) (int, error) {
	n, err := es.Count(ctx, x.client, x.indexName)
	if err != nil {
		return 0, x.wrap(err)
	}
	return n, nil
}

// Query 在 topK 不超过单页上限时使用 kNN，ES cosine 的 _score 为 (1+cos)/2，这里换算回 cos。
// 更大的 topK（例如对整个候选池排序）改用 script_score 精确打分并翻页。
func (x *esIndex) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if err := validateTopK(topK); err != nil {
		return nil, err
	}
	if err := checkDim(x.dim, "", vector); err != nil {
		return nil, err
	}
	// 零向量无法做 cosine 检索，按定义所有分数为 0
	if magnitude(vector) == 0 {
		return x.zeroScoreHits(ctx, topK)
	}
	if topK > esPageSize {
		return x.scoreAll(ctx, vector, topK)
	}

	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	if numCandidates > esPageSize {
		numCandidates = esPageSize
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
		},
		"_source": []string{"resume_id"},
		"size":    topK,
	}
	body, err := es.Search(ctx, x.client, x.indexName, query)
	if err != nil {
		return nil, x.wrap(err)
	}
	hits := parseHits(body, func(score float64) float64 { return 2*score - 1 })
	SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// scoreAll 对全部文档精确计算 cosine，按 (_score desc, resume_id asc) 翻页，分数即为 cos+1。
func (x *esIndex) scoreAll(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	query := map[string]interface{}{
		"script_score": map[string]interface{}{
			"query": map[string]interface{}{"match_all": map[string]interface{}{}},
			"script": map[string]interface{}{
				"source": "cosineSimilarity(params.query_vector, 'vector') + 1.0",
				"params": map[string]interface{}{"query_vector": vector},
			},
		},
	}
	sort := []map[string]interface{}{{"_score": "desc"}, {"resume_id": "asc"}}
	hits := make([]Hit, 0, esPageSize)
	err := x.scan(ctx, query, sort, []string{"resume_id"}, topK, func(hit gjson.Result) error {
		hits = append(hits, Hit{ID: hitID(hit), Score: clampCos(hit.Get("_score").Float() - 1)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortHits(hits)
	return hits, nil
}

func (x *esIndex) zeroScoreHits(ctx context.Context, topK int) ([]Hit, error) {
	hits := []Hit{}
	err := x.scan(ctx, matchAll(), []map[string]interface{}{{"resume_id": "asc"}}, []string{"resume_id"}, topK, func(hit gjson.Result) error {
		hits = append(hits, Hit{ID: hitID(hit), Score: 0})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Vectors 按 resume_id 翻页遍历整个索引，不受单页上限截断。
func (x *esIndex) Vectors(ctx context.Context, fn func(id string, vector []float32) error) error {
	return x.scan(ctx, matchAll(), []map[string]interface{}{{"resume_id": "asc"}}, []string{"resume_id", "vector"}, 0, func(hit gjson.Result) error {
		id := hitID(hit)
		vec := vectorOf(hit.Get("_source.vector"))
		if len(vec) != x.dim {
			log.Warnf("[ESIndex] 跳过维度不一致的向量, resume_id: %s, 维度: %d", id, len(vec))
			return nil
		}
		return fn(id, vec)
	})
}

// scan 用 search_after 翻页执行查询，limit<=0 表示不限制总数。
func (x *esIndex) scan(ctx context.Context, query map[string]interface{}, sort []map[string]interface{}, source []string, limit int, fn func(hit gjson.Result) error) error {
	var after interface{}
	seen := 0
	for limit <= 0 || seen < limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := esPageSize
		if limit > 0 && limit-seen < size {
			size = limit - seen
		}
		req := map[string]interface{}{
			"query":   query,
			"sort":    sort,
			"_source": source,
			"size":    size,
		}
		if after != nil {
			req["search_after"] = after
		}
		body, err := es.Search(ctx, x.client, x.indexName, req)
		if err != nil {
			return x.wrap(err)
		}
		page := gjson.GetBytes(body, "hits.hits").Array()
		for _, hit := range page {
			if err := fn(hit); err != nil {
				return err
			}
		}
		seen += len(page)
		if len(page) < size {
			return nil
		}
		after = page[len(page)-1].Get("sort").Value()
	}
	return nil
}

// wrap 把 ES 错误映射到错误分类：400 是请求本身的问题，其余视为依赖不可用。
func (x *esIndex) wrap(err error) error {
	var se *es.StatusError
	if errors.As(err, &se) && se.BadRequest() {
		return errs.NewInput("vector", "rejected by elasticsearch: "+se.Status)
	}
	return errs.Unavailable("index", err)
}

func matchAll() map[string]interface{} {
	return map[string]interface{}{"match_all": map[string]interface{}{}}
}

func hitID(hit gjson.Result) string {
	if id := hit.Get("_source.resume_id").String(); id != "" {
		return id
	}
	return hit.Get("_id").String()
}

func vectorOf(raw gjson.Result) []float32 {
	values := raw.Array()
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.Float())
	}
	return vec
}

func clampCos(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func parseHits(body []byte, convert func(float64) float64) []Hit {
	hits := []Hit{}
	gjson.GetBytes(body, "hits.hits").ForEach(func(_, hit gjson.Result) bool {
		hits = append(hits, Hit{ID: hitID(hit), Score: convert(hit.Get("_score").Float())})
		return true
	})
	return hits
}
