// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"equihire-go/internal/config"
	"equihire-go/internal/model"
	"equihire-go/pkg/log"
)

var ESClient *elasticsearch.Client

// StatusError 是 Elasticsearch 返回的非 2xx 响应。
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elasticsearch %s returned %s", e.Op, e.Status)
}

// BadRequest 表示请求本身被拒绝（例如 cosine 字段写入零向量），重试没有意义。
func (e *StatusError) BadRequest() bool {
	return e.StatusCode == http.StatusBadRequest
}

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// InitES 初始化全局 Elasticsearch 客户端，并确保简历向量索引存在。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	client, err := NewClient(esCfg)
	if err != nil {
		return err
	}
	ESClient = client
	return CreateIndexIfNotExists(context.Background(), client, esCfg.IndexName, dims)
}

// CreateIndexIfNotExists 检查索引是否存在，如果不存在则按给定维度创建。
func CreateIndexIfNotExists(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"resume_id": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"updated_at": { "type": "date" }
			}
		}
	}`, dims)

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功, 向量维度: %d", indexName, dims)
	return nil
}

// IndexResumeVector 写入单个简历向量，文档 id 即 resume id，重复写入会整体覆盖。
func IndexResumeVector(ctx context.Context, client *elasticsearch.Client, indexName string, doc model.EsResumeVector) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.ResumeID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return &StatusError{Op: "index", StatusCode: res.StatusCode, Status: res.Status()}
	}
	return nil
}

// DeleteResumeVector 删除简历向量。返回值 found 表示文档是否存在。
func DeleteResumeVector(ctx context.Context, client *elasticsearch.Client, indexName, resumeID string) (bool, error) {
	req := esapi.DeleteRequest{Index: indexName, DocumentID: resumeID, Refresh: "true"}
	res, err := req.Do(ctx, client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, &StatusError{Op: "delete", StatusCode: res.StatusCode, Status: res.Status()}
	}
	return true, nil
}

// Search 执行查询并返回原始响应体，由调用方用 gjson 解析。
func Search(ctx context.Context, client *elasticsearch.Client, indexName string, query map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read es response: %w", err)
	}
	if res.IsError() {
		log.Errorf("[ES] 查询返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, &StatusError{Op: "search", StatusCode: res.StatusCode, Status: res.Status()}
	}
	return body, nil
}

// Count 返回索引中的文档数。
func Count(ctx context.Context, client *elasticsearch.Client, indexName string) (int, error) {
	res, err := client.Count(client.Count.WithContext(ctx), client.Count.WithIndex(indexName))
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, &StatusError{Op: "count", StatusCode: res.StatusCode, Status: res.Status()}
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// GetResumeVector 读取单个文档的 _source，文档不存在时 found 为 false。
func GetResumeVector(ctx context.Context, client *elasticsearch.Client, indexName, resumeID string) ([]byte, bool, error) {
	req := esapi.GetRequest{Index: indexName, DocumentID: resumeID}
	res, err := req.Do(ctx, client)
	if err != nil {
		return nil, false, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if res.IsError() {
		return nil, false, &StatusError{Op: "get", StatusCode: res.StatusCode, Status: res.Status()}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read es response: %w", err)
	}
	return body, true, nil
}
