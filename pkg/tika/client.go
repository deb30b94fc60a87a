// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	http *resty.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: resty.New().SetBaseURL(cfg.ServerURL).SetTimeout(timeout)}
}

// ExtractText 根据文件后缀推断 MIME 类型，并调用 Tika 提取纯文本。
func (c *Client) ExtractText(ctx context.Context, data []byte, fileName string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/plain").
		SetHeader("Content-Type", detectMimeType(fileName)).
		SetBody(bytes.NewReader(data)).
		Put("/tika")
	if err != nil {
		return "", errs.Unavailable("tika", fmt.Errorf("调用 Tika 失败: %w", err))
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
		return resp.String(), nil
	case resp.StatusCode() == http.StatusUnsupportedMediaType || resp.StatusCode() == http.StatusUnprocessableEntity:
		return "", errs.NewInput("file", fmt.Sprintf("Tika 无法解析 %s: %d", fileName, resp.StatusCode()))
	default:
		return "", errs.Unavailable("tika", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode(), resp.String()))
	}
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
