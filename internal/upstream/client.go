package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"imagegen-backend/internal/config"
	"imagegen-backend/internal/model"
	"imagegen-backend/internal/utils"
	"imagegen-backend/pkg/logger"
)

// 上游响应体读取上限
const maxResponseBytes = 1 << 20

// Client 调用上游对话接口生成图片
type Client struct {
	httpClient *http.Client
	url        string
	userAgent  string
}

func NewClient(cfg config.UpstreamConfig) *Client {
	httpClient := utils.NewHTTPClient(cfg.Timeout)
	// 出站日志以 debug 级别输出，日志级别不够时不挂载
	if cfg.Debug && logger.IsDebug() {
		httpClient = utils.WrapDebug(httpClient, logger.Logger())
	}
	return NewClientWithHTTP(cfg, httpClient)
}

// NewClientWithHTTP 使用外部传入的 http.Client，测试中使用
func NewClientWithHTTP(cfg config.UpstreamConfig, httpClient *http.Client) *Client {
	return &Client{
		httpClient: httpClient,
		url:        cfg.URL,
		userAgent:  cfg.UserAgent,
	}
}

// Chat 发送一次请求并返回图片链接，不做重试
func (c *Client) Chat(ctx context.Context, payload *model.UpstreamPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal upstream payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", model.NewTransportError(0, transportMessage(err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", model.NewTransportError(0, transportMessage(err), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.WithFields(logger.Fields{
			"status": resp.StatusCode,
			"body":   string(raw),
		}).Warn("上游返回非 2xx 状态")
		return "", model.NewTransportError(resp.StatusCode,
			fmt.Sprintf("Request failed with status code %d", resp.StatusCode), nil)
	}

	var result model.UpstreamResponse
	if err := json.Unmarshal(raw, &result); err != nil || strings.TrimSpace(result.Link) == "" {
		return "", model.NewContractError(string(raw))
	}

	return result.Link, nil
}

// transportMessage 超时统一为固定文案，其余保留底层错误信息
func transportMessage(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "Upstream request timed out"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return model.MsgUnexpected
}
