package utils

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// 最多打印的请求/响应体字节数
	maxLoggedBody = 4096
	// 最多缓冲的上游响应体字节数，与 upstream 客户端的读取上限一致
	maxBufferedBody = 1 << 20
)

var sensitiveHeaders = []string{"authorization", "x-api-key", "x-auth-token", "cookie", "set-cookie"}

// DebugTransport 打印出站请求和上游响应，用于排查上游返回格式
type DebugTransport struct {
	base   http.RoundTripper
	logger *logrus.Logger
}

func NewDebugTransport(base http.RoundTripper, logger *logrus.Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DebugTransport{base: base, logger: logger}
}

// WrapDebug 给 client 的 Transport 套上 DebugTransport
func WrapDebug(client *http.Client, logger *logrus.Logger) *http.Client {
	client.Transport = NewDebugTransport(client.Transport, logger)
	return client
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	entry := t.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		// 恢复请求体，以免影响实际请求
		req.Body = io.NopCloser(bytes.NewReader(body))
		entry.WithField("headers", redactHeaders(req.Header)).Debugf("upstream request: %s", truncate(body))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		entry.WithError(err).Debug("upstream request failed")
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	entry.WithField("status", resp.StatusCode).Debugf("upstream response: %s", truncate(body))

	return resp, nil
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name) {
			out[name] = "[REDACTED]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string) bool {
	for _, s := range sensitiveHeaders {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

func truncate(body []byte) string {
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "...(truncated)"
	}
	return string(body)
}
