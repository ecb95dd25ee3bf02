package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imagegen-backend/internal/config"
	"imagegen-backend/internal/model"
	"imagegen-backend/internal/service"
	"imagegen-backend/internal/upstream"
	"imagegen-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	link string
	err  error
}

func (s *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	return s.link, s.err
}

func testConfig(upstreamURL string, timeout time.Duration) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Upstream: config.UpstreamConfig{
			URL:           upstreamURL,
			UserAgent:     config.DefaultUserAgent,
			Timeout:       timeout,
			AgentModeID:   config.DefaultAgentModeID,
			AgentModeName: config.DefaultAgentModeName,
		},
		Prompt: config.PromptConfig{MaxLength: config.DefaultMaxPromptLength},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
}

// newTestRouter 组装真实的 service 和 upstream client，上游指向 httptest 服务
func newTestRouter(upstreamURL string, timeout time.Duration) *gin.Engine {
	cfg := testConfig(upstreamURL, timeout)
	client := upstream.NewClientWithHTTP(cfg.Upstream, utils.NewHTTPClient(timeout))
	svc := service.NewImageServiceWithClient(cfg, client)
	return SetupRouter(cfg, NewImageHandler(svc))
}

func doGenerate(t *testing.T, router http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return w, resp
}

func promptBody(prompt string) string {
	b, _ := json.Marshal(model.GenerateRequest{Prompt: prompt})
	return string(b)
}

// fakeUpstream 记录收到的请求体并按 handle 返回
type fakeUpstream struct {
	mu       sync.Mutex
	calls    int32
	payloads []model.UpstreamPayload
}

func (f *fakeUpstream) server(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.calls, 1)
		var p model.UpstreamPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			f.mu.Lock()
			f.payloads = append(f.payloads, p)
			f.mu.Unlock()
		}
		handle(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func linkHandler(link string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"link": link})
	}
}

func TestGenerate_Success(t *testing.T) {
	fu := &fakeUpstream{}
	srv := fu.server(t, linkHandler("https://x/y.png"))
	router := newTestRouter(srv.URL, 5*time.Second)

	w, resp := doGenerate(t, router, promptBody("a lighthouse at dusk"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"imageUrl": "https://x/y.png"}, resp)

	assert.EqualValues(t, 1, atomic.LoadInt32(&fu.calls))
	require.Len(t, fu.payloads, 1)
	assert.Equal(t, "a lighthouse at dusk", fu.payloads[0].Messages[0].Content)
	assert.Equal(t, "user", fu.payloads[0].Messages[0].Role)
	assert.True(t, fu.payloads[0].CodeModelMode)
	assert.True(t, fu.payloads[0].AgentMode.Mode)
	assert.Equal(t, "ImageGenerationLV45LJp", fu.payloads[0].AgentMode.ID)
	assert.Equal(t, "Image Generation", fu.payloads[0].AgentMode.Name)
	assert.NotEmpty(t, fu.payloads[0].UserID)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	fu := &fakeUpstream{}
	srv := fu.server(t, linkHandler("https://x/y.png"))
	router := newTestRouter(srv.URL, 5*time.Second)

	for _, body := range []string{promptBody(""), promptBody("   \t\n"), `{}`, `{"prompt":null}`, ``} {
		w, resp := doGenerate(t, router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		assert.Equal(t, "Please provide a description for the image you want to generate", resp["error"])
		assert.NotContains(t, resp, "imageUrl")
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(&fu.calls))
}

func TestGenerate_PromptTooLong(t *testing.T) {
	fu := &fakeUpstream{}
	srv := fu.server(t, linkHandler("https://x/y.png"))
	router := newTestRouter(srv.URL, 5*time.Second)

	w, resp := doGenerate(t, router, promptBody(strings.Repeat("x", 1001)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Prompt is too long. Please keep it under 1000 characters", resp["error"])
	assert.EqualValues(t, 0, atomic.LoadInt32(&fu.calls))

	// 首尾空白计入长度
	w, resp = doGenerate(t, router, promptBody("  "+strings.Repeat("x", 1000)+"  "))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Prompt is too long. Please keep it under 1000 characters", resp["error"])
	assert.EqualValues(t, 0, atomic.LoadInt32(&fu.calls))

	w, _ = doGenerate(t, router, promptBody(strings.Repeat("x", 1000)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fu.calls))
}

func TestGenerate_InvalidBody(t *testing.T) {
	router := SetupRouter(testConfig("http://unused", time.Second), NewImageHandler(&stubGenerator{link: "x"}))

	for _, body := range []string{`{"prompt":`, `{"prompt":42}`, `[1,2]`} {
		w, resp := doGenerate(t, router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		assert.Equal(t, model.MsgInvalidBody, resp["error"])
	}
}

func TestGenerate_NoLinkInUpstreamResponse(t *testing.T) {
	fu := &fakeUpstream{}
	srv := fu.server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	router := newTestRouter(srv.URL, 5*time.Second)

	w, resp := doGenerate(t, router, promptBody("a tree"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, resp["error"], "No valid image URL received")
	assert.Contains(t, resp["error"], "{}")
}

func TestGenerate_UpstreamStatusForwarded(t *testing.T) {
	fu := &fakeUpstream{}
	srv := fu.server(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	router := newTestRouter(srv.URL, 5*time.Second)

	w, resp := doGenerate(t, router, promptBody("a tree"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Request failed with status code 503", resp["error"])
	assert.EqualValues(t, 1, atomic.LoadInt32(&fu.calls))
}

func TestGenerate_UpstreamTimeout(t *testing.T) {
	fu := &fakeUpstream{}
	srv := fu.server(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	})
	router := newTestRouter(srv.URL, 150*time.Millisecond)

	start := time.Now()
	w, resp := doGenerate(t, router, promptBody("a slow picture"))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, resp["error"])
	assert.EqualValues(t, 1, atomic.LoadInt32(&fu.calls))
}

func TestGenerate_IndependentConcurrentRequests(t *testing.T) {
	fu := &fakeUpstream{}
	srv := fu.server(t, linkHandler("https://x/y.png"))
	router := newTestRouter(srv.URL, 5*time.Second)

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(promptBody("same prompt")))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.EqualValues(t, n, atomic.LoadInt32(&fu.calls))

	ids := map[string]bool{}
	for _, p := range fu.payloads {
		ids[p.UserID] = true
	}
	assert.Len(t, ids, n)
}

func TestWriteError_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"validation", model.NewValidationError(model.MsgEmptyPrompt), http.StatusBadRequest, model.MsgEmptyPrompt},
		{"transport with status", model.NewTransportError(http.StatusBadGateway, "Request failed with status code 502", nil), http.StatusBadGateway, "Request failed with status code 502"},
		{"transport without status", model.NewTransportError(0, "dial failed", nil), http.StatusInternalServerError, "dial failed"},
		{"contract", model.NewContractError(`{}`), http.StatusInternalServerError, model.MsgNoImageURLBase + `{}`},
		{"untagged", errors.New("something broke"), http.StatusInternalServerError, "something broke"},
		{"empty message", &model.GenerationError{Kind: model.UpstreamTransportError}, http.StatusInternalServerError, model.MsgUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp model.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

func TestHealth(t *testing.T) {
	router := SetupRouter(testConfig("http://unused", time.Second), NewImageHandler(&stubGenerator{}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>imagegen</h1>"), 0o600))

	cfg := testConfig("http://unused", time.Second)
	cfg.Server.StaticDir = dir
	router := SetupRouter(cfg, NewImageHandler(&stubGenerator{}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "imagegen")

	req = httptest.NewRequest(http.MethodPost, "/nope", bytes.NewReader(nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
