// file: internal/synthesizer/ollama.go
package synthesizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"DataAegis/internal/core/domain"
)

// 每种方言绑定一个本地微调模型。
var defaultOllamaModels = map[domain.Dialect]string{
	domain.DialectSQLite:   "qwen-text2sql:latest",
	domain.DialectMySQL:    "qwen-text2sql:latest",
	domain.DialectPostgres: "qwen-text2sql:latest",
	domain.DialectMongo:    "qwen-text2mongo:latest",
	domain.DialectPipeline: "qwen-text2pipeline:latest",
}

// OllamaClient 是主力合成后端，走本地 Ollama 的 /api/generate。
type OllamaClient struct {
	baseURL string
	models  map[domain.Dialect]string
	hc      *http.Client
}

// NewOllamaClient 创建客户端。models 为空时用默认模型映射。
func NewOllamaClient(baseURL string, models map[domain.Dialect]string, timeout time.Duration) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if len(models) == 0 {
		models = defaultOllamaModels
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		models:  models,
		hc:      &http.Client{Timeout: timeout},
	}
}

// ID 实现 generator。
func (c *OllamaClient) ID() string { return "ollama" }

// Healthy 探测 /api/tags，探测自身限时 5 秒。
func (c *OllamaClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Generate 调 /api/generate 做一次非流式补全。
func (c *OllamaClient) Generate(ctx context.Context, dialect domain.Dialect, prompt string) (string, error) {
	model, ok := c.models[dialect]
	if !ok {
		return "", fmt.Errorf("方言 %q 没有对应的 ollama 模型", dialect)
	}

	payload := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": 0.1, // 低温度，要确定性输出
			"top_p":       0.9,
			"num_predict": 512,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama 返回 %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("解析 ollama 响应失败: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}
