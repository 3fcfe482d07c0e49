// Package llm 封装 Ollama 调用与模型输出解析
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailpilot/pkg/circuitbreaker"
	"mailpilot/pkg/config"
	"mailpilot/pkg/metrics"
	"mailpilot/pkg/otel"
)

// Request is one generation call. JSON asks the backend for JSON mode.
type Request struct {
	Model  string
	Prompt string
	System string
	JSON   bool
}

// Generator returns the model text, or ok=false on any transport, timeout or
// empty-response failure. Callers must treat !ok as unknown, never as "".
type Generator interface {
	Generate(ctx context.Context, req Request) (text string, ok bool)
}

type OllamaClient struct {
	host        string
	numCtx      int
	temperature float64
	httpClient  *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	logger      *zap.Logger
}

type generateOptions struct {
	NumCtx      int     `json:"num_ctx"`
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
	System  string          `json:"system,omitempty"`
	Format  string          `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func NewOllamaClient(cfg config.LLMConfig, logger *zap.Logger) *OllamaClient {
	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("LLM circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		metrics.SetCircuitState("llm", int(to))
	}

	return &OllamaClient{
		host:        strings.TrimRight(cfg.Host, "/"),
		numCtx:      cfg.NumCtx,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.NewCircuitBreaker(cbCfg),
		logger:  logger,
	}
}

func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, bool) {
	ctx, span := otel.StartSpan(ctx, "llm.generate",
		attribute.String("llm.model", req.Model),
		attribute.Bool("llm.json", req.JSON),
	)
	start := time.Now()

	var text string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = c.call(ctx, req)
		return err
	})

	status := "ok"
	if err != nil {
		status = "error"
	} else if text == "" {
		status = "empty"
	}
	metrics.RecordLLMCallLatency(req.Model, status, time.Since(start))
	otel.EndSpan(span, err)

	if err != nil {
		c.logger.Warn("LLM call failed", zap.String("model", req.Model), zap.Error(err))
		return "", false
	}
	if text == "" {
		return "", false
	}
	return text, true
}

func (c *OllamaClient) call(ctx context.Context, req Request) (string, error) {
	body := generateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Options: generateOptions{NumCtx: c.numCtx, Temperature: c.temperature},
		System:  req.System,
	}
	if req.JSON {
		body.Format = "json"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}
