// Package provider contains analysis provider adapters.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

// HTTPConfig configures an HTTP analysis provider.
type HTTPConfig struct {
	Name   string
	URL    string
	APIKey string
	// ResultExpression is a JMESPath expression selecting the structured
	// result from the response body. Empty keeps the whole body.
	ResultExpression string
	Timeout          time.Duration
	MaxBodyBytes     int64
	Client           *http.Client
}

// HTTP posts analysis requests to a JSON endpoint.
type HTTP struct {
	name     string
	url      string
	apiKey   string
	expr     string
	maxBytes int64
	client   *http.Client
}

var _ core.AnalysisProvider = (*HTTP)(nil)

// NewHTTP validates cfg and builds the adapter.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("provider url is required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "http"
	}
	expr := strings.TrimSpace(cfg.ResultExpression)
	if expr != "" {
		if _, err := jmespath.Compile(expr); err != nil {
			return nil, fmt.Errorf("invalid result expression: %w", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}

	return &HTTP{
		name:     name,
		url:      url,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		expr:     expr,
		maxBytes: maxBytes,
		client:   hc,
	}, nil
}

// Name implements core.AnalysisProvider.
func (p *HTTP) Name() string { return p.name }

// Analyze implements core.AnalysisProvider. Failures are classified so the
// worker can tell retryable glitches from permanent rejections: 429 and 5xx
// are transient, other 4xx and unreadable bodies are provider errors,
// unreachable endpoints are unavailable.
func (p *HTTP) Analyze(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error) {
	if req == nil {
		return nil, apperrors.Validation("analysis request is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return nil, p.classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.statusError(resp.StatusCode, raw)
	}

	data, err := p.extract(raw)
	if err != nil {
		return nil, err
	}
	return &model.AnalysisResult{Provider: p.name, Data: data}, nil
}

func (p *HTTP) extract(raw []byte) (json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Providerf("%s returned an unparseable response: %v", p.name, err)
	}
	if p.expr == "" {
		return json.RawMessage(raw), nil
	}

	res, err := jmespath.Search(p.expr, doc)
	if err != nil {
		return nil, apperrors.Providerf("%s result expression failed: %v", p.name, err)
	}
	if res == nil {
		return nil, apperrors.Providerf("%s response has no result at %q", p.name, p.expr)
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode extracted result: %w", err)
	}
	return out, nil
}

func (p *HTTP) statusError(code int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if code == http.StatusTooManyRequests || code >= 500 {
		return apperrors.Transientf("%s returned %d: %s", p.name, code, snippet)
	}
	return apperrors.Providerf("%s rejected the request with %d: %s", p.name, code, snippet)
}

func (p *HTTP) classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "provider call canceled")
	}
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, p.name+" timed out")
	}
	return apperrors.Unavailable(err, p.name+" unreachable")
}
