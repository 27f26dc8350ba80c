package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
)

func newRequest() *model.AnalysisRequest {
	return &model.AnalysisRequest{JobID: "job-1", FileName: "panel.png", MimeType: "image/png", Data: "aGVsbG8="}
}

func TestNewHTTP_Validation(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{})
	require.Error(t, err)

	_, err = NewHTTP(HTTPConfig{URL: "http://example.test", ResultExpression: "result.["})
	require.ErrorContains(t, err, "invalid result expression")

	p, err := NewHTTP(HTTPConfig{URL: "http://example.test"})
	require.NoError(t, err)
	assert.Equal(t, "http", p.Name())
}

func TestHTTP_Analyze_Success(t *testing.T) {
	var got model.AnalysisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"v1","output":{"points":[{"name":"AHU-1 SAT","value":55.2}]}}`))
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPConfig{Name: "vision", URL: srv.URL, APIKey: "secret", ResultExpression: "output"})
	require.NoError(t, err)

	res, err := p.Analyze(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, "vision", res.Provider)
	assert.JSONEq(t, `{"points":[{"name":"AHU-1 SAT","value":55.2}]}`, string(res.Data))
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "panel.png", got.FileName)
}

func TestHTTP_Analyze_WholeBodyWithoutExpression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)
	res, err := p.Analyze(context.Background(), newRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(res.Data))
}

func TestHTTP_Analyze_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		expr      string
		transient bool
		provider  bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, transient: true},
		{name: "server error", status: http.StatusBadGateway, body: `upstream down`, transient: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"bad image"}`, provider: true},
		{name: "unparseable body", status: http.StatusOK, body: `not json`, provider: true},
		{name: "expression matches nothing", status: http.StatusOK, body: `{"other":1}`, expr: "output", provider: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := NewHTTP(HTTPConfig{URL: srv.URL, ResultExpression: tt.expr})
			require.NoError(t, err)

			_, err = p.Analyze(context.Background(), newRequest())
			require.Error(t, err)
			assert.Equal(t, tt.transient, apperrors.IsTransient(err), "transient")
			assert.Equal(t, tt.provider, apperrors.IsProvider(err), "provider")
		})
	}
}

func TestHTTP_Analyze_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, err := NewHTTP(HTTPConfig{URL: url})
	require.NoError(t, err)

	_, err = p.Analyze(context.Background(), newRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestHTTP_Analyze_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Analyze(ctx, newRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
	assert.True(t, apperrors.IsTransient(err))
	assert.False(t, apperrors.IsRetryable(err), "timeouts are not retried inline")
}

func TestEcho_Analyze(t *testing.T) {
	res, err := Echo{}.Analyze(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, "echo", res.Provider)
	assert.JSONEq(t, `{"fileName":"panel.png","mimeType":"image/png","bytes":8}`, string(res.Data))
}
