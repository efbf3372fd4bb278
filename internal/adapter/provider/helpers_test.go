package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyintel/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"429 rate limit", http.StatusTooManyRequests, `{"error":"slow down"}`, domain.ErrRateLimit},
		{"429 quota", http.StatusTooManyRequests, `{"error":"Quota exceeded for project"}`, domain.ErrQuotaExceeded},
		{"401", http.StatusUnauthorized, `{"error":"invalid api key"}`, domain.ErrAuthInvalid},
		{"403", http.StatusForbidden, `forbidden`, domain.ErrAuthInvalid},
		{"408", http.StatusRequestTimeout, ``, domain.ErrTimeout},
		{"504", http.StatusGatewayTimeout, ``, domain.ErrTimeout},
		{"503", http.StatusServiceUnavailable, `overloaded`, domain.ErrProviderError},
		{"400", http.StatusBadRequest, `bad`, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "API error")
		})
	}
}

func TestMapHTTPErrorTruncatesBody(t *testing.T) {
	body := make([]byte, 2000)
	for i := range body {
		body[i] = 'x'
	}
	err := mapHTTPError(http.StatusInternalServerError, body)
	assert.Less(t, len(err.Error()), 700)
}

func TestDoJSONRequestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := doJSONRequest(context.Background(), srv.Client(), url, []byte(`{}`), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestDoJSONRequestHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := doJSONRequest(context.Background(), srv.Client(), srv.URL, []byte(`{}`), map[string]string{"X-Test": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestMapTransportErrorDeadline(t *testing.T) {
	err := mapTransportError(context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrTimeout)

	err = mapTransportError(context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, domain.ErrNetwork))
}
