package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlugin(t *testing.T) *Plugin {
	t.Helper()
	p := &Plugin{}
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "usd", body["currency"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ch_1"})
	}))
	defer srv.Close()

	p := newPlugin(t)
	out, err := p.Request(context.Background(), map[string]any{
		"url":              srv.URL,
		"method":           "POST",
		"headers":          map[string]any{"Authorization": "token"},
		"query_parameters": map[string]any{"page": "1"},
		"body":             map[string]any{"currency": "usd"},
	})
	require.NoError(t, err)

	assert.Equal(t, false, out["is_error"])
	body, ok := out["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ch_1", body["id"])
}

func TestRequestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "card declined"})
	}))
	defer srv.Close()

	p := newPlugin(t)
	out, err := p.Request(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": "GET",
	})
	require.NoError(t, err)

	assert.Equal(t, true, out["is_error"])
	body, ok := out["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "card declined", body["message"])
}

func TestRequestInvalidInput(t *testing.T) {
	p := newPlugin(t)

	_, err := p.Request(context.Background(), map[string]any{
		"url":    "not-a-url",
		"method": "GET",
	})
	assert.Error(t, err)

	_, err = p.Request(context.Background(), map[string]any{
		"url":    "https://example.com",
		"method": "TRACE",
	})
	assert.Error(t, err)
}
