package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(w http.ResponseWriter, content string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
}

func TestSplitBaseURLs(t *testing.T) {
	t.Parallel()

	got := splitBaseURLs("192.168.50.212:1234/v1, http://192.168.50.213:1234 ;192.168.50.212:1234/v1")
	assert.Equal(t, []string{"http://192.168.50.212:1234/v1", "http://192.168.50.213:1234/v1"}, got)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	assert.Equal(t, []string{DefaultBaseURL}, c.BaseURLs())
	assert.Equal(t, DefaultSystemPrompt, c.system)
}

func TestInvokeModel_SendsPrompt(t *testing.T) {
	t.Parallel()

	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(w, `{"target": "price", "confidence": 0.9}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "llama3", APIKey: "secret", JSONMode: true})
	text, err := c.InvokeModel(context.Background(), "predict 'price'")
	require.NoError(t, err)
	assert.Equal(t, `{"target": "price", "confidence": 0.9}`, text)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "llama3", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "predict 'price'", got.Messages[1].Content)
	assert.NotNil(t, got.ResponseFormat)
}

func TestInvokeModel_FallbackToSecondEndpoint(t *testing.T) {
	t.Parallel()

	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failServer.Close()

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, "ok-after-500")
	}))
	defer okServer.Close()

	c := New(Config{BaseURL: "http://127.0.0.1:1/v1, " + failServer.URL + ", " + okServer.URL, Timeout: 5 * time.Second})
	text, err := c.InvokeModel(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ok-after-500", text)
}

func TestInvokeModel_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{name: "no choices", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"choices": []}`)) }, want: "missing choices"},
		{name: "empty content", handler: func(w http.ResponseWriter, r *http.Request) { reply(w, "  ") }, want: "response empty"},
		{name: "not json", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }, want: "decode response"},
		{name: "unauthorized", handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }, want: "401 Unauthorized"},
		{
			name: "error body quoted",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error": {"message": "model 'gpt-x' not found"}}`, http.StatusNotFound)
			},
			want: "404 Not Found: {\"error\": {\"message\": \"model 'gpt-x' not found\"}}",
		},
		{
			name: "error body truncated",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(strings.Repeat("x", 2*maxErrorBody)))
			},
			want: "502 Bad Gateway: " + strings.Repeat("x", maxErrorBody) + ")",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).InvokeModel(context.Background(), "ping")
			assert.ErrorContains(t, err, "failed across endpoints")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestInvokeModel_HonoursContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{BaseURL: srv.URL}).InvokeModel(ctx, "ping")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
