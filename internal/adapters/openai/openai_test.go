package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtime_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req core.TokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "verse", req.Voice)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_1","expires_at":1}}`))
	}))
	defer srv.Close()

	session, err := NewRealtime(srv.URL, "sk-test", time.Second).CreateSession(context.Background(), core.TokenRequest{Model: "m", Voice: "verse"})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", session["id"])
}

func TestRealtime_UpstreamErrorPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad voice"}}`))
	}))
	defer srv.Close()

	_, err := NewRealtime(srv.URL, "sk", time.Second).CreateSession(context.Background(), core.TokenRequest{})
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusBadRequest, upErr.Status)
	assert.Equal(t, map[string]any{"error": map[string]any{"message": "bad voice"}}, upErr.Body)
}

func chatServer(t *testing.T, status int, body string, got *map[string]any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestPromptGenerator(t *testing.T) {
	var req map[string]any
	srv := chatServer(t, http.StatusOK, `{"id":"c","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Speak in haiku.  "},"finish_reason":"stop"}]}`, &req)
	defer srv.Close()

	g := NewPromptGenerator(srv.URL, "sk", "")
	g.pick = func(int) int { return 2 }
	text, err := g.GeneratePrompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Speak in haiku.", text)

	assert.Equal(t, "gpt-3.5-turbo", req["model"])
	assert.EqualValues(t, 150, req["max_tokens"])
	assert.EqualValues(t, 0.7, req["temperature"])
	msgs := req["messages"].([]any)
	assert.Contains(t, msgs[0].(map[string]any)["content"], "Theme: technology.")
}

func TestPromptGenerator_EmptyChoice(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":""}}]}`, nil)
	defer srv.Close()

	text, err := NewPromptGenerator(srv.URL, "sk", "").GeneratePrompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoInstruction, text)
}

func TestPromptGenerator_UpstreamError(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, `{"error":{"message":"rate limited","type":"requests"}}`, nil)
	defer srv.Close()

	_, err := NewPromptGenerator(srv.URL, "sk", "").GeneratePrompt(context.Background())
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusTooManyRequests, upErr.Status)
}
