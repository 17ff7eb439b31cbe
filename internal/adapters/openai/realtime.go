// Package openai wraps the upstream calls the backend makes with its API key.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// UpstreamError is a non-2xx answer from the upstream API. Body is the
// decoded upstream payload and is forwarded to the caller as is.
type UpstreamError struct {
	Status int
	Body   any
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Status)
}

// Realtime creates ephemeral realtime sessions.
type Realtime struct {
	http *resty.Client
}

func NewRealtime(baseURL, apiKey string, timeout time.Duration) *Realtime {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Realtime{
		http: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(apiKey).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// CreateSession returns the upstream session object untouched.
func (r *Realtime) CreateSession(ctx context.Context, req core.TokenRequest) (map[string]any, error) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/realtime/sessions")
	if err != nil {
		return nil, fmt.Errorf("create realtime session: %w", err)
	}

	var body any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		body = resp.String()
	}
	if resp.IsError() {
		log.Warn().Str("module", "openai").Int("status", resp.StatusCode()).Msg("realtime session rejected upstream")
		return nil, &UpstreamError{Status: resp.StatusCode(), Body: body}
	}
	session, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("create realtime session: unexpected response %T", body)
	}
	log.Info().Str("module", "openai").Str("model", req.Model).Str("voice", req.Voice).Msg("realtime session created")
	return session, nil
}
