// Package backend is the client side of the admission backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const asyncEndTimeout = 5 * time.Second

// TokenResponse is the upstream session object plus the lease the backend issued.
type TokenResponse struct {
	LeaseID      string `json:"lease_id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

type EndRequest struct {
	LeaseID string `json:"lease_id,omitempty"`
}

type PromptResponse struct {
	Instruction string `json:"instruction"`
}

// ErrorResponse carries either a message or the upstream error object.
type ErrorResponse struct {
	Error any `json:"error"`
}

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) RequestToken(ctx context.Context, req core.TokenRequest) (core.Token, error) {
	var (
		out    TokenResponse
		errOut ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&errOut).
		Post("/token")
	if err != nil {
		return core.Token{}, fmt.Errorf("token request: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return core.Token{}, fmt.Errorf("%w: %v", domain.ErrAdmissionRejected, errOut.Error)
	case resp.IsError():
		return core.Token{}, fmt.Errorf("token request: status %d: %v", resp.StatusCode(), errOut.Error)
	case out.ClientSecret.Value == "":
		return core.Token{}, errors.New("token request: response has no client secret")
	}

	tok := core.Token{Value: out.ClientSecret.Value, LeaseID: out.LeaseID}
	if out.ClientSecret.ExpiresAt > 0 {
		tok.ExpiresAt = time.Unix(out.ClientSecret.ExpiresAt, 0)
	}
	log.Info().Str("module", "backend").Str("lease", tok.LeaseID).Msg("token issued")
	return tok, nil
}

func (c *Client) EndSession(ctx context.Context, leaseID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(EndRequest{LeaseID: leaseID}).
		Post("/end")
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("end session: status %d", resp.StatusCode())
	}
	log.Info().Str("module", "backend").Str("lease", leaseID).Msg("session end delivered")
	return nil
}

// EndSessionAsync is the beacon variant: fire and forget.
func (c *Client) EndSessionAsync(leaseID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncEndTimeout)
		defer cancel()
		if err := c.EndSession(ctx, leaseID); err != nil {
			log.Warn().Str("module", "backend").Str("lease", leaseID).Err(err).Msg("async end failed")
		}
	}()
}

func (c *Client) GeneratePrompt(ctx context.Context) (string, error) {
	var (
		out    PromptResponse
		errOut ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errOut).
		Get("/prompt")
	if err != nil {
		return "", fmt.Errorf("prompt request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("prompt request: status %d: %v", resp.StatusCode(), errOut.Error)
	}
	return out.Instruction, nil
}
