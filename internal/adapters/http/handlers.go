package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/VoiceChat/internal/adapters/openai"
	"github.com/dkeye/VoiceChat/internal/app/gate"
	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	overloadedMessage = "API is overloaded, please wait a bit"
	leaseKey          = "lease_id"
)

type SessionCreator interface {
	CreateSession(ctx context.Context, req core.TokenRequest) (map[string]any, error)
}

// Backend holds what the admission endpoints need.
type Backend struct {
	Gate     *gate.Gate
	Sessions SessionCreator
	Prompts  core.PromptSource
	Limiter  *TokenRateLimiter
}

type EndRequest struct {
	LeaseID string `json:"lease_id"`
}

type PromptResponse struct {
	Instruction string `json:"instruction"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (b *Backend) handleToken(c *gin.Context) {
	client := c.GetString("client_token")
	if !b.Limiter.Allow(client) {
		log.Warn().Str("module", "adapters.http").Str("sid", client).Msg("token rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many token requests"})
		return
	}

	var req core.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token request"})
		return
	}
	if req.Model == "" {
		req.Model = domain.DefaultModel
	}
	if req.Voice == "" {
		req.Voice = domain.DefaultVoice
	}
	sc := domain.SessionConfig{Voice: req.Voice, Instructions: req.Instructions, Temperature: req.Temperature}
	if err := sc.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lease, err := b.Gate.Acquire()
	switch {
	case errors.Is(err, domain.ErrAdmissionRejected):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": overloadedMessage})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	session, err := b.Sessions.CreateSession(c.Request.Context(), req)
	if err != nil {
		b.Gate.Release(lease.ID)
		var upErr *openai.UpstreamError
		if errors.As(err, &upErr) {
			c.JSON(upErr.Status, gin.H{"error": upErr.Body})
			return
		}
		log.Error().Str("module", "adapters.http").Err(err).Msg("token request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	session[leaseKey] = lease.ID
	s := sessions.Default(c)
	s.Set(leaseKey, lease.ID)
	if err := s.Save(); err != nil {
		log.Warn().Str("module", "adapters.http").Err(err).Msg("session save failed")
	}
	log.Info().Str("module", "adapters.http").Str("sid", client).Str("lease", lease.ID).Msg("token issued")
	c.JSON(http.StatusOK, session)
}

// handleEnd never fails: the body and the cookie session name the lease, and
// a bare beacon frees the oldest one.
func (b *Backend) handleEnd(c *gin.Context) {
	var req EndRequest
	_ = c.ShouldBindJSON(&req)

	s := sessions.Default(c)
	cookieLease, _ := s.Get(leaseKey).(string)
	id := req.LeaseID
	if id == "" {
		id = cookieLease
	}

	released := false
	if id != "" {
		released = b.Gate.Release(id)
	} else {
		released = b.Gate.ReleaseOldest()
	}
	if cookieLease != "" && cookieLease == id {
		s.Delete(leaseKey)
		if err := s.Save(); err != nil {
			log.Warn().Str("module", "adapters.http").Err(err).Msg("session save failed")
		}
	}
	log.Info().Str("module", "adapters.http").Str("lease", id).Bool("released", released).Int("active", b.Gate.Active()).Msg("session end")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (b *Backend) handlePrompt(c *gin.Context) {
	text, err := b.Prompts.GeneratePrompt(c.Request.Context())
	if err != nil {
		var upErr *openai.UpstreamError
		if errors.As(err, &upErr) {
			c.JSON(upErr.Status, gin.H{"error": upErr.Body})
			return
		}
		log.Error().Str("module", "adapters.http").Err(err).Msg("prompt generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, PromptResponse{Instruction: text})
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}
