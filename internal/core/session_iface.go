package core

import (
	"context"
	"time"

	"github.com/dkeye/VoiceChat/internal/domain"
)

type TokenRequest struct {
	Model        string  `json:"model"`
	Voice        string  `json:"voice"`
	Instructions string  `json:"instructions"`
	Temperature  float64 `json:"temperature"`
}

// Token is an ephemeral credential plus the admission lease it holds.
type Token struct {
	Value     string
	LeaseID   string
	ExpiresAt time.Time
}

// TokenIssuer is the client side of the admission gate.
type TokenIssuer interface {
	RequestToken(ctx context.Context, req TokenRequest) (Token, error)
	EndSession(ctx context.Context, leaseID string) error
	// EndSessionAsync dispatches the end notification without waiting. Delivery is not guaranteed.
	EndSessionAsync(leaseID string)
}

type PromptSource interface {
	GeneratePrompt(ctx context.Context) (string, error)
}

// Signaller exchanges one SDP offer for an answer with the remote media service.
type Signaller interface {
	ExchangeSDP(ctx context.Context, credential, model, offerSDP string) (string, error)
}

// Scheduler runs f once after d. The returned stop func reports whether it prevented the call.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
	Now() time.Time
}

// SessionListener receives the controller's state mirror. Calls may come from any goroutine.
type SessionListener interface {
	OnState(state domain.SessionState, conn domain.ConnectionState)
	OnError(err error)
	OnTranscript(msg domain.ChatMessage)
	OnDevices(list domain.DeviceList, selected string)
}
