// Package domain contains entities without transport or lifecycle logic.
package domain

import (
	"fmt"
	"strings"
)

const (
	MaxInstructionsLen = 1000

	DefaultModel       = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice       = "alloy"
	DefaultTemperature = 0.8
)

// Voices lists the voices the realtime API accepts.
var Voices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseEnding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseEnding:
		return "ending"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// SessionConfig is the snapshot a session is started from.
type SessionConfig struct {
	Model        string  `json:"model" mapstructure:"model"`
	Voice        string  `json:"voice" mapstructure:"voice"`
	Instructions string  `json:"instructions" mapstructure:"instructions"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MicrophoneID string  `json:"microphone_id" mapstructure:"microphone_id"`
	StartMuted   bool    `json:"start_muted" mapstructure:"start_muted"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:       DefaultModel,
		Voice:       DefaultVoice,
		Temperature: DefaultTemperature,
	}
}

func (c SessionConfig) Validate() error {
	if len([]rune(c.Instructions)) > MaxInstructionsLen {
		return ErrInstructionsTooLong
	}
	if c.Voice != "" && !IsKnownVoice(c.Voice) {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, c.Voice)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v", ErrBadTemperature, c.Temperature)
	}
	return nil
}

// TruncateInstructions cuts s to MaxInstructionsLen runes.
func TruncateInstructions(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= MaxInstructionsLen {
		return s
	}
	return string(r[:MaxInstructionsLen])
}

func IsKnownVoice(v string) bool {
	for _, known := range Voices {
		if known == v {
			return true
		}
	}
	return false
}

// SessionState is owned by the session controller; Muted is only
// meaningful while the session is live.
type SessionState struct {
	Phase Phase `json:"phase"`
	Muted bool  `json:"muted"`
}

func (s SessionState) Live() bool {
	return s.Phase == PhaseConnecting || s.Phase == PhaseActive
}

// ConnectionState mirrors the transport state for display only.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnFailed       ConnectionState = "failed"
	ConnClosed       ConnectionState = "closed"
)
