package hub

import (
	"fmt"
	"time"

	"github.com/dkeye/VoiceChat/internal/domain"
)

const (
	TypeState      = "state"
	TypeLevel      = "level"
	TypeCountdown  = "countdown"
	TypeTranscript = "transcript"
	TypeDevices    = "devices"
	TypeError      = "error"
	TypePong       = "pong"
	TypeConfig     = "config"
	TypePrompt     = "prompt"
)

type StateMsg struct {
	Type       string                 `json:"type"`
	Phase      string                 `json:"phase"`
	Muted      bool                   `json:"muted"`
	Connection domain.ConnectionState `json:"connection"`
}

type LevelMsg struct {
	Type  string  `json:"type"`
	Level float64 `json:"level"`
}

type CountdownMsg struct {
	Type      string `json:"type"`
	Remaining int    `json:"remaining"`
	Display   string `json:"display"`
}

type TranscriptMsg struct {
	Type   string    `json:"type"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

type DevicesMsg struct {
	Type     string          `json:"type"`
	Devices  []domain.Device `json:"devices"`
	Selected string          `json:"selected"`
}

type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ConfigMsg struct {
	Type   string               `json:"type"`
	Config domain.SessionConfig `json:"config"`
	Voices []string             `json:"voices"`
}

func NewError(err error) ErrorMsg {
	return ErrorMsg{Type: TypeError, Error: err.Error()}
}

// FormatRemaining renders a countdown as M:SS.
func FormatRemaining(d time.Duration) string {
	secs := max(int(d.Round(time.Second)/time.Second), 0)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
