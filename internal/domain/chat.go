package domain

import "time"

const (
	SenderAI   = "ai"
	SenderUser = "user"
)

// ChatMessage is kept in memory for the lifetime of the process only.
type ChatMessage struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}
