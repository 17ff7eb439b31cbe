package openai

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	NoInstruction = "No instruction generated."

	promptTemplate = "Create a text instruction for the AI that defines its communication style with the user. " +
		"The instruction should be concise, written in a single paragraph, and include only interaction rules " +
		"without greetings or unnecessary details. Each time, generate a new, original instruction to make the AI unique. " +
		"You can give it a personality, style, or a distinctive manner of communication. Theme: %s."
)

var Topics = []string{
	"adventure", "space", "technology", "mystery", "fantasy",
	"history", "future", "detective", "psychology", "post-apocalypse",
	"mythology", "time travel", "cyberpunk", "survival", "urban legends",
}

type PromptGenerator struct {
	client *goopenai.Client
	model  string
	// pick returns an index into Topics.
	pick func(n int) int
}

func NewPromptGenerator(baseURL, apiKey, model string) *PromptGenerator {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = goopenai.GPT3Dot5Turbo
	}
	return &PromptGenerator{client: goopenai.NewClientWithConfig(cfg), model: model, pick: rand.IntN}
}

// GeneratePrompt asks the chat model for a communication-style instruction
// on a random topic. Upstream rejections come back as *UpstreamError.
func (g *PromptGenerator) GeneratePrompt(ctx context.Context) (string, error) {
	topic := Topics[g.pick(len(Topics))]
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: fmt.Sprintf(promptTemplate, topic),
			},
		},
		MaxTokens:   150,
		Temperature: 0.7,
		N:           1,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
			return "", &UpstreamError{Status: apiErr.HTTPStatusCode, Body: apiErr}
		}
		return "", fmt.Errorf("generate prompt: %w", err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if text == "" {
		text = NoInstruction
	}
	log.Info().Str("module", "openai").Str("topic", topic).Int("len", len(text)).Msg("prompt generated")
	return text, nil
}
