// Package ai optionally enriches winning signals with a short written
// market analysis from an OpenAI-compatible endpoint.
package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"signalhub/config"
	"signalhub/signals"
)

const systemPrompt = `You are a market analyst. Given a technical trading signal, write a 2-3 sentence
analysis of the setup for a subscriber notification. Mention the key indicator readings.
Do not give financial advice disclaimers. Plain text only.`

// Analyst writes analysis notes for signals
type Analyst struct {
	client *openai.Client
	model  string
}

// NewAnalyst creates an analyst from config, or nil when disabled
func NewAnalyst(cfg config.LLMConfig) *Analyst {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	log.Printf("✅ LLM analysis enrichment enabled (model %s)", cfg.Model)
	return &Analyst{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// Annotate implements signals.Analyst
func (a *Analyst) Annotate(ctx context.Context, sig *signals.TechnicalSignal) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: describeSignal(sig)},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("analysis completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("analysis completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func describeSignal(sig *signals.TechnicalSignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s at %.6g, strategy %s, confidence %.0f%%, timeframe %s.\n",
		sig.Action, sig.Symbol, sig.EntryPrice, sig.Strategy, sig.Confidence, sig.Timeframe)
	fmt.Fprintf(&b, "Reasoning: %s\n", sig.Reasoning)
	fmt.Fprintf(&b, "Indicators:")
	for name, value := range sig.Indicators {
		fmt.Fprintf(&b, " %s=%.4f", name, value)
	}
	return b.String()
}
