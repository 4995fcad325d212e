package pipeline

import (
	"context"
	"fmt"
	"strings"

	"subvox/internal/apierr"
	"subvox/internal/chat"
)

// LLMProcessor adapts the chat gateway to the batch contract. The prompt is
// supplied by the caller; this layer only owns the plumbing.
type LLMProcessor struct {
	gateway      *chat.Gateway
	model        string
	temperature  float64
	systemPrompt string
}

func NewLLMProcessor(gateway *chat.Gateway, model string, temperature float64, systemPrompt string) *LLMProcessor {
	return &LLMProcessor{
		gateway:      gateway,
		model:        model,
		temperature:  temperature,
		systemPrompt: systemPrompt,
	}
}

// Process sends the batch as one numbered block and expects one output line
// per input line.
func (p *LLMProcessor) Process(ctx context.Context, batch []string) ([]string, error) {
	messages := []chat.Message{
		{Role: "system", Content: p.systemPrompt},
		{Role: "user", Content: strings.Join(batch, "\n")},
	}

	comp, err := p.gateway.Complete(ctx, messages, p.model, p.temperature, nil)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(comp.Choices[0].Message.Content), "\n")
	if len(lines) != len(batch) {
		return nil, fmt.Errorf("%w: expected %d lines, got %d", apierr.ErrValidation, len(batch), len(lines))
	}
	return lines, nil
}
