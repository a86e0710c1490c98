// Package title generates short conversation titles from the first user turn.
package title

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/pkg/types"
)

// generationPrompt constrains the model to a bare title.
const generationPrompt = `Write a short title (at most five words) for a conversation that starts with the user message below. Respond with the title only, no quotes, no punctuation at the end.`

// maxTitleLen bounds a generated title.
const maxTitleLen = 60

// Generator produces conversation titles with one small model call.
type Generator struct {
	adapter llm.Adapter
	timeout time.Duration
}

// NewGenerator builds a generator around an adapter.
func NewGenerator(adapter llm.Adapter) *Generator {
	return &Generator{adapter: adapter, timeout: 20 * time.Second}
}

// Generate returns a title for the conversation opened by lastUserText.
func (g *Generator) Generate(ctx context.Context, lastUserText, userID, model string) (string, error) {
	if g.adapter == nil {
		return "", fmt.Errorf("no title model configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.adapter.Invoke(ctx, &llm.InvokeRequest{
		Messages: []types.Message{
			{Role: types.RoleUser, Content: lastUserText},
		},
		User:         types.User{ID: userID},
		Settings:     llm.Settings{Model: model, Temperature: 0.2, MaxTokens: 32},
		SystemPrompt: generationPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}
	if resp.Aborted {
		return "", fmt.Errorf("title generation aborted")
	}

	return Clean(resp.Content), nil
}

// Clean normalizes raw model output into a usable title.
func Clean(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.Trim(t, `"'`)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)
	if len(t) > maxTitleLen {
		t = strings.TrimSpace(t[:maxTitleLen])
	}
	return t
}
