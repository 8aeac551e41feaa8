package llm

import (
	"context"
	"fmt"
	"strings"
)

const titlePrompt = "Write a short title (at most five words) for a conversation that starts with the message below. Reply with the title only, no quotes or punctuation around it."

// Title asks the provider for a display name summarizing the first
// exchange of a conversation. The result is a single sanitized line.
func Title(ctx context.Context, p Provider, model, firstMessage string) (string, error) {
	resp, err := p.Chat(ctx, &Request{
		Model:     model,
		System:    titlePrompt,
		MaxTokens: 64,
		Messages:  []Message{{Role: RoleUser, Content: firstMessage}},
	})
	if err != nil {
		return "", fmt.Errorf("title request: %w", err)
	}
	title := sanitizeTitle(resp.Content)
	if title == "" {
		return "", fmt.Errorf("empty title from provider")
	}
	return title, nil
}

func sanitizeTitle(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if len(s) > 64 {
		s = strings.TrimSpace(s[:64])
	}
	return s
}
