package chat

import (
	"fmt"
	"runtime"
	"time"

	"github.com/parleyhq/parley/pkg/types"
)

// Reserved user-facing labels. The generic catch-all and the retrieval
// authorization failure share a title on purpose; their contents differ.
const (
	TitleNeedAPIKey       = "Need API Key"
	TitleVectorStoreError = "Error in vectorstore query"
)

// genericFailureContent is the deliberately non-specific message for every
// unclassified failure. Internal detail goes to the log sink, never here.
const genericFailureContent = "To start chatting, add an API key for your model provider and select a model in Settings."

// vectorStoreLogPath names the knowledge-store service log for the host
// operating system.
func vectorStoreLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "~/Library/Logs/Parley/vectorstore.log"
	case "windows":
		return `%LOCALAPPDATA%\Parley\logs\vectorstore.log`
	default:
		return "~/.parley/logs/vectorstore.log"
	}
}

// unauthorizedContent is the fixed remediation message for a credential
// mismatch between local and remote trust material.
func unauthorizedContent() string {
	return fmt.Sprintf(`The knowledge store rejected this request. Your local credentials are out of sync with the store.

To fix this:
1. Restart the application so the credentials resynchronize.
2. If the problem remains, inspect the store service log at %s.
3. Still stuck? File an issue and attach that log.`, vectorStoreLogPath())
}

// errorEnvelope builds the degraded response: the original messages plus one
// synthetic assistant turn carrying the given content. It is never persisted.
func errorEnvelope(messages []types.Message, title, content string) *types.ChatEnvelope {
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, messages...)
	out = append(out, types.Message{
		Role:      types.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})

	return &types.ChatEnvelope{
		ID:       types.ErrorConversationID,
		Messages: out,
		Title:    title,
		Error:    true,
	}
}

// TruncateTitle derives a fallback title from the first 20 characters of the
// latest user message.
func TruncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= 20 {
		return text
	}
	return string(runes[:20])
}
