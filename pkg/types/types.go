// Package types defines shared types used across all Parley modules.
package types

import (
	"encoding/json"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TOKEN ESTIMATION
// ═══════════════════════════════════════════════════════════════════════════════

// CharsPerToken is the heuristic for token estimation (~4 chars per token).
// This is a common approximation for English text with LLM tokenizers.
const CharsPerToken = 4

// EstimateTokens provides a rough token estimate for a given text.
func EstimateTokens(text string) int {
	return len(text) / CharsPerToken
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONVERSATION TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation turn. Ordering is conversation-sequential;
// the last element of a request's message slice is treated as the current turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`

	// DataContent carries serialized retrieval context attached to the turn.
	DataContent string `json:"data_content,omitempty"`
}

// LastUserText returns the content of the last user turn in msgs, or the
// content of the final message when no user turn exists.
func LastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	if len(msgs) > 0 {
		return msgs[len(msgs)-1].Content
	}
	return ""
}

// User identifies the requesting account. Immutable for orchestration purposes.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation is a persisted chat thread. The ID is assigned by the
// persistence layer on the first turn and reused thereafter.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTemperature applies when user settings carry no temperature.
const DefaultTemperature = 0.5

// UserSettings holds the per-user model selection.
type UserSettings struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	PromptID    string  `json:"prompt_id"`
	Temperature float64 `json:"temperature"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// RETRIEVAL TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// RetrievedChunk is one passage returned by the knowledge store.
type RetrievedChunk struct {
	Content  string `json:"content"`
	Metadata string `json:"metadata"`
}

// RetrievalResult is the knowledge-store payload attached to an assistant turn.
// TopK always equals len(Results).
type RetrievalResult struct {
	TopK    int              `json:"top_k"`
	Results []RetrievedChunk `json:"results"`
}

// NewRetrievalResult builds a result whose TopK matches the chunk count.
func NewRetrievalResult(chunks []RetrievedChunk) *RetrievalResult {
	return &RetrievalResult{TopK: len(chunks), Results: chunks}
}

// Serialize renders the result as the data_content wire form.
func (r *RetrievalResult) Serialize() string {
	if r == nil {
		return ""
	}
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// ═══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ═══════════════════════════════════════════════════════════════════════════════

// ProviderResponse is what a backend adapter returns from one invocation:
// the updated message sequence including the new assistant turn. Aborted is
// set instead of an error when the caller cancelled mid-generation.
type ProviderResponse struct {
	ID        int64     `json:"id"`
	Messages  []Message `json:"messages"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Reasoning string    `json:"reasoning,omitempty"`
	Aborted   bool      `json:"aborted"`
}

// ErrorConversationID marks a response that did not result in a persisted
// conversation turn.
const ErrorConversationID = -1

// ChatEnvelope is the normalized response returned to the UI. Error paths
// reuse the same shape with ID set to ErrorConversationID.
type ChatEnvelope struct {
	ID               int64     `json:"id"`
	Messages         []Message `json:"messages"`
	Title            string    `json:"title"`
	DataContent      string    `json:"data_content,omitempty"`
	ReasoningContent string    `json:"reasoning_content,omitempty"`
	Aborted          bool      `json:"aborted,omitempty"`
	Error            bool      `json:"error,omitempty"`
}

// IsError reports whether the envelope is the degraded error form.
func (e *ChatEnvelope) IsError() bool {
	return e.Error || e.ID == ErrorConversationID
}
