package data

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/parleyhq/parley/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// USERS AND SETTINGS
// ═══════════════════════════════════════════════════════════════════════════════

// EnsureUser records the user if it is not already known.
func (s *Store) EnsureUser(ctx context.Context, user types.User) error {
	if user.ID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		user.ID, user.Name)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUserSettings returns the stored settings for a user. Users without a
// settings row get usable defaults (no provider selected, temperature 0.5).
func (s *Store) GetUserSettings(ctx context.Context, userID string) (*types.UserSettings, error) {
	var settings types.UserSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, model, prompt_id, temperature
		 FROM user_settings WHERE user_id = ?`, userID).
		Scan(&settings.Provider, &settings.Model, &settings.PromptID, &settings.Temperature)

	if errors.Is(err, sql.ErrNoRows) {
		return &types.UserSettings{Temperature: types.DefaultTemperature}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user settings: %w", err)
	}

	if settings.Temperature == 0 {
		settings.Temperature = types.DefaultTemperature
	}
	return &settings, nil
}

// SaveUserSettings stores the user's model selection.
func (s *Store) SaveUserSettings(ctx context.Context, userID string, settings *types.UserSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, provider, model, prompt_id, temperature)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   provider = excluded.provider,
		   model = excluded.model,
		   prompt_id = excluded.prompt_id,
		   temperature = excluded.temperature`,
		userID, settings.Provider, settings.Model, settings.PromptID, settings.Temperature)
	if err != nil {
		return fmt.Errorf("save user settings: %w", err)
	}
	return nil
}

// GetUserPrompt returns the content of a stored system prompt, or "" when the
// prompt does not exist.
func (s *Store) GetUserPrompt(ctx context.Context, userID, promptID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM prompts WHERE id = ? AND user_id = ?`, promptID, userID).
		Scan(&content)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query prompt: %w", err)
	}
	return content, nil
}

// SaveUserPrompt stores a reusable system prompt for a user.
func (s *Store) SaveUserPrompt(ctx context.Context, userID, promptID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (id, user_id, content) VALUES (?, ?, ?)
		 ON CONFLICT(id, user_id) DO UPDATE SET content = excluded.content`,
		promptID, userID, content)
	if err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// COLLECTIONS
// ═══════════════════════════════════════════════════════════════════════════════

// GetCollectionName resolves a collection id to its display name, or "" when
// the collection is unknown locally.
func (s *Store) GetCollectionName(ctx context.Context, collectionID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM collections WHERE id = ?`, collectionID).Scan(&name)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query collection: %w", err)
	}
	return name, nil
}

// SaveCollection records a known knowledge-store collection.
func (s *Store) SaveCollection(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		id, name)
	if err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONVERSATIONS AND MESSAGES
// ═══════════════════════════════════════════════════════════════════════════════

// AddConversation creates a conversation and returns its store-assigned id.
func (s *Store) AddConversation(ctx context.Context, userID, title string) (int64, error) {
	if title == "" {
		return 0, fmt.Errorf("conversation title cannot be empty")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		userID, title, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversation id: %w", err)
	}
	return id, nil
}

// GetConversationTitle returns the stored title for a user's conversation,
// or "" when the conversation does not exist.
func (s *Store) GetConversationTitle(ctx context.Context, userID string, conversationID int64) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx,
		`SELECT title FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID).Scan(&title)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query conversation title: %w", err)
	}
	return title, nil
}

// AddMessage records a conversation turn and returns its message id.
//
// The write is idempotent: an identical retry for the same
// (conversation, role, content) hits the unique guard and resolves to the
// already-written row's id instead of failing. Every other failure
// propagates.
func (s *Store) AddMessage(ctx context.Context, userID string, conversationID int64, role types.Role, content, reasoning, collectionID string) (int64, error) {
	if conversationID <= 0 {
		return 0, fmt.Errorf("conversation id must be assigned before recording turns")
	}

	sha := contentSHA(content)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, reasoning, collection_id, content_sha, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, string(role), content, reasoning, collectionID, sha, time.Now().UTC())

	if err != nil {
		if classified := classifyConstraint(err); errors.Is(classified, ErrDuplicate) {
			return s.findMessage(ctx, conversationID, role, sha)
		}
		return 0, fmt.Errorf("insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}

	// Bump the conversation's activity timestamp; failure here is not worth
	// failing the turn for.
	s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ? AND user_id = ?`,
		time.Now().UTC(), conversationID, userID)

	return id, nil
}

// findMessage resolves the id of an already-recorded turn.
func (s *Store) findMessage(ctx context.Context, conversationID int64, role types.Role, sha string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM messages
		 WHERE conversation_id = ? AND role = ? AND content_sha = ?`,
		conversationID, string(role), sha).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("find message: %w", err)
	}
	return id, nil
}

// AddRetrievedData attaches a retrieval payload to the assistant turn it
// informed. Re-recording against the same message is a no-op.
func (s *Store) AddRetrievedData(ctx context.Context, messageID int64, result *types.RetrievalResult) error {
	if result == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retrieved_data (message_id, top_k, payload, created_at)
		 VALUES (?, ?, ?, ?)`,
		messageID, result.TopK, result.Serialize(), time.Now().UTC())

	if err != nil {
		if classified := classifyConstraint(err); errors.Is(classified, ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("insert retrieved data: %w", err)
	}
	return nil
}

// GetMessages returns a conversation's turns in conversation order.
func (s *Store) GetMessages(ctx context.Context, conversationID int64) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, reasoning, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Reasoning, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = types.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// contentSHA is the idempotency key for a turn's content.
func contentSHA(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
