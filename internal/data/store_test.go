package data

import (
	"context"
	"testing"

	"github.com/parleyhq/parley/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnsureUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("empty id rejected", func(t *testing.T) {
		if err := store.EnsureUser(ctx, types.User{}); err == nil {
			t.Fatal("expected error for empty user id")
		}
	})

	t.Run("idempotent upsert", func(t *testing.T) {
		user := types.User{ID: "u1", Name: "Alice"}
		if err := store.EnsureUser(ctx, user); err != nil {
			t.Fatalf("first EnsureUser: %v", err)
		}
		user.Name = "Alice B"
		if err := store.EnsureUser(ctx, user); err != nil {
			t.Fatalf("second EnsureUser: %v", err)
		}
	})
}

func TestUserSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureUser(ctx, types.User{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	t.Run("defaults when no row", func(t *testing.T) {
		settings, err := store.GetUserSettings(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUserSettings: %v", err)
		}
		if settings.Provider != "" {
			t.Errorf("expected empty provider, got %q", settings.Provider)
		}
		if settings.Temperature != types.DefaultTemperature {
			t.Errorf("expected default temperature %v, got %v", types.DefaultTemperature, settings.Temperature)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		want := &types.UserSettings{Provider: "ollama", Model: "llama3", Temperature: 0.7}
		if err := store.SaveUserSettings(ctx, "u1", want); err != nil {
			t.Fatalf("SaveUserSettings: %v", err)
		}

		got, err := store.GetUserSettings(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUserSettings: %v", err)
		}
		if got.Provider != want.Provider || got.Model != want.Model || got.Temperature != want.Temperature {
			t.Errorf("settings mismatch: got %+v, want %+v", got, want)
		}
	})

	t.Run("zero temperature replaced with default", func(t *testing.T) {
		if err := store.SaveUserSettings(ctx, "u1", &types.UserSettings{Provider: "openai"}); err != nil {
			t.Fatalf("SaveUserSettings: %v", err)
		}
		got, err := store.GetUserSettings(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUserSettings: %v", err)
		}
		if got.Temperature != types.DefaultTemperature {
			t.Errorf("expected default temperature, got %v", got.Temperature)
		}
	})
}

func TestPrompts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureUser(ctx, types.User{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	t.Run("missing prompt returns empty", func(t *testing.T) {
		content, err := store.GetUserPrompt(ctx, "u1", "nope")
		if err != nil {
			t.Fatalf("GetUserPrompt: %v", err)
		}
		if content != "" {
			t.Errorf("expected empty content, got %q", content)
		}
	})

	t.Run("save and fetch", func(t *testing.T) {
		if err := store.SaveUserPrompt(ctx, "u1", "p1", "Be terse."); err != nil {
			t.Fatalf("SaveUserPrompt: %v", err)
		}
		content, err := store.GetUserPrompt(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("GetUserPrompt: %v", err)
		}
		if content != "Be terse." {
			t.Errorf("got %q", content)
		}
	})
}

func TestConversationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureUser(ctx, types.User{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	t.Run("empty title rejected", func(t *testing.T) {
		if _, err := store.AddConversation(ctx, "u1", ""); err == nil {
			t.Fatal("expected error for empty title")
		}
	})

	convID, err := store.AddConversation(ctx, "u1", "Quantum chat")
	if err != nil {
		t.Fatalf("AddConversation: %v", err)
	}
	if convID <= 0 {
		t.Fatalf("expected positive conversation id, got %d", convID)
	}

	t.Run("title lookup", func(t *testing.T) {
		title, err := store.GetConversationTitle(ctx, "u1", convID)
		if err != nil {
			t.Fatalf("GetConversationTitle: %v", err)
		}
		if title != "Quantum chat" {
			t.Errorf("got %q", title)
		}
	})

	t.Run("unknown conversation returns empty title", func(t *testing.T) {
		title, err := store.GetConversationTitle(ctx, "u1", 9999)
		if err != nil {
			t.Fatalf("GetConversationTitle: %v", err)
		}
		if title != "" {
			t.Errorf("expected empty title, got %q", title)
		}
	})
}

func TestAddMessageIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureUser(ctx, types.User{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	convID, err := store.AddConversation(ctx, "u1", "Retries")
	if err != nil {
		t.Fatalf("AddConversation: %v", err)
	}

	t.Run("unassigned conversation rejected", func(t *testing.T) {
		if _, err := store.AddMessage(ctx, "u1", 0, types.RoleUser, "hi", "", ""); err == nil {
			t.Fatal("expected error for conversation id 0")
		}
	})

	t.Run("identical retry resolves to same id", func(t *testing.T) {
		first, err := store.AddMessage(ctx, "u1", convID, types.RoleUser, "hello", "", "")
		if err != nil {
			t.Fatalf("first AddMessage: %v", err)
		}
		second, err := store.AddMessage(ctx, "u1", convID, types.RoleUser, "hello", "", "")
		if err != nil {
			t.Fatalf("retried AddMessage: %v", err)
		}
		if first != second {
			t.Errorf("retry returned id %d, want %d", second, first)
		}

		msgs, err := store.GetMessages(ctx, convID)
		if err != nil {
			t.Fatalf("GetMessages: %v", err)
		}
		if len(msgs) != 1 {
			t.Errorf("expected 1 stored message, got %d", len(msgs))
		}
	})

	t.Run("same content different role is distinct", func(t *testing.T) {
		userID, err := store.AddMessage(ctx, "u1", convID, types.RoleUser, "ok", "", "")
		if err != nil {
			t.Fatalf("user AddMessage: %v", err)
		}
		asstID, err := store.AddMessage(ctx, "u1", convID, types.RoleAssistant, "ok", "", "")
		if err != nil {
			t.Fatalf("assistant AddMessage: %v", err)
		}
		if userID == asstID {
			t.Error("expected distinct ids for distinct roles")
		}
	})
}

func TestAddRetrievedData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureUser(ctx, types.User{ID: "u1"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	convID, err := store.AddConversation(ctx, "u1", "Docs")
	if err != nil {
		t.Fatalf("AddConversation: %v", err)
	}
	msgID, err := store.AddMessage(ctx, "u1", convID, types.RoleAssistant, "answer", "", "c1")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	result := types.NewRetrievalResult([]types.RetrievedChunk{
		{Content: "chunk one", Metadata: "doc.pdf"},
		{Content: "chunk two", Metadata: "doc.pdf"},
	})

	if err := store.AddRetrievedData(ctx, msgID, result); err != nil {
		t.Fatalf("AddRetrievedData: %v", err)
	}

	t.Run("duplicate is a no-op", func(t *testing.T) {
		if err := store.AddRetrievedData(ctx, msgID, result); err != nil {
			t.Fatalf("retried AddRetrievedData: %v", err)
		}
	})

	t.Run("nil result is a no-op", func(t *testing.T) {
		if err := store.AddRetrievedData(ctx, msgID, nil); err != nil {
			t.Fatalf("nil AddRetrievedData: %v", err)
		}
	})
}

func TestCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("unknown collection returns empty name", func(t *testing.T) {
		name, err := store.GetCollectionName(ctx, "missing")
		if err != nil {
			t.Fatalf("GetCollectionName: %v", err)
		}
		if name != "" {
			t.Errorf("expected empty name, got %q", name)
		}
	})

	t.Run("save and resolve", func(t *testing.T) {
		if err := store.SaveCollection(ctx, "c1", "Project Docs"); err != nil {
			t.Fatalf("SaveCollection: %v", err)
		}
		name, err := store.GetCollectionName(ctx, "c1")
		if err != nil {
			t.Fatalf("GetCollectionName: %v", err)
		}
		if name != "Project Docs" {
			t.Errorf("got %q", name)
		}
	})
}

func TestHealth(t *testing.T) {
	store := newTestStore(t)
	if err := store.Health(); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
