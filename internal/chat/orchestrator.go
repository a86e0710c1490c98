// Package chat composes title resolution, retrieval augmentation, backend
// dispatch, and persistence into one request/response cycle, and converts
// every failure into a normalized envelope the UI can render.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/retrieval"
	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/pkg/types"
)

// DefaultSystemPrompt applies when the user has no stored prompt selected.
const DefaultSystemPrompt = `You are a helpful AI assistant. Follow these rules:
1. Do not generate additional questions or conversation turns
2. Respond only to the current question
3. Stop immediately once you've sufficiently answered the question
Remember: Be direct and stay focused on the current question only.`

// persistTimeout bounds the persistence step, which runs on a detached
// context so a cancelled turn still gets recorded.
const persistTimeout = 15 * time.Second

// Gateway is the persistence surface the orchestrator needs.
type Gateway interface {
	EnsureUser(ctx context.Context, user types.User) error
	GetUserSettings(ctx context.Context, userID string) (*types.UserSettings, error)
	GetUserPrompt(ctx context.Context, userID, promptID string) (string, error)
	GetConversationTitle(ctx context.Context, userID string, conversationID int64) (string, error)
	AddConversation(ctx context.Context, userID, title string) (int64, error)
	AddMessage(ctx context.Context, userID string, conversationID int64, role types.Role, content, reasoning, collectionID string) (int64, error)
	AddRetrievedData(ctx context.Context, messageID int64, result *types.RetrievalResult) error
	GetCollectionName(ctx context.Context, collectionID string) (string, error)
}

// Retriever queries the external knowledge store.
type Retriever interface {
	Augment(ctx context.Context, query string, user types.User, collectionID, collectionName string) (*types.RetrievalResult, error)
}

// TitleGenerator produces a conversation title from the opening user turn.
type TitleGenerator interface {
	Generate(ctx context.Context, lastUserText, userID, model string) (string, error)
}

// Resolver maps a configured provider key to a backend adapter.
type Resolver interface {
	Resolve(key string) (llm.Adapter, error)
}

// Request is one chat invocation from the UI.
type Request struct {
	Messages       []types.Message
	User           types.User
	ConversationID int64  // 0 means no conversation exists yet
	Title          string // optional explicit title
	CollectionID   string // optional knowledge-store collection
	Sink           ui.Sink
}

// Orchestrator is the top-level request coordinator.
type Orchestrator struct {
	store     Gateway
	registry  Resolver
	retriever Retriever
	titles    TitleGenerator
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(store Gateway, registry Resolver, retriever Retriever, titles TitleGenerator) *Orchestrator {
	return &Orchestrator{
		store:     store,
		registry:  registry,
		retriever: retriever,
		titles:    titles,
	}
}

// HandleChatRequest runs one request/response cycle. It never returns an
// error: the two retrieval failure classes short-circuit into their specific
// envelopes, and every other failure collapses into the generic envelope.
// Failure detail is logged, not surfaced in chat content.
func (o *Orchestrator) HandleChatRequest(ctx context.Context, req *Request) *types.ChatEnvelope {
	requestID := uuid.NewString()
	logger := log.With().
		Str("request_id", requestID).
		Str("user_id", req.User.ID).
		Int64("conversation_id", req.ConversationID).
		Logger()

	env, err := o.handle(ctx, req, logger)
	if err != nil {
		logger.Error().Err(err).Msg("chat request failed")
		return errorEnvelope(req.Messages, TitleNeedAPIKey, genericFailureContent)
	}
	return env
}

// handle runs the request steps in order. Returned envelopes are terminal;
// returned errors fall to the caller's generic boundary.
func (o *Orchestrator) handle(ctx context.Context, req *Request, logger zerolog.Logger) (*types.ChatEnvelope, error) {
	lastUserText := types.LastUserText(req.Messages)

	if err := o.store.EnsureUser(ctx, req.User); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	settings, err := o.store.GetUserSettings(ctx, req.User.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve settings: %w", err)
	}

	// Title resolution, attempt 1: generate one for brand-new conversations.
	// Generator failure just leaves the title unresolved; the stored-title
	// and truncation fallbacks below cover it.
	title := req.Title
	if req.ConversationID == 0 && title == "" && o.titles != nil {
		generated, err := o.titles.Generate(ctx, lastUserText, req.User.ID, settings.Model)
		if err != nil {
			logger.Warn().Err(err).Msg("title generation failed, falling back")
		} else {
			title = generated
		}
	}

	// Retrieval. Both failure classes short-circuit the whole request.
	var retrieved *types.RetrievalResult
	if req.CollectionID != "" {
		retrieved, err = o.augment(ctx, req, lastUserText, logger)
		if err != nil {
			var rerr *retrieval.Error
			if errors.As(err, &rerr) && rerr.Kind == retrieval.KindUnauthorized {
				logger.Warn().Msg("retrieval unauthorized, short-circuiting")
				return errorEnvelope(req.Messages, TitleNeedAPIKey, unauthorizedContent()), nil
			}
			logger.Error().Err(err).Msg("retrieval failed, short-circuiting")
			return errorEnvelope(req.Messages, TitleVectorStoreError,
				fmt.Sprintf("Error in vector store query: %v", err)), nil
		}
	}

	// Title resolution, attempts 2 and 3: stored title, then truncation.
	conversationID := req.ConversationID
	if title == "" && conversationID != 0 {
		stored, err := o.store.GetConversationTitle(ctx, req.User.ID, conversationID)
		if err != nil {
			return nil, fmt.Errorf("lookup stored title: %w", err)
		}
		title = stored
	}
	if title == "" {
		title = TruncateTitle(lastUserText)
	}

	if conversationID == 0 {
		conversationID, err = o.store.AddConversation(ctx, req.User.ID, title)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		logger.Debug().Int64("conversation_id", conversationID).Str("title", title).
			Msg("conversation created")
	}

	// System prompt: the user's configured prompt, else the default.
	prompt := DefaultSystemPrompt
	if settings.PromptID != "" {
		stored, err := o.store.GetUserPrompt(ctx, req.User.ID, settings.PromptID)
		if err != nil {
			return nil, fmt.Errorf("lookup prompt: %w", err)
		}
		if stored != "" {
			prompt = stored
		}
	}

	adapter, err := o.registry.Resolve(settings.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider %q: %w", settings.Provider, err)
	}

	temperature := settings.Temperature
	if temperature == 0 {
		temperature = types.DefaultTemperature
	}

	resp, err := adapter.Invoke(ctx, &llm.InvokeRequest{
		Messages:       req.Messages,
		User:           req.User,
		Settings:       llm.Settings{Model: settings.Model, Temperature: temperature},
		SystemPrompt:   prompt,
		ConversationID: conversationID,
		Title:          title,
		CollectionID:   req.CollectionID,
		Retrieval:      retrieved,
		Sink:           req.Sink,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", adapter.Name(), err)
	}
	if resp.Aborted {
		logger.Info().Msg("provider call aborted by caller, persisting partial turn")
	}

	if err := o.persist(ctx, req, conversationID, lastUserText, resp, retrieved); err != nil {
		return nil, err
	}

	return assembleEnvelope(conversationID, title, resp, retrieved), nil
}

// augment resolves the collection name and queries the knowledge store.
func (o *Orchestrator) augment(ctx context.Context, req *Request, query string, logger zerolog.Logger) (*types.RetrievalResult, error) {
	collectionName, err := o.store.GetCollectionName(ctx, req.CollectionID)
	if err != nil {
		logger.Warn().Err(err).Msg("collection name lookup failed, querying by id only")
		collectionName = ""
	}

	result, err := o.retriever.Augment(ctx, query, req.User, req.CollectionID, collectionName)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("top_k", result.TopK).Msg("retrieval succeeded")
	return result, nil
}

// persist records the user turn, the assistant turn, and the retrieval
// payload. It runs on a detached context so a cancelled request still gets
// its partial turn recorded. "Already recorded" failures are swallowed by
// the gateway; everything else propagates.
func (o *Orchestrator) persist(ctx context.Context, req *Request, conversationID int64, userText string, resp *types.ProviderResponse, retrieved *types.RetrievalResult) error {
	pctx, cancel := logging.DetachContextWithTimeout(ctx, persistTimeout)
	defer cancel()

	if _, err := o.store.AddMessage(pctx, req.User.ID, conversationID, types.RoleUser, userText, "", req.CollectionID); err != nil {
		return fmt.Errorf("record user turn: %w", err)
	}

	assistantID, err := o.store.AddMessage(pctx, req.User.ID, conversationID, types.RoleAssistant, resp.Content, resp.Reasoning, req.CollectionID)
	if err != nil {
		return fmt.Errorf("record assistant turn: %w", err)
	}

	if retrieved != nil {
		if err := o.store.AddRetrievedData(pctx, assistantID, retrieved); err != nil {
			return fmt.Errorf("record retrieval payload: %w", err)
		}
	}

	return nil
}

// assembleEnvelope copies the adapter's messages, stamps reasoning and
// serialized retrieval data onto the assistant turn, and attaches the
// resolved title.
func assembleEnvelope(conversationID int64, title string, resp *types.ProviderResponse, retrieved *types.RetrievalResult) *types.ChatEnvelope {
	messages := make([]types.Message, len(resp.Messages))
	copy(messages, resp.Messages)

	dataContent := retrieved.Serialize()
	for i := range messages {
		if messages[i].Role != types.RoleAssistant {
			continue
		}
		if messages[i].Reasoning == "" {
			messages[i].Reasoning = resp.Reasoning
		}
	}
	if len(messages) > 0 && messages[len(messages)-1].Role == types.RoleAssistant {
		messages[len(messages)-1].DataContent = dataContent
	}

	return &types.ChatEnvelope{
		ID:               conversationID,
		Messages:         messages,
		Title:            title,
		DataContent:      dataContent,
		ReasoningContent: resp.Reasoning,
		Aborted:          resp.Aborted,
	}
}
