// Package retrieval queries the external knowledge store for context relevant
// to the current user turn and classifies its failures.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/pkg/types"
)

// maxErrorBodySize limits how much error response body we read (1MB).
const maxErrorBodySize = 1 * 1024 * 1024

// ErrorKind separates the two expected failure classes of a store query.
type ErrorKind int

const (
	// KindGeneric is any retrieval failure without a more specific class.
	KindGeneric ErrorKind = iota
	// KindUnauthorized is a credential/synchronization mismatch between
	// local and remote trust material.
	KindUnauthorized
)

// Error is a classified retrieval failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Augmenter queries the vector-store service over HTTP.
type Augmenter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewAugmenter creates an augmenter for the given store endpoint.
func NewAugmenter(endpoint, apiKey string, timeout time.Duration) *Augmenter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Augmenter{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Query          string `json:"query"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	CollectionID   string `json:"collection_id"`
	CollectionName string `json:"collection_name"`
}

type queryResponse struct {
	Status  string                 `json:"status,omitempty"`
	Message string                 `json:"message,omitempty"`
	Results []types.RetrievedChunk `json:"results"`
}

// Augment runs one store query for the latest user turn. On success the
// returned result's TopK equals the exact count of returned passages; no
// independent top-k parameter is honored beyond what the store returns.
// Failures are returned as *Error with a kind the caller can dispatch on.
func (a *Augmenter) Augment(ctx context.Context, query string, user types.User, collectionID, collectionName string) (*types.RetrievalResult, error) {
	body, err := json.Marshal(queryRequest{
		Query:          query,
		UserID:         user.ID,
		UserName:       user.Name,
		CollectionID:   collectionID,
		CollectionName: collectionName,
	})
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Message: fmt.Sprintf("marshal query: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/api/query", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Message: fmt.Sprintf("vector store unreachable: %v", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		log.Warn().Int("status", resp.StatusCode).Str("detail", string(detail)).
			Msg("vector store rejected credentials")
		return nil, &Error{Kind: KindUnauthorized, Message: "vector store authorization failed"}
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &Error{
			Kind:    KindGeneric,
			Message: fmt.Sprintf("vector store error (status %d): %s", resp.StatusCode, detail),
		}
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, &Error{Kind: KindGeneric, Message: fmt.Sprintf("decode response: %v", err)}
	}

	// Some store builds report errors in-band with a 200.
	if qr.Status == "error" {
		return nil, &Error{Kind: KindGeneric, Message: qr.Message}
	}

	return types.NewRetrievalResult(qr.Results), nil
}
