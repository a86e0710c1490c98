// Package subagent makes the web-fetch decision: one constrained model call
// whose structured output says whether fetching an external resource would
// help answer the current query.
package subagent

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/internal/webfetch"
	"github.com/parleyhq/parley/pkg/types"
)

// DecisionPrompt is the system instruction for the constrained call. The
// backend must emit exactly one of the two canonical JSON shapes and nothing
// else.
const DecisionPrompt = `You decide whether fetching a web page would help answer the user's latest question.
Respond with exactly one of these two JSON objects and no other text:
{"webUrl": 1, "url": "<absolute http(s) URL to fetch>"}
{"webUrl": 0, "url": ""}`

// NoFetchContent is the degraded context used when no fetch happened or the
// fetch failed.
const NoFetchContent = "no search was needed or the search failed"

// Decision is the canonical structured output.
type Decision struct {
	WebURL int    `json:"webUrl"`
	URL    string `json:"url"`
}

// noFetch is the safe default substituted on any parse or validation failure.
func noFetch() Decision {
	return Decision{WebURL: 0, URL: ""}
}

// Completer is the constrained model call the router issues. Implemented by
// provider adapters.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, messages []types.Message) (string, error)
}

// Router runs the decision call and, when told to, fetches the resource.
type Router struct {
	completer Completer
	fetcher   *webfetch.Fetcher
}

// NewRouter builds a router around a completer and fetcher.
func NewRouter(completer Completer, fetcher *webfetch.Fetcher) *Router {
	return &Router{completer: completer, fetcher: fetcher}
}

// Route decides whether to fetch, fetches if so, and returns context text for
// the main completion. It never fails the enclosing chat request: decision
// failures default to no fetch, and fetch failures degrade to NoFetchContent
// with an informational notice on the sink.
func (r *Router) Route(ctx context.Context, messages []types.Message, sink ui.Sink) string {
	raw, err := r.completer.Complete(ctx, DecisionPrompt, messages)
	if err != nil {
		log.Warn().Err(err).Msg("sub-agent decision call failed, skipping fetch")
		return NoFetchContent
	}

	decision := ParseDecision(raw)
	if decision.WebURL != 1 {
		return NoFetchContent
	}

	page, err := r.fetcher.Fetch(ctx, decision.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", decision.URL).Msg("sub-agent fetch failed")
		ui.Notice(sink, "Web search failed; answering without it.")
		return NoFetchContent
	}

	return page.Summary()
}

// ParseDecision validates raw model output against the strict schema. The
// trimmed text must be exactly one JSON object with the canonical fields;
// any deviation (extra prose, unknown keys, out-of-range values, a relative
// or non-http URL) yields the safe no-fetch default instead of an error.
func ParseDecision(raw string) Decision {
	trimmed := strings.TrimSpace(raw)

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var d Decision
	if err := dec.Decode(&d); err != nil {
		return noFetch()
	}
	// Reject trailing content after the object.
	if dec.More() {
		return noFetch()
	}

	switch d.WebURL {
	case 0:
		if d.URL != "" {
			return noFetch()
		}
		return d
	case 1:
		u, err := url.Parse(d.URL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return noFetch()
		}
		return d
	default:
		return noFetch()
	}
}
