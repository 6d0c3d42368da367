// Package retrieval assembles ranked retrieval context for RAG answers.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/tripsense/ai/metrics"
	"github.com/hrygo/tripsense/ai/vector"
	"github.com/hrygo/tripsense/store"
)

// ErrContextUnavailable is returned when the query embedding cannot be
// obtained. An answer generated with silently-empty context is worse than
// surfacing the failure, so there is no empty-context fallback.
var ErrContextUnavailable = fmt.Errorf("context unavailable")

const (
	// DefaultMinScore is the minimum relevance for a retrieved snippet.
	DefaultMinScore = 0.5

	// snippetDescriptionCap bounds the description text per snippet.
	snippetDescriptionCap = 500

	// sourceSnippetCap bounds the short excerpt in a source descriptor.
	sourceSnippetCap = 200

	// maxUserMemories is how many recent facts form the preference snippet.
	maxUserMemories = 3

	// maxSuggestedActions bounds the derived navigation actions.
	maxSuggestedActions = 3
)

// Embedder is the query embedding dependency.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexProvider hands out the serving index, or an error while it is not
// ready. Implemented by *index.Manager.
type IndexProvider interface {
	Store() (*vector.Store, error)
}

// MemoryReader is the user-memory dependency. Implemented by
// *memory.Service.
type MemoryReader interface {
	GetMemories(ctx context.Context, userID int32, limit int) ([]*store.MemoryFact, error)
}

// Source describes one retrieved entity backing the assembled context.
type Source struct {
	EntityID   int32             `json:"entity_id"`
	EntityType vector.EntityType `json:"entity_type"`
	Title      string            `json:"title"`
	Score      float32           `json:"relevance_score"`
	Snippet    string            `json:"snippet,omitempty"`
}

// Action is a navigation suggestion derived from a source.
type Action struct {
	Type    string         `json:"action_type"`
	Label   string         `json:"label"`
	Payload map[string]any `json:"payload"`
}

// Context is the assembled retrieval context.
type Context struct {
	// Snippets is the ordered context: an optional user-preference snippet
	// first, then retrieved entity snippets by descending relevance.
	Snippets []string `json:"snippets"`

	// Sources parallels the retrieved entity snippets.
	Sources []Source `json:"sources"`

	// Actions are navigation suggestions for the top sources.
	Actions []Action `json:"suggested_actions"`
}

// Text renders the context as a single prompt block.
func (c *Context) Text() string {
	return strings.Join(c.Snippets, "\n\n")
}

// Assembler builds retrieval context from the index, the embedding
// gateway and the user memory service.
type Assembler struct {
	embedder Embedder
	index    IndexProvider
	memory   MemoryReader
	metrics  *metrics.Registry
	minScore float32
}

// NewAssembler creates a context assembler. A nil memory reader disables
// personalization.
func NewAssembler(embedder Embedder, index IndexProvider, memory MemoryReader, m *metrics.Registry) *Assembler {
	return &Assembler{
		embedder: embedder,
		index:    index,
		memory:   memory,
		metrics:  m,
		minScore: DefaultMinScore,
	}
}

// BuildContext turns a query into an ordered retrieval context.
//
// Failure semantics: embedding failure is ErrContextUnavailable; index
// errors (including ErrIndexNotReady) propagate; memory lookup failures
// degrade silently to "no preferences" since personalization is
// best-effort.
func (a *Assembler) BuildContext(ctx context.Context, query string, userID *int32, maxItems int) (*Context, error) {
	if maxItems <= 0 {
		maxItems = 5
	}

	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.metrics.IncContextBuild("embedding_error")
		return nil, fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}

	idx, err := a.index.Store()
	if err != nil {
		a.metrics.IncContextBuild("index_not_ready")
		return nil, err
	}

	searchStart := time.Now()
	hits, err := idx.Query(embedding, maxItems, a.minScore, nil)
	a.metrics.ObserveSearch(time.Since(searchStart))
	if err != nil {
		a.metrics.IncContextBuild("search_error")
		return nil, err
	}

	result := &Context{
		Snippets: make([]string, 0, len(hits)+1),
		Sources:  make([]Source, 0, len(hits)),
	}
	for _, hit := range hits {
		title := hit.Metadata["title"]
		if title == "" {
			title = fmt.Sprintf("%s #%d", hit.EntityType, hit.EntityID)
		}
		description := hit.Metadata["description"]

		result.Snippets = append(result.Snippets, fmt.Sprintf("[%s] %s: %s",
			strings.ToUpper(string(hit.EntityType)), title, truncate(description, snippetDescriptionCap)))
		result.Sources = append(result.Sources, Source{
			EntityID:   hit.EntityID,
			EntityType: hit.EntityType,
			Title:      title,
			Score:      hit.Score,
			Snippet:    truncate(description, sourceSnippetCap),
		})
	}

	// User preferences always come first in the assembled context.
	if userID != nil && a.memory != nil {
		if prefs := a.preferenceSnippet(ctx, *userID); prefs != "" {
			result.Snippets = append([]string{prefs}, result.Snippets...)
		}
	}

	result.Actions = suggestedActions(result.Sources)

	a.metrics.IncContextBuild("ok")
	return result, nil
}

func (a *Assembler) preferenceSnippet(ctx context.Context, userID int32) string {
	facts, err := a.memory.GetMemories(ctx, userID, maxUserMemories)
	if err != nil {
		slog.Warn("failed to fetch user memories, skipping preferences", "user_id", userID, "error", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	lines := make([]string, 0, len(facts)+1)
	lines = append(lines, "[USER PREFERENCES]")
	for _, f := range facts {
		lines = append(lines, "- "+f.Content)
	}
	return strings.Join(lines, "\n")
}

func suggestedActions(sources []Source) []Action {
	actions := make([]Action, 0, maxSuggestedActions)
	for _, src := range sources {
		if len(actions) >= maxSuggestedActions {
			break
		}
		actions = append(actions, Action{
			Type:  "navigate",
			Label: "View " + src.Title,
			Payload: map[string]any{
				"screen": titleCase(string(src.EntityType)) + "Detail",
				"id":     src.EntityID,
			},
		})
	}
	return actions
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}
