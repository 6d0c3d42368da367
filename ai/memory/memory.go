// Package memory provides the dual-tier session memory service: a durable
// fact store as the primary tier and a bounded in-process fallback tier.
package memory

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/tripsense/store"
)

// MaxSessionTurns bounds the stored turn sequence per session. On overflow
// the oldest turns are dropped first; truncation is not reversible.
const MaxSessionTurns = 50

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation turn within a session.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FactStore is the durable tier consumed by the service.
// Implemented by *store.Store.
type FactStore interface {
	CreateMemoryFact(ctx context.Context, create *store.MemoryFact) (*store.MemoryFact, error)
	ListMemoryFacts(ctx context.Context, find *store.FindMemoryFact) ([]*store.MemoryFact, error)
}

// Service is the session memory service.
//
// Tier precedence is fixed: whichever tier is authoritative for writes is
// also authoritative for reads, and the tiers are never merged. Facts
// written to the volatile tier while the durable tier is down are not
// promoted once it recovers; that gap is accepted and documented.
//
// Conversation turns live only in the volatile tier: durable persistence
// of full transcripts is out of scope for this service.
type Service struct {
	durable FactStore // nil when the durable tier is unconfigured

	mu       sync.Mutex
	facts    map[int32][]*store.MemoryFact // newest last
	sessions map[string][]Turn
}

// NewService creates a session memory service. A nil durable store means
// the volatile tier is authoritative from the start.
func NewService(durable FactStore) *Service {
	return &Service{
		durable:  durable,
		facts:    make(map[int32][]*store.MemoryFact),
		sessions: make(map[string][]Turn),
	}
}

// NewSessionID generates an opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// StoreMemory stores a user memory fact and returns its identifier.
// The durable tier is attempted first; on failure the fact is appended to
// the volatile per-user list under a tier-local identifier and the error
// is downgraded to a degraded-mode log signal.
func (s *Service) StoreMemory(ctx context.Context, fact *store.MemoryFact) (string, error) {
	if err := fact.Validate(); err != nil {
		return "", err
	}
	if fact.CreatedTs == 0 {
		fact.CreatedTs = time.Now().Unix()
	}

	if s.durable != nil {
		created, err := s.durable.CreateMemoryFact(ctx, fact)
		if err == nil {
			return strconv.Itoa(int(created.ID)), nil
		}
		slog.Warn("durable memory tier unavailable, falling back to volatile tier",
			"user_id", fact.UserID, "error", err)
	}

	localID := "mem_" + shortuuid.New()
	s.mu.Lock()
	s.facts[fact.UserID] = append(s.facts[fact.UserID], fact)
	s.mu.Unlock()
	return localID, nil
}

// GetMemories returns up to limit memory facts for the user, most recent
// first. The durable tier is authoritative when configured and reachable;
// otherwise the volatile tier serves the read. The tiers are not merged.
func (s *Service) GetMemories(ctx context.Context, userID int32, limit int) ([]*store.MemoryFact, error) {
	if limit <= 0 {
		limit = 10
	}

	if s.durable != nil {
		facts, err := s.durable.ListMemoryFacts(ctx, &store.FindMemoryFact{
			UserID: &userID,
			Limit:  &limit,
		})
		if err == nil {
			return facts, nil
		}
		slog.Warn("durable memory tier unreachable, reading volatile tier",
			"user_id", userID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.facts[userID]
	out := make([]*store.MemoryFact, 0, limit)
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

// StoreTurn appends a turn to the session, truncating to the most recent
// MaxSessionTurns.
func (s *Service) StoreTurn(sessionID string, turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[sessionID], turn)
	if len(turns) > MaxSessionTurns {
		turns = turns[len(turns)-MaxSessionTurns:]
	}
	s.sessions[sessionID] = turns
}

// GetHistory returns up to limit most recent turns for the session, in
// original order.
func (s *Service) GetHistory(sessionID string, limit int) []Turn {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[sessionID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// ClearSession drops all stored turns for the session.
func (s *Service) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
