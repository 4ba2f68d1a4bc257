// Package audit is the append-only log of who changed what. Entries are
// written asynchronously and are never read back for control flow.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one audit_log row.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	EntityType string
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
}

// Sink is the contract the domain services write through.
type Sink interface {
	Record(ctx context.Context, actor uuid.UUID, action, entityType string, entityID uuid.UUID, details map[string]any)
}

// RequestMeta is the HTTP origin of a mutating call.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type metaKey struct{}

func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

func MetaFromContext(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(metaKey{}).(RequestMeta)
	return m
}

const defaultBufferSize = 10_000

// AsyncSink queues entries on a buffered channel drained by one worker.
// When the buffer is full the entry is dropped and a warning is logged.
type AsyncSink struct {
	store   Store
	logger  zerolog.Logger
	entries chan *Entry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncSink(store Store, bufferSize int, logger zerolog.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	s := &AsyncSink{
		store:   store,
		logger:  logger.With().Str("component", "audit").Logger(),
		entries: make(chan *Entry, bufferSize),
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *AsyncSink) Record(ctx context.Context, actor uuid.UUID, action, entityType string, entityID uuid.UUID, details map[string]any) {
	meta := MetaFromContext(ctx)
	e := &Entry{
		ID:         uuid.New(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		RequestID:  meta.RequestID,
		CreatedAt:  time.Now().UTC(),
	}
	if actor != uuid.Nil {
		a := actor
		e.ActorID = &a
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn().Str("action", action).Msg("audit sink closed, dropping entry")
		return
	}
	select {
	case s.entries <- e:
	default:
		s.logger.Warn().
			Str("action", action).
			Str("entity_type", entityType).
			Msg("audit buffer full, dropping entry")
	}
}

// Shutdown stops accepting entries and waits for the queue to drain or ctx
// to expire.
func (s *AsyncSink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.entries)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("audit shutdown timed out; some entries may be lost")
		return ctx.Err()
	}
}

func (s *AsyncSink) worker() {
	defer close(s.done)
	for e := range s.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Insert(ctx, e); err != nil {
			s.logger.Error().Err(err).
				Str("action", e.Action).
				Str("entity_id", e.EntityID.String()).
				Msg("failed to persist audit entry")
		}
		cancel()
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, uuid.UUID, string, string, uuid.UUID, map[string]any) {}
