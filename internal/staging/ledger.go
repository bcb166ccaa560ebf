// Package staging tracks accepted matches through the invoice documentation
// workflow. The ledger is session-scoped, in-memory state with explicit
// create/teardown boundaries; nothing here survives a process restart.
package staging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

var (
	// ErrNotMatched rejects staging of results that are not confirmed matches.
	ErrNotMatched = errors.New("only matched results can be accepted")

	// ErrAlreadyClaimed enforces the no-double-booking invariant: one work
	// order backs at most one accepted result per session.
	ErrAlreadyClaimed = errors.New("work order already claimed in this session")

	// ErrNothingStaged is returned when a batch is requested for a client
	// with no accepted matches.
	ErrNothingStaged = errors.New("no accepted matches staged for client")
)

// Session is the staging ledger for one matching session. It maps clients to
// their accepted matches and owns the staged batches derived from them.
// Single-writer: all mutation goes through Accept, Reject, and Clear.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu       sync.Mutex
	accepted map[string][]models.MatchResult // client -> accepted results
	claimed  map[string]string               // work order ID -> client
	batches  map[string]*models.StagedBatch  // client -> active batch
}

// NewSession creates an empty staging ledger.
func NewSession() *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		accepted:  make(map[string][]models.MatchResult),
		claimed:   make(map[string]string),
		batches:   make(map[string]*models.StagedBatch),
	}
}

// Accept stages a matched result for a client. The claimed-candidate check
// and the append are one critical section: this is the only operation that
// needs atomicity across match results.
func (s *Session) Accept(client string, result models.MatchResult) error {
	if result.Status != models.StatusMatched || result.Best == nil {
		return ErrNotMatched
	}
	woID := result.Best.WorkOrder.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.claimed[woID]; taken {
		return fmt.Errorf("%w: %s (accepted for %s)", ErrAlreadyClaimed, woID, owner)
	}
	s.claimed[woID] = client
	s.accepted[client] = append(s.accepted[client], result)
	return nil
}

// Reject removes a previously accepted result, releasing its work order.
// Rejecting a result that was never accepted is a no-op.
func (s *Session) Reject(client string, result models.MatchResult) {
	if result.Best == nil {
		return
	}
	woID := result.Best.WorkOrder.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimed[woID] != client {
		return
	}
	delete(s.claimed, woID)
	kept := s.accepted[client][:0]
	for _, r := range s.accepted[client] {
		if r.Best != nil && r.Best.WorkOrder.ID == woID {
			continue
		}
		kept = append(kept, r)
	}
	s.accepted[client] = kept
}

// Clear drops every accepted result and any active batch for the client.
func (s *Session) Clear(client string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.accepted[client] {
		if r.Best != nil {
			delete(s.claimed, r.Best.WorkOrder.ID)
		}
	}
	delete(s.accepted, client)
	delete(s.batches, client)
}

// Accepted returns a copy of the client's accepted results.
func (s *Session) Accepted(client string) []models.MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MatchResult(nil), s.accepted[client]...)
}

// BatchForInvoice returns the client's active staged batch, creating it from
// the accepted results on first call. Once created, the batch is owned by
// the coordinator; repeated calls return the same batch.
func (s *Session) BatchForInvoice(client string) (*models.StagedBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch, ok := s.batches[client]; ok {
		return batch, nil
	}
	accepted := s.accepted[client]
	if len(accepted) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingStaged, client)
	}

	now := time.Now()
	batch := &models.StagedBatch{
		ID:        uuid.New().String(),
		Client:    client,
		Matches:   append([]models.MatchResult(nil), accepted...),
		State:     models.BatchCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.batches[client] = batch
	return batch, nil
}

// Batch returns the client's active batch, if any.
func (s *Session) Batch(client string) (*models.StagedBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[client]
	return batch, ok
}

// DiscardBatch drops a terminal batch so the client can stage a new one.
func (s *Session) DiscardBatch(client string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, client)
}
