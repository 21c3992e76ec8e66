// Package memory provides in-memory implementations of store interfaces.
// The FlowStore implementation uses a map guarded by sync.RWMutex and is
// suitable for examples, testing, and single-process reference clients; the
// engine itself never persists flow state.
package memory

import (
	"context"
	"errors"
	"sync"

	anchorclient "github.com/stellar-connect/anchor-client-go"
)

// FlowStore is an in-memory implementation of anchorclient.FlowStore.
// Records are keyed by their ID field; Save overwrites, so callers can use it
// to publish snapshots as a flow progresses.
type FlowStore struct {
	records map[string]*anchorclient.FlowRecord
	order   []string
	mu      sync.RWMutex
}

// NewFlowStore creates a new in-memory flow store.
func NewFlowStore() *FlowStore {
	return &FlowStore{
		records: make(map[string]*anchorclient.FlowRecord),
	}
}

// Save stores or replaces a flow record snapshot.
func (s *FlowStore) Save(ctx context.Context, record *anchorclient.FlowRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("flow record requires an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; !exists {
		s.order = append(s.order, record.ID)
	}
	snapshot := *record
	s.records[record.ID] = &snapshot
	return nil
}

// FindByID retrieves a flow record by its identifier.
func (s *FlowStore) FindByID(ctx context.Context, id string) (*anchorclient.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, errors.New("flow record not found")
	}
	snapshot := *record
	return &snapshot, nil
}

// List returns all flow records in insertion order.
func (s *FlowStore) List(ctx context.Context) ([]*anchorclient.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*anchorclient.FlowRecord, 0, len(s.order))
	for _, id := range s.order {
		snapshot := *s.records[id]
		out = append(out, &snapshot)
	}
	return out, nil
}

// Verify that FlowStore implements anchorclient.FlowStore
var _ anchorclient.FlowStore = (*FlowStore)(nil)
