package records

import (
	"context"
	"sync"

	"github.com/ucwatch/ucwatch/pkg/types"
)

// StaticSource serves a fixed, swappable set of records. It backs the
// "static" provider for local development and is used directly in
// tests.
type StaticSource struct {
	mu      sync.Mutex
	records []types.UCRecord
	err     error
	fetches int
}

// NewStaticSource creates a StaticSource serving the given records.
func NewStaticSource(records []types.UCRecord) *StaticSource {
	return &StaticSource{records: records}
}

func (s *StaticSource) FetchRecords(ctx context.Context) ([]types.UCRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]types.UCRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// SetRecords replaces the served records.
func (s *StaticSource) SetRecords(records []types.UCRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// SetError makes subsequent fetches fail with err until cleared.
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Fetches returns how many times FetchRecords has been called.
func (s *StaticSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}
