// Package ledger implements the validation ledger: the durable
// per-(document, UC) record of the manual-investigation workflow and
// its timestamped history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ucwatch/ucwatch/pkg/storage"
	"github.com/ucwatch/ucwatch/pkg/types"
)

// dateLabelFormat renders transition dates as DD/MM/YYYY for display.
const dateLabelFormat = "02/01/2006"

// Ledger wraps the storage layer with append-only transition semantics.
// Records are created lazily on the first transition and never deleted:
// resolution appends a history entry rather than erasing state.
type Ledger struct {
	db storage.Database

	// transitions on the same key must serialize so a concurrent pair of
	// read-then-append writes cannot lose a history entry. locks are
	// never pruned: the map is bounded by the number of distinct
	// (document, UC) pairs ever transitioned, a few bytes per UC
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex

	now func() time.Time
}

// New creates a Ledger backed by the given database.
func New(db storage.Database) *Ledger {
	return &Ledger{
		db:       db,
		keyLocks: make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

func (l *Ledger) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		l.keyLocks[key] = m
	}
	return m
}

// Get returns the validation record for the pair, or
// storage.ErrValidationNotFound if no workflow has ever been started.
func (l *Ledger) Get(ctx context.Context, document, uc string) (types.ValidationRecord, error) {
	return l.db.GetValidation(ctx, document, uc)
}

// History returns the append-only history for audit display. A pair
// with no record yields an empty history, not an error.
func (l *Ledger) History(ctx context.Context, document, uc string) ([]types.ValidationEntry, error) {
	rec, err := l.db.GetValidation(ctx, document, uc)
	if err != nil {
		if errors.Is(err, storage.ErrValidationNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec.History, nil
}

// Transition appends a new state to the pair's history and persists the
// full record with upsert semantics. Nothing is mutated until the write
// is confirmed; on a persistence error the caller sees the error and
// the durable state is unchanged.
func (l *Ledger) Transition(ctx context.Context, document, uc string, state types.ValidationState) (types.ValidationRecord, error) {
	key := types.ValidationKey(document, uc)
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := l.db.GetValidation(ctx, document, uc)
	if err != nil {
		if !errors.Is(err, storage.ErrValidationNotFound) {
			return types.ValidationRecord{}, fmt.Errorf("failed to read validation before transition: %w", err)
		}
		rec = types.ValidationRecord{
			DocumentID: types.NormalizeDocument(document),
			UC:         uc,
		}
	}

	now := l.now()
	rec.History = append(rec.History, types.ValidationEntry{
		State:     state,
		DateLabel: now.Format(dateLabelFormat),
		Timestamp: now,
	})
	rec.State = state

	if err := l.db.UpsertValidation(ctx, rec); err != nil {
		return types.ValidationRecord{}, fmt.Errorf("failed to persist transition: %w", err)
	}
	return rec, nil
}

// StatesSnapshot returns the current state of every validation record,
// keyed by types.ValidationKey. A refresh cycle takes one snapshot at
// cycle start; a transition landing mid-cycle is picked up on the next
// cycle.
func (l *Ledger) StatesSnapshot(ctx context.Context) (map[string]types.ValidationState, error) {
	records, err := l.db.ListValidations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list validations: %w", err)
	}
	states := make(map[string]types.ValidationState, len(records))
	for _, rec := range records {
		states[types.ValidationKey(rec.DocumentID, rec.UC)] = rec.State
	}
	return states, nil
}

// DisplayState returns the state to surface for a UC given its current
// classification. A Resolved marker is suppressed (treated as absent)
// while the UC has an active early/late reading anomaly: a day-count
// anomaly always overrides a stale Resolved marker.
func DisplayState(state types.ValidationState, cls types.Classification) (types.ValidationState, bool) {
	if state == "" {
		return "", false
	}
	if state == types.ValidationResolved && cls.HasReadingAnomaly() {
		return "", false
	}
	return state, true
}
