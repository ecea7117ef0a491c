package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucwatch/ucwatch/pkg/storage"
	"github.com/ucwatch/ucwatch/pkg/types"
)

// memDB is an in-memory Database for ledger tests.
type memDB struct {
	mu          sync.Mutex
	validations map[string]types.ValidationRecord
	upsertErr   error
}

func newMemDB() *memDB {
	return &memDB{validations: make(map[string]types.ValidationRecord)}
}

func (m *memDB) GetValidation(ctx context.Context, document, uc string) (types.ValidationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.validations[types.ValidationKey(document, uc)]
	if !ok {
		return types.ValidationRecord{}, storage.ErrValidationNotFound
	}
	return rec, nil
}

func (m *memDB) UpsertValidation(ctx context.Context, record types.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.validations[types.ValidationKey(record.DocumentID, record.UC)] = record
	return nil
}

func (m *memDB) ListValidations(ctx context.Context) ([]types.ValidationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ValidationRecord, 0, len(m.validations))
	for _, rec := range m.validations {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memDB) ListUCRecords(ctx context.Context) ([]types.UCRecord, error) { return nil, nil }
func (m *memDB) UpsertUCRecord(ctx context.Context, record types.UCRecord) error {
	return nil
}
func (m *memDB) Close() error { return nil }

func TestTransitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	l := New(db)
	l.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }

	rec, err := l.Transition(ctx, "123.456.789-00", "UC1", types.ValidationInvestigating)
	require.NoError(t, err)
	assert.Equal(t, types.ValidationInvestigating, rec.State)
	assert.Equal(t, "12345678900", rec.DocumentID)
	require.Len(t, rec.History, 1)
	assert.Equal(t, "15/03/2026", rec.History[0].DateLabel)

	rec, err = l.Transition(ctx, "12345678900", "UC1", types.ValidationResolved)
	require.NoError(t, err)
	require.Len(t, rec.History, 2)
	assert.Equal(t, types.ValidationInvestigating, rec.History[0].State)
	assert.Equal(t, types.ValidationResolved, rec.History[1].State)

	// the record read back reflects the last transition regardless of
	// document formatting
	got, err := l.Get(ctx, "123456789-00", "UC1")
	require.NoError(t, err)
	assert.Equal(t, types.ValidationResolved, got.State)
	assert.Len(t, got.History, 2)
}

func TestTransitionPersistFailure(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	db.upsertErr = errors.New("write failed")
	l := New(db)

	_, err := l.Transition(ctx, "123", "UC1", types.ValidationInvestigating)
	require.Error(t, err)

	// nothing was persisted
	_, err = l.Get(ctx, "123", "UC1")
	assert.ErrorIs(t, err, storage.ErrValidationNotFound)
}

func TestTransitionConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	l := New(db)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := types.ValidationInvestigating
			if i%2 == 1 {
				state = types.ValidationResolved
			}
			_, err := l.Transition(ctx, "999", "UC1", state)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := l.Get(ctx, "999", "UC1")
	require.NoError(t, err)
	// no lost updates: every transition appended exactly one entry
	assert.Len(t, rec.History, n)
	assert.Equal(t, rec.History[len(rec.History)-1].State, rec.State)
}

func TestHistoryAbsentRecord(t *testing.T) {
	l := New(newMemDB())
	history, err := l.History(context.Background(), "123", "UC1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStatesSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	l := New(db)

	_, err := l.Transition(ctx, "111", "UC1", types.ValidationInvestigating)
	require.NoError(t, err)
	_, err = l.Transition(ctx, "222", "UC2", types.ValidationResolved)
	require.NoError(t, err)

	states, err := l.StatesSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]types.ValidationState{
		"111:UC1": types.ValidationInvestigating,
		"222:UC2": types.ValidationResolved,
	}, states)
}

func TestDisplayState(t *testing.T) {
	okCls := types.Classification{Status: types.StatusOK}
	lateCls := types.Classification{Status: types.StatusOK, LateDays: 3}

	tests := []struct {
		name    string
		state   types.ValidationState
		cls     types.Classification
		want    types.ValidationState
		visible bool
	}{
		{"Absent", "", okCls, "", false},
		{"Investigating Visible", types.ValidationInvestigating, lateCls, types.ValidationInvestigating, true},
		{"Resolved Visible", types.ValidationResolved, okCls, types.ValidationResolved, true},
		{"Resolved Suppressed By Anomaly", types.ValidationResolved, lateCls, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, visible := DisplayState(tt.state, tt.cls)
			assert.Equal(t, tt.want, got, fmt.Sprintf("state for %s", tt.name))
			assert.Equal(t, tt.visible, visible)
		})
	}
}
