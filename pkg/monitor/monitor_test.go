package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucwatch/ucwatch/pkg/ledger"
	"github.com/ucwatch/ucwatch/pkg/records"
	"github.com/ucwatch/ucwatch/pkg/storage"
	"github.com/ucwatch/ucwatch/pkg/types"
)

// memDB is an in-memory Database for controller tests.
type memDB struct {
	mu          sync.Mutex
	validations map[string]types.ValidationRecord
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

func (m *memDB) ListUCRecords(ctx context.Context) ([]types.UCRecord, error)     { return nil, nil }
func (m *memDB) UpsertUCRecord(ctx context.Context, record types.UCRecord) error { return nil }
func (m *memDB) Close() error                                                    { return nil }

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func rec(client, doc, uc string, injected *float64, days *int) types.UCRecord {
	return types.UCRecord{
		UC:          uc,
		ClientName:  client,
		DocumentID:  doc,
		Injected:    injected,
		ReadingDays: days,
	}
}

func newTestController(recs []types.UCRecord, db *memDB, ttl time.Duration) (*Controller, *records.StaticSource) {
	src := records.NewStaticSource(recs)
	return New(src, ledger.New(db), ttl, time.Second), src
}

// gatedSource blocks inside FetchRecords until released so tests can
// hold a fetch in flight.
type gatedSource struct {
	mu      sync.Mutex
	fetches int
	started chan struct{}
	release chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (g *gatedSource) FetchRecords(ctx context.Context) ([]types.UCRecord, error) {
	g.mu.Lock()
	g.fetches++
	g.mu.Unlock()
	g.started <- struct{}{}
	<-g.release
	return []types.UCRecord{rec("Acme", "123", "UC1", fptr(10), iptr(30))}, nil
}

func (g *gatedSource) Fetches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

type fetchResult struct {
	snap Snapshot
	err  error
}

func TestFetchCaching(t *testing.T) {
	ctx := context.Background()

	t.Run("Cache Within TTL", func(t *testing.T) {
		c, src := newTestController([]types.UCRecord{
			rec("Acme", "123", "UC1", fptr(10), iptr(30)),
		}, newMemDB(), 30*time.Second)

		first, err := c.Fetch(ctx, false)
		require.NoError(t, err)
		second, err := c.Fetch(ctx, false)
		require.NoError(t, err)

		assert.Equal(t, 1, src.Fetches(), "second fetch within TTL must not hit the source")
		assert.Equal(t, first, second)
	})

	t.Run("Force Bypasses Cache", func(t *testing.T) {
		c, src := newTestController([]types.UCRecord{
			rec("Acme", "123", "UC1", fptr(10), iptr(30)),
		}, newMemDB(), 30*time.Second)

		_, err := c.Fetch(ctx, false)
		require.NoError(t, err)
		_, err = c.Fetch(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, 2, src.Fetches())
	})

	t.Run("Error Retains Previous Cache", func(t *testing.T) {
		c, src := newTestController([]types.UCRecord{
			rec("Acme", "123", "UC1", fptr(10), iptr(30)),
		}, newMemDB(), 30*time.Second)

		first, err := c.Fetch(ctx, false)
		require.NoError(t, err)

		src.SetError(errors.New("upstream down"))
		got, err := c.Fetch(ctx, true)
		require.Error(t, err)
		assert.Equal(t, first, got, "previous snapshot must still be served")
		assert.Equal(t, first.UpdatedAt, c.LastUpdated())
	})

	t.Run("Auth Error Propagates", func(t *testing.T) {
		c, src := newTestController(nil, newMemDB(), 30*time.Second)
		src.SetError(records.ErrAuthExpired)
		_, err := c.Fetch(ctx, false)
		assert.ErrorIs(t, err, records.ErrAuthExpired)
	})
}

func TestFetchInFlight(t *testing.T) {
	ctx := context.Background()

	t.Run("First Fetch Not Doubled", func(t *testing.T) {
		src := newGatedSource()
		c := New(src, ledger.New(newMemDB()), 0, time.Second)

		results := make(chan fetchResult, 1)
		go func() {
			snap, err := c.Fetch(ctx, false)
			results <- fetchResult{snap, err}
		}()
		<-src.started

		// no snapshot has been published yet, so there is nothing to serve
		_, err := c.Fetch(ctx, false)
		assert.ErrorIs(t, err, ErrFetchInFlight)
		assert.Equal(t, 1, src.Fetches())

		src.release <- struct{}{}
		res := <-results
		require.NoError(t, res.err)
		assert.False(t, res.snap.UpdatedAt.IsZero())
		assert.Equal(t, 1, src.Fetches())
	})

	t.Run("Cached Snapshot Served During Overlap", func(t *testing.T) {
		src := newGatedSource()
		c := New(src, ledger.New(newMemDB()), time.Minute, time.Second)

		go func() {
			<-src.started
			src.release <- struct{}{}
		}()
		first, err := c.Fetch(ctx, false)
		require.NoError(t, err)

		// hold a forced refresh in flight
		results := make(chan fetchResult, 1)
		go func() {
			snap, err := c.Fetch(ctx, true)
			results <- fetchResult{snap, err}
		}()
		<-src.started

		// a concurrent caller gets the published snapshot, not a third read
		got, err := c.Fetch(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, first, got)
		assert.Equal(t, 2, src.Fetches())

		src.release <- struct{}{}
		res := <-results
		require.NoError(t, res.err)
		assert.Equal(t, 2, src.Fetches())
	})

	t.Run("Pause Leaves In-Flight Fetch Running", func(t *testing.T) {
		src := newGatedSource()
		c := New(src, ledger.New(newMemDB()), time.Minute, time.Hour)
		defer c.Close()

		require.True(t, c.ToggleLive(ctx))
		<-src.started

		// pausing cancels the timer but not the fetch already running
		require.False(t, c.ToggleLive(ctx))
		assert.True(t, c.LastUpdated().IsZero())

		src.release <- struct{}{}
		assert.Eventually(t, func() bool { return !c.LastUpdated().IsZero() }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, src.Fetches())
	})
}

func TestChangeNotification(t *testing.T) {
	ctx := context.Background()
	c, src := newTestController([]types.UCRecord{
		rec("Acme", "123", "UC1", fptr(10), iptr(30)),
	}, newMemDB(), 0)

	var notified atomic.Int32
	c.OnChange(func(Snapshot) { notified.Add(1) })

	_, err := c.Fetch(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), notified.Load())

	// identical data: timestamp advances but consumers are not signaled
	before := c.LastUpdated()
	_, err = c.Fetch(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), notified.Load())
	assert.True(t, !c.LastUpdated().Before(before))

	src.SetRecords([]types.UCRecord{
		rec("Acme", "123", "UC1", fptr(0), iptr(30)),
	})
	_, err = c.Fetch(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), notified.Load())
}

func TestAutoResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("Recovered UC Resolves", func(t *testing.T) {
		db := newMemDB()
		c, _ := newTestController([]types.UCRecord{
			rec("Acme", "123", "UC1", fptr(100), iptr(30)),
		}, db, 0)
		ldg := ledger.New(db)
		_, err := ldg.Transition(ctx, "123", "UC1", types.ValidationInvestigating)
		require.NoError(t, err)

		_, err = c.Fetch(ctx, true)
		require.NoError(t, err)

		got, err := ldg.Get(ctx, "123", "UC1")
		require.NoError(t, err)
		assert.Equal(t, types.ValidationResolved, got.State)
		assert.Len(t, got.History, 2)
	})

	t.Run("Reading Anomaly Blocks Resolution", func(t *testing.T) {
		db := newMemDB()
		c, _ := newTestController([]types.UCRecord{
			rec("Acme", "123", "UC1", fptr(100), iptr(40)),
		}, db, 0)
		ldg := ledger.New(db)
		_, err := ldg.Transition(ctx, "123", "UC1", types.ValidationInvestigating)
		require.NoError(t, err)

		_, err = c.Fetch(ctx, true)
		require.NoError(t, err)

		got, err := ldg.Get(ctx, "123", "UC1")
		require.NoError(t, err)
		assert.Equal(t, types.ValidationInvestigating, got.State)
	})

	t.Run("Zero Injection Blocks Resolution", func(t *testing.T) {
		db := newMemDB()
		c, _ := newTestController([]types.UCRecord{
			rec("Acme", "123", "UC1", fptr(0), iptr(30)),
		}, db, 0)
		ldg := ledger.New(db)
		_, err := ldg.Transition(ctx, "123", "UC1", types.ValidationInvestigating)
		require.NoError(t, err)

		_, err = c.Fetch(ctx, true)
		require.NoError(t, err)

		got, err := ldg.Get(ctx, "123", "UC1")
		require.NoError(t, err)
		assert.Equal(t, types.ValidationInvestigating, got.State)
	})
}

func TestToggleLive(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	src := records.NewStaticSource([]types.UCRecord{
		rec("Acme", "123", "UC1", fptr(10), iptr(30)),
	})
	c := New(src, ledger.New(db), 0, 10*time.Millisecond)
	defer c.Close()

	assert.False(t, c.Live())
	assert.True(t, c.ToggleLive(ctx))

	// entering live triggers an immediate fetch plus the interval polls
	assert.Eventually(t, func() bool { return src.Fetches() >= 3 }, time.Second, 5*time.Millisecond)

	assert.False(t, c.ToggleLive(ctx))
	time.Sleep(30 * time.Millisecond)
	after := src.Fetches()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, src.Fetches(), "paused mode must not poll")

	// manual force refresh is still allowed while paused
	_, err := c.Fetch(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, after+1, src.Fetches())
	assert.False(t, c.Live())
}
