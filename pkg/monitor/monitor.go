// Package monitor owns the live view of UC health: it drives record
// fetches, aggregation, auto-resolution, and the problem feed behind a
// short-lived cache with an explicit live/paused refresh loop.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ucwatch/ucwatch/pkg/aggregator"
	"github.com/ucwatch/ucwatch/pkg/classifier"
	"github.com/ucwatch/ucwatch/pkg/ledger"
	"github.com/ucwatch/ucwatch/pkg/log"
	"github.com/ucwatch/ucwatch/pkg/records"
	"github.com/ucwatch/ucwatch/pkg/types"
)

// Snapshot is one fully-formed aggregation result. Snapshots are
// immutable once published: a new fetch swaps in a new snapshot rather
// than mutating the current one in place.
type Snapshot struct {
	Groups    []types.ClientGroup  `json:"groups"`
	Metrics   types.Metrics        `json:"metrics"`
	Problems  []types.ProblemEntry `json:"problems"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Controller owns the cache slot, the refresh timer, and the
// live/paused flag for one session. It is constructed once and torn
// down explicitly with Close; there is no ambient global state.
type Controller struct {
	source records.Source
	ledger *ledger.Ledger
	agg    *aggregator.Aggregator

	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cached    *Snapshot
	fetchedAt time.Time
	live      bool
	fetching  bool
	stopLoop  context.CancelFunc
	onChange  func(Snapshot)
}

// Configured sets up the Controller with dependencies. It registers
// flags for the cache TTL, refresh interval, and the reading-period
// policy band.
func Configured(src records.Source, ldg *ledger.Ledger) *Controller {
	ttl := lflag.Duration("monitor-cache-ttl", 30*time.Second, "How long an aggregate is served from cache")
	interval := lflag.Duration("monitor-refresh-interval", 5*time.Second, "How often live mode polls")
	minDays := lflag.Int("reading-days-min", classifier.DefaultMinReadingDays, "Minimum expected reading-period length in days")
	maxDays := lflag.Int("reading-days-max", classifier.DefaultMaxReadingDays, "Maximum expected reading-period length in days")

	c := &Controller{
		source: src,
		ledger: ldg,
		now:    time.Now,
	}

	lflag.Do(func() {
		c.ttl = *ttl
		c.interval = *interval
		cls := classifier.New()
		cls.MinReadingDays = *minDays
		cls.MaxReadingDays = *maxDays
		c.agg = aggregator.New(cls)
	})

	return c
}

// New creates a Controller with explicit settings, primarily for tests.
func New(src records.Source, ldg *ledger.Ledger, ttl, interval time.Duration) *Controller {
	return &Controller{
		source:   src,
		ledger:   ldg,
		agg:      aggregator.New(classifier.New()),
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// OnChange registers the change-notification callback. It fires only
// when a fetch produces a snapshot that differs structurally from the
// currently published one.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// ErrFetchInFlight is returned when a fetch is already running and no
// snapshot has ever been published, so there is nothing to serve yet.
var ErrFetchInFlight = errors.New("fetch already in flight and no snapshot published yet")

// Fetch returns the current aggregate. Without force, a cache younger
// than the TTL is served with no I/O. A fetch already in flight is
// never doubled up: the caller gets the currently published snapshot
// instead, or ErrFetchInFlight before the first snapshot exists. On a
// fetch error the previous cache is retained and still served
// alongside the error.
func (c *Controller) Fetch(ctx context.Context, force bool) (Snapshot, error) {
	c.mu.Lock()
	if !force && c.cached != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		snap := *c.cached
		c.mu.Unlock()
		return snap, nil
	}
	if c.fetching {
		if c.cached == nil {
			c.mu.Unlock()
			return Snapshot{}, ErrFetchInFlight
		}
		snap := *c.cached
		c.mu.Unlock()
		return snap, nil
	}
	c.fetching = true
	c.mu.Unlock()

	snap, err := c.refresh(ctx)

	c.mu.Lock()
	c.fetching = false
	if err != nil {
		var prev Snapshot
		if c.cached != nil {
			prev = *c.cached
		}
		c.mu.Unlock()
		return prev, err
	}

	changed := c.cached == nil || !snapshotsEqual(*c.cached, snap)
	c.cached = &snap
	c.fetchedAt = c.now()
	notify := c.onChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify(snap)
	}
	return snap, nil
}

// refresh performs one full cycle: ledger snapshot, record fetch,
// aggregation, auto-resolution against the fresh data, and the problem
// feed. Ledger reads use the snapshot taken at cycle start; a
// transition landing mid-cycle is picked up on the next cycle.
func (c *Controller) refresh(ctx context.Context) (Snapshot, error) {
	states, err := c.ledger.StatesSnapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	recs, err := c.source.FetchRecords(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	groups := c.agg.Aggregate(ctx, recs)
	c.agg.Rank(groups)

	c.autoResolve(ctx, groups, states)

	return Snapshot{
		Groups:    groups,
		Metrics:   c.agg.Metrics(groups),
		Problems:  buildFeed(groups, states),
		UpdatedAt: c.now(),
	}, nil
}

// ToggleLive flips the live/paused flag and returns the new value.
// Entering live immediately triggers one fetch and starts the
// fixed-interval poll loop. Pausing cancels the timer but lets an
// in-flight fetch complete and update the cache.
func (c *Controller) ToggleLive(ctx context.Context) bool {
	c.mu.Lock()
	c.live = !c.live
	live := c.live
	if live {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.stopLoop = cancel
		go c.refreshLoop(loopCtx)
	} else if c.stopLoop != nil {
		c.stopLoop()
		c.stopLoop = nil
	}
	c.mu.Unlock()

	log.Ctx(ctx).InfoContext(ctx, "live mode toggled", slog.Bool("live", live))
	return live
}

// Live returns whether the periodic refresh loop is running.
func (c *Controller) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// LastUpdated returns when the cache was last refreshed.
func (c *Controller) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

// Close stops the refresh loop if it is running.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = false
	if c.stopLoop != nil {
		c.stopLoop()
		c.stopLoop = nil
	}
}

func (c *Controller) refreshLoop(ctx context.Context) {
	// canceling the loop must not cancel a fetch already in flight
	fetchCtx := context.WithoutCancel(ctx)

	c.tick(fetchCtx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(fetchCtx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	if _, err := c.Fetch(ctx, false); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "scheduled refresh failed", slog.Any("error", err))
	}
}

// snapshotsEqual compares everything except the refresh timestamp so
// that an unchanged aggregate does not signal consumers.
func snapshotsEqual(a, b Snapshot) bool {
	return reflect.DeepEqual(a.Groups, b.Groups) &&
		reflect.DeepEqual(a.Metrics, b.Metrics) &&
		reflect.DeepEqual(a.Problems, b.Problems)
}

// documentFor returns the ledger document for a UC, falling back to the
// group's document when the record does not carry its own.
func documentFor(g types.ClientGroup, uc types.ClassifiedUC) string {
	if uc.DocumentID != "" {
		return uc.DocumentID
	}
	return g.DocumentID
}
