package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ucwatch/ucwatch/pkg/ledger"
	"github.com/ucwatch/ucwatch/pkg/storage"
	"github.com/ucwatch/ucwatch/pkg/types"
)

var (
	// ErrUCNotFound is returned when a validation action names a UC that
	// is not in the current aggregate.
	ErrUCNotFound = errors.New("uc not found in current aggregate")
	// ErrNoActiveProblem is returned when an investigation is requested
	// for a UC with neither zero injection nor a reading anomaly.
	ErrNoActiveProblem = errors.New("uc has no active problem")
	// ErrAlreadyInvestigating is returned when the UC is already under
	// investigation.
	ErrAlreadyInvestigating = errors.New("uc is already under investigation")
	// ErrReopenBlocked is returned when a resolved UC exhibits only a
	// reading anomaly: the stale marker is suppressed for display, but a
	// day-count anomaly alone cannot reopen the investigation.
	ErrReopenBlocked = errors.New("resolved uc cannot be reopened from a reading anomaly alone")
)

// buildFeed derives the prioritized list of anomalous UCs. UCs under
// investigation are skipped entirely; every other UC contributes one
// entry per problem type it exhibits, so zero injection and a reading
// anomaly on the same UC produce two independent entries. Input order
// is preserved.
func buildFeed(groups []types.ClientGroup, states map[string]types.ValidationState) []types.ProblemEntry {
	var feed []types.ProblemEntry
	for _, g := range groups {
		for _, uc := range g.UCs {
			document := documentFor(g, uc)
			if states[types.ValidationKey(document, uc.UC)] == types.ValidationInvestigating {
				continue
			}
			if uc.Status == types.StatusZeroInjection {
				feed = append(feed, types.ProblemEntry{
					ClientName: g.ClientName,
					DocumentID: document,
					UC:         uc.UC,
					Kind:       types.ProblemZeroInjection,
				})
			}
			if uc.EarlyDays > 0 {
				feed = append(feed, types.ProblemEntry{
					ClientName: g.ClientName,
					DocumentID: document,
					UC:         uc.UC,
					Kind:       types.ProblemEarlyReading,
					EarlyDays:  uc.EarlyDays,
				})
			} else if uc.LateDays > 0 {
				feed = append(feed, types.ProblemEntry{
					ClientName: g.ClientName,
					DocumentID: document,
					UC:         uc.UC,
					Kind:       types.ProblemLateReading,
					LateDays:   uc.LateDays,
				})
			}
		}
	}
	return feed
}

// StartInvestigation marks a UC as under manual investigation. The
// request is rejected when the UC has no active problem, is already
// being investigated, or carries a resolved marker with only a reading
// anomaly active.
func (c *Controller) StartInvestigation(ctx context.Context, document, uc string) (types.ValidationRecord, error) {
	snap, err := c.Fetch(ctx, false)
	if err != nil {
		return types.ValidationRecord{}, fmt.Errorf("failed to load current aggregate: %w", err)
	}

	cls, found := findUC(snap.Groups, document, uc)
	if !found {
		return types.ValidationRecord{}, fmt.Errorf("%w: %s/%s", ErrUCNotFound, document, uc)
	}

	if cls.Status != types.StatusZeroInjection && !cls.HasReadingAnomaly() {
		return types.ValidationRecord{}, fmt.Errorf("%w: %s/%s", ErrNoActiveProblem, document, uc)
	}

	rec, err := c.ledger.Get(ctx, document, uc)
	if err != nil && !errors.Is(err, storage.ErrValidationNotFound) {
		return types.ValidationRecord{}, fmt.Errorf("failed to read validation: %w", err)
	}
	if err == nil {
		switch rec.State {
		case types.ValidationInvestigating:
			return types.ValidationRecord{}, fmt.Errorf("%w: %s/%s", ErrAlreadyInvestigating, document, uc)
		case types.ValidationResolved:
			// a day-count anomaly suppresses the resolved marker for
			// display but does not reopen the workflow on its own
			if cls.Status != types.StatusZeroInjection {
				return types.ValidationRecord{}, fmt.Errorf("%w: %s/%s", ErrReopenBlocked, document, uc)
			}
		}
	}

	return c.ledger.Transition(ctx, document, uc, types.ValidationInvestigating)
}

// ValidationStates returns the display-adjusted validation state for
// every UC in the snapshot, keyed by types.ValidationKey. A Resolved
// marker hidden by an active reading anomaly is omitted entirely.
func (c *Controller) ValidationStates(ctx context.Context, snap Snapshot) (map[string]types.ValidationState, error) {
	states, err := c.ledger.StatesSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.ValidationState)
	for _, g := range snap.Groups {
		for _, uc := range g.UCs {
			key := types.ValidationKey(documentFor(g, uc), uc.UC)
			if display, ok := ledger.DisplayState(states[key], uc.Classification); ok {
				out[key] = display
			}
		}
	}
	return out, nil
}

// History returns the audit history for a (document, UC) pair.
func (c *Controller) History(ctx context.Context, document, uc string) ([]types.ValidationEntry, error) {
	return c.ledger.History(ctx, document, uc)
}

func findUC(groups []types.ClientGroup, document, uc string) (types.ClassifiedUC, bool) {
	normalized := types.NormalizeDocument(document)
	for _, g := range groups {
		for _, candidate := range g.UCs {
			if candidate.UC != uc {
				continue
			}
			if types.NormalizeDocument(documentFor(g, candidate)) == normalized {
				return candidate, true
			}
		}
	}
	return types.ClassifiedUC{}, false
}
