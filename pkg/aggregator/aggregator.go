// Package aggregator folds classified UC records into per-client
// groups and global metrics.
package aggregator

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/ucwatch/ucwatch/pkg/classifier"
	"github.com/ucwatch/ucwatch/pkg/log"
	"github.com/ucwatch/ucwatch/pkg/types"
)

// Aggregator groups UC records by owning client and computes derived
// counts. It is a pure transform over the current snapshot; it never
// returns an error and degrades gracefully on malformed records.
type Aggregator struct {
	classifier *classifier.Classifier
	collator   *collate.Collator
}

// New creates an Aggregator using the given classifier.
func New(c *classifier.Classifier) *Aggregator {
	return &Aggregator{
		classifier: c,
		collator:   collate.New(language.BrazilianPortuguese),
	}
}

// Aggregate groups records by client name. A client name appearing more
// than once merges into a single group keyed by first occurrence
// (first-seen wins for display fields), and a UC id appearing more than
// once within a group is counted once. Records missing the UC or client
// identifiers are dropped with a warning.
func (a *Aggregator) Aggregate(ctx context.Context, records []types.UCRecord) []types.ClientGroup {
	byName := make(map[string]int)
	seenUCs := make(map[string]map[string]bool)
	groups := make([]types.ClientGroup, 0, len(records))

	for _, rec := range records {
		if rec.UC == "" || rec.ClientName == "" {
			log.Ctx(ctx).WarnContext(ctx, "dropping malformed UC record",
				slog.String("uc", rec.UC),
				slog.String("clientName", rec.ClientName),
			)
			continue
		}

		idx, ok := byName[rec.ClientName]
		if !ok {
			idx = len(groups)
			byName[rec.ClientName] = idx
			seenUCs[rec.ClientName] = make(map[string]bool)
			groups = append(groups, types.ClientGroup{
				ClientName: rec.ClientName,
				DocumentID: rec.DocumentID,
			})
		}
		if seenUCs[rec.ClientName][rec.UC] {
			continue
		}
		seenUCs[rec.ClientName][rec.UC] = true

		g := &groups[idx]
		cls := a.classifier.Classify(rec)
		g.UCs = append(g.UCs, types.ClassifiedUC{UCRecord: rec, Classification: cls})

		if rec.Injected != nil {
			g.TotalInjected += *rec.Injected
		}
		switch cls.Status {
		case types.StatusOK:
			g.CountOK++
		case types.StatusZeroInjection:
			g.CountZero++
			g.ProblemCount++
		case types.StatusNoData:
			g.CountNoData++
		}
		g.EarlyDaysTotal += cls.EarlyDays
		g.LateDaysTotal += cls.LateDays
	}

	return groups
}

// tier returns the 3-tier presentation priority of a group: groups with
// any zero-injection UC first, then groups with any ok UC, then groups
// where every UC has no data.
func tier(g types.ClientGroup) int {
	switch {
	case g.CountZero > 0:
		return 1
	case g.CountOK > 0:
		return 2
	default:
		return 3
	}
}

// Rank orders groups for presentation: by tier, then by descending
// problem count, with a final locale-aware name comparison.
func (a *Aggregator) Rank(groups []types.ClientGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		ti, tj := tier(groups[i]), tier(groups[j])
		if ti != tj {
			return ti < tj
		}
		if groups[i].ProblemCount != groups[j].ProblemCount {
			return groups[i].ProblemCount > groups[j].ProblemCount
		}
		return a.collator.CompareString(groups[i].ClientName, groups[j].ClientName) < 0
	})
}

// Metrics computes the global summary across all groups. ProblemRate is
// the percentage of UCs exhibiting any problem (zero injection or a
// reading-schedule anomaly), counted once per UC.
func (a *Aggregator) Metrics(groups []types.ClientGroup) types.Metrics {
	var m types.Metrics
	var problemUCs int
	for _, g := range groups {
		m.TotalClients++
		m.TotalUCs += len(g.UCs)
		m.OKCount += g.CountOK
		m.ZeroCount += g.CountZero
		m.NoDataCount += g.CountNoData
		m.TotalInjected += g.TotalInjected
		for _, uc := range g.UCs {
			if uc.Status == types.StatusZeroInjection || uc.HasReadingAnomaly() {
				problemUCs++
			}
		}
	}
	if m.TotalUCs > 0 {
		m.ProblemRate = math.Round(float64(problemUCs)/float64(m.TotalUCs)*10000) / 100
	}
	return m
}
