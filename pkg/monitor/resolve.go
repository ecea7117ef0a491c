package monitor

import (
	"context"
	"log/slog"

	"github.com/ucwatch/ucwatch/pkg/log"
	"github.com/ucwatch/ucwatch/pkg/types"
)

// autoResolve promotes investigating UCs to resolved when their health
// has recovered: injection must be ok AND the reading period back in
// band. There is no automatic transition in the other direction.
// Resolution happens on the first cycle after the condition recovers.
func (c *Controller) autoResolve(ctx context.Context, groups []types.ClientGroup, states map[string]types.ValidationState) {
	for _, g := range groups {
		for _, uc := range g.UCs {
			document := documentFor(g, uc)
			if states[types.ValidationKey(document, uc.UC)] != types.ValidationInvestigating {
				continue
			}
			if uc.Status != types.StatusOK || uc.HasReadingAnomaly() {
				continue
			}
			if _, err := c.ledger.Transition(ctx, document, uc.UC, types.ValidationResolved); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to auto-resolve validation",
					slog.String("document", document),
					slog.String("uc", uc.UC),
					slog.Any("error", err),
				)
				continue
			}
			log.Ctx(ctx).InfoContext(ctx, "auto-resolved validation",
				slog.String("document", document),
				slog.String("uc", uc.UC),
			)
		}
	}
}
