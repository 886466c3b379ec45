package lifecycle

import (
	"context"
	"database/sql"
	"time"

	"github.com/aegishub/aegishub-go/internal/metrics"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
)

// sweepInterval bounds how stale an expired acceptance window can get.
const sweepInterval = 20 * time.Second

// RunSweeper auto-rejects assignments whose acceptance window expired.
// Blocks until ctx is cancelled.
func (c *Coordinator) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.SweepExpired(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("Deadline sweep failed")
		}
	}
}

// SweepExpired processes every lapsed acceptance window once.
func (c *Coordinator) SweepExpired(ctx context.Context) error {
	now := c.now().UTC()
	expired, err := c.store.ExpiredAssignments(ctx, now)
	if err != nil {
		return err
	}

	for _, stale := range expired {
		incidentID := stale.ID
		err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
			// Re-read inside the transaction; the org may have accepted
			// between the scan and now.
			inc, err := store.GetIncidentTx(tx, incidentID)
			if err != nil {
				return err
			}
			if inc.Status != models.StatusPendingAssignment ||
				inc.AcceptDeadline == nil || inc.AcceptDeadline.After(now) {
				return nil
			}

			_, err = c.rejectAndRerankTx(tx, inc, "timeout")
			return err
		})
		if err != nil {
			c.logger.Error().Err(err).Str("incident", incidentID).Msg("Timeout auto-reject failed")
			continue
		}
		metrics.AssignmentTimeoutsTotal.Inc()
		c.logger.Info().Str("incident", incidentID).Msg("Acceptance window expired, auto-rejected")
	}
	return nil
}
