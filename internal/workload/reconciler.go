package workload

import (
	"context"
	"database/sql"
	"time"

	"github.com/aegishub/aegishub-go/internal/logging"
	"github.com/aegishub/aegishub-go/internal/store"
)

// Reconciler periodically recomputes load counters from incident rows.
type Reconciler struct {
	store    *store.Store
	interval time.Duration
	initial  time.Duration
}

// NewReconciler builds the hourly reconciliation job. The first run fires
// shortly after boot to repair any drift from an unclean shutdown.
func NewReconciler(s *store.Store) *Reconciler {
	return &Reconciler{
		store:    s,
		interval: time.Hour,
		initial:  time.Minute,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	logger := logging.Component("workload")

	timer := time.NewTimer(r.initial)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		var orgs, divisions map[string]int
		err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			orgs, divisions, err = Reconcile(tx)
			return err
		})
		if err != nil {
			logger.Error().Err(err).Msg("Workload reconciliation failed")
		} else if len(orgs) > 0 || len(divisions) > 0 {
			logger.Warn().Int("orgs", len(orgs)).Int("divisions", len(divisions)).
				Interface("org_loads", orgs).Interface("division_loads", divisions).
				Msg("Corrected drifted workload counters")
		} else {
			logger.Debug().Msg("Workload counters consistent")
		}

		timer.Reset(r.interval)
	}
}
