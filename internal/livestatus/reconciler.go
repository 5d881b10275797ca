package livestatus

import (
	"context"
	"fmt"
	"log/slog"

	"streamhook/internal/models"
)

// Catalog lists every streamer known to the directory.
type Catalog interface {
	FindAll(ctx context.Context) ([]models.Streamer, error)
}

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	Checked     int
	Initialized int
	Failed      int
}

// Reconciler creates missing records for catalog streamers. Existing records
// are never touched.
type Reconciler struct {
	store   Store
	catalog Catalog
	logger  *slog.Logger
}

func NewReconciler(store Store, catalog Catalog, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, catalog: catalog, logger: logger}
}

// Run walks the catalog once. Per-streamer failures are logged and counted;
// only a catalog failure aborts the pass.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	streamers, err := r.catalog.FindAll(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list streamers: %w", err)
	}

	var report ReconcileReport
	for _, streamer := range streamers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		_, created, err := r.store.InitializeIfAbsent(ctx, streamer.ID, streamer.Services)
		if err != nil {
			report.Failed++
			r.logger.Warn("failed to initialize live status", "streamer_id", streamer.ID, "error", err)
			continue
		}
		if created {
			report.Initialized++
		}
	}
	r.logger.Info("live status reconciliation complete",
		"checked", report.Checked,
		"initialized", report.Initialized,
		"failed", report.Failed,
	)
	return report, nil
}
