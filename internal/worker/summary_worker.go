// Package worker maintains the month_summaries table from expense events
// and, when configured, mirrors month grids to a spreadsheet.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"expensegrid/internal/core"
	"expensegrid/internal/events"
	"expensegrid/internal/storage"
)

// GridExporter mirrors a month grid to an external sheet. Nil disables
// export.
type GridExporter interface {
	WriteMonthGrid(ctx context.Context, grid *core.MonthGrid) error
}

// SummaryWorker recomputes per-month totals when expenses change.
type SummaryWorker struct {
	repo      *storage.SQLiteRepository
	exporter  GridExporter
	batchSize int
}

func NewSummaryWorker(repo *storage.SQLiteRepository, exporter GridExporter, batchSize int) *SummaryWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &SummaryWorker{
		repo:      repo,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleExpenseEvent recomputes the summary of the event's month. Returning
// an error makes the consumer nack and requeue the message.
func (w *SummaryWorker) HandleExpenseEvent(ctx context.Context, event *events.ExpenseEvent) error {
	slog.InfoContext(ctx, "Processing expense event",
		"user_id", event.UserID,
		"year", event.Year,
		"month", event.Month,
		"expense_id", event.ExpenseID)

	if err := w.recompute(ctx, event.UserID, event.Year, event.Month); err != nil {
		return err
	}

	if w.exporter != nil {
		if err := w.exportMonth(ctx, event.UserID, event.Year, event.Month); err != nil {
			// Export is best effort: the summary is already stored, so a
			// sheet outage must not requeue the message.
			slog.WarnContext(ctx, "Month grid export failed",
				"user_id", event.UserID,
				"year", event.Year,
				"month", event.Month,
				"error", err)
		}
	}
	return nil
}

// Reconcile recomputes summaries for months whose expenses changed after
// their summary row was written. Backup mechanism for lost messages.
func (w *SummaryWorker) Reconcile(ctx context.Context) error {
	stale, err := w.repo.ListStaleSummaries(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list stale summaries: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Reconciling stale summaries", "count", len(stale))
	for _, summary := range stale {
		if err := w.recompute(ctx, summary.UserID, summary.Year, summary.Month); err != nil {
			slog.ErrorContext(ctx, "Summary recompute failed",
				"user_id", summary.UserID,
				"year", summary.Year,
				"month", summary.Month,
				"error", err)
		}
	}
	return nil
}

func (w *SummaryWorker) recompute(ctx context.Context, userID string, year, month int) error {
	total, err := w.repo.SumExpensesForMonth(ctx, userID, year, month)
	if err != nil {
		return fmt.Errorf("sum month expenses: %w", err)
	}
	if err := w.repo.UpsertMonthSummary(ctx, userID, year, month, total); err != nil {
		return fmt.Errorf("upsert month summary: %w", err)
	}
	slog.DebugContext(ctx, "Month summary updated",
		"user_id", userID, "year", year, "month", month, "total", total)
	return nil
}

// exportMonth rebuilds the month grid from stored expenses and hands it to
// the exporter.
func (w *SummaryWorker) exportMonth(ctx context.Context, userID string, year, month int) error {
	grid, err := w.BuildMonthGrid(ctx, userID, year, month)
	if err != nil {
		return err
	}
	return w.exporter.WriteMonthGrid(ctx, grid)
}

// BuildMonthGrid assembles the day-by-category grid of one user month from
// the expenses table.
func (w *SummaryWorker) BuildMonthGrid(ctx context.Context, userID string, year, month int) (*core.MonthGrid, error) {
	expenses, err := w.repo.ListExpensesForMonth(ctx, userID, year, month)
	if err != nil {
		return nil, fmt.Errorf("list month expenses: %w", err)
	}
	categories, err := w.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	records := make([]core.RemoteExpense, len(expenses))
	for i, e := range expenses {
		records[i] = core.RemoteExpense{
			ID:         e.ID,
			Amount:     e.Amount,
			Date:       e.Date,
			CategoryID: e.CategoryID,
		}
	}
	remoteCategories := make([]core.RemoteCategory, len(categories))
	for i, c := range categories {
		remoteCategories[i] = core.RemoteCategory{ID: c.ID, Name: c.Name}
	}

	// Rows were selected by UTC month bounds, so bucket in UTC too. Mapping
	// in the host's local zone would shove boundary expenses into the
	// neighbouring month and drop them from the grid.
	months := core.MapRemoteToGridsIn(time.UTC, records, remoteCategories)
	if grid, ok := months[core.Key(year, month)]; ok {
		return grid, nil
	}
	return core.NewMonthGrid(month, year), nil
}

// Run consumes events and reconciles periodically until ctx is cancelled.
// consume is typically events.Client.ConsumeExpenseEvents.
func (w *SummaryWorker) Run(ctx context.Context, consume func(context.Context, func(*events.ExpenseEvent) error) error, reconcileInterval time.Duration) error {
	if reconcileInterval <= 0 {
		reconcileInterval = 5 * time.Minute
	}

	// Startup check picks up anything missed while the worker was down.
	if err := w.Reconcile(ctx); err != nil {
		slog.WarnContext(ctx, "Startup reconcile failed", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- consume(ctx, func(event *events.ExpenseEvent) error {
			return w.HandleExpenseEvent(ctx, event)
		})
	}()

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil && err != context.Canceled {
				return fmt.Errorf("consume expense events: %w", err)
			}
			return nil
		case <-ticker.C:
			if err := w.Reconcile(ctx); err != nil {
				slog.WarnContext(ctx, "Periodic reconcile failed", "error", err)
			}
		}
	}
}
