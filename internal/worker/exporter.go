package worker

import (
	"context"
	"fmt"

	"lifeops/internal/amqp"
	"lifeops/internal/core"
	"lifeops/internal/events"
	"lifeops/internal/log"
	"lifeops/internal/sheets"
)

// BalanceSource is the read side the exporter needs from the budget service.
type BalanceSource interface {
	GetPeriod(ctx context.Context, family, key string) (*core.PayPeriod, error)
	CategoryBalances(ctx context.Context, family, periodKey string) ([]core.CategoryBalance, error)
}

// BalanceExportWorker re-exports category balances whenever a year
// recalculation commits. It only reads budget state.
type BalanceExportWorker struct {
	source   BalanceSource
	exporter sheets.BalanceExporter
	logger   *log.Logger
}

func NewBalanceExportWorker(source BalanceSource, exporter sheets.BalanceExporter, logger *log.Logger) *BalanceExportWorker {
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &BalanceExportWorker{
		source:   source,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentSheets),
	}
}

// HandleMessage processes one event from the broker. Events other than
// budget.recalculated are acknowledged and ignored.
func (w *BalanceExportWorker) HandleMessage(ctx context.Context, msg *amqp.EventMessage) error {
	if msg.Type != events.BudgetRecalculated {
		w.logger.DebugContext(ctx, "Ignoring event", log.FieldEventType, msg.Type, log.FieldEventID, msg.ID)
		return nil
	}
	var payload events.RecalculatedPayload
	if err := events.Decode(msg.Payload, &payload); err != nil {
		// a malformed payload will never succeed, so it is not retried
		w.logger.ErrorContext(ctx, "Dropping malformed event", log.FieldEventID, msg.ID, log.FieldError, err)
		return nil
	}

	w.logger.InfoContext(ctx, "Exporting recalculated periods",
		log.FieldFamily, msg.Family,
		log.FieldEventID, msg.ID,
		log.FieldCount, len(payload.PeriodKeys))

	for _, key := range payload.PeriodKeys {
		if err := w.ExportPeriod(ctx, msg.Family, key); err != nil {
			if core.IsNotFound(err, core.EntityPayPeriod) {
				w.logger.WarnContext(ctx, "Period deleted before export", log.FieldPeriodKey, key)
				continue
			}
			return err
		}
	}
	return nil
}

// ExportPeriod writes the current balances of one period.
func (w *BalanceExportWorker) ExportPeriod(ctx context.Context, family, periodKey string) error {
	period, err := w.source.GetPeriod(ctx, family, periodKey)
	if err != nil {
		return fmt.Errorf("load period %s: %w", periodKey, err)
	}
	rows, err := w.source.CategoryBalances(ctx, family, periodKey)
	if err != nil {
		return fmt.Errorf("project balances %s: %w", periodKey, err)
	}
	ref, err := w.exporter.ExportBalances(ctx, family, period, rows)
	if err != nil {
		return fmt.Errorf("export balances %s: %w", periodKey, err)
	}
	w.logger.InfoContext(ctx, "Exported period balances",
		log.FieldPeriodKey, periodKey,
		"sheets_ref", ref,
		log.FieldCount, len(rows))
	return nil
}
