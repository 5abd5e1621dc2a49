package worker

import (
	"context"
	"time"

	"lifeops/internal/core"
	"lifeops/internal/log"
)

// BillPayer settles due auto-pay bills for one family.
type BillPayer interface {
	PayDueBills(ctx context.Context, family string, today core.Date) (int, error)
}

// AutoPayProcessor pays due auto-pay bills for a fixed set of families on a
// ticker.
type AutoPayProcessor struct {
	payer    BillPayer
	families []string
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

func NewAutoPayProcessor(payer BillPayer, families []string, interval time.Duration, logger *log.Logger) *AutoPayProcessor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &AutoPayProcessor{
		payer:    payer,
		families: families,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessDue runs one pass over every family and returns the number of
// payments made.
func (p *AutoPayProcessor) ProcessDue(ctx context.Context) int {
	today := core.DateOf(p.now())
	total := 0
	for _, family := range p.families {
		n, err := p.payer.PayDueBills(ctx, family, today)
		if err != nil {
			p.logger.ErrorContext(ctx, "Auto-pay pass failed", log.FieldFamily, family, log.FieldError, err)
			continue
		}
		total += n
	}
	if total > 0 {
		p.logger.InfoContext(ctx, "Auto-pay pass complete", log.FieldCount, total, "date", today.String())
	}
	return total
}

// Run processes once immediately, then on every tick until ctx is done.
func (p *AutoPayProcessor) Run(ctx context.Context) error {
	p.ProcessDue(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.ProcessDue(ctx)
		}
	}
}
