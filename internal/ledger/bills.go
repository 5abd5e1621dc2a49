package ledger

import (
	"context"
	"sort"
	"strings"

	"lifeops/internal/core"
	"lifeops/internal/events"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

type BillInput struct {
	Name        string         `json:"name"`
	Amount      core.Money     `json:"amount"`
	DueDay      int            `json:"due_day"`
	Frequency   core.Frequency `json:"frequency"`
	AccountKey  string         `json:"account_key"`
	CategoryKey string         `json:"category_key"`
	AutoPay     bool           `json:"auto_pay"`
	NextDue     core.Date      `json:"next_due"`
}

// BillPayment is the result of paying a bill.
type BillPayment struct {
	Bill        core.Bill        `json:"bill"`
	Transaction core.Transaction `json:"transaction"`
}

func (s *Service) CreateBill(ctx context.Context, family string, in BillInput) (*core.Bill, error) {
	const op = "ledger.create_bill"
	b := &core.Bill{
		Meta:        core.Meta{Key: s.newKey(), Family: family},
		Name:        strings.TrimSpace(in.Name),
		Amount:      in.Amount,
		DueDay:      in.DueDay,
		Frequency:   in.Frequency,
		AccountKey:  in.AccountKey,
		CategoryKey: in.CategoryKey,
		AutoPay:     in.AutoPay,
		NextDue:     in.NextDue,
	}
	if b.NextDue.IsZero() {
		b.NextDue = FirstDue(s.today(), b.DueDay)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := loadAccount(ctx, tx, op, family, b.AccountKey); err != nil {
			return err
		}
		if b.CategoryKey != "" {
			if _, err := tx.Get(ctx, storage.Categories, family, b.CategoryKey); err != nil {
				return storage.Translate(err, op, core.EntityCategory, b.CategoryKey)
			}
		}
		return storage.Put(ctx, tx, storage.Bills, b)
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{log.FieldBillKey: b.Key})
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, family, key string) (*core.Bill, error) {
	b, err := storage.Get[core.Bill](ctx, s.store, storage.Bills, family, key)
	if err != nil {
		return nil, storage.Translate(err, "ledger.get_bill", core.EntityBill, key)
	}
	return b, nil
}

// ListBills returns bills ordered by next due date.
func (s *Service) ListBills(ctx context.Context, family string) ([]core.Bill, error) {
	bills, err := storage.Find[core.Bill](ctx, s.store, storage.Bills, family, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bills, func(i, j int) bool { return bills[i].NextDue.Before(bills[j].NextDue) })
	return bills, nil
}

// DeleteBill removes the template. Transactions it produced keep their bill key.
func (s *Service) DeleteBill(ctx context.Context, family, key string) error {
	const op = "ledger.delete_bill"
	if err := s.store.Delete(ctx, storage.Bills, family, key); err != nil {
		return storage.Translate(err, op, core.EntityBill, key)
	}
	s.logMutation(ctx, log.OpDelete, family, log.LogFields{log.FieldBillKey: key})
	return nil
}

// MarkBillPaid materializes one outflow transaction for the bill on paid,
// records the payment date and advances the next due date.
func (s *Service) MarkBillPaid(ctx context.Context, family, key string, paid core.Date) (*BillPayment, error) {
	const op = "ledger.mark_bill_paid"
	if paid.IsZero() {
		paid = s.today()
	}
	out := &BillPayment{}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		b, err := storage.Get[core.Bill](ctx, tx, storage.Bills, family, key)
		if err != nil {
			return storage.Translate(err, op, core.EntityBill, key)
		}
		next, err := NextDueAfter(b.NextDue, paid, b.Frequency, b.DueDay)
		if err != nil {
			return core.Validation(op, "%v", err)
		}

		t := &core.Transaction{
			Meta:        core.Meta{Key: s.newKey(), Family: family},
			AccountKey:  b.AccountKey,
			CategoryKey: b.CategoryKey,
			Payee:       b.Name,
			Amount:      b.Amount.Neg(),
			Date:        paid,
			Status:      core.StatusActive,
			BillKey:     b.Key,
		}
		if _, err := s.insertTransaction(ctx, tx, op, t); err != nil {
			return err
		}

		b.LastPaid = paid
		b.NextDue = next
		if err := storage.Put(ctx, tx, storage.Bills, b); err != nil {
			return storage.Translate(err, op, core.EntityBill, key)
		}
		out.Bill, out.Transaction = *b, *t
		return events.Record(ctx, tx, events.BillPaid, family, b.Key, events.BillPaidPayload{
			BillKey:        b.Key,
			TransactionKey: t.Key,
			NextDue:        next,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{
		log.FieldBillKey:        key,
		log.FieldTransactionKey: out.Transaction.Key,
		"next_due":              out.Bill.NextDue.String(),
	})
	return out, nil
}

// maxCatchUp bounds how many missed occurrences one auto-pay run settles per bill.
const maxCatchUp = 12

// PayDueBills pays every auto-pay bill whose next due date is on or before
// today, one transaction per missed occurrence dated on its due day. A bill
// that fails is logged and skipped so the others still get paid.
func (s *Service) PayDueBills(ctx context.Context, family string, today core.Date) (int, error) {
	bills, err := s.ListBills(ctx, family)
	if err != nil {
		return 0, err
	}
	paid := 0
	for _, b := range bills {
		if !b.AutoPay || b.NextDue.IsZero() {
			continue
		}
		due := b.NextDue
		for i := 0; i < maxCatchUp && !due.After(today); i++ {
			p, err := s.MarkBillPaid(ctx, family, b.Key, due)
			if err != nil {
				s.logger.ErrorContext(ctx, "Auto-pay failed",
					log.FieldBillKey, b.Key,
					log.FieldFamily, family,
					log.FieldError, err)
				break
			}
			paid++
			due = p.Bill.NextDue
		}
	}
	return paid, nil
}
