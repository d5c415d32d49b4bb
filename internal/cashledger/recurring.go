package cashledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

// MaterializeRecurring creates the PENDING occurrences of every active
// template that fall inside the lookahead horizon and returns how many rows it wrote.
func (l *Ledger) MaterializeRecurring(ctx context.Context) (int, error) {
	asOf := l.now()
	horizon := asOf.Add(recurringHorizon)

	created := 0
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		templates, err := tx.ListDueRecurring(ctx, asOf)
		if err != nil {
			return err
		}
		for _, tpl := range templates {
			n, err := l.materializeTemplate(ctx, tx, tpl, horizon)
			if err != nil {
				return fmt.Errorf("recurring %s: %w", tpl.ID, err)
			}
			created += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (l *Ledger) materializeTemplate(ctx context.Context, tx store.Tx, tpl domain.RecurringTemplate, horizon time.Time) (int, error) {
	next := tpl.DueDate
	if tpl.LastGeneratedAt != nil {
		next = nextOccurrence(tpl, *tpl.LastGeneratedAt)
	}

	var last *time.Time
	created := 0
	for step := 0; step < maxRecurringSteps; step++ {
		if next.After(horizon) {
			break
		}
		if tpl.EndDate != nil && next.After(*tpl.EndDate) {
			break
		}
		due := next
		if _, err := l.RecordTx(ctx, tx, domain.FinancialTransaction{
			RestaurantID:  tpl.RestaurantID,
			Direction:     tpl.Direction,
			Status:        domain.TxPending,
			Amount:        tpl.Amount,
			Description:   tpl.Description,
			Category:      tpl.Category,
			BankAccountID: tpl.BankAccountID,
			RecurringID:   tpl.ID,
			DueDate:       &due,
		}); err != nil {
			return created, err
		}
		last = &due
		created++
		next = nextOccurrence(tpl, due)
	}

	if last == nil {
		return 0, nil
	}
	if err := tx.SetRecurringGenerated(ctx, tpl.ID, *last); err != nil {
		return created, err
	}
	return created, audit.Record(ctx, tx, tpl.RestaurantID, "recurring_materialize", "recurring_template", tpl.ID,
		fmt.Sprintf("created=%d,through=%s", created, last.Format("2006-01-02")))
}

// nextOccurrence steps one period past from, keeping the template's day of
// month. Months shorter than that day land on their last day.
func nextOccurrence(tpl domain.RecurringTemplate, from time.Time) time.Time {
	anchor := tpl.DueDate
	switch tpl.Frequency {
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case domain.FrequencyYearly:
		return clampDate(from.Year()+1, anchor.Month(), anchor.Day(), anchor)
	default:
		month := from.Month() + 1
		year := from.Year()
		if month > time.December {
			month = time.January
			year++
		}
		return clampDate(year, month, anchor.Day(), anchor)
	}
}

func clampDate(year int, month time.Month, day int, clock time.Time) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, clock.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, clock.Hour(), clock.Minute(), clock.Second(), 0, clock.Location())
}

// RunScheduler materializes recurring transactions once at start and then on
// every tick until ctx is done.
func (l *Ledger) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	run := func() {
		created, err := l.MaterializeRecurring(ctx)
		if err != nil {
			slog.Error("recurring materialization failed", slog.Any("error", err))
			return
		}
		if created > 0 {
			slog.Info("recurring transactions materialized", slog.Int("created", created))
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
