package service

import (
	"context"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
	"github.com/H51976/roombox-fyp/internal/gateway"
	"github.com/H51976/roombox-fyp/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusChecker gateway transaction-status lookup (gateway.StatusClient).
type StatusChecker interface {
	CheckStatus(ctx context.Context, transactionUUID string, totalAmount decimal.Decimal) (*gateway.StatusResponse, error)
}

// ReconcileReport outcome of one reconciliation pass
type ReconcileReport struct {
	Checked int `json:"checked"`
	Failed  int `json:"failed"`
	// CompletedAtGateway paid at the gateway but never confirmed by callback. Without a
	// signed callback these are reported for manual follow-up, not completed.
	CompletedAtGateway []string `json:"completed_at_gateway,omitempty"`
	StillPending       int      `json:"still_pending"`
	Errors             int      `json:"errors"`
}

// Reconciler resolves payments whose gateway callback never arrived.
type Reconciler struct {
	engine  *LifecycleEngine
	store   repository.LedgerStore
	checker StatusChecker
	logger  *zap.Logger
}

func NewReconciler(engine *LifecycleEngine, ledger repository.LedgerStore, checker StatusChecker, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		engine:  engine,
		store:   ledger,
		checker: checker,
		logger:  logger,
	}
}

// ReconcileOnce checks pending payments older than olderThan. Abandoned transactions are
// failed through the engine; everything else is left alone.
func (r *Reconciler) ReconcileOnce(ctx context.Context, olderThan time.Duration, limit int) (*ReconcileReport, error) {
	if olderThan <= 0 {
		return nil, domain.InvalidArgument("reconcile age must be positive")
	}
	stale, err := r.store.ListStalePendingPayments(ctx, r.engine.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for _, p := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		status, err := r.checker.CheckStatus(ctx, p.TransactionUUID, p.Amount)
		if err != nil {
			report.Errors++
			r.logger.Warn("Status check failed", zap.String("transaction_uuid", p.TransactionUUID), zap.Error(err))
			continue
		}

		switch {
		case status.Status.IsAbandoned():
			reason := "Gateway reported " + string(status.Status)
			if _, err := r.engine.FailPayment(ctx, p.TransactionUUID, reason); err != nil {
				report.Errors++
				r.logger.Warn("Failed to mark payment failed",
					zap.String("transaction_uuid", p.TransactionUUID),
					zap.Error(err),
				)
				continue
			}
			report.Failed++
		case status.Status == gateway.StatusComplete:
			report.CompletedAtGateway = append(report.CompletedAtGateway, p.TransactionUUID)
			r.logger.Warn("Payment completed at gateway without callback",
				zap.String("transaction_uuid", p.TransactionUUID),
				zap.String("booking_id", p.BookingID),
			)
		default:
			report.StillPending++
		}
	}

	r.logger.Info("Reconciliation pass finished",
		zap.Int("checked", report.Checked),
		zap.Int("failed", report.Failed),
		zap.Int("completed_at_gateway", len(report.CompletedAtGateway)),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// SweepOptions background sweep schedule
type SweepOptions struct {
	Interval       time.Duration
	ReconcileAfter time.Duration
	PendingTTL     time.Duration
	BatchSize      int
}

// RunSweeper reconciles (and expires pending bookings when enabled) every interval until ctx ends.
func (r *Reconciler) RunSweeper(ctx context.Context, opts SweepOptions) {
	if opts.Interval <= 0 {
		r.logger.Info("Lifecycle sweeper disabled")
		return
	}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	r.logger.Info("Lifecycle sweeper started", zap.Duration("interval", opts.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Lifecycle sweeper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx, opts)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context, opts SweepOptions) {
	if _, err := r.ReconcileOnce(ctx, opts.ReconcileAfter, opts.BatchSize); err != nil {
		r.logger.Warn("Reconciliation pass failed", zap.Error(err))
	}
	if !r.engine.opts.ExpirePending {
		return
	}
	if _, err := r.engine.ExpirePendingBookings(ctx, opts.PendingTTL, opts.BatchSize); err != nil {
		r.logger.Warn("Pending booking expiry failed", zap.Error(err))
	}
}
