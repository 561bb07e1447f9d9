package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Schema DDL applied by Migrate
func Schema() string { return schemaSQL }

const (
	roomColumns    = `room_id, owner_id, title, price_per_month, security_deposit, advance_payment, status, created_at, updated_at`
	bookingColumns = `booking_id, tenant_id, landlord_id, room_id, start_date, end_date, monthly_rent, security_deposit,
		advance_payment, status, tenancy_status, tenant_message, landlord_response, created_at, updated_at, approved_at`
	paymentColumns = `payment_id, booking_id, tenant_id, landlord_id, amount, payment_type, payment_month, description,
		transaction_uuid, gateway_ref_id, gateway_signature, status, created_at, completed_at`
)

// PostgresLedger LedgerStore on PostgreSQL. Row locks are SELECT ... FOR UPDATE inside the
// unit-of-work transaction.
type PostgresLedger struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ LedgerStore = (*PostgresLedger)(nil)

func NewPostgresLedger(db *sqlx.DB, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{db: db, logger: logger}
}

// Migrate applies the embedded schema. Every statement is IF NOT EXISTS.
func (r *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	r.logger.Info("Ledger schema applied")
	return nil
}

func (r *PostgresLedger) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

func (r *PostgresLedger) CreateRoom(ctx context.Context, room *domain.Room) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO rooms (`+roomColumns+`)
		 VALUES (:room_id, :owner_id, :title, :price_per_month, :security_deposit, :advance_payment, :status, :created_at, :updated_at)`,
		room)
	return mapError(err)
}

func (r *PostgresLedger) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, mapError(err)
	}
	return &room, nil
}

func (r *PostgresLedger) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	var b domain.Booking
	err := r.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1`, bookingID)
	if err != nil {
		return nil, mapError(err)
	}
	return &b, nil
}

func (r *PostgresLedger) GetPaymentByTransaction(ctx context.Context, transactionUUID string) (*domain.Payment, error) {
	var p domain.Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE transaction_uuid = $1`, transactionUUID)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (r *PostgresLedger) ListBookingsForUser(ctx context.Context, userID string) ([]*domain.Booking, error) {
	out := []*domain.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE tenant_id = $1 OR landlord_id = $1
		 ORDER BY created_at DESC, booking_id DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *PostgresLedger) ListActiveTenancies(ctx context.Context, tenantID string) ([]*domain.Booking, error) {
	out := []*domain.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE tenant_id = $1 AND status = 'approved' AND tenancy_status = 'active'
		 ORDER BY created_at DESC, booking_id DESC`, tenantID)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *PostgresLedger) ListPayments(ctx context.Context, f PaymentFilter) ([]*domain.Payment, error) {
	query, args := buildPaymentQuery(f)
	out := []*domain.Payment{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func buildPaymentQuery(f PaymentFilter) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BookingID != "" {
		add("booking_id = $%d", f.BookingID)
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.LandlordID != "" {
		add("landlord_id = $%d", f.LandlordID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status.String())
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = t.String()
		}
		add("payment_type = ANY($%d)", pq.Array(types))
	}
	if f.Month != "" {
		add("payment_month = $%d", f.Month)
	}
	if f.From != nil {
		add("COALESCE(completed_at, created_at) >= $%d", *f.From)
	}
	if f.To != nil {
		add("COALESCE(completed_at, created_at) < $%d", *f.To)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, payment_id DESC"
	return query, args
}

func (r *PostgresLedger) ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	out := []*domain.Payment{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`, createdBefore, limitOrAll(limit))
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *PostgresLedger) ListStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Booking, error) {
	out := []*domain.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`, createdBefore, limitOrAll(limit))
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// limitOrAll LIMIT NULL means no limit in PostgreSQL.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

type postgresTx struct {
	tx *sqlx.Tx
}

var _ LedgerTx = (*postgresTx)(nil)

func (t *postgresTx) LockRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	err := t.tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1 FOR UPDATE`, roomID)
	if err != nil {
		return nil, mapError(err)
	}
	return &room, nil
}

func (t *postgresTx) UpdateRoom(ctx context.Context, room *domain.Room) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE rooms SET status = $2, updated_at = $3 WHERE room_id = $1`,
		room.RoomID, room.Status, room.UpdatedAt)
	return affectedOne(res, err)
}

func (t *postgresTx) GetBookingForUpdate(ctx context.Context, bookingID string) (*domain.Booking, error) {
	var b domain.Booking
	err := t.tx.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1 FOR UPDATE`, bookingID)
	if err != nil {
		return nil, mapError(err)
	}
	return &b, nil
}

func (t *postgresTx) FindOpenBooking(ctx context.Context, tenantID, roomID string) (*domain.Booking, error) {
	var b domain.Booking
	err := t.tx.GetContext(ctx, &b,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE tenant_id = $1 AND room_id = $2 AND status IN ('pending','approved')
		 LIMIT 1`, tenantID, roomID)
	if err != nil {
		return nil, mapError(err)
	}
	return &b, nil
}

func (t *postgresTx) CreateBooking(ctx context.Context, b *domain.Booking) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES (:booking_id, :tenant_id, :landlord_id, :room_id, :start_date, :end_date, :monthly_rent, :security_deposit,
		         :advance_payment, :status, :tenancy_status, :tenant_message, :landlord_response, :created_at, :updated_at, :approved_at)`,
		b)
	return mapError(err)
}

func (t *postgresTx) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	res, err := t.tx.NamedExecContext(ctx,
		`UPDATE bookings SET
		   status = :status, tenancy_status = :tenancy_status, landlord_response = :landlord_response,
		   end_date = :end_date, updated_at = :updated_at, approved_at = :approved_at
		 WHERE booking_id = :booking_id`,
		b)
	return affectedOne(res, err)
}

func (t *postgresTx) GetPaymentByTransactionForUpdate(ctx context.Context, transactionUUID string) (*domain.Payment, error) {
	var p domain.Payment
	err := t.tx.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE transaction_uuid = $1 FOR UPDATE`, transactionUUID)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (t *postgresTx) ListPaymentsByBooking(ctx context.Context, bookingID string) ([]*domain.Payment, error) {
	out := []*domain.Payment{}
	err := t.tx.SelectContext(ctx, &out,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (t *postgresTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (:payment_id, :booking_id, :tenant_id, :landlord_id, :amount, :payment_type, :payment_month, :description,
		         :transaction_uuid, :gateway_ref_id, :gateway_signature, :status, :created_at, :completed_at)`,
		p)
	return mapError(err)
}

func (t *postgresTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	res, err := t.tx.NamedExecContext(ctx,
		`UPDATE payments SET
		   status = :status, gateway_ref_id = :gateway_ref_id, gateway_signature = :gateway_signature,
		   description = :description, completed_at = :completed_at
		 WHERE payment_id = :payment_id`,
		p)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapError sql.ErrNoRows -> ErrNotFound, unique_violation (23505) -> ErrDuplicate.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}
