package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const billCols = `id, bill_number, bill_date, visit_id, doctor_id, patient_name,
	total_amount, discount_percent, discount_amount, payable_amount,
	received_amount, balance_amount, payment_status, payment_mode, payment_details,
	version_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	b.VersionID = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO opd_bill (
			id, bill_number, bill_date, visit_id, doctor_id, patient_name,
			total_amount, discount_percent, discount_amount, payable_amount,
			received_amount, balance_amount, payment_status, payment_mode, payment_details,
			version_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		b.ID, b.BillNumber, b.BillDate, b.VisitID, b.DoctorID, b.PatientName,
		b.TotalAmount, b.DiscountPercent, b.DiscountAmount, b.PayableAmount,
		b.ReceivedAmount, b.BalanceAmount, b.PaymentStatus, b.PaymentMode, b.PaymentDetails,
		b.VersionID,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.InvalidInput("bill number %q already exists", b.BillNumber)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.getOne(ctx, `SELECT `+billCols+` FROM opd_bill WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := r.getOne(ctx, `SELECT `+billCols+` FROM opd_bill WHERE id = $1 FOR UPDATE NOWAIT`, id)
	if db.IsLockNotAvailable(err) {
		return nil, fmt.Errorf("bill %s is being updated: %w", id, apperr.ErrConflict)
	}
	return b, err
}

func (r *repoPG) getOne(ctx context.Context, query string, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bill %s: %w", id, apperr.ErrNotFound)
	}
	return b, err
}

func (r *repoPG) Update(ctx context.Context, b *Bill, expectedVersion int) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE opd_bill SET
			patient_name = $3, total_amount = $4, discount_percent = $5,
			discount_amount = $6, payable_amount = $7, received_amount = $8,
			balance_amount = $9, payment_status = $10, payment_mode = $11,
			payment_details = $12, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		b.ID, expectedVersion, b.PatientName, b.TotalAmount, b.DiscountPercent,
		b.DiscountAmount, b.PayableAmount, b.ReceivedAmount,
		b.BalanceAmount, b.PaymentStatus, b.PaymentMode, b.PaymentDetails,
	).Scan(&b.VersionID, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bill %s changed since version %d: %w", b.ID, expectedVersion, apperr.ErrConflict)
	}
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error) {
	var clauses []string
	var args []interface{}
	if f.VisitID != nil {
		args = append(args, *f.VisitID)
		clauses = append(clauses, fmt.Sprintf("visit_id = $%d", len(args)))
	}
	if f.PaymentStatus != nil {
		args = append(args, *f.PaymentStatus)
		clauses = append(clauses, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM opd_bill`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM opd_bill%s ORDER BY bill_date DESC LIMIT $%d OFFSET $%d`, billCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var bills []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
	}
	return bills, total, rows.Err()
}

func (r *repoPG) NextBillSequence(ctx context.Context, day time.Time) (int, error) {
	y, m, d := day.Date()
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill_daily_counter (day, last_seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = bill_daily_counter.last_seq + 1
		RETURNING last_seq`, time.Date(y, m, d, 0, 0, 0, 0, day.Location())).Scan(&seq)
	return seq, err
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO opd_payment (id, bill_id, amount, mode, reference, received_at, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.BillID, p.Amount, p.Mode, p.Reference, p.ReceivedAt, p.RecordedBy)
	return err
}

func (r *repoPG) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, amount, mode, reference, received_at, recorded_by
		FROM opd_payment WHERE bill_id = $1 ORDER BY received_at, id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.Mode, &p.Reference, &p.ReceivedAt, &p.RecordedBy); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBill(row scanner) (*Bill, error) {
	var b Bill
	err := row.Scan(
		&b.ID, &b.BillNumber, &b.BillDate, &b.VisitID, &b.DoctorID, &b.PatientName,
		&b.TotalAmount, &b.DiscountPercent, &b.DiscountAmount, &b.PayableAmount,
		&b.ReceivedAmount, &b.BalanceAmount, &b.PaymentStatus, &b.PaymentMode, &b.PaymentDetails,
		&b.VersionID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Overpaid = b.BalanceAmount.IsNegative()
	return &b, nil
}
