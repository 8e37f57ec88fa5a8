package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/opd/internal/domain/visit"
	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/pkg/money"
)

// VisitReader resolves the visit a bill is raised against.
type VisitReader interface {
	GetVisit(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
}

type Service struct {
	repo   Repository
	tx     db.Transactor
	visits VisitReader
	now    func() time.Time
	log    zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, visits VisitReader) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		visits: visits,
		now:    func() time.Time { return time.Now().UTC() },
		log:    zerolog.Nop(),
	}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "billing").Logger()
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// FormatBillNumber renders OPDB-YYYYMMDD-NNNN.
func FormatBillNumber(day time.Time, seq int) string {
	return fmt.Sprintf("OPDB-%s-%04d", day.Format("20060102"), seq)
}

func (s *Service) CreateBill(ctx context.Context, req CreateRequest) (*Bill, error) {
	if req.VisitID == uuid.Nil {
		return nil, apperr.InvalidInput("visit_id is required")
	}
	name := strings.TrimSpace(req.PatientName)
	if name == "" {
		return nil, apperr.InvalidInput("patient_name is required")
	}
	mode := ModeCash
	if req.PaymentMode != "" {
		m, err := ParsePaymentMode(req.PaymentMode)
		if err != nil {
			return nil, err
		}
		mode = m
	}
	bd, err := Compute(req.TotalAmount, req.DiscountPercent, money.Zero)
	if err != nil {
		return nil, err
	}

	doctorID := req.DoctorID
	if s.visits != nil {
		v, err := s.visits.GetVisit(ctx, req.VisitID)
		if err != nil {
			return nil, err
		}
		if doctorID == nil {
			doctorID = v.DoctorID
		}
	}

	now := s.now()
	b := &Bill{
		BillNumber:      req.BillNumber,
		BillDate:        now,
		VisitID:         req.VisitID,
		DoctorID:        doctorID,
		PatientName:     name,
		TotalAmount:     req.TotalAmount,
		DiscountPercent: req.DiscountPercent,
		ReceivedAmount:  money.Zero,
		PaymentMode:     mode,
	}
	b.Apply(bd)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if b.BillNumber == "" {
			seq, err := s.repo.NextBillSequence(ctx, now)
			if err != nil {
				return fmt.Errorf("allocate bill number: %w", err)
			}
			b.BillNumber = FormatBillNumber(now, seq)
		}
		return s.repo.Create(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("bill_id", b.ID.String()).
		Str("bill_number", b.BillNumber).
		Str("payable", b.PayableAmount.String()).
		Msg("bill created")
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListBills(ctx context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// UpdateBill edits the bill inputs and recomputes every derived field. Once a
// bill is paid its amounts can no longer change.
func (s *Service) UpdateBill(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Bill, error) {
	var mode *PaymentMode
	if req.PaymentMode != nil {
		m, err := ParsePaymentMode(*req.PaymentMode)
		if err != nil {
			return nil, err
		}
		mode = &m
	}

	var result *Bill
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Version != nil && *req.Version != cur.VersionID {
			return fmt.Errorf("bill %s is at version %d, not %d: %w", id, cur.VersionID, *req.Version, apperr.ErrConflict)
		}

		next := *cur
		if req.TotalAmount != nil {
			next.TotalAmount = *req.TotalAmount
		}
		if req.DiscountPercent != nil {
			next.DiscountPercent = *req.DiscountPercent
		}
		amountsChanged := !next.TotalAmount.Equal(cur.TotalAmount) || !next.DiscountPercent.Equal(cur.DiscountPercent)
		if amountsChanged && cur.PaymentStatus == StatusPaid {
			return fmt.Errorf("bill %s is paid and its amounts are locked: %w", cur.BillNumber, apperr.ErrPreconditionFailed)
		}
		if req.PatientName != nil {
			name := strings.TrimSpace(*req.PatientName)
			if name == "" {
				return apperr.InvalidInput("patient_name must not be empty")
			}
			next.PatientName = name
		}
		if mode != nil {
			next.PaymentMode = *mode
		}

		bd, err := Compute(next.TotalAmount, next.DiscountPercent, next.ReceivedAmount)
		if err != nil {
			return err
		}
		next.Apply(bd)

		if err := s.repo.Update(ctx, &next, cur.VersionID); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordPayment applies a payment under the bill's row lock and appends it
// to the ledger in the same transaction.
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest, actor string) (*Bill, *Payment, error) {
	mode, err := ParsePaymentMode(req.Mode)
	if err != nil {
		return nil, nil, err
	}

	var bill *Bill
	var payment *Payment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Version != nil && *req.Version != cur.VersionID {
			return fmt.Errorf("bill %s is at version %d, not %d: %w", id, cur.VersionID, *req.Version, apperr.ErrConflict)
		}

		next, p, err := ApplyPayment(*cur, req.Amount, mode, req.Reference, s.now())
		if err != nil {
			return err
		}
		if actor != "" {
			p.RecordedBy = &actor
		}
		if err := s.repo.Update(ctx, &next, cur.VersionID); err != nil {
			return err
		}
		if err := s.repo.AddPayment(ctx, &p); err != nil {
			return err
		}
		bill, payment = &next, &p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	ev := s.log.Info().
		Str("bill_id", bill.ID.String()).
		Str("amount", payment.Amount.String()).
		Str("mode", string(payment.Mode)).
		Str("balance", bill.BalanceAmount.String()).
		Str("status", string(bill.PaymentStatus))
	if bill.Overpaid {
		ev = ev.Bool("overpaid", true)
	}
	ev.Msg("payment recorded")
	return bill, payment, nil
}

func (s *Service) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	if _, err := s.repo.GetByID(ctx, billID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, billID)
}

// Preview runs the calculator without touching storage.
func (s *Service) Preview(req PreviewRequest) (Breakdown, error) {
	return Compute(req.TotalAmount, req.DiscountPercent, req.ReceivedAmount)
}
