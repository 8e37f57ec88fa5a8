package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetForUpdate locks the row for the current transaction. A row locked
	// by someone else yields apperr.ErrConflict.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	// Update writes inputs and derived fields when the stored version still
	// equals expectedVersion, and bumps the version.
	Update(ctx context.Context, b *Bill, expectedVersion int) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error)
	NextBillSequence(ctx context.Context, day time.Time) (int, error)

	// Payments ledger
	AddPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
}
