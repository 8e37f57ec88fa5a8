package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueueFilter narrows the active set the queue is built from. A zero Day
// means every active visit regardless of entry date.
type QueueFilter struct {
	DoctorID *uuid.UUID
	Day      time.Time
}

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// GetForUpdate locks the row for the rest of the transaction. It fails
	// with apperr.ErrConflict when another transaction holds the lock.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error)
	// UpdateStatus persists status and consultation timestamps if the stored
	// version still equals expectedVersion, and bumps the version.
	UpdateStatus(ctx context.Context, v *Visit, expectedVersion int) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error)
	ListActive(ctx context.Context, f QueueFilter) ([]Visit, error)
	NextVisitSequence(ctx context.Context, day time.Time) (int, error)

	AddStatusHistory(ctx context.Context, h *StatusHistory) error
	GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error)
}
