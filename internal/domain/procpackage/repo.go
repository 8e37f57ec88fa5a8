package procpackage

import (
	"context"

	"github.com/google/uuid"
)

type ProcedureRepository interface {
	Create(ctx context.Context, p *Procedure) error
	GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Procedure, int, error)
}

// PackageRepository persists packages together with their items. Update
// replaces the item set and fails with ErrConflict when the stored version
// differs from expectedVersion.
type PackageRepository interface {
	Create(ctx context.Context, p *Package) error
	GetByID(ctx context.Context, id uuid.UUID) (*Package, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Package, error)
	Update(ctx context.Context, p *Package, expectedVersion int) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Package, int, error)
}
