package procpackage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/pkg/money"
)

type Service struct {
	procs ProcedureRepository
	pkgs  PackageRepository
	tx    db.Transactor
	log   zerolog.Logger
}

func NewService(procs ProcedureRepository, pkgs PackageRepository, tx db.Transactor) *Service {
	return &Service{procs: procs, pkgs: pkgs, tx: tx, log: zerolog.Nop()}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "procpackage").Logger()
}

func (s *Service) CreateProcedure(ctx context.Context, req CreateProcedureRequest) (*Procedure, error) {
	code := strings.TrimSpace(req.Code)
	name := strings.TrimSpace(req.Name)
	if code == "" {
		return nil, apperr.InvalidInput("code is required")
	}
	if name == "" {
		return nil, apperr.InvalidInput("name is required")
	}
	if req.Price.IsNegative() {
		return nil, apperr.InvalidInput("price must not be negative")
	}
	if req.Price.GreaterThan(money.Max) {
		return nil, apperr.InvalidInput("price must not exceed %s", money.Max)
	}
	if !req.Price.Round().Equal(req.Price) {
		return nil, apperr.InvalidInput("price must have at most two decimal places")
	}

	p := &Procedure{Code: code, Name: name, Price: req.Price, Active: true}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if err := s.procs.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListProcedures(ctx context.Context, f ListFilter, limit, offset int) ([]*Procedure, int, error) {
	return s.procs.List(ctx, f, limit, offset)
}

// compose resolves components against the catalog and snapshots each
// procedure's current name and price into the item.
func (s *Service) compose(ctx context.Context, comps []Component) ([]Item, error) {
	seen := make(map[uuid.UUID]bool, len(comps))
	items := make([]Item, 0, len(comps))
	for _, c := range comps {
		if c.ID == uuid.Nil {
			return nil, apperr.InvalidInput("procedure id is required")
		}
		if seen[c.ID] {
			return nil, apperr.InvalidInput("procedure %s listed more than once", c.ID)
		}
		seen[c.ID] = true
		if c.Quantity < 0 {
			return nil, apperr.InvalidInput("quantity for %s must not be negative", c.ID)
		}

		proc, err := s.procs.GetByID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !proc.Active {
			return nil, apperr.InvalidInput("procedure %s is inactive", proc.Code)
		}
		items = append(items, Item{
			ProcedureID:   proc.ID,
			ProcedureName: proc.Name,
			Quantity:      c.Quantity,
			UnitPrice:     proc.Price,
		})
	}
	return items, nil
}

func (s *Service) CreatePackage(ctx context.Context, req CreatePackageRequest) (*Package, error) {
	code := strings.TrimSpace(req.PackageCode)
	name := strings.TrimSpace(req.Name)
	if code == "" {
		return nil, apperr.InvalidInput("package_code is required")
	}
	if name == "" {
		return nil, apperr.InvalidInput("name is required")
	}
	if !req.PackagePrice.Round().Equal(req.PackagePrice) {
		return nil, apperr.InvalidInput("package_price must have at most two decimal places")
	}

	var result *Package
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		items, err := s.compose(ctx, req.Procedures)
		if err != nil {
			return err
		}
		p, err := Recompute(Package{
			PackageCode:  code,
			Name:         name,
			Description:  req.Description,
			Active:       true,
			Items:        items,
			PackagePrice: req.PackagePrice,
		})
		if err != nil {
			return err
		}
		if err := s.pkgs.Create(ctx, &p); err != nil {
			return err
		}
		result = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("package_id", result.ID.String()).
		Str("package_code", result.PackageCode).
		Str("discount_percent", result.DiscountPercent.StringFixed(2)).
		Msg("package created")
	return result, nil
}

func (s *Service) GetPackage(ctx context.Context, id uuid.UUID) (*Package, error) {
	return s.pkgs.GetByID(ctx, id)
}

func (s *Service) ListPackages(ctx context.Context, f ListFilter, limit, offset int) ([]*Package, int, error) {
	return s.pkgs.List(ctx, f, limit, offset)
}

// UpdatePackage applies the edit and recomputes the derived prices. Items
// that are not replaced keep the prices captured when they were composed.
func (s *Service) UpdatePackage(ctx context.Context, id uuid.UUID, req UpdatePackageRequest) (*Package, error) {
	if req.PackagePrice != nil && !req.PackagePrice.Round().Equal(*req.PackagePrice) {
		return nil, apperr.InvalidInput("package_price must have at most two decimal places")
	}

	var result *Package
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.pkgs.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Version != nil && *req.Version != cur.VersionID {
			return fmt.Errorf("package %s is at version %d, not %d: %w", id, cur.VersionID, *req.Version, apperr.ErrConflict)
		}

		next := *cur
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return apperr.InvalidInput("name must not be empty")
			}
			next.Name = name
		}
		if req.Description != nil {
			next.Description = req.Description
		}
		if req.Active != nil {
			next.Active = *req.Active
		}
		if req.PackagePrice != nil {
			next.PackagePrice = *req.PackagePrice
		}
		if req.Procedures != nil {
			items, err := s.compose(ctx, req.Procedures)
			if err != nil {
				return err
			}
			next.Items = items
		}

		next, err = Recompute(next)
		if err != nil {
			return err
		}
		if err := s.pkgs.Update(ctx, &next, cur.VersionID); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("package_id", result.ID.String()).
		Int("version_id", result.VersionID).
		Str("discount_percent", result.DiscountPercent.StringFixed(2)).
		Msg("package updated")
	return result, nil
}
