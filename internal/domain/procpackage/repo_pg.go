package procpackage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/internal/platform/db"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// -- Procedure --

type procedureRepoPG struct {
	pool *pgxpool.Pool
}

func NewProcedureRepo(pool *pgxpool.Pool) ProcedureRepository {
	return &procedureRepoPG{pool: pool}
}

func (r *procedureRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const procedureCols = `id, code, name, price, active, created_at, updated_at`

func (r *procedureRepoPG) Create(ctx context.Context, p *Procedure) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO procedure (id, code, name, price, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.ID, p.Code, p.Name, p.Price, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.InvalidInput("procedure code %q already exists", p.Code)
	}
	return err
}

func (r *procedureRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, err := scanProcedure(r.conn(ctx).QueryRow(ctx, `SELECT `+procedureCols+` FROM procedure WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("procedure %s: %w", id, apperr.ErrNotFound)
	}
	return p, err
}

func (r *procedureRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Procedure, int, error) {
	where := ""
	if f.ActiveOnly {
		where = " WHERE active"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM procedure`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+procedureCols+` FROM procedure`+where+` ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var procs []*Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, 0, err
		}
		procs = append(procs, p)
	}
	return procs, total, rows.Err()
}

func scanProcedure(row scanner) (*Procedure, error) {
	var p Procedure
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Package --

type packageRepoPG struct {
	pool *pgxpool.Pool
}

func NewPackageRepo(pool *pgxpool.Pool) PackageRepository {
	return &packageRepoPG{pool: pool}
}

func (r *packageRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const packageCols = `id, package_code, name, description, active, package_price,
	total_base_price, discount_percent, version_id, created_at, updated_at`

// Create inserts the package and its items. Callers run it inside a
// transaction so the header and items commit together.
func (r *packageRepoPG) Create(ctx context.Context, p *Package) error {
	p.ID = uuid.New()
	p.VersionID = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO procedure_package (
			id, package_code, name, description, active,
			package_price, total_base_price, discount_percent, version_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.PackageCode, p.Name, p.Description, p.Active,
		p.PackagePrice, p.TotalBasePrice, p.DiscountPercent, p.VersionID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.InvalidInput("package code %q already exists", p.PackageCode)
	}
	if err != nil {
		return err
	}
	return r.insertItems(ctx, p.ID, p.Items)
}

func (r *packageRepoPG) insertItems(ctx context.Context, packageID uuid.UUID, items []Item) error {
	for i, it := range items {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO procedure_package_item (package_id, position, procedure_id, procedure_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			packageID, i, it.ProcedureID, it.ProcedureName, it.Quantity, it.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert package item %d: %w", i, err)
		}
	}
	return nil
}

func (r *packageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Package, error) {
	return r.getOne(ctx, `SELECT `+packageCols+` FROM procedure_package WHERE id = $1`, id)
}

func (r *packageRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Package, error) {
	p, err := r.getOne(ctx, `SELECT `+packageCols+` FROM procedure_package WHERE id = $1 FOR UPDATE NOWAIT`, id)
	if db.IsLockNotAvailable(err) {
		return nil, fmt.Errorf("package %s is being updated: %w", id, apperr.ErrConflict)
	}
	return p, err
}

func (r *packageRepoPG) getOne(ctx context.Context, query string, id uuid.UUID) (*Package, error) {
	p, err := scanPackage(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("package %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Package{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *packageRepoPG) Update(ctx context.Context, p *Package, expectedVersion int) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE procedure_package SET
			name = $3, description = $4, active = $5, package_price = $6,
			total_base_price = $7, discount_percent = $8,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		p.ID, expectedVersion, p.Name, p.Description, p.Active, p.PackagePrice,
		p.TotalBasePrice, p.DiscountPercent,
	).Scan(&p.VersionID, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("package %s changed since version %d: %w", p.ID, expectedVersion, apperr.ErrConflict)
	}
	if err != nil {
		return err
	}

	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM procedure_package_item WHERE package_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear package items: %w", err)
	}
	return r.insertItems(ctx, p.ID, p.Items)
}

func (r *packageRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Package, int, error) {
	where := ""
	if f.ActiveOnly {
		where = " WHERE active"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM procedure_package`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+packageCols+` FROM procedure_package`+where+` ORDER BY package_code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var pkgs []*Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		pkgs = append(pkgs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := r.loadItems(ctx, pkgs); err != nil {
		return nil, 0, err
	}
	return pkgs, total, nil
}

func (r *packageRepoPG) loadItems(ctx context.Context, pkgs []*Package) error {
	if len(pkgs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Package, len(pkgs))
	ids := make([]uuid.UUID, 0, len(pkgs))
	for _, p := range pkgs {
		p.Items = []Item{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT package_id, procedure_id, procedure_name, quantity, unit_price
		FROM procedure_package_item WHERE package_id = ANY($1)
		ORDER BY package_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var pkgID uuid.UUID
		var it Item
		if err := rows.Scan(&pkgID, &it.ProcedureID, &it.ProcedureName, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		if p := byID[pkgID]; p != nil {
			p.Items = append(p.Items, it)
		}
	}
	return rows.Err()
}

func scanPackage(row scanner) (*Package, error) {
	var p Package
	err := row.Scan(
		&p.ID, &p.PackageCode, &p.Name, &p.Description, &p.Active, &p.PackagePrice,
		&p.TotalBasePrice, &p.DiscountPercent, &p.VersionID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
