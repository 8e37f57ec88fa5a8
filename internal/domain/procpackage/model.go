package procpackage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/opd/pkg/money"
)

// Procedure maps to the procedure catalog table.
type Procedure struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Code      string      `db:"code" json:"code"`
	Name      string      `db:"name" json:"name"`
	Price     money.Money `db:"price" json:"price"`
	Active    bool        `db:"active" json:"active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// Item is one line of a package composition. UnitPrice is the catalog price
// captured when the line was composed.
type Item struct {
	ProcedureID   uuid.UUID   `db:"procedure_id" json:"procedure_id"`
	ProcedureName string      `db:"procedure_name" json:"procedure_name"`
	Quantity      int         `db:"quantity" json:"quantity"`
	UnitPrice     money.Money `db:"unit_price" json:"unit_price"`
}

func (i Item) LineTotal() money.Money {
	return i.UnitPrice.MulInt(int64(i.Quantity))
}

// Package maps to procedure_package plus its procedure_package_item rows.
type Package struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PackageCode     string          `db:"package_code" json:"package_code"`
	Name            string          `db:"name" json:"name"`
	Description     *string         `db:"description" json:"description,omitempty"`
	Active          bool            `db:"active" json:"active"`
	Items           []Item          `db:"-" json:"items"`
	PackagePrice    money.Money     `db:"package_price" json:"package_price"`
	TotalBasePrice  money.Money     `db:"total_base_price" json:"total_base_price"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	VersionID       int             `db:"version_id" json:"version_id"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

type CreateProcedureRequest struct {
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Price  money.Money `json:"price"`
	Active *bool       `json:"active"`
}

// Component references a catalog procedure in a package request.
type Component struct {
	ID       uuid.UUID `json:"id"`
	Quantity int       `json:"quantity"`
}

type CreatePackageRequest struct {
	PackageCode  string      `json:"package_code"`
	Name         string      `json:"name"`
	Description  *string     `json:"description"`
	Procedures   []Component `json:"procedures"`
	PackagePrice money.Money `json:"package_price"`
}

// UpdatePackageRequest is the body accepted by PATCH /packages/:id. A non-nil
// Procedures replaces the whole composition.
type UpdatePackageRequest struct {
	Name         *string      `json:"name"`
	Description  *string      `json:"description"`
	Active       *bool        `json:"active"`
	Procedures   []Component  `json:"procedures"`
	PackagePrice *money.Money `json:"package_price"`
	Version      *int         `json:"version,omitempty"`
}

type ListFilter struct {
	ActiveOnly bool
}
