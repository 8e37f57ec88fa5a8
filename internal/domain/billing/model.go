package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/pkg/money"
)

// PaymentStatus is derived from the bill amounts and never accepted from
// clients.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPartial PaymentStatus = "partial"
	StatusUnpaid  PaymentStatus = "unpaid"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case StatusPaid, StatusPartial, StatusUnpaid:
		return PaymentStatus(s), nil
	}
	return "", apperr.InvalidInput("unknown payment status %q", s)
}

type PaymentMode string

const (
	ModeCash         PaymentMode = "cash"
	ModeCard         PaymentMode = "card"
	ModeUPI          PaymentMode = "upi"
	ModeBankTransfer PaymentMode = "bank_transfer"
	ModeCheque       PaymentMode = "cheque"
	ModeOther        PaymentMode = "other"
)

var paymentModes = map[PaymentMode]bool{
	ModeCash: true, ModeCard: true, ModeUPI: true,
	ModeBankTransfer: true, ModeCheque: true, ModeOther: true,
}

func ParsePaymentMode(s string) (PaymentMode, error) {
	if m := PaymentMode(s); paymentModes[m] {
		return m, nil
	}
	return "", apperr.InvalidInput("unknown payment mode %q", s)
}

func (m *PaymentMode) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("payment mode: %w", err)
	}
	mode, err := ParsePaymentMode(raw)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Bill maps to the opd_bill table. Discount, payable, balance and status are
// always recomputed from the inputs.
type Bill struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	BillNumber      string          `db:"bill_number" json:"bill_number"`
	BillDate        time.Time       `db:"bill_date" json:"bill_date"`
	VisitID         uuid.UUID       `db:"visit_id" json:"visit_id"`
	DoctorID        *uuid.UUID      `db:"doctor_id" json:"doctor_id,omitempty"`
	PatientName     string          `db:"patient_name" json:"patient_name"`
	TotalAmount     money.Money     `db:"total_amount" json:"total_amount"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	DiscountAmount  money.Money     `db:"discount_amount" json:"discount_amount"`
	PayableAmount   money.Money     `db:"payable_amount" json:"payable_amount"`
	ReceivedAmount  money.Money     `db:"received_amount" json:"received_amount"`
	BalanceAmount   money.Money     `db:"balance_amount" json:"balance_amount"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentMode     PaymentMode     `db:"payment_mode" json:"payment_mode"`
	PaymentDetails  *string         `db:"payment_details" json:"payment_details,omitempty"`
	Overpaid        bool            `db:"-" json:"overpaid"`
	VersionID       int             `db:"version_id" json:"version_id"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Apply copies a breakdown into the derived fields.
func (b *Bill) Apply(bd Breakdown) {
	b.DiscountAmount = bd.Discount
	b.PayableAmount = bd.Payable
	b.BalanceAmount = bd.Balance
	b.PaymentStatus = bd.Status
	b.Overpaid = bd.Overpaid
}

// Payment maps to the append-only opd_payment table.
type Payment struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	BillID     uuid.UUID   `db:"bill_id" json:"bill_id"`
	Amount     money.Money `db:"amount" json:"amount"`
	Mode       PaymentMode `db:"mode" json:"mode"`
	Reference  *string     `db:"reference" json:"reference,omitempty"`
	ReceivedAt time.Time   `db:"received_at" json:"received_at"`
	RecordedBy *string     `db:"recorded_by" json:"recorded_by,omitempty"`
}

// CreateRequest is the body accepted by POST /opd-bills. Derived amounts are
// not part of it.
type CreateRequest struct {
	BillNumber      string          `json:"bill_number"`
	VisitID         uuid.UUID       `json:"visit_id"`
	DoctorID        *uuid.UUID      `json:"doctor_id"`
	PatientName     string          `json:"patient_name"`
	TotalAmount     money.Money     `json:"total_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	PaymentMode     string          `json:"payment_mode"`
}

// UpdateRequest is the body accepted by PATCH /opd-bills/:id. Nil fields are
// left unchanged.
type UpdateRequest struct {
	TotalAmount     *money.Money     `json:"total_amount"`
	DiscountPercent *decimal.Decimal `json:"discount_percent"`
	PaymentMode     *string          `json:"payment_mode"`
	PatientName     *string          `json:"patient_name"`
	Version         *int             `json:"version,omitempty"`
}

// PaymentRequest is the body accepted by POST /opd-bills/:id/payments.
type PaymentRequest struct {
	Amount    money.Money `json:"amount"`
	Mode      string      `json:"mode"`
	Reference string      `json:"reference"`
	Version   *int        `json:"version,omitempty"`
}

// PreviewRequest is the body accepted by POST /opd-bills/preview.
type PreviewRequest struct {
	TotalAmount     money.Money     `json:"total_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ReceivedAmount  money.Money     `json:"received_amount"`
}

type ListFilter struct {
	VisitID       *uuid.UUID
	PaymentStatus *PaymentStatus
}
