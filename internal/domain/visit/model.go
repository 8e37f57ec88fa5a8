package visit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/apperr"
)

// Status is the position of a visit in the OPD lifecycle.
type Status string

const (
	StatusWaiting        Status = "waiting"
	StatusCalled         Status = "called"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no_show"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusWaiting, StatusCalled, StatusInConsultation,
	StatusCompleted, StatusCancelled, StatusNoShow,
}

// ParseStatus rejects anything that is not a known status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperr.InvalidInput("unknown visit status %q", s)
}

// Terminal reports whether no further transitions leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Scan implements sql.Scanner so an unknown value stored in the database is
// a hard error rather than a silent default.
func (s *Status) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("visit status: unsupported type %T", src)
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Type is informational and does not affect the state machine.
type Type string

const (
	TypeNew       Type = "new"
	TypeFollowUp  Type = "follow_up"
	TypeEmergency Type = "emergency"
)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeNew, TypeFollowUp, TypeEmergency:
		return Type(s), nil
	case "":
		return TypeNew, nil
	}
	return "", apperr.InvalidInput("unknown visit type %q", s)
}

// Visit maps to the visit table.
type Visit struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	VisitNumber           string     `db:"visit_number" json:"visit_number"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID              *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Status                Status     `db:"status" json:"status"`
	VisitType             Type       `db:"visit_type" json:"visit_type"`
	ChiefComplaint        *string    `db:"chief_complaint" json:"chief_complaint,omitempty"`
	Notes                 *string    `db:"notes" json:"notes,omitempty"`
	EntryTime             time.Time  `db:"entry_time" json:"entry_time"`
	ConsultationStartTime *time.Time `db:"consultation_start_time" json:"consultation_start_time,omitempty"`
	ConsultationEndTime   *time.Time `db:"consultation_end_time" json:"consultation_end_time,omitempty"`
	VersionID             int        `db:"version_id" json:"version_id"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Detail is a visit with the statuses it can move to next, so the front desk
// can offer only the valid actions.
type Detail struct {
	*Visit
	AllowedTransitions []Status `json:"allowed_transitions"`
}

// StatusHistory maps to the visit_status_history table.
type StatusHistory struct {
	ID         uuid.UUID `db:"id" json:"id"`
	VisitID    uuid.UUID `db:"visit_id" json:"visit_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
	ChangedBy  *string   `db:"changed_by" json:"changed_by,omitempty"`
}

// CreateRequest is the body accepted by POST /visits.
type CreateRequest struct {
	VisitNumber    string     `json:"visit_number"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       *uuid.UUID `json:"doctor_id"`
	VisitType      string     `json:"visit_type"`
	ChiefComplaint *string    `json:"chief_complaint"`
	Notes          *string    `json:"notes"`
}

// TransitionRequest is the body accepted by PATCH /visits/:id/status.
// Version, when set, must match the stored version_id.
type TransitionRequest struct {
	Status  string `json:"status"`
	Version *int   `json:"version,omitempty"`
}

// ListFilter narrows visit listings.
type ListFilter struct {
	Status   *Status
	DoctorID *uuid.UUID
	Date     *time.Time
}
