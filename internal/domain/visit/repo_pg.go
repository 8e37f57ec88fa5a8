package visit

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

const visitCols = `id, visit_number, patient_id, doctor_id, status, visit_type,
	chief_complaint, notes, entry_time, consultation_start_time, consultation_end_time,
	version_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	v.VersionID = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (
			id, visit_number, patient_id, doctor_id, status, visit_type,
			chief_complaint, notes, entry_time, version_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		v.ID, v.VisitNumber, v.PatientID, v.DoctorID, v.Status, v.VisitType,
		v.ChiefComplaint, v.Notes, v.EntryTime, v.VersionID,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.InvalidInput("visit number %q already exists", v.VisitNumber)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.getOne(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := r.getOne(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1 FOR UPDATE NOWAIT`, id)
	if db.IsLockNotAvailable(err) {
		return nil, fmt.Errorf("visit %s is being updated: %w", id, apperr.ErrConflict)
	}
	return v, err
}

func (r *repoPG) getOne(ctx context.Context, query string, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("visit %s: %w", id, apperr.ErrNotFound)
	}
	return v, err
}

func (r *repoPG) UpdateStatus(ctx context.Context, v *Visit, expectedVersion int) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE visit SET
			status = $3, consultation_start_time = $4, consultation_end_time = $5,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		v.ID, expectedVersion, v.Status, v.ConsultationStartTime, v.ConsultationEndTime,
	).Scan(&v.VersionID, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("visit %s changed since version %d: %w", v.ID, expectedVersion, apperr.ErrConflict)
	}
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	where, args := listWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM visit%s ORDER BY entry_time DESC LIMIT $%d OFFSET $%d`, visitCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		visits = append(visits, v)
	}
	return visits, total, rows.Err()
}

func listWhere(f ListFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.Status != nil {
		args = append(args, *f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		clauses = append(clauses, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.Date != nil {
		start := dayStart(*f.Date)
		args = append(args, start, start.AddDate(0, 0, 1))
		clauses = append(clauses, fmt.Sprintf("entry_time >= $%d AND entry_time < $%d", len(args)-1, len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) ListActive(ctx context.Context, f QueueFilter) ([]Visit, error) {
	query := `SELECT ` + visitCols + ` FROM visit WHERE status IN ('waiting', 'called', 'in_consultation')`
	var args []interface{}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		query += fmt.Sprintf(" AND doctor_id = $%d", len(args))
	}
	if !f.Day.IsZero() {
		start := dayStart(f.Day)
		args = append(args, start, start.AddDate(0, 0, 1))
		query += fmt.Sprintf(" AND entry_time >= $%d AND entry_time < $%d", len(args)-1, len(args))
	}
	query += " ORDER BY entry_time, id"

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

func (r *repoPG) NextVisitSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_daily_counter (day, last_seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = visit_daily_counter.last_seq + 1
		RETURNING last_seq`, dayStart(day)).Scan(&seq)
	return seq, err
}

func (r *repoPG) AddStatusHistory(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit_status_history (id, visit_id, from_status, to_status, changed_at, changed_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.VisitID, h.FromStatus, h.ToStatus, h.ChangedAt, h.ChangedBy)
	return err
}

func (r *repoPG) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, from_status, to_status, changed_at, changed_by
		FROM visit_status_history WHERE visit_id = $1 ORDER BY changed_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.VisitID, &h.FromStatus, &h.ToStatus, &h.ChangedAt, &h.ChangedBy); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVisit(row scanner) (*Visit, error) {
	var v Visit
	err := row.Scan(
		&v.ID, &v.VisitNumber, &v.PatientID, &v.DoctorID, &v.Status, &v.VisitType,
		&v.ChiefComplaint, &v.Notes, &v.EntryTime, &v.ConsultationStartTime, &v.ConsultationEndTime,
		&v.VersionID, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
