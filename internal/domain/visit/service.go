package visit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/internal/platform/websocket"
)

// EventVisitChanged is the websocket event type emitted after every applied
// transition.
const EventVisitChanged = "VisitChanged"

// DefaultQueueTopic is used when no topic is configured.
const DefaultQueueTopic = "opd.queue"

// Changed is the payload of a VisitChanged event.
type Changed struct {
	VisitID    uuid.UUID  `json:"visit_id"`
	FromStatus Status     `json:"from_status"`
	Status     Status     `json:"status"`
	VersionID  int        `json:"version_id"`
	DoctorID   *uuid.UUID `json:"doctor_id,omitempty"`
}

type Service struct {
	repo  Repository
	tx    db.Transactor
	pub   websocket.EventPublisher
	topic string
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor) *Service {
	return &Service{
		repo:  repo,
		tx:    tx,
		topic: DefaultQueueTopic,
		now:   func() time.Time { return time.Now().UTC() },
		log:   zerolog.Nop(),
	}
}

// SetPublisher attaches an optional publisher for VisitChanged events.
func (s *Service) SetPublisher(pub websocket.EventPublisher, topic string) {
	s.pub = pub
	if topic != "" {
		s.topic = topic
	}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "visit").Logger()
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) CreateVisit(ctx context.Context, req CreateRequest) (*Visit, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.InvalidInput("patient_id is required")
	}
	vt, err := ParseType(req.VisitType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	v := &Visit{
		VisitNumber:    req.VisitNumber,
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		Status:         StatusWaiting,
		VisitType:      vt,
		ChiefComplaint: req.ChiefComplaint,
		Notes:          req.Notes,
		EntryTime:      now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if v.VisitNumber == "" {
			seq, err := s.repo.NextVisitSequence(ctx, now)
			if err != nil {
				return fmt.Errorf("allocate visit number: %w", err)
			}
			v.VisitNumber = FormatVisitNumber(now, seq)
		}
		return s.repo.Create(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("visit_id", v.ID.String()).Str("visit_number", v.VisitNumber).Msg("visit registered")
	s.publish(ctx, Changed{VisitID: v.ID, Status: v.Status, VersionID: v.VersionID, DoctorID: v.DoctorID})
	return v, nil
}

// FormatVisitNumber renders OPD-YYYYMMDD-NNNN.
func FormatVisitNumber(day time.Time, seq int) string {
	return fmt.Sprintf("OPD-%s-%04d", day.Format("20060102"), seq)
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListVisits(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// TransitionVisit moves a visit to target under a row lock. When
// expectedVersion is set it must match the stored version, otherwise
// ErrConflict is returned. Requesting the current status is a no-op that
// neither bumps the version nor records history.
func (s *Service) TransitionVisit(ctx context.Context, id uuid.UUID, target string, expectedVersion *int, actor string) (*Visit, error) {
	st, err := ParseStatus(target)
	if err != nil {
		return nil, err
	}

	var result *Visit
	var change *Changed
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		result, change, err = s.transition(ctx, id, st, expectedVersion, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.publish(ctx, *change)
	}
	return result, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, target Status, expectedVersion *int, actor string) (*Visit, *Changed, error) {
	cur, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if expectedVersion != nil && *expectedVersion != cur.VersionID {
		return nil, nil, fmt.Errorf("visit %s is at version %d, not %d: %w", id, cur.VersionID, *expectedVersion, apperr.ErrConflict)
	}

	now := s.now()
	next, err := Transition(*cur, target, now)
	if err != nil {
		return nil, nil, err
	}
	if next.Status == cur.Status {
		return cur, nil, nil
	}

	if err := s.repo.UpdateStatus(ctx, &next, cur.VersionID); err != nil {
		return nil, nil, err
	}
	h := &StatusHistory{
		VisitID:    next.ID,
		FromStatus: cur.Status,
		ToStatus:   next.Status,
		ChangedAt:  now,
	}
	if actor != "" {
		h.ChangedBy = &actor
	}
	if err := s.repo.AddStatusHistory(ctx, h); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("visit_id", next.ID.String()).
		Str("from", string(cur.Status)).
		Str("to", string(next.Status)).
		Int("version_id", next.VersionID).
		Msg("visit transition applied")

	return &next, &Changed{
		VisitID:    next.ID,
		FromStatus: cur.Status,
		Status:     next.Status,
		VersionID:  next.VersionID,
		DoctorID:   next.DoctorID,
	}, nil
}

// Queue returns the active visits bucketed by status, read from a single
// snapshot.
func (s *Service) Queue(ctx context.Context, f QueueFilter) (Queue, error) {
	var q Queue
	err := s.tx.WithinSnapshot(ctx, func(ctx context.Context) error {
		visits, err := s.repo.ListActive(ctx, f)
		if err != nil {
			return err
		}
		q = Classify(visits)
		return nil
	})
	return q, err
}

// CallNext transitions the head of the waiting bucket to called.
func (s *Service) CallNext(ctx context.Context, f QueueFilter, actor string) (*Visit, error) {
	var result *Visit
	var change *Changed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		visits, err := s.repo.ListActive(ctx, f)
		if err != nil {
			return err
		}
		head, ok := Classify(visits).Next()
		if !ok {
			return fmt.Errorf("no waiting visits: %w", apperr.ErrNotFound)
		}
		result, change, err = s.transition(ctx, head.ID, StatusCalled, &head.VersionID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.publish(ctx, *change)
	}
	return result, nil
}

func (s *Service) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetStatusHistory(ctx, id)
}

func (s *Service) publish(ctx context.Context, c Changed) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal visit event")
		return
	}
	ev := websocket.Event{
		Type:         EventVisitChanged,
		Topic:        s.topic,
		ResourceType: "Visit",
		ResourceID:   c.VisitID.String(),
		Timestamp:    s.now(),
		Data:         data,
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("visit_id", c.VisitID.String()).Msg("publish visit event")
	}
}
