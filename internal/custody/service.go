package custody

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalitm1004/cache-n-carry/internal/db"
	"github.com/lalitm1004/cache-n-carry/internal/model"
)

// Service owns the custody workflows: supervision sessions, belonging
// check-in/check-out, and mattress incidents. Every composite operation runs
// inside a single store transaction; guarded rows are read with row locks and
// state transitions are conditional updates, so a predicate that stops
// holding between read and write surfaces as a Conflict instead of a lost
// update.
type Service struct {
	store   db.Store
	log     *zap.Logger
	metrics *Metrics
}

func NewService(store db.Store, log *zap.Logger, metrics *Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, metrics: metrics}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRoll(rollNumber string) string {
	return strings.ToUpper(strings.TrimSpace(rollNumber))
}

// OpenSession creates a supervision session between a staff member and a
// student. At most one active session may exist per (staff, student) pair;
// the in-transaction existence check and the partial unique index behind
// db.ErrUniqueViolation together close the race between concurrent openers.
func (s *Service) OpenSession(ctx context.Context, staffID, studentID string) (model.Session, error) {
	if staffID == "" || studentID == "" {
		return model.Session{}, invalid("staffId and studentId are required")
	}

	var session model.Session
	err := s.store.WithTx(ctx, func(q db.Queries) error {
		if _, err := q.GetStaff(ctx, staffID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("staff member with the id not found")
			}
			return err
		}
		if _, err := q.GetStudent(ctx, studentID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("student with the id not found")
			}
			return err
		}

		if _, err := q.FindActiveSession(ctx, staffID, studentID); err == nil {
			return conflict("an active session already exists for this staff and student")
		} else if !errors.Is(err, db.ErrNotFound) {
			return err
		}

		created, err := q.CreateSession(ctx, uuid.NewString(), staffID, studentID)
		if err != nil {
			if errors.Is(err, db.ErrUniqueViolation) {
				return conflict("an active session already exists for this staff and student")
			}
			return err
		}
		session = created
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}

	if s.metrics != nil {
		s.metrics.SessionsOpened.Inc()
	}
	s.log.Info("session opened",
		zap.String("session_id", session.ID),
		zap.String("staff_id", staffID),
		zap.String("student_id", studentID),
	)
	return session, nil
}

// TerminateSession hard-deletes the active session matching the given roll
// number and staff email. Ending a session this way records nothing; closing
// with a remark is what CheckOut does.
func (s *Service) TerminateSession(ctx context.Context, rollNumber, staffEmail string) error {
	rollNumber = normalizeRoll(rollNumber)
	staffEmail = normalizeEmail(staffEmail)
	if rollNumber == "" || staffEmail == "" {
		return invalid("rollNumber and staffEmail are required")
	}

	err := s.store.WithTx(ctx, func(q db.Queries) error {
		student, err := q.GetStudentByRoll(ctx, rollNumber)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("no active session found for this roll number and staff email")
			}
			return err
		}
		staff, err := q.GetStaffByEmail(ctx, staffEmail)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("no active session found for this roll number and staff email")
			}
			return err
		}

		deleted, err := q.DeleteActiveSession(ctx, staff.ID, student.ID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return notFound("no active session found for this roll number and staff email")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("session terminated",
		zap.String("roll_number", rollNumber),
		zap.String("staff_email", staffEmail),
	)
	return nil
}

// FindActiveSession is the read-only lookup used by checkout preflights and
// querying UIs.
func (s *Service) FindActiveSession(ctx context.Context, staffID, studentID string) (model.Session, error) {
	session, err := s.store.Queries().FindActiveSession(ctx, staffID, studentID)
	if errors.Is(err, db.ErrNotFound) {
		return model.Session{}, notFound("no active session found")
	}
	return session, err
}

// ActiveSessionByNames resolves a roll number and staff email before looking
// up the pair's active session.
func (s *Service) ActiveSessionByNames(ctx context.Context, rollNumber, staffEmail string) (model.Session, error) {
	rollNumber = normalizeRoll(rollNumber)
	staffEmail = normalizeEmail(staffEmail)
	if rollNumber == "" || staffEmail == "" {
		return model.Session{}, invalid("rollNumber and staffEmail are required")
	}

	q := s.store.Queries()
	student, err := q.GetStudentByRoll(ctx, rollNumber)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.Session{}, notFound("no active session found for these params")
		}
		return model.Session{}, err
	}
	staff, err := q.GetStaffByEmail(ctx, staffEmail)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.Session{}, notFound("no active session found for these params")
		}
		return model.Session{}, err
	}
	session, err := q.FindActiveSession(ctx, staff.ID, student.ID)
	if errors.Is(err, db.ErrNotFound) {
		return model.Session{}, notFound("no active session found for these params")
	}
	return session, err
}

// RegisterBelonging creates a belonging of the given kind for the student
// with the given roll number. The belonging starts with its owner, not
// checked in anywhere.
func (s *Service) RegisterBelonging(ctx context.Context, rollNumber string, kind model.BelongingKind, description *string) (model.Belonging, error) {
	rollNumber = normalizeRoll(rollNumber)
	if rollNumber == "" {
		return model.Belonging{}, invalid("rollNumber is required")
	}
	if kind != model.KindLuggage && kind != model.KindMattress {
		return model.Belonging{}, invalid("type must be luggage or mattress")
	}
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if trimmed == "" {
			description = nil
		} else {
			description = &trimmed
		}
	}

	var belonging model.Belonging
	err := s.store.WithTx(ctx, func(q db.Queries) error {
		student, err := q.GetStudentByRoll(ctx, rollNumber)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound(fmt.Sprintf("student with roll no. %s not found", rollNumber))
			}
			return err
		}

		belonging = model.Belonging{
			ID:          uuid.NewString(),
			Kind:        kind,
			Description: description,
			StudentID:   student.ID,
		}
		return q.CreateBelonging(ctx, belonging)
	})
	if err != nil {
		return model.Belonging{}, err
	}
	return belonging, nil
}

// CheckIn places a belonging into a warehouse. It requires an active session
// between the resolved staff member and the belonging's owner, and the
// belonging must currently be with its owner.
func (s *Service) CheckIn(ctx context.Context, belongingID, warehouseName, staffEmail string) (model.Belonging, error) {
	warehouseName = strings.TrimSpace(warehouseName)
	staffEmail = normalizeEmail(staffEmail)
	if belongingID == "" || warehouseName == "" || staffEmail == "" {
		return model.Belonging{}, invalid("belongingId, warehouseName and staffEmail are required")
	}

	var belonging model.Belonging
	err := s.store.WithTx(ctx, func(q db.Queries) error {
		staff, err := q.GetStaffByEmail(ctx, staffEmail)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("staff member with the email not found")
			}
			return err
		}
		warehouse, err := q.GetWarehouseByLocation(ctx, warehouseName)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("warehouse with name not found")
			}
			return err
		}

		current, err := q.GetBelongingForUpdate(ctx, belongingID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("belonging with the id not found")
			}
			return err
		}
		if current.CheckedIn {
			return conflict("belonging is already checked in")
		}

		if _, err := q.FindActiveSession(ctx, staff.ID, current.StudentID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return forbidden("no active session found between staff and student. check in requires an active session")
			}
			return err
		}

		updated, err := q.MarkCheckedIn(ctx, belongingID, warehouse.ID)
		if err != nil {
			if errors.Is(err, db.ErrNoRowsAffected) {
				return conflict("belonging is already checked in")
			}
			return err
		}
		belonging = updated
		return nil
	})
	if err != nil {
		return model.Belonging{}, err
	}

	if s.metrics != nil {
		s.metrics.CheckIns.Inc()
	}
	s.log.Info("belonging checked in",
		zap.String("belonging_id", belonging.ID),
		zap.String("student_id", belonging.StudentID),
	)
	return belonging, nil
}

// CheckOutResult is what a successful checkout hands back: the belonging in
// its new state, the session the checkout closed, and the incident opened if
// a mattress came back through another student's session.
type CheckOutResult struct {
	Belonging       model.Belonging
	FromWarehouseID string
	ClosedSessionID string
	IncidentID      *string
}

// CheckOut releases a checked-in belonging to the student on the staff
// member's active session and closes that session. The student is identified
// by the session, not the belonging; when a mattress leaves through a session
// whose student is not its owner, an incident is recorded in the same
// transaction.
func (s *Service) CheckOut(ctx context.Context, belongingID, staffEmail string) (CheckOutResult, error) {
	staffEmail = normalizeEmail(staffEmail)
	if belongingID == "" || staffEmail == "" {
		return CheckOutResult{}, invalid("belongingId and staffEmail are required")
	}

	var result CheckOutResult
	err := s.store.WithTx(ctx, func(q db.Queries) error {
		staff, err := q.GetStaffByEmail(ctx, staffEmail)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("staff member with the email not found")
			}
			return err
		}

		belonging, err := q.GetBelongingForUpdate(ctx, belongingID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("belonging with the id not found")
			}
			return err
		}
		if !belonging.CheckedIn {
			return conflict("belonging is not currently checked in")
		}

		session, err := q.FindActiveSessionByStaffForUpdate(ctx, staff.ID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return forbidden("staff member does not have an active session")
			}
			return err
		}

		if belonging.Kind == model.KindMattress && session.StudentID != belonging.StudentID {
			incident, err := s.detectIncident(ctx, q, belonging.ID, session.StudentID, belonging.StudentID)
			if err != nil {
				return err
			}
			result.IncidentID = &incident.ID
		}

		updated, err := q.MarkCheckedOut(ctx, belongingID)
		if err != nil {
			if errors.Is(err, db.ErrNoRowsAffected) {
				return conflict("belonging is not currently checked in")
			}
			return err
		}

		remark := fmt.Sprintf("checked out belonging %s", belongingID)
		if _, err := q.CloseSession(ctx, session.ID, remark); err != nil {
			if errors.Is(err, db.ErrNoRowsAffected) {
				return forbidden("staff member does not have an active session")
			}
			return err
		}

		result.Belonging = updated
		if belonging.WarehouseID != nil {
			result.FromWarehouseID = *belonging.WarehouseID
		}
		result.ClosedSessionID = session.ID
		return nil
	})
	if err != nil {
		return CheckOutResult{}, err
	}

	if s.metrics != nil {
		s.metrics.CheckOuts.Inc()
		if result.IncidentID != nil {
			s.metrics.IncidentsOpened.Inc()
		}
	}
	if result.IncidentID != nil {
		s.log.Warn("incident opened at checkout",
			zap.String("belonging_id", belongingID),
			zap.String("incident_id", *result.IncidentID),
		)
	} else {
		s.log.Info("belonging checked out",
			zap.String("belonging_id", belongingID),
			zap.String("session_id", result.ClosedSessionID),
		)
	}
	return result, nil
}

// detectIncident records a mattress ownership mismatch. The unresolved-check
// runs under a row lock in the same transaction as the insert, so two
// concurrent mismatched checkouts of one mattress cannot both create an
// incident.
func (s *Service) detectIncident(ctx context.Context, q db.Queries, mattressID, foundBy, belongsTo string) (model.Incident, error) {
	if _, err := q.FindUnresolvedIncidentForUpdate(ctx, mattressID); err == nil {
		return model.Incident{}, conflict("an unresolved incident already exists for this mattress")
	} else if !errors.Is(err, db.ErrNotFound) {
		return model.Incident{}, err
	}

	incident, err := q.CreateIncident(ctx, uuid.NewString(), foundBy, belongsTo, mattressID)
	if err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return model.Incident{}, conflict("an unresolved incident already exists for this mattress")
		}
		return model.Incident{}, err
	}
	return incident, nil
}

// DeleteStudent removes a student record. A student who still owns
// belongings cannot be deleted; custody records must not dangle.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	if id == "" {
		return invalid("id is required")
	}
	return s.store.WithTx(ctx, func(q db.Queries) error {
		if _, err := q.GetStudent(ctx, id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("student with the id not found")
			}
			return err
		}
		count, err := q.CountBelongingsByStudent(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return conflict("student still owns registered belongings")
		}
		if err := q.DeleteStudent(ctx, id); err != nil {
			if errors.Is(err, db.ErrForeignKeyViolation) {
				return conflict("student is referenced by custody records")
			}
			return err
		}
		return nil
	})
}

// ResolveIncident marks an incident resolved and stamps its close time.
// Resolving an already-resolved incident is a no-op success.
func (s *Service) ResolveIncident(ctx context.Context, incidentID string) (model.Incident, error) {
	if incidentID == "" {
		return model.Incident{}, invalid("id is required")
	}
	incident, err := s.store.Queries().ResolveIncident(ctx, incidentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.Incident{}, notFound("incident with the id not found")
		}
		return model.Incident{}, err
	}
	return incident, nil
}
