package db

import (
	"context"
	"errors"
	"time"

	"github.com/lalitm1004/cache-n-carry/internal/model"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("db: not found")
	// ErrNoRowsAffected is returned by conditional updates whose predicate no
	// longer holds at write time.
	ErrNoRowsAffected = errors.New("db: no rows affected")
	// ErrUniqueViolation is returned when an insert trips a uniqueness
	// constraint.
	ErrUniqueViolation = errors.New("db: unique violation")
	// ErrForeignKeyViolation is returned when a write would orphan or dangle
	// a referencing row.
	ErrForeignKeyViolation = errors.New("db: foreign key violation")
)

// Queries is the full query surface of the store. Reads suffixed ForUpdate
// lock the selected rows for the remainder of the enclosing transaction.
type Queries interface {
	// Users and identity.
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, id string) (model.User, error)
	GetRole(ctx context.Context, userID string) (model.Role, error)

	CreateRefreshSession(ctx context.Context, session model.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, id string) error

	// Staff and students.
	CreateStaff(ctx context.Context, id string) error
	GetStaff(ctx context.Context, id string) (model.Staff, error)
	GetStaffByEmail(ctx context.Context, email string) (model.Staff, error)
	CreateStudent(ctx context.Context, student model.Student) error
	GetStudent(ctx context.Context, id string) (model.Student, error)
	GetStudentByRoll(ctx context.Context, rollNumber string) (model.Student, error)
	ListStudents(ctx context.Context) ([]model.Student, error)
	UpdateStudentRooms(ctx context.Context, id, currentRoomID string, nextRoomID *string) (model.Student, error)
	DeleteStudent(ctx context.Context, id string) error
	CountBelongingsByStudent(ctx context.Context, studentID string) (int64, error)

	// Hostels, rooms, warehouses.
	GetHostel(ctx context.Context, id string) (model.Hostel, error)
	GetHostelByName(ctx context.Context, name string) (model.Hostel, error)
	ListHostels(ctx context.Context) ([]model.Hostel, error)
	GetRoom(ctx context.Context, id string) (model.Room, error)
	GetRoomByNumber(ctx context.Context, hostelID, number string) (model.Room, error)
	GetWarehouse(ctx context.Context, id string) (model.Warehouse, error)
	GetWarehouseByLocation(ctx context.Context, location string) (model.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]model.Warehouse, error)
	CountCheckedIn(ctx context.Context, warehouseID string) (int64, error)

	// Belongings.
	CreateBelonging(ctx context.Context, belonging model.Belonging) error
	GetBelonging(ctx context.Context, id string) (model.Belonging, error)
	GetBelongingForUpdate(ctx context.Context, id string) (model.Belonging, error)
	ListBelongingsByStudent(ctx context.Context, studentID string) ([]model.Belonging, error)
	MarkCheckedIn(ctx context.Context, id, warehouseID string) (model.Belonging, error)
	MarkCheckedOut(ctx context.Context, id string) (model.Belonging, error)

	// Sessions.
	CreateSession(ctx context.Context, id, staffID, studentID string) (model.Session, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	FindActiveSession(ctx context.Context, staffID, studentID string) (model.Session, error)
	FindActiveSessionByStaffForUpdate(ctx context.Context, staffID string) (model.Session, error)
	CloseSession(ctx context.Context, id, remark string) (model.Session, error)
	DeleteActiveSession(ctx context.Context, staffID, studentID string) (int64, error)
	TerminateStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)

	// Incidents.
	CreateIncident(ctx context.Context, id, foundBy, belongsTo, mattressID string) (model.Incident, error)
	GetIncident(ctx context.Context, id string) (model.Incident, error)
	FindUnresolvedIncidentForUpdate(ctx context.Context, mattressID string) (model.Incident, error)
	ResolveIncident(ctx context.Context, id string) (model.Incident, error)
	ListIncidents(ctx context.Context, resolved *bool) ([]model.Incident, error)
}

// Store couples the query surface with an atomic multi-statement unit. Every
// composite custody operation runs inside exactly one WithTx call; fn
// returning an error rolls the whole unit back.
type Store interface {
	Queries() Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
}
