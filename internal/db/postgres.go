package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lalitm1004/cache-n-carry/internal/model"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

type PostgresStore struct {
	pool    *pgxpool.Pool
	queries *pgQueries
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ Queries = (*pgQueries)(nil)
)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, queries: &pgQueries{db: pool}}
}

func (s *PostgresStore) Queries() Queries {
	return s.queries
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(&pgQueries{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type pgQueries struct {
	db DBTX
}

// mapErr translates driver errors into the store's sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrUniqueViolation
		case "23503":
			return ErrForeignKeyViolation
		}
	}
	return err
}

// Users and identity

func (q *pgQueries) CreateUser(ctx context.Context, user model.User) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, user.ID, user.Name, user.Email, user.PasswordHash)
	return mapErr(err)
}

func (q *pgQueries) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var user model.User
	row := q.db.QueryRow(ctx, `
		SELECT id, name, email, password_hash, created_at, updated_at
		FROM users
		WHERE lower(trim(email)) = $1
	`, email)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, mapErr(err)
}

func (q *pgQueries) GetUserByID(ctx context.Context, id string) (model.User, error) {
	var user model.User
	row := q.db.QueryRow(ctx, `
		SELECT id, name, email, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, mapErr(err)
}

func (q *pgQueries) GetRole(ctx context.Context, userID string) (model.Role, error) {
	role := model.Role{UserID: userID}
	if q.exists(ctx, `SELECT 1 FROM staff WHERE id = $1`, userID) {
		role.UserType = "staff"
		return role, nil
	}
	if q.exists(ctx, `SELECT 1 FROM students WHERE id = $1`, userID) {
		role.UserType = "student"
		return role, nil
	}
	return role, ErrNotFound
}

func (q *pgQueries) exists(ctx context.Context, query string, arg string) bool {
	var exists bool
	_ = q.db.QueryRow(ctx, `SELECT EXISTS (`+query+`)`, arg).Scan(&exists)
	return exists
}

func (q *pgQueries) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO refresh_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt)
	return mapErr(err)
}

func (q *pgQueries) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := q.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
		FROM refresh_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt)
	return session, mapErr(err)
}

func (q *pgQueries) RevokeRefreshSession(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `UPDATE refresh_sessions SET revoked_at = now() WHERE id = $1`, id)
	return mapErr(err)
}

// Staff and students

func (q *pgQueries) CreateStaff(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `INSERT INTO staff (id) VALUES ($1)`, id)
	return mapErr(err)
}

func (q *pgQueries) GetStaff(ctx context.Context, id string) (model.Staff, error) {
	var staff model.Staff
	row := q.db.QueryRow(ctx, `SELECT id FROM staff WHERE id = $1`, id)
	err := row.Scan(&staff.ID)
	return staff, mapErr(err)
}

func (q *pgQueries) GetStaffByEmail(ctx context.Context, email string) (model.Staff, error) {
	var staff model.Staff
	row := q.db.QueryRow(ctx, `
		SELECT s.id
		FROM staff s
		JOIN users u ON u.id = s.id
		WHERE lower(trim(u.email)) = $1
	`, email)
	err := row.Scan(&staff.ID)
	return staff, mapErr(err)
}

func (q *pgQueries) CreateStudent(ctx context.Context, student model.Student) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO students (id, roll_number, current_room_id, next_room_id)
		VALUES ($1, $2, $3, $4)
	`, student.ID, student.RollNumber, student.CurrentRoomID, student.NextRoomID)
	return mapErr(err)
}

func (q *pgQueries) GetStudent(ctx context.Context, id string) (model.Student, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, roll_number, current_room_id, next_room_id
		FROM students
		WHERE id = $1
	`, id)
	return scanStudent(row)
}

func (q *pgQueries) GetStudentByRoll(ctx context.Context, rollNumber string) (model.Student, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, roll_number, current_room_id, next_room_id
		FROM students
		WHERE upper(trim(roll_number)) = $1
	`, rollNumber)
	return scanStudent(row)
}

func (q *pgQueries) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, roll_number, current_room_id, next_room_id
		FROM students
		ORDER BY roll_number
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		var student model.Student
		if err := rows.Scan(&student.ID, &student.RollNumber, &student.CurrentRoomID, &student.NextRoomID); err != nil {
			return nil, mapErr(err)
		}
		students = append(students, student)
	}
	return students, mapErr(rows.Err())
}

func (q *pgQueries) UpdateStudentRooms(ctx context.Context, id, currentRoomID string, nextRoomID *string) (model.Student, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE students
		SET current_room_id = $2, next_room_id = $3
		WHERE id = $1
		RETURNING id, roll_number, current_room_id, next_room_id
	`, id, currentRoomID, nextRoomID)
	return scanStudent(row)
}

func (q *pgQueries) DeleteStudent(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *pgQueries) CountBelongingsByStudent(ctx context.Context, studentID string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM belongings WHERE student_id = $1`, studentID).Scan(&count)
	return count, mapErr(err)
}

func scanStudent(row pgx.Row) (model.Student, error) {
	var student model.Student
	err := row.Scan(&student.ID, &student.RollNumber, &student.CurrentRoomID, &student.NextRoomID)
	return student, mapErr(err)
}

// Hostels, rooms, warehouses

func (q *pgQueries) GetHostel(ctx context.Context, id string) (model.Hostel, error) {
	var hostel model.Hostel
	err := q.db.QueryRow(ctx, `SELECT id, name FROM hostels WHERE id = $1`, id).
		Scan(&hostel.ID, &hostel.Name)
	return hostel, mapErr(err)
}

func (q *pgQueries) GetHostelByName(ctx context.Context, name string) (model.Hostel, error) {
	var hostel model.Hostel
	err := q.db.QueryRow(ctx, `SELECT id, name FROM hostels WHERE name = $1`, name).
		Scan(&hostel.ID, &hostel.Name)
	return hostel, mapErr(err)
}

func (q *pgQueries) ListHostels(ctx context.Context) ([]model.Hostel, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name FROM hostels ORDER BY name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var hostels []model.Hostel
	for rows.Next() {
		var hostel model.Hostel
		if err := rows.Scan(&hostel.ID, &hostel.Name); err != nil {
			return nil, mapErr(err)
		}
		hostels = append(hostels, hostel)
	}
	return hostels, mapErr(rows.Err())
}

func (q *pgQueries) GetRoom(ctx context.Context, id string) (model.Room, error) {
	var room model.Room
	err := q.db.QueryRow(ctx, `SELECT id, number, hostel_id FROM rooms WHERE id = $1`, id).
		Scan(&room.ID, &room.Number, &room.HostelID)
	return room, mapErr(err)
}

func (q *pgQueries) GetRoomByNumber(ctx context.Context, hostelID, number string) (model.Room, error) {
	var room model.Room
	err := q.db.QueryRow(ctx, `
		SELECT id, number, hostel_id FROM rooms
		WHERE hostel_id = $1 AND number = $2
	`, hostelID, number).Scan(&room.ID, &room.Number, &room.HostelID)
	return room, mapErr(err)
}

func (q *pgQueries) GetWarehouse(ctx context.Context, id string) (model.Warehouse, error) {
	var warehouse model.Warehouse
	err := q.db.QueryRow(ctx, `SELECT id, location FROM warehouses WHERE id = $1`, id).
		Scan(&warehouse.ID, &warehouse.Location)
	return warehouse, mapErr(err)
}

func (q *pgQueries) GetWarehouseByLocation(ctx context.Context, location string) (model.Warehouse, error) {
	var warehouse model.Warehouse
	err := q.db.QueryRow(ctx, `SELECT id, location FROM warehouses WHERE location = $1`, location).
		Scan(&warehouse.ID, &warehouse.Location)
	return warehouse, mapErr(err)
}

func (q *pgQueries) ListWarehouses(ctx context.Context) ([]model.Warehouse, error) {
	rows, err := q.db.Query(ctx, `SELECT id, location FROM warehouses ORDER BY location`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var warehouses []model.Warehouse
	for rows.Next() {
		var warehouse model.Warehouse
		if err := rows.Scan(&warehouse.ID, &warehouse.Location); err != nil {
			return nil, mapErr(err)
		}
		warehouses = append(warehouses, warehouse)
	}
	return warehouses, mapErr(rows.Err())
}

func (q *pgQueries) CountCheckedIn(ctx context.Context, warehouseID string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM belongings
		WHERE warehouse_id = $1 AND checked_in = true
	`, warehouseID).Scan(&count)
	return count, mapErr(err)
}

// Belongings

const belongingColumns = `id, kind, description, checked_in, student_id, warehouse_id, checked_in_at, checked_out_at`

func (q *pgQueries) CreateBelonging(ctx context.Context, belonging model.Belonging) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO belongings (id, kind, description, checked_in, student_id)
		VALUES ($1, $2, $3, false, $4)
	`, belonging.ID, belonging.Kind, belonging.Description, belonging.StudentID)
	return mapErr(err)
}

func (q *pgQueries) GetBelonging(ctx context.Context, id string) (model.Belonging, error) {
	row := q.db.QueryRow(ctx, `SELECT `+belongingColumns+` FROM belongings WHERE id = $1`, id)
	return scanBelonging(row)
}

func (q *pgQueries) GetBelongingForUpdate(ctx context.Context, id string) (model.Belonging, error) {
	row := q.db.QueryRow(ctx, `SELECT `+belongingColumns+` FROM belongings WHERE id = $1 FOR UPDATE`, id)
	return scanBelonging(row)
}

func (q *pgQueries) ListBelongingsByStudent(ctx context.Context, studentID string) ([]model.Belonging, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+belongingColumns+` FROM belongings
		WHERE student_id = $1
		ORDER BY id
	`, studentID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var belongings []model.Belonging
	for rows.Next() {
		belonging, err := scanBelonging(rows)
		if err != nil {
			return nil, err
		}
		belongings = append(belongings, belonging)
	}
	return belongings, mapErr(rows.Err())
}

func (q *pgQueries) MarkCheckedIn(ctx context.Context, id, warehouseID string) (model.Belonging, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE belongings
		SET checked_in = true, warehouse_id = $2, checked_in_at = now()
		WHERE id = $1 AND checked_in = false
		RETURNING `+belongingColumns, id, warehouseID)
	belonging, err := scanBelonging(row)
	if errors.Is(err, ErrNotFound) {
		return belonging, ErrNoRowsAffected
	}
	return belonging, err
}

func (q *pgQueries) MarkCheckedOut(ctx context.Context, id string) (model.Belonging, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE belongings
		SET checked_in = false, warehouse_id = NULL, checked_out_at = now()
		WHERE id = $1 AND checked_in = true
		RETURNING `+belongingColumns, id)
	belonging, err := scanBelonging(row)
	if errors.Is(err, ErrNotFound) {
		return belonging, ErrNoRowsAffected
	}
	return belonging, err
}

func scanBelonging(row pgx.Row) (model.Belonging, error) {
	var belonging model.Belonging
	err := row.Scan(
		&belonging.ID,
		&belonging.Kind,
		&belonging.Description,
		&belonging.CheckedIn,
		&belonging.StudentID,
		&belonging.WarehouseID,
		&belonging.CheckedInAt,
		&belonging.CheckedOutAt,
	)
	return belonging, mapErr(err)
}

// Sessions

const sessionColumns = `id, staff_id, student_id, open_time, close_time, terminated, remark`

func (q *pgQueries) CreateSession(ctx context.Context, id, staffID, studentID string) (model.Session, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO sessions (id, staff_id, student_id, open_time, terminated)
		VALUES ($1, $2, $3, now(), false)
		RETURNING `+sessionColumns, id, staffID, studentID)
	return scanSession(row)
}

func (q *pgQueries) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := q.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (q *pgQueries) FindActiveSession(ctx context.Context, staffID, studentID string) (model.Session, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE staff_id = $1 AND student_id = $2 AND close_time IS NULL AND terminated = false
	`, staffID, studentID)
	return scanSession(row)
}

func (q *pgQueries) FindActiveSessionByStaffForUpdate(ctx context.Context, staffID string) (model.Session, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE staff_id = $1 AND close_time IS NULL AND terminated = false
		ORDER BY open_time, id
		LIMIT 1
		FOR UPDATE
	`, staffID)
	return scanSession(row)
}

func (q *pgQueries) CloseSession(ctx context.Context, id, remark string) (model.Session, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE sessions
		SET close_time = now(), remark = $2
		WHERE id = $1 AND close_time IS NULL AND terminated = false
		RETURNING `+sessionColumns, id, remark)
	session, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return session, ErrNoRowsAffected
	}
	return session, err
}

func (q *pgQueries) DeleteActiveSession(ctx context.Context, staffID, studentID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE staff_id = $1 AND student_id = $2 AND close_time IS NULL AND terminated = false
	`, staffID, studentID)
	return tag.RowsAffected(), mapErr(err)
}

func (q *pgQueries) TerminateStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE sessions
		SET terminated = true
		WHERE close_time IS NULL AND terminated = false AND open_time < $1
	`, cutoff)
	return tag.RowsAffected(), mapErr(err)
}

func scanSession(row pgx.Row) (model.Session, error) {
	var session model.Session
	err := row.Scan(
		&session.ID,
		&session.StaffID,
		&session.StudentID,
		&session.OpenTime,
		&session.CloseTime,
		&session.Terminated,
		&session.Remark,
	)
	return session, mapErr(err)
}

// Incidents

const incidentColumns = `id, found_by, belongs_to, mattress_id, resolved, open_time, close_time`

func (q *pgQueries) CreateIncident(ctx context.Context, id, foundBy, belongsTo, mattressID string) (model.Incident, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO incidents (id, found_by, belongs_to, mattress_id, resolved, open_time)
		VALUES ($1, $2, $3, $4, false, now())
		RETURNING `+incidentColumns, id, foundBy, belongsTo, mattressID)
	return scanIncident(row)
}

func (q *pgQueries) GetIncident(ctx context.Context, id string) (model.Incident, error) {
	row := q.db.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	return scanIncident(row)
}

func (q *pgQueries) FindUnresolvedIncidentForUpdate(ctx context.Context, mattressID string) (model.Incident, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE mattress_id = $1 AND resolved = false
		LIMIT 1
		FOR UPDATE
	`, mattressID)
	return scanIncident(row)
}

func (q *pgQueries) ResolveIncident(ctx context.Context, id string) (model.Incident, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE incidents
		SET resolved = true, close_time = coalesce(close_time, now())
		WHERE id = $1
		RETURNING `+incidentColumns, id)
	return scanIncident(row)
}

func (q *pgQueries) ListIncidents(ctx context.Context, resolved *bool) ([]model.Incident, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE $1::boolean IS NULL OR resolved = $1
		ORDER BY open_time DESC
	`, resolved)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var incidents []model.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, mapErr(rows.Err())
}

func scanIncident(row pgx.Row) (model.Incident, error) {
	var incident model.Incident
	err := row.Scan(
		&incident.ID,
		&incident.FoundBy,
		&incident.BelongsTo,
		&incident.MattressID,
		&incident.Resolved,
		&incident.OpenTime,
		&incident.CloseTime,
	)
	return incident, mapErr(err)
}
