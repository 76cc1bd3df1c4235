package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lalitm1004/cache-n-carry/internal/model"
)

// MemoryStore is a mutex-serialized in-memory Store. It backs unit tests and
// local development without a database; WithTx snapshots all tables and
// restores them when fn fails, so the commit/rollback contract matches the
// Postgres store. Because the store lock is held for the whole transaction,
// transactions are serializable.
type MemoryStore struct {
	mu sync.Mutex

	users           map[string]model.User
	refreshSessions map[string]model.RefreshSession
	staff           map[string]model.Staff
	students        map[string]model.Student
	hostels         map[string]model.Hostel
	rooms           map[string]model.Room
	warehouses      map[string]model.Warehouse
	belongings      map[string]model.Belonging
	sessions        map[string]model.Session
	incidents       map[string]model.Incident
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Queries = (*memQueries)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:           map[string]model.User{},
		refreshSessions: map[string]model.RefreshSession{},
		staff:           map[string]model.Staff{},
		students:        map[string]model.Student{},
		hostels:         map[string]model.Hostel{},
		rooms:           map[string]model.Room{},
		warehouses:      map[string]model.Warehouse{},
		belongings:      map[string]model.Belonging{},
		sessions:        map[string]model.Session{},
		incidents:       map[string]model.Incident{},
	}
}

// SeedTopology loads hostel, room and warehouse rows. Topology is created
// out of band in production; tests and local runs load it here.
func (s *MemoryStore) SeedTopology(hostels []model.Hostel, rooms []model.Room, warehouses []model.Warehouse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hostels {
		s.hostels[h.ID] = h
	}
	for _, r := range rooms {
		s.rooms[r.ID] = r
	}
	for _, w := range warehouses {
		s.warehouses[w.ID] = w
	}
}

func (s *MemoryStore) Queries() Queries {
	return &memQueries{store: s, locking: true}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(&memQueries{store: s}); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memTables struct {
	users           map[string]model.User
	refreshSessions map[string]model.RefreshSession
	staff           map[string]model.Staff
	students        map[string]model.Student
	hostels         map[string]model.Hostel
	rooms           map[string]model.Room
	warehouses      map[string]model.Warehouse
	belongings      map[string]model.Belonging
	sessions        map[string]model.Session
	incidents       map[string]model.Incident
}

// Row values are replaced wholesale on update, never mutated through their
// pointer fields, so copying the maps is a sufficient snapshot.
func (s *MemoryStore) snapshot() memTables {
	return memTables{
		users:           copyMap(s.users),
		refreshSessions: copyMap(s.refreshSessions),
		staff:           copyMap(s.staff),
		students:        copyMap(s.students),
		hostels:         copyMap(s.hostels),
		rooms:           copyMap(s.rooms),
		warehouses:      copyMap(s.warehouses),
		belongings:      copyMap(s.belongings),
		sessions:        copyMap(s.sessions),
		incidents:       copyMap(s.incidents),
	}
}

func (s *MemoryStore) restore(t memTables) {
	s.users = t.users
	s.refreshSessions = t.refreshSessions
	s.staff = t.staff
	s.students = t.students
	s.hostels = t.hostels
	s.rooms = t.rooms
	s.warehouses = t.warehouses
	s.belongings = t.belongings
	s.sessions = t.sessions
	s.incidents = t.incidents
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// memQueries runs against the shared tables. When locking is set the call
// acquires the store lock itself (auto-commit use); inside WithTx the lock is
// already held.
type memQueries struct {
	store   *MemoryStore
	locking bool
}

func (q *memQueries) lock() func() {
	if !q.locking {
		return func() {}
	}
	q.store.mu.Lock()
	return q.store.mu.Unlock
}

// Users and identity

func (q *memQueries) CreateUser(_ context.Context, user model.User) error {
	defer q.lock()()
	for _, existing := range q.store.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return ErrUniqueViolation
		}
	}
	q.store.users[user.ID] = user
	return nil
}

func (q *memQueries) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	defer q.lock()()
	for _, user := range q.store.users {
		if strings.ToLower(strings.TrimSpace(user.Email)) == email {
			return user, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (q *memQueries) GetUserByID(_ context.Context, id string) (model.User, error) {
	defer q.lock()()
	user, ok := q.store.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (q *memQueries) GetRole(_ context.Context, userID string) (model.Role, error) {
	defer q.lock()()
	role := model.Role{UserID: userID}
	if _, ok := q.store.staff[userID]; ok {
		role.UserType = "staff"
		return role, nil
	}
	if _, ok := q.store.students[userID]; ok {
		role.UserType = "student"
		return role, nil
	}
	return role, ErrNotFound
}

func (q *memQueries) CreateRefreshSession(_ context.Context, session model.RefreshSession) error {
	defer q.lock()()
	q.store.refreshSessions[session.TokenHash] = session
	return nil
}

func (q *memQueries) GetRefreshSession(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	defer q.lock()()
	session, ok := q.store.refreshSessions[tokenHash]
	if !ok {
		return model.RefreshSession{}, ErrNotFound
	}
	return session, nil
}

func (q *memQueries) RevokeRefreshSession(_ context.Context, id string) error {
	defer q.lock()()
	for hash, session := range q.store.refreshSessions {
		if session.ID == id {
			now := time.Now().UTC()
			session.RevokedAt = &now
			q.store.refreshSessions[hash] = session
		}
	}
	return nil
}

// Staff and students

func (q *memQueries) CreateStaff(_ context.Context, id string) error {
	defer q.lock()()
	q.store.staff[id] = model.Staff{ID: id}
	return nil
}

func (q *memQueries) GetStaff(_ context.Context, id string) (model.Staff, error) {
	defer q.lock()()
	staff, ok := q.store.staff[id]
	if !ok {
		return model.Staff{}, ErrNotFound
	}
	return staff, nil
}

func (q *memQueries) GetStaffByEmail(_ context.Context, email string) (model.Staff, error) {
	defer q.lock()()
	for id := range q.store.staff {
		user, ok := q.store.users[id]
		if ok && strings.ToLower(strings.TrimSpace(user.Email)) == email {
			return model.Staff{ID: id}, nil
		}
	}
	return model.Staff{}, ErrNotFound
}

func (q *memQueries) CreateStudent(_ context.Context, student model.Student) error {
	defer q.lock()()
	for _, existing := range q.store.students {
		if existing.RollNumber == student.RollNumber {
			return ErrUniqueViolation
		}
	}
	q.store.students[student.ID] = student
	return nil
}

func (q *memQueries) GetStudent(_ context.Context, id string) (model.Student, error) {
	defer q.lock()()
	student, ok := q.store.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return student, nil
}

func (q *memQueries) GetStudentByRoll(_ context.Context, rollNumber string) (model.Student, error) {
	defer q.lock()()
	for _, student := range q.store.students {
		if strings.ToUpper(strings.TrimSpace(student.RollNumber)) == rollNumber {
			return student, nil
		}
	}
	return model.Student{}, ErrNotFound
}

func (q *memQueries) ListStudents(_ context.Context) ([]model.Student, error) {
	defer q.lock()()
	students := make([]model.Student, 0, len(q.store.students))
	for _, student := range q.store.students {
		students = append(students, student)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].RollNumber < students[j].RollNumber })
	return students, nil
}

func (q *memQueries) UpdateStudentRooms(_ context.Context, id, currentRoomID string, nextRoomID *string) (model.Student, error) {
	defer q.lock()()
	student, ok := q.store.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	student.CurrentRoomID = currentRoomID
	student.NextRoomID = nextRoomID
	q.store.students[id] = student
	return student, nil
}

func (q *memQueries) DeleteStudent(_ context.Context, id string) error {
	defer q.lock()()
	if _, ok := q.store.students[id]; !ok {
		return ErrNotFound
	}
	delete(q.store.students, id)
	return nil
}

func (q *memQueries) CountBelongingsByStudent(_ context.Context, studentID string) (int64, error) {
	defer q.lock()()
	var count int64
	for _, belonging := range q.store.belongings {
		if belonging.StudentID == studentID {
			count++
		}
	}
	return count, nil
}

// Hostels, rooms, warehouses

func (q *memQueries) GetHostel(_ context.Context, id string) (model.Hostel, error) {
	defer q.lock()()
	hostel, ok := q.store.hostels[id]
	if !ok {
		return model.Hostel{}, ErrNotFound
	}
	return hostel, nil
}

func (q *memQueries) GetHostelByName(_ context.Context, name string) (model.Hostel, error) {
	defer q.lock()()
	for _, hostel := range q.store.hostels {
		if hostel.Name == name {
			return hostel, nil
		}
	}
	return model.Hostel{}, ErrNotFound
}

func (q *memQueries) ListHostels(_ context.Context) ([]model.Hostel, error) {
	defer q.lock()()
	hostels := make([]model.Hostel, 0, len(q.store.hostels))
	for _, hostel := range q.store.hostels {
		hostels = append(hostels, hostel)
	}
	sort.Slice(hostels, func(i, j int) bool { return hostels[i].Name < hostels[j].Name })
	return hostels, nil
}

func (q *memQueries) GetRoom(_ context.Context, id string) (model.Room, error) {
	defer q.lock()()
	room, ok := q.store.rooms[id]
	if !ok {
		return model.Room{}, ErrNotFound
	}
	return room, nil
}

func (q *memQueries) GetRoomByNumber(_ context.Context, hostelID, number string) (model.Room, error) {
	defer q.lock()()
	for _, room := range q.store.rooms {
		if room.HostelID == hostelID && room.Number == number {
			return room, nil
		}
	}
	return model.Room{}, ErrNotFound
}

func (q *memQueries) GetWarehouse(_ context.Context, id string) (model.Warehouse, error) {
	defer q.lock()()
	warehouse, ok := q.store.warehouses[id]
	if !ok {
		return model.Warehouse{}, ErrNotFound
	}
	return warehouse, nil
}

func (q *memQueries) GetWarehouseByLocation(_ context.Context, location string) (model.Warehouse, error) {
	defer q.lock()()
	for _, warehouse := range q.store.warehouses {
		if warehouse.Location == location {
			return warehouse, nil
		}
	}
	return model.Warehouse{}, ErrNotFound
}

func (q *memQueries) ListWarehouses(_ context.Context) ([]model.Warehouse, error) {
	defer q.lock()()
	warehouses := make([]model.Warehouse, 0, len(q.store.warehouses))
	for _, warehouse := range q.store.warehouses {
		warehouses = append(warehouses, warehouse)
	}
	sort.Slice(warehouses, func(i, j int) bool { return warehouses[i].Location < warehouses[j].Location })
	return warehouses, nil
}

func (q *memQueries) CountCheckedIn(_ context.Context, warehouseID string) (int64, error) {
	defer q.lock()()
	var count int64
	for _, belonging := range q.store.belongings {
		if belonging.CheckedIn && belonging.WarehouseID != nil && *belonging.WarehouseID == warehouseID {
			count++
		}
	}
	return count, nil
}

// Belongings

func (q *memQueries) CreateBelonging(_ context.Context, belonging model.Belonging) error {
	defer q.lock()()
	belonging.CheckedIn = false
	belonging.WarehouseID = nil
	belonging.CheckedInAt = nil
	belonging.CheckedOutAt = nil
	q.store.belongings[belonging.ID] = belonging
	return nil
}

func (q *memQueries) GetBelonging(_ context.Context, id string) (model.Belonging, error) {
	defer q.lock()()
	belonging, ok := q.store.belongings[id]
	if !ok {
		return model.Belonging{}, ErrNotFound
	}
	return belonging, nil
}

func (q *memQueries) GetBelongingForUpdate(ctx context.Context, id string) (model.Belonging, error) {
	return q.GetBelonging(ctx, id)
}

func (q *memQueries) ListBelongingsByStudent(_ context.Context, studentID string) ([]model.Belonging, error) {
	defer q.lock()()
	var belongings []model.Belonging
	for _, belonging := range q.store.belongings {
		if belonging.StudentID == studentID {
			belongings = append(belongings, belonging)
		}
	}
	sort.Slice(belongings, func(i, j int) bool { return belongings[i].ID < belongings[j].ID })
	return belongings, nil
}

func (q *memQueries) MarkCheckedIn(_ context.Context, id, warehouseID string) (model.Belonging, error) {
	defer q.lock()()
	belonging, ok := q.store.belongings[id]
	if !ok || belonging.CheckedIn {
		return model.Belonging{}, ErrNoRowsAffected
	}
	now := time.Now().UTC()
	belonging.CheckedIn = true
	belonging.WarehouseID = &warehouseID
	belonging.CheckedInAt = &now
	q.store.belongings[id] = belonging
	return belonging, nil
}

func (q *memQueries) MarkCheckedOut(_ context.Context, id string) (model.Belonging, error) {
	defer q.lock()()
	belonging, ok := q.store.belongings[id]
	if !ok || !belonging.CheckedIn {
		return model.Belonging{}, ErrNoRowsAffected
	}
	now := time.Now().UTC()
	belonging.CheckedIn = false
	belonging.WarehouseID = nil
	belonging.CheckedOutAt = &now
	q.store.belongings[id] = belonging
	return belonging, nil
}

// Sessions

func (q *memQueries) CreateSession(_ context.Context, id, staffID, studentID string) (model.Session, error) {
	defer q.lock()()
	for _, session := range q.store.sessions {
		if session.StaffID == staffID && session.StudentID == studentID && session.Active() {
			return model.Session{}, ErrUniqueViolation
		}
	}
	session := model.Session{
		ID:        id,
		StaffID:   staffID,
		StudentID: studentID,
		OpenTime:  time.Now().UTC(),
	}
	q.store.sessions[id] = session
	return session, nil
}

func (q *memQueries) GetSession(_ context.Context, id string) (model.Session, error) {
	defer q.lock()()
	session, ok := q.store.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return session, nil
}

func (q *memQueries) FindActiveSession(_ context.Context, staffID, studentID string) (model.Session, error) {
	defer q.lock()()
	for _, session := range q.store.sessions {
		if session.StaffID == staffID && session.StudentID == studentID && session.Active() {
			return session, nil
		}
	}
	return model.Session{}, ErrNotFound
}

func (q *memQueries) FindActiveSessionByStaffForUpdate(_ context.Context, staffID string) (model.Session, error) {
	defer q.lock()()
	var active []model.Session
	for _, session := range q.store.sessions {
		if session.StaffID == staffID && session.Active() {
			active = append(active, session)
		}
	}
	if len(active) == 0 {
		return model.Session{}, ErrNotFound
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].OpenTime.Equal(active[j].OpenTime) {
			return active[i].OpenTime.Before(active[j].OpenTime)
		}
		return active[i].ID < active[j].ID
	})
	return active[0], nil
}

func (q *memQueries) CloseSession(_ context.Context, id, remark string) (model.Session, error) {
	defer q.lock()()
	session, ok := q.store.sessions[id]
	if !ok || !session.Active() {
		return model.Session{}, ErrNoRowsAffected
	}
	now := time.Now().UTC()
	session.CloseTime = &now
	session.Remark = &remark
	q.store.sessions[id] = session
	return session, nil
}

func (q *memQueries) DeleteActiveSession(_ context.Context, staffID, studentID string) (int64, error) {
	defer q.lock()()
	var deleted int64
	for id, session := range q.store.sessions {
		if session.StaffID == staffID && session.StudentID == studentID && session.Active() {
			delete(q.store.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (q *memQueries) TerminateStaleSessions(_ context.Context, cutoff time.Time) (int64, error) {
	defer q.lock()()
	var terminated int64
	for id, session := range q.store.sessions {
		if session.Active() && session.OpenTime.Before(cutoff) {
			session.Terminated = true
			q.store.sessions[id] = session
			terminated++
		}
	}
	return terminated, nil
}

// Incidents

func (q *memQueries) CreateIncident(_ context.Context, id, foundBy, belongsTo, mattressID string) (model.Incident, error) {
	defer q.lock()()
	for _, incident := range q.store.incidents {
		if incident.MattressID == mattressID && !incident.Resolved {
			return model.Incident{}, ErrUniqueViolation
		}
	}
	incident := model.Incident{
		ID:         id,
		FoundBy:    foundBy,
		BelongsTo:  belongsTo,
		MattressID: mattressID,
		OpenTime:   time.Now().UTC(),
	}
	q.store.incidents[id] = incident
	return incident, nil
}

func (q *memQueries) GetIncident(_ context.Context, id string) (model.Incident, error) {
	defer q.lock()()
	incident, ok := q.store.incidents[id]
	if !ok {
		return model.Incident{}, ErrNotFound
	}
	return incident, nil
}

func (q *memQueries) FindUnresolvedIncidentForUpdate(_ context.Context, mattressID string) (model.Incident, error) {
	defer q.lock()()
	for _, incident := range q.store.incidents {
		if incident.MattressID == mattressID && !incident.Resolved {
			return incident, nil
		}
	}
	return model.Incident{}, ErrNotFound
}

func (q *memQueries) ResolveIncident(_ context.Context, id string) (model.Incident, error) {
	defer q.lock()()
	incident, ok := q.store.incidents[id]
	if !ok {
		return model.Incident{}, ErrNotFound
	}
	if !incident.Resolved {
		now := time.Now().UTC()
		incident.Resolved = true
		incident.CloseTime = &now
		q.store.incidents[id] = incident
	}
	return incident, nil
}

func (q *memQueries) ListIncidents(_ context.Context, resolved *bool) ([]model.Incident, error) {
	defer q.lock()()
	var incidents []model.Incident
	for _, incident := range q.store.incidents {
		if resolved != nil && incident.Resolved != *resolved {
			continue
		}
		incidents = append(incidents, incident)
	}
	sort.Slice(incidents, func(i, j int) bool { return incidents[i].OpenTime.After(incidents[j].OpenTime) })
	return incidents, nil
}
