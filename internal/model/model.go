package model

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is the resolved identity of a user: exactly one of the user types.
type Role struct {
	UserID   string
	UserType string // "staff" or "student"
}

// Staff shares its id with the backing User row.
type Staff struct {
	ID string
}

// Student shares its id with the backing User row. RollNumber is stored
// upper-cased and trimmed.
type Student struct {
	ID            string
	RollNumber    string
	CurrentRoomID string
	NextRoomID    *string
}

type Hostel struct {
	ID   string
	Name string
}

type Room struct {
	ID       string
	Number   string
	HostelID string
}

type Warehouse struct {
	ID       string
	Location string
}

type BelongingKind string

const (
	KindLuggage  BelongingKind = "luggage"
	KindMattress BelongingKind = "mattress"
)

// Belonging is an item owned by a student. CheckedIn is true iff WarehouseID
// is set; the timestamps are assigned by the store on each transition.
type Belonging struct {
	ID           string
	Kind         BelongingKind
	Description  *string
	CheckedIn    bool
	StudentID    string
	WarehouseID  *string
	CheckedInAt  *time.Time
	CheckedOutAt *time.Time
}

// Session is a supervision window between one staff member and one student.
// It is active while CloseTime is null and Terminated is false.
type Session struct {
	ID         string
	StaffID    string
	StudentID  string
	OpenTime   time.Time
	CloseTime  *time.Time
	Terminated bool
	Remark     *string
}

func (s Session) Active() bool {
	return s.CloseTime == nil && !s.Terminated
}

// Incident records a mattress returned through a session whose student is not
// the mattress owner. At most one unresolved incident exists per mattress.
type Incident struct {
	ID         string
	FoundBy    string
	BelongsTo  string
	MattressID string
	Resolved   bool
	OpenTime   time.Time
	CloseTime  *time.Time
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}
