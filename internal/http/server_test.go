package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lalitm1004/cache-n-carry/internal/config"
	"github.com/lalitm1004/cache-n-carry/internal/custody"
	"github.com/lalitm1004/cache-n-carry/internal/db"
	"github.com/lalitm1004/cache-n-carry/internal/model"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"Basic abc":        "",
		"Bearer":           "",
		"Bearer  spaced  ": "spaced",
	}
	for header, expect := range cases {
		if got := bearerToken(header); got != expect {
			t.Fatalf("bearerToken(%q) = %q, expected %q", header, got, expect)
		}
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[custody.Kind]int{
		custody.KindInvalid:   http.StatusBadRequest,
		custody.KindForbidden: http.StatusForbidden,
		custody.KindNotFound:  http.StatusNotFound,
		custody.KindConflict:  http.StatusConflict,
		custody.Kind(0):       http.StatusInternalServerError,
	}
	for kind, expect := range cases {
		if got := statusForKind(kind); got != expect {
			t.Fatalf("statusForKind(%v) = %d, expected %d", kind, got, expect)
		}
	}
}

type testEnv struct {
	t      *testing.T
	server *httptest.Server
	store  *db.MemoryStore

	roomID    string
	warehouse string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := db.NewMemoryStore()
	hostel := model.Hostel{ID: uuid.NewString(), Name: "North Block"}
	room := model.Room{ID: uuid.NewString(), Number: "101", HostelID: hostel.ID}
	warehouse := model.Warehouse{ID: uuid.NewString(), Location: "Warehouse A"}
	store.SeedTopology([]model.Hostel{hostel}, []model.Room{room}, []model.Warehouse{warehouse})

	cfg := config.Config{
		JWTSecret:       "test-secret",
		JWTIssuer:       "test",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	svc := custody.NewService(store, nil, nil)
	srv := httptest.NewServer(NewServer(cfg, store, svc, nil, nil, nil).Router())
	t.Cleanup(srv.Close)

	return &testEnv{t: t, server: srv, store: store, roomID: room.ID, warehouse: warehouse.Location}
}

func (e *testEnv) request(method, path, token string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	fields := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&fields)
	return resp, fields
}

func (e *testEnv) str(fields map[string]json.RawMessage, key string) string {
	e.t.Helper()
	var value string
	if err := json.Unmarshal(fields[key], &value); err != nil {
		e.t.Fatalf("field %s missing or not a string: %s", key, fields[key])
	}
	return value
}

func (e *testEnv) registerStaff(name, email string) string {
	e.t.Helper()
	resp, _ := e.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"name": name, "email": email, "password": "pass1234", "role": "staff",
	})
	if resp.StatusCode != http.StatusCreated {
		e.t.Fatalf("register staff: status %d", resp.StatusCode)
	}
	return e.login(email)
}

func (e *testEnv) registerStudent(name, email, roll string) string {
	e.t.Helper()
	resp, fields := e.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"name": name, "email": email, "password": "pass1234", "role": "student",
		"rollNumber": roll, "currentRoomId": e.roomID,
	})
	if resp.StatusCode != http.StatusCreated {
		e.t.Fatalf("register student: status %d", resp.StatusCode)
	}
	return e.str(fields, "id")
}

func (e *testEnv) login(email string) string {
	e.t.Helper()
	resp, fields := e.request(http.MethodPost, "/auth/login", "", map[string]string{
		"email": email, "password": "pass1234",
	})
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	return e.str(fields, "accessToken")
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"name": "Alice", "email": "alice@hostel.test", "password": "pass1234", "role": "staff",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// Same email again.
	resp, _ = env.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"name": "Alice", "email": "alice@hostel.test", "password": "pass1234", "role": "staff",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	resp, _ = env.request(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@hostel.test", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp, fields := env.request(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "Alice@Hostel.Test", "password": "pass1234",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for case-insensitive email, got %d", resp.StatusCode)
	}
	token := env.str(fields, "accessToken")
	refresh := env.str(fields, "refreshToken")

	resp, fields = env.request(http.MethodGet, "/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.str(fields, "role") != "staff" {
		t.Fatalf("expected staff role, got %s", fields["role"])
	}

	resp, _ = env.request(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on refresh, got %d", resp.StatusCode)
	}

	// Rotation spends the old token.
	resp, _ = env.request(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reused refresh token, got %d", resp.StatusCode)
	}

	resp, _ = env.request(http.MethodGet, "/api/students", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestCustodyFlow(t *testing.T) {
	env := newTestEnv(t)

	staffToken := env.registerStaff("Alice", "alice@hostel.test")
	studentID := env.registerStudent("Chitra", "chitra@hostel.test", "BT21CS001")
	studentToken := env.login("chitra@hostel.test")

	// Students cannot drive custody operations.
	resp, _ := env.request(http.MethodPost, "/api/session/create", studentToken, map[string]string{"rollNumber": "BT21CS001"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", resp.StatusCode)
	}

	resp, fields := env.request(http.MethodPost, "/api/session/create", staffToken, map[string]string{"rollNumber": "bt21cs001"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, fields)
	}
	if env.str(fields, "studentId") != studentID {
		t.Fatalf("session bound to wrong student")
	}

	resp, _ = env.request(http.MethodPost, "/api/session/create", staffToken, map[string]string{"rollNumber": "BT21CS001"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate session, got %d", resp.StatusCode)
	}

	resp, fields = env.request(http.MethodPost, "/api/belonging", staffToken, map[string]string{
		"rollNumber": "BT21CS001", "type": "luggage", "description": "blue suitcase",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, fields)
	}
	belongingID := env.str(fields, "id")

	resp, fields = env.request(http.MethodPost, "/api/belonging/checkin", staffToken, map[string]string{
		"belongingId": belongingID, "warehouseName": env.warehouse,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on checkin, got %d: %v", resp.StatusCode, fields)
	}

	resp, _ = env.request(http.MethodPost, "/api/belonging/checkin", staffToken, map[string]string{
		"belongingId": belongingID, "warehouseName": env.warehouse,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double checkin, got %d", resp.StatusCode)
	}

	resp, fields = env.request(http.MethodGet, "/api/warehouses", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, fields = env.request(http.MethodPost, "/api/belonging/checkout", staffToken, map[string]string{
		"belongingId": belongingID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on checkout, got %d: %v", resp.StatusCode, fields)
	}
	if _, ok := fields["incidentId"]; ok {
		t.Fatalf("expected no incident for owner checkout")
	}
	closedSessionID := env.str(fields, "closedSessionId")

	resp, fields = env.request(http.MethodGet, "/api/session/"+closedSessionID, staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := fields["closeTime"]; !ok {
		t.Fatalf("expected closed session to carry closeTime")
	}
}

func TestCustodyFlowMismatchIncident(t *testing.T) {
	env := newTestEnv(t)

	aliceToken := env.registerStaff("Alice", "alice@hostel.test")
	bobToken := env.registerStaff("Bob", "bob@hostel.test")
	ownerID := env.registerStudent("Chitra", "chitra@hostel.test", "BT21CS001")
	otherID := env.registerStudent("Dev", "dev@hostel.test", "BT21CS002")

	resp, fields := env.request(http.MethodPost, "/api/belonging", aliceToken, map[string]string{
		"rollNumber": "BT21CS001", "type": "mattress",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	mattressID := env.str(fields, "id")

	resp, _ = env.request(http.MethodPost, "/api/session/create", aliceToken, map[string]string{"rollNumber": "BT21CS001"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp, _ = env.request(http.MethodPost, "/api/belonging/checkin", aliceToken, map[string]string{
		"belongingId": mattressID, "warehouseName": env.warehouse,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// Bob's session is with the other student; the mattress leaves through it.
	resp, _ = env.request(http.MethodPost, "/api/session/create", bobToken, map[string]string{"rollNumber": "BT21CS002"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp, fields = env.request(http.MethodPost, "/api/belonging/checkout", bobToken, map[string]string{
		"belongingId": mattressID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on mismatched checkout, got %d: %v", resp.StatusCode, fields)
	}
	incidentID := env.str(fields, "incidentId")

	resp, fields = env.request(http.MethodGet, "/api/incident/"+incidentID, aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.str(fields, "foundBy") != otherID || env.str(fields, "belongsTo") != ownerID {
		t.Fatalf("incident parties wrong: %v", fields)
	}

	resp, fields = env.request(http.MethodPut, "/api/incident/update", aliceToken, map[string]string{"id": incidentID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on resolve, got %d", resp.StatusCode)
	}
	var resolved bool
	if err := json.Unmarshal(fields["resolved"], &resolved); err != nil || !resolved {
		t.Fatalf("expected resolved incident, got %v", fields)
	}

	resp, fields = env.request(http.MethodGet, "/api/incidents?resolved=false", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStudentEndpoints(t *testing.T) {
	env := newTestEnv(t)

	staffToken := env.registerStaff("Alice", "alice@hostel.test")
	studentID := env.registerStudent("Chitra", "chitra@hostel.test", "BT21CS001")

	resp, _ := env.request(http.MethodPatch, fmt.Sprintf("/api/student/%s", studentID), staffToken, map[string]interface{}{
		"currentRoomId": env.roomID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, fields := env.request(http.MethodPost, "/api/belonging", staffToken, map[string]string{
		"rollNumber": "BT21CS001", "type": "luggage",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	_ = fields

	// The student still owns a belonging.
	resp, _ = env.request(http.MethodDelete, fmt.Sprintf("/api/student/%s", studentID), staffToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	resp, _ = env.request(http.MethodGet, fmt.Sprintf("/api/student/%s/belongings", studentID), staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
