package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lalitm1004/cache-n-carry/internal/db"
	"github.com/lalitm1004/cache-n-carry/internal/model"
)

type sessionResponse struct {
	ID         string     `json:"id"`
	StaffID    string     `json:"staffId"`
	StudentID  string     `json:"studentId"`
	OpenTime   time.Time  `json:"openTime"`
	CloseTime  *time.Time `json:"closeTime,omitempty"`
	Terminated bool       `json:"terminated"`
	Remark     *string    `json:"remark,omitempty"`
}

type belongingResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Description  *string    `json:"description,omitempty"`
	CheckedIn    bool       `json:"checkedIn"`
	StudentID    string     `json:"studentId"`
	WarehouseID  *string    `json:"warehouseId,omitempty"`
	CheckedInAt  *time.Time `json:"checkedInAt,omitempty"`
	CheckedOutAt *time.Time `json:"checkedOutAt,omitempty"`
}

type incidentResponse struct {
	ID         string     `json:"id"`
	FoundBy    string     `json:"foundBy"`
	BelongsTo  string     `json:"belongsTo"`
	MattressID string     `json:"mattressId"`
	Resolved   bool       `json:"resolved"`
	OpenTime   time.Time  `json:"openTime"`
	CloseTime  *time.Time `json:"closeTime,omitempty"`
}

func mapSession(session model.Session) sessionResponse {
	return sessionResponse{
		ID:         session.ID,
		StaffID:    session.StaffID,
		StudentID:  session.StudentID,
		OpenTime:   session.OpenTime,
		CloseTime:  session.CloseTime,
		Terminated: session.Terminated,
		Remark:     session.Remark,
	}
}

func mapBelonging(belonging model.Belonging) belongingResponse {
	return belongingResponse{
		ID:           belonging.ID,
		Type:         string(belonging.Kind),
		Description:  belonging.Description,
		CheckedIn:    belonging.CheckedIn,
		StudentID:    belonging.StudentID,
		WarehouseID:  belonging.WarehouseID,
		CheckedInAt:  belonging.CheckedInAt,
		CheckedOutAt: belonging.CheckedOutAt,
	}
}

func mapIncident(incident model.Incident) incidentResponse {
	return incidentResponse{
		ID:         incident.ID,
		FoundBy:    incident.FoundBy,
		BelongsTo:  incident.BelongsTo,
		MattressID: incident.MattressID,
		Resolved:   incident.Resolved,
		OpenTime:   incident.OpenTime,
		CloseTime:  incident.CloseTime,
	}
}

type createSessionRequest struct {
	RollNumber string `json:"rollNumber"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	claims := claimsFromContext(r.Context())
	student, err := s.store.Queries().GetStudentByRoll(r.Context(), normalizeRollParam(req.RollNumber))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "student_not_found")
			return
		}
		s.writeServiceError(w, err)
		return
	}

	session, err := s.svc.OpenSession(r.Context(), claims.UserID, student.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapSession(session))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	staffEmail, err := s.staffEmail(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}
	if err := s.svc.TerminateSession(r.Context(), req.RollNumber, staffEmail); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (s *Server) handleGetActiveSession(w http.ResponseWriter, r *http.Request) {
	rollNumber := r.URL.Query().Get("rollNumber")
	staffEmail := r.URL.Query().Get("staffEmail")
	if staffEmail == "" {
		email, err := s.staffEmail(r.Context())
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_staff_email")
			return
		}
		staffEmail = email
	}

	session, err := s.svc.ActiveSessionByNames(r.Context(), rollNumber, staffEmail)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSession(session))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.Queries().GetSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSession(session))
}

type registerBelongingRequest struct {
	RollNumber  string  `json:"rollNumber"`
	Type        string  `json:"type"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) handleRegisterBelonging(w http.ResponseWriter, r *http.Request) {
	var req registerBelongingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	belonging, err := s.svc.RegisterBelonging(r.Context(), req.RollNumber, model.BelongingKind(req.Type), req.Description)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapBelonging(belonging))
}

type checkInRequest struct {
	BelongingID   string `json:"belongingId"`
	WarehouseName string `json:"warehouseName"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	staffEmail, err := s.staffEmail(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}

	belonging, err := s.svc.CheckIn(r.Context(), req.BelongingID, req.WarehouseName, staffEmail)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if belonging.WarehouseID != nil {
		s.invalidateOccupancy(r.Context(), *belonging.WarehouseID)
	}
	writeJSON(w, http.StatusOK, mapBelonging(belonging))
}

type checkOutRequest struct {
	BelongingID string `json:"belongingId"`
}

type checkOutResponse struct {
	Belonging       belongingResponse `json:"belonging"`
	ClosedSessionID string            `json:"closedSessionId"`
	IncidentID      *string           `json:"incidentId,omitempty"`
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req checkOutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	staffEmail, err := s.staffEmail(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}

	result, err := s.svc.CheckOut(r.Context(), req.BelongingID, staffEmail)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if result.FromWarehouseID != "" {
		s.invalidateOccupancy(r.Context(), result.FromWarehouseID)
	}
	writeJSON(w, http.StatusOK, checkOutResponse{
		Belonging:       mapBelonging(result.Belonging),
		ClosedSessionID: result.ClosedSessionID,
		IncidentID:      result.IncidentID,
	})
}

func (s *Server) handleGetBelonging(w http.ResponseWriter, r *http.Request) {
	belonging, err := s.store.Queries().GetBelonging(r.Context(), chi.URLParam(r, "belongingId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapBelonging(belonging))
}

type resolveIncidentRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req resolveIncidentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	incident, err := s.svc.ResolveIncident(r.Context(), req.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapIncident(incident))
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.store.Queries().GetIncident(r.Context(), chi.URLParam(r, "incidentId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapIncident(incident))
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_resolved_filter")
			return
		}
		resolved = &value
	}

	incidents, err := s.store.Queries().ListIncidents(r.Context(), resolved)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]incidentResponse, 0, len(incidents))
	for _, incident := range incidents {
		out = append(out, mapIncident(incident))
	}
	writeJSON(w, http.StatusOK, out)
}
