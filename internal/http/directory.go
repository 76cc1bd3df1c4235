package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalitm1004/cache-n-carry/internal/model"
)

type studentResponse struct {
	ID            string  `json:"id"`
	RollNumber    string  `json:"rollNumber"`
	CurrentRoomID string  `json:"currentRoomId"`
	NextRoomID    *string `json:"nextRoomId,omitempty"`
}

type warehouseResponse struct {
	ID        string `json:"id"`
	Location  string `json:"location"`
	Occupancy int64  `json:"occupancy"`
}

func mapStudent(student model.Student) studentResponse {
	return studentResponse{
		ID:            student.ID,
		RollNumber:    student.RollNumber,
		CurrentRoomID: student.CurrentRoomID,
		NextRoomID:    student.NextRoomID,
	}
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.store.Queries().ListStudents(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]studentResponse, 0, len(students))
	for _, student := range students {
		out = append(out, mapStudent(student))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	student, err := s.store.Queries().GetStudent(r.Context(), chi.URLParam(r, "studentId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapStudent(student))
}

func (s *Server) handleListStudentBelongings(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")
	if _, err := s.store.Queries().GetStudent(r.Context(), studentID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	belongings, err := s.store.Queries().ListBelongingsByStudent(r.Context(), studentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]belongingResponse, 0, len(belongings))
	for _, belonging := range belongings {
		out = append(out, mapBelonging(belonging))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateStudentRoomsRequest struct {
	CurrentRoomID string  `json:"currentRoomId"`
	NextRoomID    *string `json:"nextRoomId,omitempty"`
}

// handleUpdateStudentRooms records a room move: the new current room, and
// optionally the room the student moves to next term.
func (s *Server) handleUpdateStudentRooms(w http.ResponseWriter, r *http.Request) {
	var req updateStudentRoomsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.CurrentRoomID == "" {
		writeError(w, http.StatusBadRequest, "missing_current_room")
		return
	}

	q := s.store.Queries()
	if _, err := q.GetRoom(r.Context(), req.CurrentRoomID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if req.NextRoomID != nil {
		if _, err := q.GetRoom(r.Context(), *req.NextRoomID); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}

	student, err := q.UpdateStudentRooms(r.Context(), chi.URLParam(r, "studentId"), req.CurrentRoomID, req.NextRoomID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapStudent(student))
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteStudent(r.Context(), chi.URLParam(r, "studentId")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := s.store.Queries().ListWarehouses(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]warehouseResponse, 0, len(warehouses))
	for _, warehouse := range warehouses {
		occupancy, err := s.warehouseOccupancy(r.Context(), warehouse.ID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		out = append(out, warehouseResponse{ID: warehouse.ID, Location: warehouse.Location, Occupancy: occupancy})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListHostels(w http.ResponseWriter, r *http.Request) {
	hostels, err := s.store.Queries().ListHostels(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostels)
}

const occupancyTTL = time.Minute

func occupancyKey(warehouseID string) string {
	return fmt.Sprintf("warehouse:occupancy:%s", warehouseID)
}

// warehouseOccupancy counts checked-in belongings per warehouse, caching the
// count when redis is configured. Check-in and check-out invalidate the key,
// the TTL bounds staleness if an invalidation is lost.
func (s *Server) warehouseOccupancy(ctx context.Context, warehouseID string) (int64, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, occupancyKey(warehouseID)).Int64(); err == nil {
			return cached, nil
		}
	}

	count, err := s.store.Queries().CountCheckedIn(ctx, warehouseID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, occupancyKey(warehouseID), count, occupancyTTL).Err(); err != nil {
			s.log.Warn("occupancy cache write failed", zap.Error(err))
		}
	}
	return count, nil
}

func (s *Server) invalidateOccupancy(ctx context.Context, warehouseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, occupancyKey(warehouseID)).Err(); err != nil {
		s.log.Warn("occupancy cache invalidation failed", zap.Error(err))
	}
}
