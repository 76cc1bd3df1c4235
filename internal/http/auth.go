package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalitm1004/cache-n-carry/internal/auth"
	"github.com/lalitm1004/cache-n-carry/internal/crypto"
	"github.com/lalitm1004/cache-n-carry/internal/db"
	"github.com/lalitm1004/cache-n-carry/internal/model"
)

type registerRequest struct {
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	Role          string  `json:"role"`
	RollNumber    string  `json:"rollNumber,omitempty"`
	CurrentRoomID string  `json:"currentRoomId,omitempty"`
	NextRoomID    *string `json:"nextRoomId,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userSummary `json:"user"`
}

type userSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if req.Role != "staff" && req.Role != "student" {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}
	if req.Role == "student" {
		req.RollNumber = strings.ToUpper(strings.TrimSpace(req.RollNumber))
		if req.RollNumber == "" || req.CurrentRoomID == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	user := model.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	}
	err = s.store.WithTx(r.Context(), func(q db.Queries) error {
		if err := q.CreateUser(r.Context(), user); err != nil {
			return err
		}
		if req.Role == "staff" {
			return q.CreateStaff(r.Context(), user.ID)
		}
		if _, err := q.GetRoom(r.Context(), req.CurrentRoomID); err != nil {
			return err
		}
		return q.CreateStudent(r.Context(), model.Student{
			ID:            user.ID,
			RollNumber:    req.RollNumber,
			CurrentRoomID: req.CurrentRoomID,
			NextRoomID:    req.NextRoomID,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, db.ErrUniqueViolation):
			writeError(w, http.StatusConflict, "already_registered")
		case errors.Is(err, db.ErrNotFound):
			writeError(w, http.StatusNotFound, "room_not_found")
		default:
			s.log.Error("register failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "server_error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, userSummary{ID: user.ID, Name: user.Name, Email: user.Email, Role: req.Role})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	q := s.store.Queries()
	user, err := q.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	role, err := q.GetRole(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "role_not_found")
		return
	}

	resp, err := s.issueTokens(r, user, role.UserType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	q := s.store.Queries()
	session, err := q.GetRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if session.RevokedAt != nil || time.Now().UTC().After(session.ExpiresAt) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	user, err := q.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}
	role, err := q.GetRole(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "role_not_found")
		return
	}

	// Rotate: the presented token is spent either way.
	if err := q.RevokeRefreshSession(r.Context(), session.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp, err := s.issueTokens(r, user, role.UserType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	q := s.store.Queries()
	session, err := q.GetRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err == nil {
		_ = q.RevokeRefreshSession(r.Context(), session.ID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	user, err := s.store.Queries().GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, userSummary{ID: user.ID, Name: user.Name, Email: user.Email, Role: claims.UserType})
}

func (s *Server) issueTokens(r *http.Request, user model.User, userType string) (authResponse, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:   user.ID,
		UserType: userType,
	})
	if err != nil {
		return authResponse{}, err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return authResponse{}, err
	}
	now := time.Now().UTC()
	err = s.store.Queries().CreateRefreshSession(r.Context(), model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	})
	if err != nil {
		return authResponse{}, err
	}

	return authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userSummary{ID: user.ID, Name: user.Name, Email: user.Email, Role: userType},
	}, nil
}
