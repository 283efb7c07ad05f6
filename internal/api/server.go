package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"syncdeck/internal/invite"
	"syncdeck/internal/room"
	"syncdeck/internal/session"
	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "api")

// ConnectionStats is the registry surface the health endpoint needs,
// kept as an interface to avoid tight coupling to the websocket package.
type ConnectionStats interface {
	GetStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface
// between external clients and internal components. No business logic,
// only HTTP handling and JSON serialization; session lifecycle lives in
// the directory and invite service.
type Server struct {
	directory   *session.Directory
	invites     *invite.Service
	store       interfaces.Store
	rooms       *room.Registry
	broadcaster *room.Broadcaster
	connections ConnectionStats
	router      chi.Router
}

// NewServer wires the REST surface over the given collaborators.
func NewServer(directory *session.Directory, invites *invite.Service, store interfaces.Store, rooms *room.Registry, broadcaster *room.Broadcaster, connections ConnectionStats) *Server {
	s := &Server{
		directory:   directory,
		invites:     invites,
		store:       store,
		rooms:       rooms,
		broadcaster: broadcaster,
		connections: connections,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(jsonMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.createSession)
		r.Post("/join", s.joinSession)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.endSession)
			r.Get("/members", s.getMembers)
			r.Post("/invites", s.createInvite)
			r.Post("/heartbeat", s.heartbeat)
		})
	})

	r.Get("/health", s.healthCheck)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	CreatedBy string `json:"createdBy"`
}

type CreateSessionResponse struct {
	Session *types.Session `json:"session"`
}

type CreateInviteRequest struct {
	IssuedBy string `json:"issuedBy"`
}

type CreateInviteResponse struct {
	Code      string    `json:"code"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type JoinRequest struct {
	Code     string `json:"code"`
	ClientID string `json:"clientId"`
}

type JoinResponse struct {
	SessionID string `json:"sessionId"`
}

type SessionResponse struct {
	Session     *types.Session `json:"session"`
	MemberCount int            `json:"memberCount"`
}

type MembersResponse struct {
	SessionID string         `json:"sessionId"`
	Members   []types.Member `json:"members"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/sessions - create a session owned by an operator client.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess, err := s.directory.Create(r.Context(), req.CreatedBy)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCreatedBy) {
			s.sendError(w, "Invalid createdBy client ID", http.StatusBadRequest)
			return
		}
		log.WithError(err).Error("session creation failed")
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateSessionResponse{Session: sess})
}

// POST /api/sessions/{id}/invites - issue a single-use invite code.
// FUNCTIONAL DISCOVERY: The session lookup runs first so invite codes
// are never minted against an expired or unknown session.
func (s *Server) createInvite(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var req CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if _, err := s.directory.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to look up session", http.StatusInternalServerError)
		return
	}

	code, err := s.invites.Generate(r.Context(), sessionID, req.IssuedBy)
	if err != nil {
		log.WithError(err).Error("invite generation failed")
		s.sendError(w, "Failed to generate invite code", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateInviteResponse{
		Code:      code.Code,
		SessionID: code.SessionID,
		ExpiresAt: code.ExpiresAt,
	})
}

// POST /api/join - redeem an invite code for a session ID. The viewer
// then connects over WebSocket and authenticates with that session ID.
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidClientID(req.ClientID) {
		s.sendError(w, "Invalid client ID", http.StatusBadRequest)
		return
	}

	code, err := s.invites.Redeem(r.Context(), req.Code, req.ClientID)
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrInvalidFormat), errors.Is(err, invite.ErrBadChecksum):
			s.sendError(w, "Invalid invite code", http.StatusBadRequest)
		case errors.Is(err, invite.ErrCodeNotFound):
			s.sendError(w, "Invite code not found", http.StatusNotFound)
		case errors.Is(err, invite.ErrCodeExpired):
			s.sendError(w, "Invite code expired", http.StatusGone)
		default:
			log.WithError(err).Error("invite redemption failed")
			s.sendError(w, "Failed to redeem invite code", http.StatusInternalServerError)
		}
		return
	}

	// The session can expire between code issue and redemption; surface
	// that as not found rather than handing out a dead session ID
	if _, err := s.directory.Get(r.Context(), code.SessionID); err != nil {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(JoinResponse{SessionID: code.SessionID})
}

// GET /api/sessions/{id} - session details with live member count.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	sess, err := s.directory.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Session:     sess,
		MemberCount: len(s.rooms.GetMembers(sessionID)),
	})
}

// GET /api/sessions/{id}/members - current room membership.
func (s *Server) getMembers(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	if _, err := s.directory.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	members := s.rooms.GetMembers(sessionID)
	if members == nil {
		members = []types.Member{}
	}
	json.NewEncoder(w).Encode(MembersResponse{SessionID: sessionID, Members: members})
}

// POST /api/sessions/{id}/heartbeat - refresh activity without a socket.
// The operator panel calls this while its WebSocket is reconnecting so
// the session cannot expire out from under a flaky network.
func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	if err := s.directory.Touch(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessionId":  sessionID,
		"serverTime": types.NowMillis(),
	})
}

// DELETE /api/sessions/{id} - end a session.
// FUNCTIONAL DISCOVERY: Connected members are notified before deletion
// so dashboards show "session ended" instead of a silent disconnect.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	result := s.broadcaster.Broadcast(sessionID, &types.Outbound{
		Type: types.MessageTypeError,
		Data: types.ErrorPayload{Code: "session_ended", Message: "session ended by operator"},
	}, nil)
	if result.Total > 0 {
		log.WithFields(logrus.Fields{
			"sessionId": sessionID,
			"sent":      result.Sent,
			"failed":    result.Failed,
		}).Info("session end notice broadcast")
	}

	if err := s.directory.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Session ended successfully"})
}

// GET /health - component health with connection and room statistics.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.connections.GetStats(),
		Rooms:       s.rooms.GetStats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables web client access. Allows all origins; the
// deployment in front of real traffic restricts this at the proxy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware ensures proper content-type headers on API responses.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
