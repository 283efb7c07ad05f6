package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncdeck/internal/database"
	"syncdeck/internal/invite"
	"syncdeck/internal/room"
	"syncdeck/internal/session"
	dbconfig "syncdeck/pkg/database"
	"syncdeck/pkg/interfaces"
)

type stubResolver struct{}

func (stubResolver) GetClientConnection(clientID string) (interfaces.Peer, bool) { return nil, false }

type stubConnectionStats struct{}

func (stubConnectionStats) GetStats() map[string]int {
	return map[string]int{"total_connections": 0, "authenticated": 0}
}

type apiFixture struct {
	server    *Server
	directory *session.Directory
	invites   *invite.Service
	rooms     *room.Registry
	store     interfaces.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := database.NewManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, dbconfig.NewMigrationManager(manager.GetDB()).ApplyMigrations())

	directory := session.NewDirectory(manager, 30*time.Minute, 8)
	invites := invite.NewService(manager, 10*time.Minute)
	rooms := room.NewRegistry()
	broadcaster := room.NewBroadcaster(rooms, stubResolver{})

	return &apiFixture{
		server:    NewServer(directory, invites, manager, rooms, broadcaster, stubConnectionStats{}),
		directory: directory,
		invites:   invites,
		rooms:     rooms,
		store:     manager,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{CreatedBy: "operator-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Session)
	return resp.Session.ID
}

func TestServer_CreateSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{CreatedBy: "operator-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Session.ID, 6)
	assert.Equal(t, "operator-1", resp.Session.CreatedBy)
	assert.True(t, resp.Session.IsActive)
}

func TestServer_CreateSessionInvalidCreator(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{CreatedBy: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions", "not json at all")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CreateInvite(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/invites", CreateInviteRequest{IssuedBy: "operator-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateInviteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Code, 6)
	assert.True(t, invite.ValidateChecksum(resp.Code))
	assert.Equal(t, sessionID, resp.SessionID)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestServer_CreateInviteUnknownSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/ZZZ999/invites", CreateInviteRequest{IssuedBy: "operator-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/bad!/invites", CreateInviteRequest{IssuedBy: "operator-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_JoinFlow(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/invites", CreateInviteRequest{IssuedBy: "operator-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var inv CreateInviteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&inv))

	rec = f.do(t, http.MethodPost, "/api/join", JoinRequest{Code: inv.Code, ClientID: "viewer-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var joined JoinResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&joined))
	assert.Equal(t, sessionID, joined.SessionID)

	// Codes are single-use; the second redemption reads as not found
	rec = f.do(t, http.MethodPost, "/api/join", JoinRequest{Code: inv.Code, ClientID: "viewer-2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_JoinRejectsBadCodes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/join", JoinRequest{Code: "12ab56", ClientID: "viewer-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid format, wrong check digit: rejected before any lookup
	rec = f.do(t, http.MethodPost, "/api/join", JoinRequest{Code: "123456", ClientID: "viewer-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid checksum, never issued
	rec = f.do(t, http.MethodPost, "/api/join", JoinRequest{Code: "123455", ClientID: "viewer-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/join", JoinRequest{Code: "123455", ClientID: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_JoinExpiredCode(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.createSession(t)

	// A second service over the same store issues already-expired codes
	expiredIssuer := invite.NewService(f.store, -time.Minute)
	code, err := expiredIssuer.Generate(context.Background(), sessionID, "operator-1")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/join", JoinRequest{Code: code.Code, ClientID: "viewer-1"})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestServer_GetSession(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.createSession(t)

	f.rooms.Join(sessionID, "operator-1", "operator", 8)
	f.rooms.Join(sessionID, "viewer-1", "viewer", 8)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, sessionID, resp.Session.ID)
	assert.Equal(t, 2, resp.MemberCount)

	rec = f.do(t, http.MethodGet, "/api/sessions/ZZZ999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetMembersEmptyRoom(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MembersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, sessionID, resp.SessionID)
	assert.NotNil(t, resp.Members)
	assert.Empty(t, resp.Members)
}

func TestServer_Heartbeat(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, sessionID, resp["sessionId"])
	assert.NotZero(t, resp["serverTime"])

	rec = f.do(t, http.MethodPost, "/api/sessions/ZZZ999/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_EndSession(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.createSession(t)

	rec := f.do(t, http.MethodDelete, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_HealthCheck(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Database)
	assert.Contains(t, resp.Connections, "total_connections")
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
