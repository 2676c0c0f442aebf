package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/soapboxhq/soapbox/internal/adapters/gateway"
	"github.com/soapboxhq/soapbox/internal/adapters/httpapi"
	"github.com/soapboxhq/soapbox/internal/app"
	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/capability"
	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/grace"
	"github.com/soapboxhq/soapbox/internal/identity"
	"github.com/soapboxhq/soapbox/internal/store/sqlite"
)

const authSecret = "test-auth-secret"

type testEnv struct {
	router http.Handler
	coord  *app.Coordinator
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := bus.NewHub()
	reg := grace.NewRegistry()
	t.Cleanup(reg.ClearAll)
	issuer := capability.NewJWTIssuer("test-capability-secret", time.Hour)
	verifier := identity.NewJWTVerifier(authSecret)

	coord := app.New(st, issuer, reg, hub, app.Config{})
	ctl := gateway.NewController(coord, hub, verifier)

	router := httpapi.SetupRouter(context.Background(), httpapi.Deps{
		Mode:     "release",
		Coord:    coord,
		Gateway:  ctl,
		Verifier: verifier,
		Health:   st,
	})
	return &testEnv{router: router, coord: coord}
}

func authToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(authSecret))
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, env *testEnv, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	rec := doRequest(t, env, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRoomsRequireAuth(t *testing.T) {
	env := newEnv(t)

	rec := doRequest(t, env, "/api/rooms", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, env, "/api/rooms", "garbage-token")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListRooms(t *testing.T) {
	env := newEnv(t)
	_, err := env.coord.CreateRoom(context.Background(), "alice", "c1", "morning show", domain.RoomPublic)
	require.NoError(t, err)
	_, err = env.coord.CreateRoom(context.Background(), "bob", "c2", "backstage", domain.RoomPrivate)
	require.NoError(t, err)

	rec := doRequest(t, env, "/api/rooms", authToken(t, "carol"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rooms []struct {
			Room             domain.Room `json:"room"`
			ParticipantCount int         `json:"participant_count"`
		} `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rooms, 1)
	require.Equal(t, "morning show", body.Rooms[0].Room.Title)
	require.Equal(t, 1, body.Rooms[0].ParticipantCount)
}

func TestGetRoom(t *testing.T) {
	env := newEnv(t)
	result, err := env.coord.CreateRoom(context.Background(), "alice", "c1", "morning show", domain.RoomPublic)
	require.NoError(t, err)

	rec := doRequest(t, env, "/api/rooms/"+string(result.Room.ID), authToken(t, "carol"))
	require.Equal(t, http.StatusOK, rec.Code)

	var state app.RoomState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Equal(t, result.Room.ID, state.Room.ID)
	require.Len(t, state.Participants, 1)

	rec = doRequest(t, env, "/api/rooms/missing", authToken(t, "carol"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessages(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	result, err := env.coord.CreateRoom(ctx, "alice", "c1", "morning show", domain.RoomPublic)
	require.NoError(t, err)
	for _, content := range []string{"one", "two", "three"} {
		_, err := env.coord.SendMessage(ctx, "alice", result.Room.ID, content)
		require.NoError(t, err)
	}

	base := "/api/rooms/" + string(result.Room.ID) + "/messages"
	rec := doRequest(t, env, base+"?limit=2", authToken(t, "carol"))
	require.Equal(t, http.StatusOK, rec.Code)

	var page app.MessagesResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 2)
	require.NotEmpty(t, page.NextCursor)

	rec = doRequest(t, env, base+"?limit=nope", authToken(t, "carol"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, env, base+"?cursor=bogus", authToken(t, "carol"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
