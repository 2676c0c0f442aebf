package app_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soapboxhq/soapbox/internal/app"
	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/capability"
	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/grace"
	"github.com/soapboxhq/soapbox/internal/store/sqlite"
)

// recordingBus captures intents instead of delivering them.
type recordingBus struct {
	mu       sync.Mutex
	intents  []bus.Intent
	evicted  []domain.RoomID
	expelled []string
}

func (b *recordingBus) Attach(bus.Sink)                   {}
func (b *recordingBus) Detach(bus.Sink)                   {}
func (b *recordingBus) JoinRoom(bus.Sink, domain.RoomID)  {}
func (b *recordingBus) LeaveRoom(bus.Sink, domain.RoomID) {}

func (b *recordingBus) Publish(ctx context.Context, intents ...bus.Intent) {
	b.mu.Lock()
	b.intents = append(b.intents, intents...)
	b.mu.Unlock()
}

func (b *recordingBus) Evict(ctx context.Context, roomID domain.RoomID) {
	b.mu.Lock()
	b.evicted = append(b.evicted, roomID)
	b.mu.Unlock()
}

func (b *recordingBus) Expel(ctx context.Context, roomID domain.RoomID, userID domain.UserID) {
	b.mu.Lock()
	b.expelled = append(b.expelled, string(roomID)+"/"+string(userID))
	b.mu.Unlock()
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, intent := range b.intents {
		if intent.Event == event {
			n++
		}
	}
	return n
}

func (b *recordingBus) last(event string) (bus.Intent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.intents) - 1; i >= 0; i-- {
		if b.intents[i].Event == event {
			return b.intents[i], true
		}
	}
	return bus.Intent{}, false
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	b.intents = nil
	b.evicted = nil
	b.expelled = nil
	b.mu.Unlock()
}

type fixture struct {
	coord *app.Coordinator
	bus   *recordingBus
	store *sqlite.Store
	reg   *grace.Registry
}

func newFixture(t *testing.T, cfg app.Config) *fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := &recordingBus{}
	reg := grace.NewRegistry()
	t.Cleanup(reg.ClearAll)
	issuer := capability.NewJWTIssuer("test-capability-secret", time.Hour)

	return &fixture{
		coord: app.New(st, issuer, reg, b, cfg),
		bus:   b,
		store: st,
		reg:   reg,
	}
}

func createRoom(t *testing.T, f *fixture, host domain.UserID) *app.CreateRoomResult {
	t.Helper()
	result, err := f.coord.CreateRoom(context.Background(), host, "conn-"+domain.ConnectionID(host), "general chat", domain.RoomPublic)
	require.NoError(t, err)
	return result
}

func joinRoom(t *testing.T, f *fixture, user domain.UserID, roomID domain.RoomID) *app.JoinRoomResult {
	t.Helper()
	result, err := f.coord.JoinRoom(context.Background(), user, roomID, "conn-"+domain.ConnectionID(user))
	require.NoError(t, err)
	return result
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()

	result := createRoom(t, f, "alice")
	require.Equal(t, "general chat", result.Room.Title)
	require.True(t, result.Room.IsActive)
	require.Equal(t, domain.UserID("alice"), result.Room.HostID)
	require.Equal(t, domain.RoleHost, result.Participant.Role)
	require.True(t, result.Participant.MicEnabled)
	require.True(t, result.Participant.IsConnected)
	require.NotEmpty(t, result.Capability)

	require.Equal(t, 1, f.bus.count(bus.EventRoomCreated))

	_, err := f.coord.CreateRoom(ctx, "alice", "c1", "   ", domain.RoomPublic)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeValidation, opErr.Code)
}

func TestCreatePrivateRoomStaysOffLobby(t *testing.T) {
	f := newFixture(t, app.Config{})

	_, err := f.coord.CreateRoom(context.Background(), "alice", "c1", "secret place", domain.RoomPrivate)
	require.NoError(t, err)
	require.Zero(t, f.bus.count(bus.EventRoomCreated))

	rooms, err := f.coord.ListActiveRooms(context.Background())
	require.NoError(t, err)
	require.Empty(t, rooms)
}

func TestJoinRoom(t *testing.T) {
	f := newFixture(t, app.Config{})
	room := createRoom(t, f, "alice").Room
	f.bus.reset()

	result := joinRoom(t, f, "bob", room.ID)
	require.Equal(t, domain.RoleListener, result.Participant.Role)
	require.False(t, result.Participant.MicEnabled)
	require.Len(t, result.Participants, 2)
	require.NotEmpty(t, result.Capability)

	joined, ok := f.bus.last(bus.EventParticipantJoined)
	require.True(t, ok)
	require.Equal(t, bus.RoomExcept(room.ID, "bob"), joined.Audience)
	require.Equal(t, 1, f.bus.count(bus.EventRoomUpdated))
}

func TestJoinRoomIdempotent(t *testing.T) {
	f := newFixture(t, app.Config{})
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	result := joinRoom(t, f, "bob", room.ID)
	require.True(t, result.Participant.IsConnected)
	require.Len(t, result.Participants, 2)
	require.Zero(t, f.bus.count(bus.EventParticipantJoined))
}

func TestJoinRoomFull(t *testing.T) {
	f := newFixture(t, app.Config{RoomCapacity: 2})
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)

	_, err := f.coord.JoinRoom(context.Background(), "carol", room.ID, "c3")
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeConflict, opErr.Code)
}

func TestJoinMissingOrEndedRoom(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()

	_, err := f.coord.JoinRoom(ctx, "bob", "missing", "c1")
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeNotFound, opErr.Code)

	room := createRoom(t, f, "alice").Room
	require.NoError(t, f.coord.EndRoom(ctx, "alice", room.ID))

	_, err = f.coord.JoinRoom(ctx, "bob", room.ID, "c1")
	opErr, ok = app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeNotFound, opErr.Code)
}

func TestRejoinKeepsEarnedRole(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)

	_, err := f.coord.GrantMic(ctx, "alice", "bob", room.ID)
	require.NoError(t, err)
	require.NoError(t, f.coord.LeaveRoom(ctx, "bob", room.ID))

	result := joinRoom(t, f, "bob", room.ID)
	require.Equal(t, domain.RoleSpeaker, result.Participant.Role)
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t, app.Config{})
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	require.NoError(t, f.coord.LeaveRoom(context.Background(), "bob", room.ID))
	require.Equal(t, 1, f.bus.count(bus.EventParticipantLeft))
	require.Equal(t, 1, f.bus.count(bus.EventRoomUpdated))

	err := f.coord.LeaveRoom(context.Background(), "mallory", room.ID)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeNotFound, opErr.Code)
}

func TestEndRoom(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	err := f.coord.EndRoom(ctx, "bob", room.ID)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeUnauthorized, opErr.Code)

	require.NoError(t, f.coord.EndRoom(ctx, "alice", room.ID))
	require.Equal(t, 1, f.bus.count(bus.EventRoomEnded))
	require.Equal(t, 1, f.bus.count(bus.EventRoomRemoved))
	require.Equal(t, []domain.RoomID{room.ID}, f.bus.evicted)

	err = f.coord.EndRoom(ctx, "alice", room.ID)
	opErr, ok = app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeConflict, opErr.Code)
}

func TestMicGrantAndRevoke(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	granted, err := f.coord.GrantMic(ctx, "alice", "bob", room.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleSpeaker, granted.Participant.Role)
	require.True(t, granted.Participant.MicEnabled)
	require.NotEmpty(t, granted.Capability)

	grant, ok := f.bus.last(bus.EventMicGranted)
	require.True(t, ok)
	require.Equal(t, bus.User(room.ID, "bob"), grant.Audience)
	require.Equal(t, 1, f.bus.count(bus.EventParticipantUpdated))

	revoked, err := f.coord.RevokeMic(ctx, "alice", "bob", room.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleListener, revoked.Participant.Role)
	require.False(t, revoked.Participant.MicEnabled)
	require.Equal(t, 1, f.bus.count(bus.EventMicRevoked))
}

func TestPromoteAndDemote(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	joinRoom(t, f, "carol", room.ID)

	promoted, err := f.coord.Promote(ctx, "alice", "bob", room.ID, domain.RoleCoHost)
	require.NoError(t, err)
	require.Equal(t, domain.RoleCoHost, promoted.Participant.Role)

	// Co-host may raise a listener to speaker but not to co-host.
	_, err = f.coord.Promote(ctx, "bob", "carol", room.ID, domain.RoleCoHost)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeUnauthorized, opErr.Code)

	promoted, err = f.coord.Promote(ctx, "bob", "carol", room.ID, domain.RoleSpeaker)
	require.NoError(t, err)
	require.Equal(t, domain.RoleSpeaker, promoted.Participant.Role)

	demoted, err := f.coord.Demote(ctx, "alice", "bob", room.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleListener, demoted.Participant.Role)

	_, err = f.coord.Promote(ctx, "alice", "carol", room.ID, domain.Role("owner"))
	opErr, ok = app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeValidation, opErr.Code)
}

func TestListenerCannotModerate(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	joinRoom(t, f, "carol", room.ID)

	_, err := f.coord.GrantMic(ctx, "bob", "carol", room.ID)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeUnauthorized, opErr.Code)

	err = f.coord.RemoveUser(ctx, "bob", "carol", room.ID)
	opErr, ok = app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeUnauthorized, opErr.Code)
}

func TestRemoveUser(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	// The host seat is protected.
	err := f.coord.RemoveUser(ctx, "alice", "alice", room.ID)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeUnauthorized, opErr.Code)

	require.NoError(t, f.coord.RemoveUser(ctx, "alice", "bob", room.ID))
	require.Equal(t, 1, f.bus.count(bus.EventRemovedFromRoom))

	left, ok := f.bus.last(bus.EventParticipantLeft)
	require.True(t, ok)
	require.Equal(t, bus.Room(room.ID), left.Audience)
	require.Equal(t, []string{string(room.ID) + "/bob"}, f.bus.expelled)

	// Rejoin starts over as listener.
	result := joinRoom(t, f, "bob", room.ID)
	require.Equal(t, domain.RoleListener, result.Participant.Role)
}

func TestRequestMicNotifiesModeratorsOnly(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	joinRoom(t, f, "carol", room.ID)
	_, err := f.coord.Promote(ctx, "alice", "bob", room.ID, domain.RoleCoHost)
	require.NoError(t, err)
	f.bus.reset()

	require.NoError(t, f.coord.RequestMic(ctx, "carol", room.ID))
	require.Equal(t, 2, f.bus.count(bus.EventMicRequested))

	intent, ok := f.bus.last(bus.EventMicRequested)
	require.True(t, ok)
	require.Equal(t, room.ID, intent.Audience.RoomID)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	f.bus.reset()

	msg, err := f.coord.SendMessage(ctx, "alice", room.ID, "  hello world  ")
	require.NoError(t, err)
	require.Equal(t, "hello world", msg.Content)
	require.Equal(t, 1, f.bus.count(bus.EventReceiveMessage))

	_, err = f.coord.SendMessage(ctx, "alice", room.ID, "   ")
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeValidation, opErr.Code)

	_, err = f.coord.SendMessage(ctx, "alice", room.ID, strings.Repeat("x", domain.MaxMessageLen+1))
	opErr, ok = app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeValidation, opErr.Code)

	_, err = f.coord.SendMessage(ctx, "stranger", room.ID, "hi")
	opErr, ok = app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeUnauthorized, opErr.Code)
}

func TestDisconnectGraceExpiry(t *testing.T) {
	f := newFixture(t, app.Config{GraceDelay: 30 * time.Millisecond})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	f.coord.MarkDisconnected(ctx, "bob", room.ID, "conn-bob")
	require.Equal(t, 1, f.bus.count(bus.EventParticipantDisconnected))
	require.True(t, f.reg.Has(grace.Key{UserID: "bob", RoomID: room.ID}))

	require.Eventually(t, func() bool {
		return f.bus.count(bus.EventParticipantLeft) == 1
	}, time.Second, 10*time.Millisecond)

	_, err := f.store.GetParticipant(ctx, room.ID, "bob")
	require.Error(t, err)
}

func TestHostGraceExpiryEndsRoom(t *testing.T) {
	f := newFixture(t, app.Config{GraceDelay: 30 * time.Millisecond})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	f.coord.MarkDisconnected(ctx, "alice", room.ID, "conn-alice")

	// An active room has exactly one host, so an expired host takes the
	// room down with it instead of leaving it running headless.
	require.Eventually(t, func() bool {
		got, err := f.store.GetRoom(ctx, room.ID)
		return err == nil && !got.IsActive
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 1, f.bus.count(bus.EventRoomEnded))
	require.Equal(t, 1, f.bus.count(bus.EventRoomRemoved))
	require.Equal(t, []domain.RoomID{room.ID}, f.bus.evicted)

	// The host seat survives; the room just ended around it.
	p, err := f.store.GetParticipant(ctx, room.ID, "alice")
	require.NoError(t, err)
	require.False(t, p.IsConnected)
	require.Equal(t, domain.RoleHost, p.Role)

	count, err := f.store.CountConnected(ctx, room.ID)
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = f.coord.JoinRoom(ctx, "carol", room.ID, "c9")
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeNotFound, opErr.Code)
}

func TestReconnectWithinGrace(t *testing.T) {
	f := newFixture(t, app.Config{GraceDelay: 200 * time.Millisecond})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)

	before, err := f.coord.SendMessage(ctx, "alice", room.ID, "first")
	require.NoError(t, err)

	f.coord.MarkDisconnected(ctx, "bob", room.ID, "conn-bob")
	// Millisecond timestamp resolution; keep the two messages apart.
	time.Sleep(5 * time.Millisecond)
	_, err = f.coord.SendMessage(ctx, "alice", room.ID, "second")
	require.NoError(t, err)
	f.bus.reset()

	since := before.CreatedAt
	result, err := f.coord.RestoreState(ctx, "bob", room.ID, "conn-bob-2", &since)
	require.NoError(t, err)
	require.True(t, result.Participant.IsConnected)
	require.Len(t, result.MissedMessages, 1)
	require.Equal(t, "second", result.MissedMessages[0].Content)
	require.NotEmpty(t, result.Capability)
	require.False(t, f.reg.Has(grace.Key{UserID: "bob", RoomID: room.ID}))
	require.Equal(t, 1, f.bus.count(bus.EventParticipantReconnected))

	// The grace timer must not fire after a successful restore.
	time.Sleep(300 * time.Millisecond)
	p, err := f.store.GetParticipant(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.True(t, p.IsConnected)
}

func TestRestoreWhileConnectedIsQuiet(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)
	f.bus.reset()

	// No disconnect happened; the restore only rebinds the handle and must
	// not announce a reconnect.
	result, err := f.coord.RestoreState(ctx, "bob", room.ID, "conn-bob-2", nil)
	require.NoError(t, err)
	require.True(t, result.Participant.IsConnected)
	require.Equal(t, domain.ConnectionID("conn-bob-2"), result.Participant.ConnectionID)
	require.Zero(t, f.bus.count(bus.EventParticipantReconnected))
}

func TestRestoreWithoutSession(t *testing.T) {
	f := newFixture(t, app.Config{})
	room := createRoom(t, f, "alice").Room

	_, err := f.coord.RestoreState(context.Background(), "stranger", room.ID, "c9", nil)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeNotFound, opErr.Code)
}

func TestConnectionDropSweep(t *testing.T) {
	f := newFixture(t, app.Config{GraceDelay: time.Minute})
	ctx := context.Background()

	r1 := createRoom(t, f, "alice").Room
	r2 := createRoom(t, f, "carol").Room
	_, err := f.coord.JoinRoom(ctx, "bob", r1.ID, "shared-conn")
	require.NoError(t, err)
	_, err = f.coord.JoinRoom(ctx, "bob", r2.ID, "shared-conn")
	require.NoError(t, err)
	f.bus.reset()

	f.coord.HandleConnectionDrop(ctx, "shared-conn")
	require.Equal(t, 2, f.bus.count(bus.EventParticipantDisconnected))
	require.Equal(t, 2, f.reg.Len())
}

func TestStaleDropDoesNotClobberReconnect(t *testing.T) {
	f := newFixture(t, app.Config{GraceDelay: time.Minute})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)

	// Bob already reconnected on a newer handle; the old drop is stale.
	_, err := f.coord.JoinRoom(ctx, "bob", room.ID, "conn-new")
	require.NoError(t, err)
	f.bus.reset()

	f.coord.MarkDisconnected(ctx, "bob", room.ID, "conn-bob")
	require.Zero(t, f.bus.count(bus.EventParticipantDisconnected))

	p, err := f.store.GetParticipant(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.True(t, p.IsConnected)
}

func TestGetMessagesQuery(t *testing.T) {
	f := newFixture(t, app.Config{})
	ctx := context.Background()
	room := createRoom(t, f, "alice").Room
	for _, content := range []string{"one", "two", "three"} {
		_, err := f.coord.SendMessage(ctx, "alice", room.ID, content)
		require.NoError(t, err)
	}

	page, err := f.coord.GetMessages(ctx, room.ID, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := f.coord.GetMessages(ctx, room.ID, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, rest.Messages, 1)
	require.Empty(t, rest.NextCursor)

	_, err = f.coord.GetMessages(ctx, room.ID, "bogus-cursor", 2)
	opErr, ok := app.AsError(err)
	require.True(t, ok)
	require.Equal(t, app.CodeValidation, opErr.Code)
}

func TestGetRoomState(t *testing.T) {
	f := newFixture(t, app.Config{})
	room := createRoom(t, f, "alice").Room
	joinRoom(t, f, "bob", room.ID)

	state, err := f.coord.GetRoomState(context.Background(), room.ID)
	require.NoError(t, err)
	require.Equal(t, room.ID, state.Room.ID)
	require.Len(t, state.Participants, 2)
}
