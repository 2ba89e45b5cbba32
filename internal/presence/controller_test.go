package presence_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/presence/mocks"
)

// recordingTransport captures every event per connection. Connections marked
// dead fail delivery.
type recordingTransport struct {
	mu     sync.Mutex
	events map[presence.ConnectionID][]presence.Event
	dead   map[presence.ConnectionID]bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		events: make(map[presence.ConnectionID][]presence.Event),
		dead:   make(map[presence.ConnectionID]bool),
	}
}

func (r *recordingTransport) Send(_ context.Context, conn presence.ConnectionID, evt presence.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead[conn] {
		return presence.ErrDeliveryFailure
	}
	r.events[conn] = append(r.events[conn], evt)
	return nil
}

func (r *recordingTransport) kill(conn presence.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead[conn] = true
}

func (r *recordingTransport) all(conn presence.ConnectionID) []presence.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events[conn])
}

func (r *recordingTransport) named(conn presence.ConnectionID, name presence.EventName) []presence.Event {
	var out []presence.Event
	for _, evt := range r.all(conn) {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recordingTransport) names(conn presence.ConnectionID) []presence.EventName {
	var out []presence.EventName
	for _, evt := range r.all(conn) {
		out = append(out, evt.Name)
	}
	return out
}

type fixture struct {
	ctrl      *presence.Controller
	transport *recordingTransport
	verifier  *mocks.MockTokenVerifier
	rooms     *mocks.MockRoomLookup
	messages  *mocks.MockMessageStore
}

// newFixture builds a controller whose room lookup knows rooms 1 to 3.
func newFixture(t *testing.T) *fixture {
	gc := gomock.NewController(t)
	f := &fixture{
		transport: newRecordingTransport(),
		verifier:  mocks.NewMockTokenVerifier(gc),
		rooms:     mocks.NewMockRoomLookup(gc),
		messages:  mocks.NewMockMessageStore(gc),
	}
	f.rooms.EXPECT().Exists(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id presence.RoomID) (bool, error) {
			return id >= 1 && id <= 3, nil
		}).AnyTimes()
	f.ctrl = presence.NewController(logs.GetLoggerFromLevel(slog.LevelDebug), f.transport, f.verifier, f.rooms, f.messages)
	return f
}

// persistInOrder makes the message store assign increasing ids.
func (f *fixture) persistInOrder() {
	var mu sync.Mutex
	var next uint
	f.messages.EXPECT().Persist(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d presence.MessageDraft) (presence.Message, error) {
			mu.Lock()
			defer mu.Unlock()
			next++
			return presence.Message{
				ID:        next,
				RoomID:    d.RoomID,
				UserID:    d.UserID,
				Username:  d.Username,
				Content:   d.Content,
				Timestamp: time.Now().UTC(),
				IsFile:    d.IsFile,
				FileURL:   d.FileURL,
			}, nil
		}).AnyTimes()
}

func (f *fixture) login(t *testing.T, conn presence.ConnectionID, userID uint, name string) {
	t.Helper()
	f.loginAs(t, conn, presence.Identity{UserID: userID, Username: name})
}

func (f *fixture) loginAs(t *testing.T, conn presence.ConnectionID, who presence.Identity) {
	t.Helper()
	req := require.New(t)
	token := "token-" + string(conn)
	f.verifier.EXPECT().Verify(gomock.Any(), token).Return(who, nil)
	req.NoError(f.ctrl.Connect(context.Background(), conn))
	got, err := f.ctrl.Authenticate(context.Background(), conn, token)
	req.NoError(err)
	req.Equal(who, got)
}

func members(ctrl *presence.Controller, room presence.RoomID) []presence.ConnectionID {
	return slices.Collect(ctrl.MembersOf(room))
}

func TestController_Two_Members_Chat_Then_One_Disconnects(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.persistInOrder()

	// Given A and B authenticated and joined room 1
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)
	_, err = f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)

	// When A posts hello
	msg, err := f.ctrl.PostMessage(ctx, "A", 1, "hello")
	req.NoError(err)

	// Then both receive new_message after the join events
	for _, conn := range []presence.ConnectionID{"A", "B"} {
		got := f.transport.named(conn, presence.EventNewMessage)
		req.Len(got, 1)
		payload := got[0].Payload.(presence.Message)
		req.Equal("hello", payload.Content)
		req.Equal(uint(1), payload.UserID)
		req.Equal(presence.RoomID(1), payload.RoomID)
		req.Equal(msg, payload)
	}
	req.Equal([]presence.EventName{
		presence.EventConnected,
		presence.EventUserJoined,
		presence.EventOnlineUsers,
		presence.EventNewMessage,
	}, f.transport.names("B"))

	// When A disconnects
	rooms := f.ctrl.Disconnect(ctx, "A")
	req.Equal([]presence.RoomID{1}, rooms)

	// Then B receives exactly one user_left for A
	left := f.transport.named("B", presence.EventUserLeft)
	req.Len(left, 1)
	payload := left[0].Payload.(presence.UserLeftPayload)
	req.Equal(presence.ConnectionID("A"), payload.ConnectionID)
	req.Equal(presence.ReasonDisconnected, payload.Reason)
	req.Equal([]presence.ConnectionID{"B"}, members(f.ctrl, 1))
}

func TestController_Join_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	_, err := f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)

	first, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)
	second, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)

	req.Equal(first, second)
	req.Equal([]presence.ConnectionID{"B", "A"}, members(f.ctrl, 1))
	// Snapshot is re-sent, join is announced once
	req.Len(f.transport.named("A", presence.EventOnlineUsers), 2)
	req.Len(f.transport.named("B", presence.EventUserJoined), 2)

	sess, err := f.ctrl.Session("A")
	req.NoError(err)
	req.Equal([]presence.RoomID{1}, sess.Rooms)
}

func TestController_Online_Users_Follow_Join_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "X", 1, "xavier")
	f.login(t, "Y", 2, "yves")
	f.login(t, "Z", 3, "zoe")

	_, err := f.ctrl.JoinRoom(ctx, "X", 2)
	req.NoError(err)
	_, err = f.ctrl.JoinRoom(ctx, "Y", 2)
	req.NoError(err)
	users, err := f.ctrl.JoinRoom(ctx, "Z", 2)
	req.NoError(err)

	req.Equal([]presence.ConnectionID{"X", "Y", "Z"}, members(f.ctrl, 2))
	req.Equal([]string{"xavier", "yves", "zoe"}, []string{users[0].Username, users[1].Username, users[2].Username})

	snapshots := f.transport.named("Z", presence.EventOnlineUsers)
	req.Len(snapshots, 1)
	req.Equal(users, snapshots[0].Payload.(presence.OnlineUsersPayload).Users)
	req.Equal(users, f.ctrl.OnlineUsers(2))
}

func TestController_Leave_Non_Member_And_Double_Disconnect(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")

	req.NoError(f.ctrl.LeaveRoom(ctx, "A", 1))
	req.NoError(f.ctrl.LeaveRoom(ctx, "A", 99))
	req.NoError(f.ctrl.LeaveRoom(ctx, "nobody", 1))

	req.Empty(f.ctrl.Disconnect(ctx, "A"))
	req.Empty(f.ctrl.Disconnect(ctx, "A"))
	req.NoError(f.ctrl.LeaveRoom(ctx, "A", 1))
	req.Empty(f.transport.named("A", presence.EventError))
}

func TestController_Leave_Announces_Departure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)
	_, err = f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)

	req.NoError(f.ctrl.LeaveRoom(ctx, "A", 1))
	req.NoError(f.ctrl.LeaveRoom(ctx, "A", 1))

	left := f.transport.named("B", presence.EventUserLeft)
	req.Len(left, 1)
	req.Equal(presence.ReasonLeft, left[0].Payload.(presence.UserLeftPayload).Reason)
	req.Equal([]presence.ConnectionID{"B"}, members(f.ctrl, 1))

	// A disconnecting later does not announce room 1 again
	req.Empty(f.ctrl.Disconnect(ctx, "A"))
	req.Len(f.transport.named("B", presence.EventUserLeft), 1)
}

func TestController_Disconnect_Cleans_Every_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	for _, room := range []presence.RoomID{1, 2, 3} {
		_, err := f.ctrl.JoinRoom(ctx, "B", room)
		req.NoError(err)
		_, err = f.ctrl.JoinRoom(ctx, "A", room)
		req.NoError(err)
	}

	rooms := f.ctrl.Disconnect(ctx, "A")

	req.Equal([]presence.RoomID{1, 2, 3}, rooms)
	left := f.transport.named("B", presence.EventUserLeft)
	req.Len(left, 3)
	seen := make(map[presence.RoomID]int)
	for _, evt := range left {
		seen[evt.Room]++
	}
	req.Equal(map[presence.RoomID]int{1: 1, 2: 1, 3: 1}, seen)
	for _, room := range []presence.RoomID{1, 2, 3} {
		req.Equal([]presence.ConnectionID{"B"}, members(f.ctrl, room))
	}
	req.False(f.ctrl.IsAuthenticated("A"))
}

func TestController_Disconnect_Survives_Dead_Members(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	f.login(t, "C", 3, "carol")
	for _, room := range []presence.RoomID{1, 2} {
		_, err := f.ctrl.JoinRoom(ctx, "A", room)
		req.NoError(err)
	}
	_, err := f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)
	_, err = f.ctrl.JoinRoom(ctx, "C", 2)
	req.NoError(err)

	// Given B's transport is already torn down
	f.transport.kill("B")
	failedBefore := f.ctrl.DispatchStats().Failed

	f.ctrl.Disconnect(ctx, "A")

	// Then room 2 is still cleaned and announced
	req.Len(f.transport.named("C", presence.EventUserLeft), 1)
	req.Equal([]presence.ConnectionID{"B"}, members(f.ctrl, 1))
	req.Equal([]presence.ConnectionID{"C"}, members(f.ctrl, 2))
	req.Greater(f.ctrl.DispatchStats().Failed, failedBefore)
}

func TestController_Post_Echoes_To_Sender_Typing_Does_Not(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.persistInOrder()
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)
	_, err = f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)

	_, err = f.ctrl.PostMessage(ctx, "A", 1, "  hi there  ")
	req.NoError(err)
	req.NoError(f.ctrl.SetTyping(ctx, "A", 1, true))

	echoed := f.transport.named("A", presence.EventNewMessage)
	req.Len(echoed, 1)
	req.Equal("hi there", echoed[0].Payload.(presence.Message).Content)
	req.Empty(f.transport.named("A", presence.EventUserTyping))

	typing := f.transport.named("B", presence.EventUserTyping)
	req.Len(typing, 1)
	payload := typing[0].Payload.(presence.UserTypingPayload)
	req.Equal("alice", payload.Username)
	req.True(payload.IsTyping)
}

func TestController_Share_File_Broadcasts_File_Message(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.persistInOrder()
	f.login(t, "A", 1, "alice")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)

	_, err = f.ctrl.ShareFile(ctx, "A", 1, "notes.pdf", "")
	req.ErrorIs(err, presence.ErrEmptyContent)

	msg, err := f.ctrl.ShareFile(ctx, "A", 1, "notes.pdf", "/uploads/notes.pdf")
	req.NoError(err)
	req.True(msg.IsFile)
	req.Equal("/uploads/notes.pdf", msg.FileURL)
	req.Len(f.transport.named("A", presence.EventNewMessage), 1)
}

func TestController_Post_Without_Membership(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	_, err := f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)

	// When A posts to a room it never joined (no Persist call is expected)
	_, err = f.ctrl.PostMessage(ctx, "A", 1, "hi")

	// Then it is rejected privately and nothing is broadcast
	req.ErrorIs(err, presence.ErrNotAMember)
	req.Empty(f.transport.named("B", presence.EventNewMessage))
	errs := f.transport.named("A", presence.EventError)
	req.Len(errs, 1)
	req.Equal(presence.KindNotAMember, errs[0].Payload.(presence.ErrorPayload).Kind)

	req.ErrorIs(f.ctrl.SetTyping(ctx, "A", 1, true), presence.ErrNotAMember)
	req.Empty(f.transport.named("B", presence.EventUserTyping))
}

func TestController_Post_Empty_Content(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)

	_, err = f.ctrl.PostMessage(ctx, "A", 1, "   ")
	req.ErrorIs(err, presence.ErrEmptyContent)
	req.Empty(f.transport.named("A", presence.EventNewMessage))
}

func TestController_Post_Store_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)
	f.messages.EXPECT().Persist(gomock.Any(), gomock.Any()).Return(presence.Message{}, errors.New("disk full"))

	_, err = f.ctrl.PostMessage(ctx, "A", 1, "hi")

	req.Error(err)
	req.Equal(presence.KindInternal, presence.Kind(err))
	req.Empty(f.transport.named("A", presence.EventNewMessage))
	req.Len(f.transport.named("A", presence.EventError), 1)
}

func TestController_Requires_Authentication(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	req.NoError(f.ctrl.Connect(ctx, "A"))

	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.ErrorIs(err, presence.ErrUnauthenticated)
	_, err = f.ctrl.PostMessage(ctx, "A", 1, "hi")
	req.ErrorIs(err, presence.ErrUnauthenticated)

	errs := f.transport.named("A", presence.EventError)
	req.Len(errs, 2)
	req.Equal(presence.KindUnauthenticated, errs[0].Payload.(presence.ErrorPayload).Kind)

	// Unknown connections are not found
	_, err = f.ctrl.JoinRoom(ctx, "ghost", 1)
	req.ErrorIs(err, presence.ErrNotFound)
}

func TestController_Connect_Twice(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	req.NoError(f.ctrl.Connect(ctx, "A"))
	req.ErrorIs(f.ctrl.Connect(ctx, "A"), presence.ErrDuplicateConnection)

	connected := f.transport.named("A", presence.EventConnected)
	req.Len(connected, 1)
	req.Equal(presence.ConnectionID("A"), connected[0].Payload.(presence.ConnectedPayload).ConnectionID)
}

func TestController_Bad_Token_Stays_Anonymous(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	req.NoError(f.ctrl.Connect(ctx, "A"))
	f.verifier.EXPECT().Verify(gomock.Any(), "expired").Return(presence.Identity{}, errors.New("token is expired"))

	_, err := f.ctrl.Authenticate(ctx, "A", "expired")

	req.ErrorIs(err, presence.ErrAuthFailed)
	req.False(f.ctrl.IsAuthenticated("A"))
	errs := f.transport.named("A", presence.EventError)
	req.Len(errs, 1)
	req.Equal(presence.KindAuthError, errs[0].Payload.(presence.ErrorPayload).Kind)

	// And a retry with a good token succeeds
	f.verifier.EXPECT().Verify(gomock.Any(), "good").Return(presence.Identity{UserID: 1, Username: "alice"}, nil)
	_, err = f.ctrl.Authenticate(ctx, "A", "good")
	req.NoError(err)
	req.True(f.ctrl.IsAuthenticated("A"))

	// And authenticating again is a duplicate
	_, err = f.ctrl.Authenticate(ctx, "A", "good")
	req.ErrorIs(err, presence.ErrDuplicateConnection)
}

func TestController_Join_Unknown_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")

	_, err := f.ctrl.JoinRoom(ctx, "A", 42)

	req.ErrorIs(err, presence.ErrRoomNotFound)
	req.Empty(members(f.ctrl, 42))
	sess, err := f.ctrl.Session("A")
	req.NoError(err)
	req.Empty(sess.Rooms)
}

func TestController_Disconnect_During_Authentication_Wins(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	req.NoError(f.ctrl.Connect(ctx, "A"))

	// Given the connection drops while its token is being verified
	f.verifier.EXPECT().Verify(gomock.Any(), "slow").DoAndReturn(
		func(ctx context.Context, _ string) (presence.Identity, error) {
			f.ctrl.Disconnect(ctx, "A")
			return presence.Identity{UserID: 1, Username: "alice"}, nil
		})

	_, err := f.ctrl.Authenticate(ctx, "A", "slow")

	// Then the late verification is not applied
	req.ErrorIs(err, presence.ErrNotFound)
	req.False(f.ctrl.IsAuthenticated("A"))
	req.Equal(0, f.ctrl.Connections())
}

func TestController_Disconnect_During_Persist_Wins(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)
	_, err = f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)

	f.messages.EXPECT().Persist(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, d presence.MessageDraft) (presence.Message, error) {
			f.ctrl.Disconnect(ctx, "A")
			return presence.Message{ID: 1, RoomID: d.RoomID, Content: d.Content}, nil
		})

	_, err = f.ctrl.PostMessage(ctx, "A", 1, "too late")

	req.ErrorIs(err, presence.ErrNotFound)
	req.Empty(f.transport.named("B", presence.EventNewMessage))
	req.Len(f.transport.named("B", presence.EventUserLeft), 1)
}

func TestController_Concurrent_Operations_Keep_Registry_And_Index_Consistent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, token string) (presence.Identity, error) {
			return presence.Identity{Username: token}, nil
		}).AnyTimes()

	const conns = 24
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := presence.ConnectionID(fmt.Sprintf("c%d", i))
			rng := rand.New(rand.NewSource(int64(i)))
			_ = f.ctrl.Connect(ctx, conn)
			_, _ = f.ctrl.Authenticate(ctx, conn, string(conn))
			for op := 0; op < 200; op++ {
				room := presence.RoomID(rng.Intn(3) + 1)
				switch rng.Intn(10) {
				case 0:
					f.ctrl.Disconnect(ctx, conn)
				case 1, 2, 3:
					_ = f.ctrl.LeaveRoom(ctx, conn, room)
				case 4:
					_ = f.ctrl.SetTyping(ctx, conn, room, true)
				default:
					_, _ = f.ctrl.JoinRoom(ctx, conn, room)
				}
			}
		}(i)
	}
	wg.Wait()

	// At quiescence every session's rooms match the index, both ways
	for room := presence.RoomID(1); room <= 3; room++ {
		for _, conn := range members(f.ctrl, room) {
			sess, err := f.ctrl.Session(conn)
			req.NoError(err, "index holds %s in room %d without a session", conn, room)
			req.Contains(sess.Rooms, room)
		}
	}
	for i := 0; i < conns; i++ {
		conn := presence.ConnectionID(fmt.Sprintf("c%d", i))
		sess, err := f.ctrl.Session(conn)
		if err != nil {
			continue
		}
		for _, room := range sess.Rooms {
			req.Contains(members(f.ctrl, room), conn)
		}
		for room := presence.RoomID(1); room <= 3; room++ {
			req.Equal(slices.Contains(sess.Rooms, room), slices.Contains(members(f.ctrl, room), conn))
		}
	}
}

func TestController_Require_Reports_Missing_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	req.NoError(f.ctrl.Connect(ctx, "A"))

	_, err := f.ctrl.Require(ctx, "A")

	req.ErrorIs(err, presence.ErrUnauthenticated)
	errs := f.transport.named("A", presence.EventError)
	req.Len(errs, 1)
	req.Equal(presence.KindUnauthenticated, errs[0].Payload.(presence.ErrorPayload).Kind)

	// And a logged in connection gets its session back
	f.login(t, "B", 2, "bob")
	sess, err := f.ctrl.Require(ctx, "B")
	req.NoError(err)
	req.Equal("bob", sess.Identity.Username)
}

// expectRoom makes the room lookup return room 1 owned by owner.
func (f *fixture) expectRoom(owner uint) {
	f.rooms.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id presence.RoomID) (presence.Room, error) {
			if id != 1 {
				return presence.Room{}, presence.ErrRoomNotFound
			}
			return presence.Room{ID: 1, Name: "General", CreatedBy: owner}, nil
		}).AnyTimes()
}

func TestController_Close_Room_Evicts_Every_Member(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.expectRoom(1)

	// Given the owner and a guest in room 1, the guest also in room 2
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	for _, join := range []struct {
		conn presence.ConnectionID
		room presence.RoomID
	}{{"A", 1}, {"B", 1}, {"B", 2}} {
		_, err := f.ctrl.JoinRoom(ctx, join.conn, join.room)
		req.NoError(err)
	}

	// When the owner closes the room
	room, evicted, err := f.ctrl.CloseRoom(ctx, "A", 1)

	// Then both members got room_closed and were dropped without user_left
	req.NoError(err)
	req.Equal("General", room.Name)
	req.Equal([]presence.ConnectionID{"A", "B"}, evicted)
	req.Empty(members(f.ctrl, 1))
	for _, conn := range evicted {
		closed := f.transport.named(conn, presence.EventRoomClosed)
		req.Len(closed, 1)
		req.Equal("alice", closed[0].Payload.(presence.RoomClosedPayload).Username)
	}
	req.Empty(f.transport.named("B", presence.EventUserLeft))
	sess, err := f.ctrl.Session("B")
	req.NoError(err)
	req.Equal([]presence.RoomID{2}, sess.Rooms)

	// And the room rejects joins until reopened
	_, err = f.ctrl.JoinRoom(ctx, "B", 1)
	req.ErrorIs(err, presence.ErrRoomNotFound)
	_, _, err = f.ctrl.CloseRoom(ctx, "A", 1)
	req.ErrorIs(err, presence.ErrRoomNotFound)

	f.ctrl.ReopenRoom(1)
	_, err = f.ctrl.JoinRoom(ctx, "B", 1)
	req.NoError(err)
}

func TestController_Close_Room_Requires_Owner_Or_Admin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.expectRoom(1)
	f.login(t, "A", 1, "alice")
	f.login(t, "B", 2, "bob")
	f.loginAs(t, "R", presence.Identity{UserID: 9, Username: "root", IsAdmin: true})
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)

	// A non-owner is refused and nothing changes
	_, _, err = f.ctrl.CloseRoom(ctx, "B", 1)
	req.ErrorIs(err, presence.ErrForbidden)
	req.Equal(presence.KindForbidden, f.transport.named("B", presence.EventError)[0].Payload.(presence.ErrorPayload).Kind)
	req.Equal([]presence.ConnectionID{"A"}, members(f.ctrl, 1))
	req.Empty(f.transport.named("A", presence.EventRoomClosed))

	// An unknown room is reported as such
	_, _, err = f.ctrl.CloseRoom(ctx, "R", 7)
	req.ErrorIs(err, presence.ErrRoomNotFound)

	// An admin may close any room
	_, evicted, err := f.ctrl.CloseRoom(ctx, "R", 1)
	req.NoError(err)
	req.Equal([]presence.ConnectionID{"A"}, evicted)
}

func TestController_Post_After_Room_Closed(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.expectRoom(1)
	f.login(t, "A", 1, "alice")
	_, err := f.ctrl.JoinRoom(ctx, "A", 1)
	req.NoError(err)

	// Given the room is closed while the message is being stored
	f.messages.EXPECT().Persist(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, d presence.MessageDraft) (presence.Message, error) {
			_, _, err := f.ctrl.CloseRoom(ctx, "A", 1)
			req.NoError(err)
			return presence.Message{ID: 1, RoomID: d.RoomID, Content: d.Content}, nil
		})

	_, err = f.ctrl.PostMessage(ctx, "A", 1, "bye")

	req.ErrorIs(err, presence.ErrNotAMember)
	req.Empty(f.transport.named("A", presence.EventNewMessage))
}

func TestController_Room_Info(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.expectRoom(1)
	f.login(t, "A", 1, "alice")

	room, err := f.ctrl.RoomInfo(ctx, "A", 1)
	req.NoError(err)
	req.Equal("General", room.Name)

	_, err = f.ctrl.RoomInfo(ctx, "A", 5)
	req.ErrorIs(err, presence.ErrRoomNotFound)
	req.Len(f.transport.named("A", presence.EventError), 1)
}
