package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"careline/cmd/internal/auth"
	v1 "careline/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestState() *State {
	return NewState(testLogger(), nil)
}

func register(s *State, userID, role, name string) *Conn {
	return s.Register(auth.Identity{UserID: userID, Role: role, DisplayName: name}, 0, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
}

// frames drains everything currently queued on c without blocking.
func frames(c *Conn) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-c.Frames():
			out = append(out, f)
		default:
			return out
		}
	}
}

func chatMsg(roomID, senderID, content string, ts time.Time) v1.HistoryMessage {
	return v1.HistoryMessage{
		Type:      v1.KindChatMessage,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: ts,
		MessageID: NewMessageID(ts),
	}
}

func TestRoomIDFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want string
	}{
		{"doc-1", "pat-1", "chat_doc-1_pat-1"},
		{"pat-1", "doc-1", "chat_doc-1_pat-1"},
		{"b", "a", "chat_a_b"},
		{"x", "x", "chat_x_x"},
	}
	for _, tc := range cases {
		if got := RoomIDFor(tc.a, tc.b); got != tc.want {
			t.Fatalf("RoomIDFor(%q, %q)=%q want=%q", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCreateRoomIdempotent(t *testing.T) {
	s := newTestState()

	first := s.CreateRoom("doc-1", "pat-1")
	second := s.CreateRoom("pat-1", "doc-1")
	if first != second {
		t.Fatalf("room ids differ: %q vs %q", first, second)
	}

	members := s.MembersOf(first)
	if len(members) != 2 || members[0] != "doc-1" || members[1] != "pat-1" {
		t.Fatalf("unexpected members: %v", members)
	}
	if got := s.Snapshot().Rooms; got != 1 {
		t.Fatalf("expected 1 room, got %d", got)
	}
}

func TestLeaveLastMemberDeletesRoomAndHistory(t *testing.T) {
	s := newTestState()
	room := s.CreateRoom("doc-1", "pat-1")

	now := time.Now().UTC()
	s.RelayMessage(chatMsg(room, "doc-1", "hello", now))
	if got := s.Snapshot().Messages; got != 1 {
		t.Fatalf("expected 1 retained message, got %d", got)
	}

	s.Leave("doc-1", room)
	if got := s.MembersOf(room); len(got) != 1 {
		t.Fatalf("expected 1 remaining member, got %v", got)
	}

	s.Leave("pat-1", room)
	if got := s.Snapshot(); got.Rooms != 0 || got.Messages != 0 {
		t.Fatalf("expected empty state, got rooms=%d messages=%d", got.Rooms, got.Messages)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	s := newTestState()
	room := s.CreateRoom("doc-1", "pat-1")

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < historyCap+1; i++ {
		s.RelayMessage(chatMsg(room, "doc-1", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	got := s.Recent(room, "doc-1", historyCap)
	if len(got) != historyCap {
		t.Fatalf("expected %d entries, got %d", historyCap, len(got))
	}
	if got[0].Content != "m1" {
		t.Fatalf("expected oldest entry m1 after eviction, got %q", got[0].Content)
	}
	if got[len(got)-1].Content != fmt.Sprintf("m%d", historyCap) {
		t.Fatalf("unexpected newest entry %q", got[len(got)-1].Content)
	}
	if total := s.Snapshot().Messages; total != historyCap {
		t.Fatalf("expected total %d, got %d", historyCap, total)
	}
}

func TestRecentLimitsAndMembership(t *testing.T) {
	s := newTestState()
	room := s.CreateRoom("doc-1", "pat-1")

	base := time.Now().UTC()
	for i := 0; i < 60; i++ {
		s.RelayMessage(chatMsg(room, "pat-1", fmt.Sprintf("m%d", i), base))
	}

	if got := s.Recent(room, "doc-1", 0); len(got) != defaultHistoryLimit {
		t.Fatalf("default limit: expected %d, got %d", defaultHistoryLimit, len(got))
	}
	if got := s.Recent(room, "doc-1", 10); len(got) != 10 || got[9].Content != "m59" {
		t.Fatalf("limit 10: unexpected result len=%d", len(got))
	}
	if got := s.Recent(room, "stranger", 10); got != nil {
		t.Fatalf("non-member must get nil, got %d entries", len(got))
	}
	if got := s.Recent("chat_no_such", "doc-1", 10); got != nil {
		t.Fatalf("unknown room must get nil, got %d entries", len(got))
	}
}

func TestMessagesToMissingRoomNotRetained(t *testing.T) {
	s := newTestState()

	delivered := s.RelayMessage(chatMsg("chat_a_b", "a", "hello", time.Now().UTC()))
	if delivered != 0 {
		t.Fatalf("expected 0 deliveries, got %d", delivered)
	}
	if got := s.Snapshot().Messages; got != 0 {
		t.Fatalf("expected no retained history, got %d", got)
	}
}

func TestRegisterSupersedesPriorConn(t *testing.T) {
	s := newTestState()

	c1 := register(s, "pat-1", auth.RolePatient, "Pat One")
	c2 := register(s, "pat-1", auth.RolePatient, "Pat One")

	select {
	case <-c1.Done():
	default:
		t.Fatalf("superseded connection must be closed")
	}

	if err := s.SendTo(c1, v1.NewPong(time.Now())); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("send to superseded conn: expected ErrDeliveryFailed, got %v", err)
	}

	// The stale conn's failure must not unregister its successor.
	cur, ok := s.Lookup("pat-1")
	if !ok || cur != c2 {
		t.Fatalf("successor connection lost after stale delivery failure")
	}
	if err := s.Send("pat-1", v1.NewPong(time.Now())); err != nil {
		t.Fatalf("send to live conn failed: %v", err)
	}
	if got := frames(c2); len(got) != 1 {
		t.Fatalf("expected 1 frame on successor, got %d", len(got))
	}
}

func TestDisconnectCascadesRoomsAndHistory(t *testing.T) {
	s := newTestState()
	c := register(s, "pat-1", auth.RolePatient, "Pat One")
	room := s.CreateRoom("doc-1", "pat-1")
	s.RelayMessage(chatMsg(room, "pat-1", "hi", time.Now().UTC()))

	s.Disconnect(c)
	s.Disconnect(c) // idempotent

	if _, ok := s.Lookup("pat-1"); ok {
		t.Fatalf("connection still registered after disconnect")
	}
	// doc-1 never connected but remains a member; room survives.
	if got := s.MembersOf(room); len(got) != 1 || got[0] != "doc-1" {
		t.Fatalf("unexpected members after disconnect: %v", got)
	}

	// Sole-member case: the cascade deletes room and history.
	c2 := register(s, "doc-1", auth.RoleDoctor, "Doc One")
	s.Leave("pat-1", room) // no-op, already gone
	s.Disconnect(c2)
	if got := s.Snapshot(); got.Rooms != 0 || got.Messages != 0 {
		t.Fatalf("expected cascade cleanup, got rooms=%d messages=%d", got.Rooms, got.Messages)
	}
}

func TestSaturatedQueueDropsConnection(t *testing.T) {
	s := newTestState()
	c := register(s, "pat-1", auth.RolePatient, "Pat One")

	var failed error
	for i := 0; i < minSendQueueSize+1; i++ {
		if err := s.Send("pat-1", v1.NewPong(time.Now())); err != nil {
			failed = err
			break
		}
	}

	if !errors.Is(failed, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed on saturation, got %v", failed)
	}
	if _, ok := s.Lookup("pat-1"); ok {
		t.Fatalf("saturated connection must be unregistered")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("saturated connection must be closed")
	}
}

func TestBroadcastSystem(t *testing.T) {
	s := newTestState()
	c1 := register(s, "pat-1", auth.RolePatient, "Pat One")
	c2 := register(s, "doc-1", auth.RoleDoctor, "Doc One")

	n := s.BroadcastSystem("maintenance at noon", "", time.Now().UTC())
	if n != 2 {
		t.Fatalf("expected 2 recipients, got %d", n)
	}

	for _, c := range []*Conn{c1, c2} {
		fs := frames(c)
		if len(fs) != 1 {
			t.Fatalf("expected 1 frame, got %d", len(fs))
		}
		var msg v1.SystemMessage
		if err := json.Unmarshal(fs[0], &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != v1.KindSystem || msg.Message != "maintenance at noon" {
			t.Fatalf("unexpected system message: %+v", msg)
		}
	}

	if n := s.BroadcastSystem("custom", "maintenance", time.Now().UTC()); n != 2 {
		t.Fatalf("expected 2 recipients, got %d", n)
	}
	var msg v1.SystemMessage
	if err := json.Unmarshal(frames(c1)[0], &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "maintenance" {
		t.Fatalf("expected overridden type, got %q", msg.Type)
	}
}

func TestNotifyOfflineUserFails(t *testing.T) {
	s := newTestState()

	err := s.Notify("ghost", json.RawMessage(`{"kind":"reminder"}`), time.Now().UTC())
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestActiveUsersSortedWithNameFallback(t *testing.T) {
	s := newTestState()
	register(s, "b-user", auth.RoleDoctor, "")
	register(s, "a-user", auth.RolePatient, "Alice")

	users := s.ActiveUsers()
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].UserID != "a-user" || users[1].UserID != "b-user" {
		t.Fatalf("not sorted by user id: %+v", users)
	}
	if users[1].Name != "Unknown" {
		t.Fatalf("expected name fallback, got %q", users[1].Name)
	}
}

func TestSnapshotCounts(t *testing.T) {
	s := newTestState()
	register(s, "pat-1", auth.RolePatient, "Pat")
	register(s, "pat-2", auth.RolePatient, "Pat")
	register(s, "doc-1", auth.RoleDoctor, "Doc")
	room := s.CreateRoom("doc-1", "pat-1")
	s.RelayMessage(chatMsg(room, "pat-1", "hi", time.Now().UTC()))

	st := s.Snapshot()
	if st.Connections != 3 || st.Rooms != 1 || st.Messages != 1 {
		t.Fatalf("unexpected snapshot: %+v", st)
	}
	if st.UsersByRole[auth.RolePatient] != 2 || st.UsersByRole[auth.RoleDoctor] != 1 {
		t.Fatalf("unexpected role counts: %v", st.UsersByRole)
	}
	if st.RoomsByParticipants[2] != 1 {
		t.Fatalf("unexpected participant counts: %v", st.RoomsByParticipants)
	}
}
