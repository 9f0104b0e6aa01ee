package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"careline/cmd/internal/assist"
	"careline/cmd/internal/auth"
	"careline/cmd/internal/relay"
	v1 "careline/shared/contracts/chat/v1"
)

func newTestChatHandlers() *chatHandlers {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	state := relay.NewState(log, nil)
	return &chatHandlers{
		log:        log,
		state:      state,
		dispatcher: relay.NewDispatcher(log, state, nil, nil),
		patient:    assist.NewPatientBot(log, nil),
		doctor:     assist.NewDoctorBot(log, nil),
	}
}

// asUser injects a verified identity the way requireAuth does.
func asUser(r *http.Request, id auth.Identity) *http.Request {
	ctx := context.WithValue(r.Context(), identityKey, id)
	ctx = context.WithValue(ctx, tokenKey, "test-token")
	return r.WithContext(ctx)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHandlePatientChat(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	id := auth.Identity{UserID: "pat-1", Role: auth.RolePatient, DisplayName: "Pat One"}

	req := asUser(httptest.NewRequest(http.MethodPost, "/chat/patient",
		strings.NewReader(`{"message":"hello"}`)), id)
	rec := httptest.NewRecorder()
	h.handlePatientChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=200, body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["type"] != "greeting" {
		t.Fatalf("unexpected reply type: %v", body["type"])
	}
	conv, _ := body["conversation_id"].(string)
	if !strings.HasPrefix(conv, "patient_pat-1_") {
		t.Fatalf("generated conversation id %q lacks the patient prefix", conv)
	}

	// A client-supplied conversation id is echoed back.
	req = asUser(httptest.NewRequest(http.MethodPost, "/chat/patient",
		strings.NewReader(`{"message":"hello","conversation_id":"conv-7"}`)), id)
	rec = httptest.NewRecorder()
	h.handlePatientChat(rec, req)
	if body := decodeBody(t, rec); body["conversation_id"] != "conv-7" {
		t.Fatalf("conversation id not echoed: %v", body["conversation_id"])
	}
}

func TestHandlePatientChatRejectsEmptyMessage(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	id := auth.Identity{UserID: "pat-1", Role: auth.RolePatient}

	for _, payload := range []string{`{}`, `{"message":""}`, `not json`} {
		req := asUser(httptest.NewRequest(http.MethodPost, "/chat/patient", strings.NewReader(payload)), id)
		rec := httptest.NewRecorder()
		h.handlePatientChat(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: status=%d want=400", payload, rec.Code)
		}
	}
}

func TestHandleDoctorChatRefusesWrongRoleIdentity(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()

	// Routing already gates on role; the bot still refuses mismatched
	// identities if a future route wires it differently.
	req := asUser(httptest.NewRequest(http.MethodPost, "/chat/doctor",
		strings.NewReader(`{"message":"hello"}`)), auth.Identity{UserID: "pat-1", Role: auth.RolePatient})
	rec := httptest.NewRecorder()
	h.handleDoctorChat(rec, req)

	if body := decodeBody(t, rec); body["type"] != "access_denied" {
		t.Fatalf("unexpected reply type: %v", body["type"])
	}
}

func TestHandleCreateRoom(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	id := auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}

	req := asUser(httptest.NewRequest(http.MethodPost, "/chat/rooms/create",
		strings.NewReader(`{"doctor_id":"doc-1","patient_id":"pat-1"}`)), id)
	rec := httptest.NewRecorder()
	h.handleCreateRoom(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["room_id"] != "chat_doc-1_pat-1" || body["status"] != "active" {
		t.Fatalf("unexpected body: %v", body)
	}

	req = asUser(httptest.NewRequest(http.MethodPost, "/chat/rooms/create",
		strings.NewReader(`{"doctor_id":"doc-1"}`)), id)
	rec = httptest.NewRecorder()
	h.handleCreateRoom(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing patient_id: status=%d want=400", rec.Code)
	}
}

func seedRoomWithMessages(h *chatHandlers, n int) string {
	room := h.state.CreateRoom("doc-1", "pat-1")
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		h.state.RelayMessage(v1.HistoryMessage{
			Type:      v1.KindChatMessage,
			RoomID:    room,
			SenderID:  "doc-1",
			Content:   "note",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			MessageID: relay.NewMessageID(base),
		})
	}
	return room
}

func TestHandleRoomHistory(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	room := seedRoomWithMessages(h, 60)
	member := auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}

	get := func(id auth.Identity, query string) *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest(http.MethodGet, "/chat/rooms/"+room+"/history"+query, nil), id)
		req.SetPathValue("room_id", room)
		rec := httptest.NewRecorder()
		h.handleRoomHistory(rec, req)
		return rec
	}

	rec := get(member, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total_messages"] != float64(50) {
		t.Fatalf("default limit: total=%v want=50", body["total_messages"])
	}

	rec = get(member, "?limit=10")
	if body := decodeBody(t, rec); body["total_messages"] != float64(10) {
		t.Fatalf("limit=10: total=%v", body["total_messages"])
	}

	for _, q := range []string{"?limit=0", "?limit=101", "?limit=ten"} {
		if rec := get(member, q); rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: status=%d want=400", q, rec.Code)
		}
	}

	// Non-members get an empty list, not an error.
	rec = get(auth.Identity{UserID: "stranger", Role: auth.RolePatient}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("non-member: status=%d want=200", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["total_messages"] != float64(0) {
		t.Fatalf("non-member must see no history, got %v", body["total_messages"])
	}
	if _, ok := body["messages"].([]any); !ok {
		t.Fatalf("messages must encode as an empty array, got %T", body["messages"])
	}
}

func TestHandleUserRoomsAccess(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	h.state.CreateRoom("doc-1", "pat-1")

	get := func(id auth.Identity, userID string) *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest(http.MethodGet, "/chat/rooms/user/"+userID, nil), id)
		req.SetPathValue("user_id", userID)
		rec := httptest.NewRecorder()
		h.handleUserRooms(rec, req)
		return rec
	}

	rec := get(auth.Identity{UserID: "pat-1", Role: auth.RolePatient}, "pat-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("self: status=%d want=200", rec.Code)
	}
	if body := decodeBody(t, rec); body["total_rooms"] != float64(1) {
		t.Fatalf("unexpected rooms: %v", body)
	}

	if rec := get(auth.Identity{UserID: "pat-2", Role: auth.RolePatient}, "pat-1"); rec.Code != http.StatusForbidden {
		t.Fatalf("other user: status=%d want=403", rec.Code)
	}
	if rec := get(auth.Identity{UserID: "adm-1", Role: auth.RoleAdmin}, "pat-1"); rec.Code != http.StatusOK {
		t.Fatalf("admin: status=%d want=200", rec.Code)
	}
}

func TestHandleBroadcast(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	id := auth.Identity{UserID: "adm-1", Role: auth.RoleAdmin}

	req := asUser(httptest.NewRequest(http.MethodPost, "/chat/broadcast",
		strings.NewReader(`{"message":"maintenance at noon"}`)), id)
	rec := httptest.NewRecorder()
	h.handleBroadcast(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", rec.Code)
	}
	if body := decodeBody(t, rec); body["recipients"] != float64(0) {
		t.Fatalf("no connections registered, recipients=%v want=0", body["recipients"])
	}

	req = asUser(httptest.NewRequest(http.MethodPost, "/chat/broadcast", strings.NewReader(`{}`)), id)
	rec = httptest.NewRecorder()
	h.handleBroadcast(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message: status=%d want=400", rec.Code)
	}
}

func TestHandleNotify(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	doc := auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}

	post := func(id auth.Identity, userID, payload string) *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest(http.MethodPost, "/chat/notify/"+userID,
			strings.NewReader(payload)), id)
		req.SetPathValue("user_id", userID)
		rec := httptest.NewRecorder()
		h.handleNotify(rec, req)
		return rec
	}

	// Delivery to an offline user is still a 200; the notification is
	// best-effort.
	rec := post(doc, "pat-1", `{"kind":"reminder"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("offline recipient: status=%d want=200", rec.Code)
	}
	if body := decodeBody(t, rec); body["recipient"] != "pat-1" {
		t.Fatalf("unexpected body: %v", body)
	}

	if rec := post(doc, "pat-1", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid payload: status=%d want=400", rec.Code)
	}

	// Patients may only notify themselves.
	pat := auth.Identity{UserID: "pat-1", Role: auth.RolePatient}
	if rec := post(pat, "pat-2", `{}`); rec.Code != http.StatusForbidden {
		t.Fatalf("cross-patient notify: status=%d want=403", rec.Code)
	}
	if rec := post(pat, "pat-1", `{}`); rec.Code != http.StatusOK {
		t.Fatalf("self notify: status=%d want=200", rec.Code)
	}
}

func TestHandleUploadFile(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	room := h.state.CreateRoom("doc-1", "pat-1")
	payload := `{"room_id":"` + room + `","file_info":{"name":"scan.pdf","size":123,"type":"application/pdf","url":"https://files.example/scan.pdf"}}`

	post := func(id auth.Identity, body string) *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest(http.MethodPost, "/chat/upload-file", strings.NewReader(body)), id)
		rec := httptest.NewRecorder()
		h.handleUploadFile(rec, req)
		return rec
	}

	rec := post(auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("member: status=%d want=200, body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["file_name"] != "scan.pdf" {
		t.Fatalf("unexpected body: %v", body)
	}

	if rec := post(auth.Identity{UserID: "stranger", Role: auth.RolePatient}, payload); rec.Code != http.StatusForbidden {
		t.Fatalf("non-member: status=%d want=403", rec.Code)
	}

	if rec := post(auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}, `{"room_id":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file_info: status=%d want=400", rec.Code)
	}
}

func TestHandleChatHealthAndStats(t *testing.T) {
	t.Parallel()
	h := newTestChatHandlers()
	seedRoomWithMessages(h, 3)

	rec := httptest.NewRecorder()
	h.handleChatHealth(rec, httptest.NewRequest(http.MethodGet, "/chat/health", nil))
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["service"] != "careline" {
		t.Fatalf("unexpected health body: %v", body)
	}
	if body["active_rooms"] != float64(1) {
		t.Fatalf("active_rooms=%v want=1", body["active_rooms"])
	}

	rec = httptest.NewRecorder()
	h.handleStats(rec, httptest.NewRequest(http.MethodGet, "/chat/stats", nil))
	body = decodeBody(t, rec)
	if body["total_messages"] != float64(3) {
		t.Fatalf("total_messages=%v want=3", body["total_messages"])
	}
	byParticipants, ok := body["rooms_by_participants"].(map[string]any)
	if !ok || byParticipants["2"] != float64(1) {
		t.Fatalf("unexpected participant histogram: %v", body["rooms_by_participants"])
	}
}
