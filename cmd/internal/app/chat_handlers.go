package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"careline/cmd/internal/assist"
	"careline/cmd/internal/auth"
	"careline/cmd/internal/relay"
	v1 "careline/shared/contracts/chat/v1"
)

const serviceVersion = "1.0.0"

// chatHandlers is the REST surface under /chat. The websocket route is owned
// by the relay gateway; everything here is plain request/response.
type chatHandlers struct {
	log        Logger
	state      *relay.State
	dispatcher *relay.Dispatcher
	patient    *assist.PatientBot
	doctor     *assist.DoctorBot
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type chatResponse struct {
	Response       string          `json:"response"`
	Type           string          `json:"type"`
	Actions        []assist.Action `json:"actions"`
	Data           map[string]any  `json:"data,omitempty"`
	ConversationID string          `json:"conversation_id"`
	Timestamp      string          `json:"timestamp"`
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (h *chatHandlers) handlePatientChat(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req chatRequest
	if err := readJSON(r, &req); err != nil || req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = fmt.Sprintf("patient_%s_%s", id.UserID, uuid.NewString())
	}

	reply := h.patient.Process(r.Context(), req.Message, TokenFrom(r.Context()), id, req.ConversationID)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:       reply.Response,
		Type:           reply.Type,
		Actions:        reply.Actions,
		Data:           reply.Data,
		ConversationID: req.ConversationID,
		Timestamp:      nowStamp(),
	})
}

func (h *chatHandlers) handleDoctorChat(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req chatRequest
	if err := readJSON(r, &req); err != nil || req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = fmt.Sprintf("doctor_%s_%s", id.UserID, uuid.NewString())
	}

	reply := h.doctor.Process(r.Context(), req.Message, TokenFrom(r.Context()), id, req.ConversationID)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:       reply.Response,
		Type:           reply.Type,
		Actions:        reply.Actions,
		Data:           reply.Data,
		ConversationID: req.ConversationID,
		Timestamp:      nowStamp(),
	})
}

func (h *chatHandlers) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DoctorID  string `json:"doctor_id"`
		PatientID string `json:"patient_id"`
	}
	if err := readJSON(r, &req); err != nil || req.DoctorID == "" || req.PatientID == "" {
		writeError(w, r, http.StatusBadRequest, "doctor_id and patient_id are required")
		return
	}

	roomID := h.state.CreateRoom(req.DoctorID, req.PatientID)
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":    roomID,
		"doctor_id":  req.DoctorID,
		"patient_id": req.PatientID,
		"created_at": nowStamp(),
		"status":     "active",
	})
}

// handleRoomHistory returns retained history for a room. Non-members receive
// an empty list with HTTP 200; membership is not revealed through errors.
func (h *chatHandlers) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	roomID := r.PathValue("room_id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	messages := h.state.Recent(roomID, id.UserID, limit)
	if messages == nil {
		messages = []v1.HistoryMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":        roomID,
		"messages":       messages,
		"total_messages": len(messages),
		"retrieved_at":   nowStamp(),
	})
}

func (h *chatHandlers) handleUserRooms(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	userID := r.PathValue("user_id")

	if id.UserID != userID && id.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "Access denied")
		return
	}

	rooms := h.state.RoomsOf(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"rooms":        rooms,
		"total_rooms":  len(rooms),
		"retrieved_at": nowStamp(),
	})
}

func (h *chatHandlers) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	users := h.state.ActiveUsers()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_users": users,
		"total_active": len(users),
		"retrieved_at": nowStamp(),
	})
}

func (h *chatHandlers) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message     string `json:"message"`
		MessageType string `json:"message_type"`
	}
	if err := readJSON(r, &req); err != nil || req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}

	recipients := h.state.BroadcastSystem(req.Message, req.MessageType, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Broadcast sent successfully",
		"recipients": recipients,
		"sent_at":    nowStamp(),
	})
}

func (h *chatHandlers) handleNotify(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	userID := r.PathValue("user_id")

	if id.Role != auth.RoleDoctor && id.Role != auth.RoleAdmin && id.UserID != userID {
		writeError(w, r, http.StatusForbidden, "Access denied")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err != nil || !json.Valid(body) {
		writeError(w, r, http.StatusBadRequest, "notification body is required")
		return
	}

	if err := h.state.Notify(userID, json.RawMessage(body), time.Now().UTC()); err != nil {
		h.log.Info("chat.notify.offline", "user_id", userID, "err", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Notification sent successfully",
		"recipient": userID,
		"sent_at":   nowStamp(),
	})
}

func (h *chatHandlers) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req struct {
		RoomID   string       `json:"room_id"`
		FileInfo *v1.FileInfo `json:"file_info"`
	}
	if err := readJSON(r, &req); err != nil || req.RoomID == "" || req.FileInfo == nil {
		writeError(w, r, http.StatusBadRequest, "room_id and file_info are required")
		return
	}

	if !h.state.IsMember(id.UserID, req.RoomID) {
		writeError(w, r, http.StatusForbidden, "Access denied to this room")
		return
	}

	h.dispatcher.ShareFile(id, req.RoomID, *req.FileInfo, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "File shared successfully",
		"room_id":   req.RoomID,
		"file_name": req.FileInfo.Name,
		"shared_at": nowStamp(),
	})
}

func (h *chatHandlers) handleChatHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.state.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"service":            "careline",
		"version":            serviceVersion,
		"active_connections": stats.Connections,
		"active_rooms":       stats.Rooms,
		"timestamp":          nowStamp(),
	})
}

func (h *chatHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.state.Snapshot()

	roomsByParticipants := make(map[string]int, len(stats.RoomsByParticipants))
	for count, n := range stats.RoomsByParticipants {
		roomsByParticipants[strconv.Itoa(count)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_connections":    stats.Connections,
		"total_rooms":           stats.Rooms,
		"total_messages":        stats.Messages,
		"users_by_role":         stats.UsersByRole,
		"rooms_by_participants": roomsByParticipants,
		"timestamp":             nowStamp(),
	})
}
