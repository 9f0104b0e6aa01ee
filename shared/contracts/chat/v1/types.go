// Package v1 defines the careline chat wire protocol.
//
// Every frame is a flat JSON object discriminated by its "type" field.
// This package is intentionally stable and dependency-light: it is shared
// between the server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Client -> server event kinds (wire-stable).
const (
	KindChatMessage     = "chat_message"
	KindTypingIndicator = "typing_indicator"
	KindFileShare       = "file_share"
	KindMessageStatus   = "message_status"
	KindJoinRoom        = "join_room"
	KindLeaveRoom       = "leave_room"
	KindGetActiveUsers  = "get_active_users"
	KindPing            = "ping"
)

// Server -> client event kinds (wire-stable).
const (
	KindConnectionConfirmed = "connection_confirmed"
	KindChatHistory         = "chat_history"
	KindActiveUsers         = "active_users"
	KindPong                = "pong"
	KindError               = "error"
	KindNotification        = "notification"
	KindSystem              = "system"
)

// MessageTypeText is the default message_type for chat messages.
const MessageTypeText = "text"

// ClientEvent is one parsed inbound event. Concrete types are the payload
// structs below plus Unknown for unrecognized kinds.
type ClientEvent interface {
	Kind() string
	// Validate checks the required fields for the event kind.
	Validate() error
}

func missingField(name string) error {
	return fmt.Errorf("missing field: %s", name)
}

// ChatMessage requests relaying a text message into a room.
type ChatMessage struct {
	RoomID      string `json:"room_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
}

func (ChatMessage) Kind() string { return KindChatMessage }

func (m ChatMessage) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return missingField("room_id")
	}
	return nil
}

// TypingIndicator signals that the sender started or stopped typing.
// Ephemeral: never retained in room history.
type TypingIndicator struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

func (TypingIndicator) Kind() string { return KindTypingIndicator }

func (m TypingIndicator) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return missingField("room_id")
	}
	return nil
}

// FileInfo describes a shared file. The URL points at storage outside the relay.
type FileInfo struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// FileShare requests relaying a file reference into a room.
type FileShare struct {
	RoomID   string    `json:"room_id"`
	FileInfo *FileInfo `json:"file_info"`
}

func (FileShare) Kind() string { return KindFileShare }

func (m FileShare) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return missingField("room_id")
	}
	if m.FileInfo == nil {
		return missingField("file_info")
	}
	return nil
}

// MessageStatus reports a delivered/read transition for a prior message.
// Ephemeral: never retained in room history.
type MessageStatus struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (MessageStatus) Kind() string { return KindMessageStatus }

func (m MessageStatus) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return missingField("room_id")
	}
	if strings.TrimSpace(m.MessageID) == "" {
		return missingField("message_id")
	}
	if strings.TrimSpace(m.Status) == "" {
		return missingField("status")
	}
	return nil
}

// JoinRoom adds the sender to a room and requests a history replay.
type JoinRoom struct {
	RoomID string `json:"room_id"`
}

func (JoinRoom) Kind() string { return KindJoinRoom }

func (m JoinRoom) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return missingField("room_id")
	}
	return nil
}

// LeaveRoom removes the sender from a room.
type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

func (LeaveRoom) Kind() string { return KindLeaveRoom }

func (m LeaveRoom) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return missingField("room_id")
	}
	return nil
}

// GetActiveUsers requests a snapshot of currently connected users.
type GetActiveUsers struct{}

func (GetActiveUsers) Kind() string    { return KindGetActiveUsers }
func (GetActiveUsers) Validate() error { return nil }

// Ping requests a pong reply carrying the server time.
type Ping struct{}

func (Ping) Kind() string    { return KindPing }
func (Ping) Validate() error { return nil }

// Unknown is returned for a well-formed frame with an unrecognized type.
// It is not a parse error; the dispatcher answers it with an error event.
type Unknown struct {
	Type string
}

func (u Unknown) Kind() string  { return u.Type }
func (Unknown) Validate() error { return nil }

// ParseClientEvent decodes one inbound frame into its typed event.
// Malformed JSON is the only error; an unrecognized kind parses as Unknown.
func ParseClientEvent(data []byte) (ClientEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	fail := func(err error) (ClientEvent, error) {
		return nil, fmt.Errorf("invalid %s event: %w", head.Type, err)
	}

	switch head.Type {
	case KindChatMessage:
		var ev ChatMessage
		if err := json.Unmarshal(data, &ev); err != nil {
			return fail(err)
		}
		return ev, nil
	case KindTypingIndicator:
		var ev TypingIndicator
		if err := json.Unmarshal(data, &ev); err != nil {
			return fail(err)
		}
		return ev, nil
	case KindFileShare:
		var ev FileShare
		if err := json.Unmarshal(data, &ev); err != nil {
			return fail(err)
		}
		return ev, nil
	case KindMessageStatus:
		var ev MessageStatus
		if err := json.Unmarshal(data, &ev); err != nil {
			return fail(err)
		}
		return ev, nil
	case KindJoinRoom:
		var ev JoinRoom
		if err := json.Unmarshal(data, &ev); err != nil {
			return fail(err)
		}
		return ev, nil
	case KindLeaveRoom:
		var ev LeaveRoom
		if err := json.Unmarshal(data, &ev); err != nil {
			return fail(err)
		}
		return ev, nil
	case KindGetActiveUsers:
		return GetActiveUsers{}, nil
	case KindPing:
		return Ping{}, nil
	default:
		return Unknown{Type: head.Type}, nil
	}
}

// ---- server -> client payloads ----

// UserInfo is the resolved identity echoed back on connect.
type UserInfo struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// ConnectionConfirmed is sent once after a successful handshake.
type ConnectionConfirmed struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	UserInfo  UserInfo  `json:"user_info"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryMessage is the broadcast form of chat_message and file_share events.
// The same shape is retained in room history and replayed on join.
type HistoryMessage struct {
	Type        string    `json:"type"`
	MessageType string    `json:"message_type,omitempty"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	SenderRole  string    `json:"sender_role"`
	Content     string    `json:"content,omitempty"`
	FileInfo    *FileInfo `json:"file_info,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"message_id"`
}

// TypingEvent is the fan-out form of a typing indicator.
type TypingEvent struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusEvent is the fan-out form of a message status transition.
type StatusEvent struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id"`
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatHistory replays retained room history to a joining user.
type ChatHistory struct {
	Type     string           `json:"type"`
	RoomID   string           `json:"room_id"`
	Messages []HistoryMessage `json:"messages"`
}

// ActiveUser is one entry of an active-users snapshot.
type ActiveUser struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ActiveUsers is the reply to a get_active_users request.
type ActiveUsers struct {
	Type  string       `json:"type"`
	Users []ActiveUser `json:"users"`
}

// Pong answers a ping.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a per-event failure to the originating connection.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Notification carries a one-off payload pushed to a single user.
type Notification struct {
	Type         string          `json:"type"`
	Notification json.RawMessage `json:"notification"`
	Timestamp    time.Time       `json:"timestamp"`
}

// SystemMessage is an operator broadcast. Type defaults to "system" but an
// operator may override it (e.g. "maintenance").
type SystemMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewError builds an error event.
func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: KindError, Message: message}
}

// NewPong builds a pong reply.
func NewPong(now time.Time) Pong {
	return Pong{Type: KindPong, Timestamp: now}
}
