package relay

import (
	"fmt"
	"log/slog"
	"time"

	"careline/cmd/internal/auth"
	v1 "careline/shared/contracts/chat/v1"
)

// Dispatcher interprets inbound events from authenticated connections and
// turns them into state mutations plus fan-out. Every per-event failure is
// converted into an error event to the originating connection; nothing here
// terminates a connection or leaks across rooms.
type Dispatcher struct {
	log     *slog.Logger
	state   *State
	archive Archive
	metrics *Metrics
}

// NewDispatcher constructs a Dispatcher. archive and metrics may be nil.
func NewDispatcher(log *slog.Logger, state *State, archive Archive, metrics *Metrics) *Dispatcher {
	if archive == nil {
		archive = NopArchive{}
	}
	return &Dispatcher{
		log:     log,
		state:   state,
		archive: archive,
		metrics: metrics,
	}
}

// HandleFrame parses one inbound frame from c and handles it.
func (d *Dispatcher) HandleFrame(c *Conn, data []byte, now time.Time) {
	ev, err := v1.ParseClientEvent(data)
	if err != nil {
		d.replyError(c, "Invalid message format")
		return
	}
	if err := ev.Validate(); err != nil {
		d.replyError(c, err.Error())
		return
	}

	if err := d.handle(c, ev, now); err != nil {
		d.replyError(c, err.Error())
		return
	}
	d.metrics.eventRelayed(ev.Kind())
}

func (d *Dispatcher) handle(c *Conn, ev v1.ClientEvent, now time.Time) error {
	switch ev := ev.(type) {
	case v1.ChatMessage:
		return d.onChatMessage(c, ev, now)
	case v1.TypingIndicator:
		return d.onTyping(c, ev, now)
	case v1.FileShare:
		d.ShareFile(c.Identity, ev.RoomID, *ev.FileInfo, now)
		return nil
	case v1.MessageStatus:
		return d.onStatus(c, ev, now)
	case v1.JoinRoom:
		return d.onJoin(c, ev)
	case v1.LeaveRoom:
		d.state.Leave(c.UserID, ev.RoomID)
		return nil
	case v1.GetActiveUsers:
		return d.state.SendTo(c, v1.ActiveUsers{
			Type:  v1.KindActiveUsers,
			Users: d.state.ActiveUsers(),
		})
	case v1.Ping:
		return d.state.SendTo(c, v1.NewPong(now.UTC()))
	default:
		return fmt.Errorf("unknown message type: %s", ev.Kind())
	}
}

func (d *Dispatcher) onChatMessage(c *Conn, ev v1.ChatMessage, now time.Time) error {
	if len([]rune(ev.Content)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	msgType := ev.MessageType
	if msgType == "" {
		msgType = v1.MessageTypeText
	}

	msg := v1.HistoryMessage{
		Type:        v1.KindChatMessage,
		MessageType: msgType,
		RoomID:      ev.RoomID,
		SenderID:    c.UserID,
		SenderName:  senderName(c.Identity),
		SenderRole:  c.Role,
		Content:     ev.Content,
		Timestamp:   now.UTC(),
		MessageID:   NewMessageID(now),
	}

	delivered := d.state.RelayMessage(msg)
	d.archive.Record(msg)
	d.log.Info("relay.chat", "room_id", ev.RoomID, "sender_id", c.UserID, "delivered", delivered)
	return nil
}

// ShareFile relays a file reference into roomID on behalf of id. Used by the
// websocket path and by the REST upload endpoint.
func (d *Dispatcher) ShareFile(id auth.Identity, roomID string, fi v1.FileInfo, now time.Time) v1.HistoryMessage {
	msg := v1.HistoryMessage{
		Type:       v1.KindFileShare,
		RoomID:     roomID,
		SenderID:   id.UserID,
		SenderName: senderName(id),
		SenderRole: id.Role,
		FileInfo:   &fi,
		Timestamp:  now.UTC(),
		MessageID:  NewFileID(now),
	}

	delivered := d.state.RelayMessage(msg)
	d.archive.Record(msg)
	d.log.Info("relay.file_share", "room_id", roomID, "sender_id", id.UserID, "file", fi.Name, "delivered", delivered)
	return msg
}

func (d *Dispatcher) onTyping(c *Conn, ev v1.TypingIndicator, now time.Time) error {
	d.state.FanOutEphemeral(ev.RoomID, v1.TypingEvent{
		Type:      v1.KindTypingIndicator,
		RoomID:    ev.RoomID,
		UserID:    c.UserID,
		UserName:  senderName(c.Identity),
		IsTyping:  ev.IsTyping,
		Timestamp: now.UTC(),
	}, c.UserID)
	return nil
}

func (d *Dispatcher) onStatus(c *Conn, ev v1.MessageStatus, now time.Time) error {
	d.state.FanOutEphemeral(ev.RoomID, v1.StatusEvent{
		Type:      v1.KindMessageStatus,
		RoomID:    ev.RoomID,
		MessageID: ev.MessageID,
		Status:    ev.Status,
		UserID:    c.UserID,
		Timestamp: now.UTC(),
	}, c.UserID)
	return nil
}

func (d *Dispatcher) onJoin(c *Conn, ev v1.JoinRoom) error {
	d.state.Join(c.UserID, ev.RoomID)

	history := d.state.Recent(ev.RoomID, c.UserID, historyReplayLimit)
	if history == nil {
		history = []v1.HistoryMessage{}
	}
	return d.state.SendTo(c, v1.ChatHistory{
		Type:     v1.KindChatHistory,
		RoomID:   ev.RoomID,
		Messages: history,
	})
}

func (d *Dispatcher) replyError(c *Conn, message string) {
	if err := d.state.SendTo(c, v1.NewError(message)); err != nil {
		d.log.Info("relay.error_reply.dropped", "user_id", c.UserID, "err", err)
	}
}

func senderName(id auth.Identity) string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	return "Unknown"
}
