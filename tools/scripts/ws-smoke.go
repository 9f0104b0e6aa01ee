// Package main provides a CI-friendly WebSocket smoke test for careline chat.
//
// It validates:
//   - handshake + token authentication
//   - connection_confirmed on connect
//   - join_room -> chat_history replay
//   - chat_message fanout to the peer and echo to the sender
//   - ping -> pong
//   - typing_indicator excludes the sender
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "careline/shared/contracts/chat/v1"
)

const maxReadBytes = 1 << 16 // matches the server read limit

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan json.RawMessage
	errCh chan error
}

// frameHeader is the minimal shape every server event shares.
type frameHeader struct {
	Type string `json:"type"`
}

func main() {
	var (
		baseURL     = flag.String("url", "ws://127.0.0.1:8080/chat/ws", "WebSocket base URL; user id is appended")
		origin      = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		patientID   = flag.String("patient", "smoke-patient", "Patient user id")
		doctorID    = flag.String("doctor", "smoke-doctor", "Doctor user id")
		patientTok  = flag.String("patient-token", "", "Bearer token for the patient (required)")
		doctorTok   = flag.String("doctor-token", "", "Bearer token for the doctor (required)")
		text        = flag.String("text", "hello careline", "Message text to send")
		stepTimeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*patientTok) == "" || strings.TrimSpace(*doctorTok) == "" {
		fatalf("-patient-token and -doctor-token are required")
	}

	root := context.Background()

	pat := mustConnect(root, "patient", *baseURL, *origin, *patientID, *patientTok, *stepTimeout)
	defer closeWS(pat.conn)

	doc := mustConnect(root, "doctor", *baseURL, *origin, *doctorID, *doctorTok, *stepTimeout)
	defer closeWS(doc.conn)

	if *verbose {
		fmt.Printf("connected: patient=%s doctor=%s origin=%q\n", pat.userID, doc.userID, *origin)
	}

	roomID := roomIDFor(*doctorID, *patientID)
	mustJoin(root, pat, roomID, *stepTimeout)
	mustJoin(root, doc, roomID, *stepTimeout)

	mustPingPong(root, pat, *stepTimeout)

	msgID := mustSendChat(root, pat, doc, roomID, *text, *stepTimeout)

	mustTypingExcludesSender(root, pat, doc, roomID, *stepTimeout)

	mustHistoryContains(root, doc, roomID, msgID, *text, *stepTimeout)

	fmt.Printf("OK: room_id=%s message_id=%s\n", roomID, msgID)
}

// roomIDFor mirrors the server's deterministic room naming.
func roomIDFor(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "chat_" + a + "_" + b
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, baseURL, origin, userID, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	wsURL := strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(userID) + "?token=" + url.QueryEscape(token)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan json.RawMessage, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	raw := c.mustReadUntilType(parent, v1.KindConnectionConfirmed, stepTimeout, nil)

	var confirmed v1.ConnectionConfirmed
	if err := json.Unmarshal(raw, &confirmed); err != nil {
		fatalf("unmarshal connection_confirmed (%s): %v", name, err)
	}
	if confirmed.UserInfo.UserID != userID {
		fatalf("connection_confirmed user mismatch (%s): got=%q want=%q", name, confirmed.UserInfo.UserID, userID)
	}

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			select {
			case c.inbox <- json.RawMessage(data):
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, roomID string, stepTimeout time.Duration) {
	mustWrite(parent, c, map[string]any{"type": v1.KindJoinRoom, "room_id": roomID}, stepTimeout)

	raw := c.mustReadUntilType(parent, v1.KindChatHistory, stepTimeout, nil)

	var history v1.ChatHistory
	if err := json.Unmarshal(raw, &history); err != nil {
		fatalf("unmarshal chat_history (%s): %v", c.name, err)
	}
	if history.RoomID != roomID {
		fatalf("chat_history room mismatch (%s): got=%q want=%q", c.name, history.RoomID, roomID)
	}
	if history.Messages == nil {
		fatalf("chat_history messages must be present, even when empty (%s)", c.name)
	}
}

func mustPingPong(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustWrite(parent, c, map[string]any{"type": v1.KindPing}, stepTimeout)
	_ = c.mustReadUntilType(parent, v1.KindPong, stepTimeout, nil)
}

func mustSendChat(parent context.Context, sender, peer *smokeClient, roomID, text string, stepTimeout time.Duration) string {
	mustWrite(parent, sender, map[string]any{
		"type":    v1.KindChatMessage,
		"room_id": roomID,
		"content": text,
	}, stepTimeout)

	check := func(c *smokeClient) string {
		raw := c.mustReadUntilType(parent, v1.KindChatMessage, stepTimeout, nil)

		var msg v1.HistoryMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			fatalf("unmarshal chat_message (%s): %v", c.name, err)
		}
		if msg.RoomID != roomID || msg.Content != text {
			fatalf("chat_message mismatch (%s): %+v", c.name, msg)
		}
		if msg.SenderID != sender.userID {
			fatalf("chat_message sender mismatch (%s): got=%q want=%q", c.name, msg.SenderID, sender.userID)
		}
		if strings.TrimSpace(msg.MessageID) == "" {
			fatalf("chat_message missing message_id (%s)", c.name)
		}
		return msg.MessageID
	}

	peerID := check(peer)
	senderID := check(sender)
	if peerID != senderID {
		fatalf("echo and fanout carry different message ids: %q vs %q", senderID, peerID)
	}
	return peerID
}

func mustTypingExcludesSender(parent context.Context, sender, peer *smokeClient, roomID string, stepTimeout time.Duration) {
	mustWrite(parent, sender, map[string]any{
		"type":      v1.KindTypingIndicator,
		"room_id":   roomID,
		"is_typing": true,
	}, stepTimeout)

	raw := peer.mustReadUntilType(parent, v1.KindTypingIndicator, stepTimeout, nil)

	var typing v1.TypingEvent
	if err := json.Unmarshal(raw, &typing); err != nil {
		fatalf("unmarshal typing_indicator (%s): %v", peer.name, err)
	}
	if typing.UserID != sender.userID || !typing.IsTyping {
		fatalf("typing event mismatch (%s): %+v", peer.name, typing)
	}

	mustAssertNoType(parent, sender, v1.KindTypingIndicator, 1200*time.Millisecond)
}

func mustHistoryContains(parent context.Context, c *smokeClient, roomID, msgID, text string, stepTimeout time.Duration) {
	// Rejoining replays retained history.
	mustWrite(parent, c, map[string]any{"type": v1.KindJoinRoom, "room_id": roomID}, stepTimeout)

	raw := c.mustReadUntilType(parent, v1.KindChatHistory, stepTimeout, nil)

	var history v1.ChatHistory
	if err := json.Unmarshal(raw, &history); err != nil {
		fatalf("unmarshal chat_history (%s): %v", c.name, err)
	}

	for _, m := range history.Messages {
		if m.MessageID == msgID && m.Content == text {
			return
		}
	}
	fatalf("history replay missing expected message (%s)", c.name)
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case raw, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			var hdr frameHeader
			_ = json.Unmarshal(raw, &hdr)
			if hdr.Type == v1.KindError {
				var ev v1.ErrorEvent
				_ = json.Unmarshal(raw, &ev)
				fatalf("server error (%s): %q", c.name, ev.Message)
			}
			if hdr.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) json.RawMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case raw, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}

			var hdr frameHeader
			if err := json.Unmarshal(raw, &hdr); err != nil {
				fatalf("bad json while waiting for %q (%s): %v", wantType, c.name, err)
			}
			if hdr.Type == wantType {
				return raw
			}
			if hdr.Type == v1.KindError {
				var ev v1.ErrorEvent
				_ = json.Unmarshal(raw, &ev)
				fatalf("server error (%s): %q", c.name, ev.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[hdr.Type]; ok {
					continue
				}
			}
			fatalf("unexpected event type (%s): got=%q want=%q", c.name, hdr.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, ev any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		fatalf("marshal event: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
