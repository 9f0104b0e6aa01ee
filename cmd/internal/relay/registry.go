package relay

import (
	"encoding/json"
	"sort"
	"time"

	"careline/cmd/internal/auth"
	v1 "careline/shared/contracts/chat/v1"
)

// Register installs a connection for id.UserID, superseding any prior one.
// The superseded connection is closed; later writes to it fail with
// ErrDeliveryFailed instead of reaching the user.
func (s *State) Register(id auth.Identity, queueSize int, now time.Time) *Conn {
	c := newConn(id, queueSize, now)

	s.mu.Lock()
	prev := s.conns[id.UserID]
	s.conns[id.UserID] = c
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
		s.log.Info("relay.conn.superseded", "user_id", id.UserID)
	}
	s.log.Info("relay.conn.registered", "user_id", id.UserID, "role", id.Role)
	s.publishGauges()
	return c
}

// Lookup returns the live connection for userID, if any.
func (s *State) Lookup(userID string) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[userID]
	return c, ok
}

// Unregister removes c from the registry if it is still the registered
// connection for its user. Idempotent; a superseded connection cannot
// unregister its successor.
func (s *State) Unregister(c *Conn) {
	s.mu.Lock()
	s.unregisterLocked(c)
	s.mu.Unlock()
	s.publishGauges()
}

func (s *State) unregisterLocked(c *Conn) bool {
	if c == nil {
		return false
	}
	cur, ok := s.conns[c.UserID]
	if !ok || cur != c {
		return false
	}
	delete(s.conns, c.UserID)
	return true
}

// Disconnect runs the full disconnect sequence for c: unregister, leave every
// room, delete rooms left empty along with their history. Safe to call more
// than once and safe for superseded connections.
func (s *State) Disconnect(c *Conn) {
	if c == nil {
		return
	}
	c.Close()

	s.mu.Lock()
	if s.unregisterLocked(c) {
		s.removeEverywhereLocked(c.UserID)
		s.log.Info("relay.conn.disconnected", "user_id", c.UserID)
	}
	s.mu.Unlock()
	s.publishGauges()
}

// Send delivers event to userID's connection.
func (s *State) Send(userID string, event any) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[userID]
	if !ok {
		return ErrDeliveryFailed
	}
	return s.deliverLocked(c, frame)
}

// SendTo delivers event to a specific connection, which may already have been
// superseded; the reply then fails without touching the successor.
func (s *State) SendTo(c *Conn, event any) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliverLocked(c, frame)
}

// deliverLocked enqueues a frame and self-heals on failure: the broken
// connection is closed, unregistered, and pruned from every room.
func (s *State) deliverLocked(c *Conn, frame []byte) error {
	if err := c.enqueue(frame); err != nil {
		s.dropLocked(c)
		s.metrics.deliveryFailed()
		s.log.Info("relay.delivery.failed", "user_id", c.UserID)
		return err
	}
	return nil
}

func (s *State) dropLocked(c *Conn) {
	c.Close()
	if s.unregisterLocked(c) {
		s.removeEverywhereLocked(c.UserID)
	}
}

// ActiveUsers snapshots all registered connections, ordered by user id.
func (s *State) ActiveUsers() []v1.ActiveUser {
	s.mu.Lock()
	users := make([]v1.ActiveUser, 0, len(s.conns))
	for _, c := range s.conns {
		name := c.DisplayName
		if name == "" {
			name = "Unknown"
		}
		users = append(users, v1.ActiveUser{
			UserID:      c.UserID,
			Name:        name,
			Role:        c.Role,
			ConnectedAt: c.ConnectedAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// BroadcastSystem sends an operator message to every connected user and
// returns the number of successful deliveries. msgType defaults to "system".
func (s *State) BroadcastSystem(message, msgType string, now time.Time) int {
	if msgType == "" {
		msgType = v1.KindSystem
	}
	frame, err := json.Marshal(v1.SystemMessage{Type: msgType, Message: message, Timestamp: now.UTC()})
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delivered := 0
	for _, c := range s.conns {
		if s.deliverLocked(c, frame) == nil {
			delivered++
		}
	}
	return delivered
}

// Notify pushes a one-off notification payload to a single user.
func (s *State) Notify(userID string, payload json.RawMessage, now time.Time) error {
	return s.Send(userID, v1.Notification{
		Type:         v1.KindNotification,
		Notification: payload,
		Timestamp:    now.UTC(),
	})
}
