package relay

import (
	"encoding/json"

	v1 "careline/shared/contracts/chat/v1"
)

// appendHistoryLocked retains msg in its room's history, evicting the oldest
// entry past the cap. Entries for rooms that do not exist are not retained.
func (s *State) appendHistoryLocked(roomID string, msg v1.HistoryMessage) bool {
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}

	h := append(s.history[roomID], msg)
	s.historyTotal++
	if len(h) > historyCap {
		evicted := len(h) - historyCap
		h = h[evicted:]
		s.historyTotal -= evicted
	}
	s.history[roomID] = h
	return true
}

func (s *State) dropHistoryLocked(roomID string) {
	s.historyTotal -= len(s.history[roomID])
	delete(s.history, roomID)
}

// Recent returns up to limit most recent retained entries for roomID,
// oldest-first. Unknown rooms and non-members get an empty result; membership
// is never leaked through an error.
func (s *State) Recent(roomID, userID string, limit int) []v1.HistoryMessage {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > historyCap {
		limit = historyCap
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if _, member := members[userID]; !member {
		return nil
	}

	h := s.history[roomID]
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]v1.HistoryMessage, len(h))
	copy(out, h)
	return out
}

// RelayMessage appends msg to its room's history and fans it out to every
// current member, sender included. The append and the membership snapshot are
// atomic. Returns the number of successful deliveries.
func (s *State) RelayMessage(msg v1.HistoryMessage) int {
	frame, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	s.mu.Lock()
	s.appendHistoryLocked(msg.RoomID, msg)
	delivered := s.fanOutLocked(msg.RoomID, frame, "")
	s.mu.Unlock()

	s.publishGauges()
	return delivered
}

// FanOutEphemeral delivers event to members of roomID without retaining it,
// excluding excludeUserID when non-empty.
func (s *State) FanOutEphemeral(roomID string, event any, excludeUserID string) int {
	frame, err := json.Marshal(event)
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fanOutLocked(roomID, frame, excludeUserID)
}

// fanOutLocked delivers one frame per online member. Each recipient is
// attempted independently; a failed delivery drops that recipient only.
func (s *State) fanOutLocked(roomID string, frame []byte, exclude string) int {
	delivered := 0
	for uid := range s.rooms[roomID] {
		if uid == exclude {
			continue
		}
		c, ok := s.conns[uid]
		if !ok {
			continue
		}
		if s.deliverLocked(c, frame) == nil {
			delivered++
		}
	}
	return delivered
}
