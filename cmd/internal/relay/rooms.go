package relay

import "sort"

// RoomIDFor derives the deterministic room id for a two-party conversation.
// Order-independent: both parties compute the same id.
func RoomIDFor(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "chat_" + a + "_" + b
}

// CreateRoom ensures the deterministic doctor/patient room exists with both
// parties as members and returns its id. Idempotent.
func (s *State) CreateRoom(doctorID, patientID string) string {
	roomID := RoomIDFor(doctorID, patientID)

	s.mu.Lock()
	s.joinLocked(doctorID, roomID)
	s.joinLocked(patientID, roomID)
	s.mu.Unlock()

	s.log.Info("relay.room.created", "room_id", roomID, "doctor_id", doctorID, "patient_id", patientID)
	s.publishGauges()
	return roomID
}

// Join adds userID to roomID, creating the room if absent. Ad-hoc room ids
// beyond the deterministic two-party form are permitted.
func (s *State) Join(userID, roomID string) {
	s.mu.Lock()
	s.joinLocked(userID, roomID)
	s.mu.Unlock()

	s.log.Info("relay.room.join", "room_id", roomID, "user_id", userID)
	s.publishGauges()
}

func (s *State) joinLocked(userID, roomID string) {
	members := s.rooms[roomID]
	if members == nil {
		members = make(map[string]struct{})
		s.rooms[roomID] = members
	}
	members[userID] = struct{}{}
}

// Leave removes userID from roomID. The last member leaving deletes the room
// and its history.
func (s *State) Leave(userID, roomID string) {
	s.mu.Lock()
	s.leaveLocked(userID, roomID)
	s.mu.Unlock()

	s.log.Info("relay.room.leave", "room_id", roomID, "user_id", userID)
	s.publishGauges()
}

func (s *State) leaveLocked(userID, roomID string) {
	members, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(s.rooms, roomID)
		s.dropHistoryLocked(roomID)
	}
}

func (s *State) removeEverywhereLocked(userID string) {
	for roomID, members := range s.rooms {
		if _, ok := members[userID]; ok {
			s.leaveLocked(userID, roomID)
		}
	}
}

// MembersOf returns the member set of roomID, sorted; empty for unknown rooms.
func (s *State) MembersOf(roomID string) []string {
	s.mu.Lock()
	members := s.rooms[roomID]
	out := make([]string, 0, len(members))
	for uid := range members {
		out = append(out, uid)
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

// RoomsOf returns every room currently containing userID, sorted.
func (s *State) RoomsOf(userID string) []string {
	s.mu.Lock()
	var out []string
	for roomID, members := range s.rooms {
		if _, ok := members[userID]; ok {
			out = append(out, roomID)
		}
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

// IsMember reports whether userID currently belongs to roomID.
func (s *State) IsMember(userID, roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID][userID]
	return ok
}
