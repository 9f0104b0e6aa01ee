// Package relay implements the realtime message relay: connection registry,
// room directory, bounded per-room history, and the protocol dispatcher that
// fans inbound events out to room members.
//
// All shared maps live in State and every mutation is serialized behind one
// mutex. Delivery to a recipient is a non-blocking enqueue onto that
// connection's bounded queue, so holding the lock across a fan-out is safe:
// one slow or broken recipient can never stall the others.
package relay

import (
	"errors"
	"log/slog"
	"sync"

	v1 "careline/shared/contracts/chat/v1"
)

// ErrDeliveryFailed reports a failed write to a recipient's connection.
// The failing connection is unregistered as a side effect; callers must treat
// this as a per-recipient outcome, never as fatal to the surrounding operation.
var ErrDeliveryFailed = errors.New("relay: delivery failed")

// State owns the relay's process-wide mutable maps. It is initialized empty
// at startup and torn down with the process; nothing survives a restart.
type State struct {
	log     *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	conns   map[string]*Conn
	rooms   map[string]map[string]struct{}
	history map[string][]v1.HistoryMessage

	// Retained entries across all rooms, maintained incrementally.
	historyTotal int
}

// NewState constructs an empty State. metrics may be nil (tests).
func NewState(log *slog.Logger, metrics *Metrics) *State {
	return &State{
		log:     log,
		metrics: metrics,
		conns:   make(map[string]*Conn),
		rooms:   make(map[string]map[string]struct{}),
		history: make(map[string][]v1.HistoryMessage),
	}
}

// Stats is the health/stat snapshot exposed on the management surface.
type Stats struct {
	Connections         int
	Rooms               int
	Messages            int
	UsersByRole         map[string]int
	RoomsByParticipants map[int]int
}

// Snapshot returns current aggregate counts.
func (s *State) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Connections:         len(s.conns),
		Rooms:               len(s.rooms),
		Messages:            s.historyTotal,
		UsersByRole:         make(map[string]int),
		RoomsByParticipants: make(map[int]int),
	}
	for _, c := range s.conns {
		st.UsersByRole[c.Role]++
	}
	for _, members := range s.rooms {
		st.RoomsByParticipants[len(members)]++
	}
	return st
}

func (s *State) publishGauges() {
	s.mu.Lock()
	conns, rooms, hist := len(s.conns), len(s.rooms), s.historyTotal
	s.mu.Unlock()

	s.metrics.setConnections(conns)
	s.metrics.setRooms(rooms)
	s.metrics.setHistoryEntries(hist)
}
