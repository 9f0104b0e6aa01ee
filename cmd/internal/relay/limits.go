package relay

import "time"

// Security/performance limits for the realtime relay.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max chat message content length (runes).
	maxMessageChars = 1000

	// Retained history entries per room; oldest evicted first.
	historyCap = 100

	// Entries replayed to a user on join_room.
	historyReplayLimit = 50

	// Default cap for history reads; hard max is historyCap.
	defaultHistoryLimit = 50
)

const (
	// Heartbeat defaults (overridable via env in gateway.go).
	heartbeatInterval = 20 * time.Second
	heartbeatTimeout  = 10 * time.Second

	// Per-connection inbound rate limit (events per window).
	rateLimitEvents = 100
	rateLimitWindow = 60 * time.Second

	defaultSendQueueSize = 256
	minSendQueueSize     = 32
)
