package relay

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message ids are ULIDs with a kind tag prefix: timestamp-ordered, unique,
// and cheap to distinguish in logs ("msg_..." vs "file_...").

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now.UTC()), entropy).String()
}

// NewMessageID returns an id for a relayed chat message.
func NewMessageID(now time.Time) string {
	return "msg_" + newULID(now)
}

// NewFileID returns an id for a relayed file share.
func NewFileID(now time.Time) string {
	return "file_" + newULID(now)
}
