package relay

import (
	"context"

	v1 "careline/shared/contracts/chat/v1"
)

// Archive mirrors retained relay events to durable storage for audit.
// Recording is best-effort and must never block the relay path; the
// replayable history stays in memory regardless of the archive backend.
type Archive interface {
	Record(msg v1.HistoryMessage)
	Close(ctx context.Context) error
}

// NopArchive drops every record. Used when no database is configured.
type NopArchive struct{}

func (NopArchive) Record(v1.HistoryMessage)    {}
func (NopArchive) Close(context.Context) error { return nil }
