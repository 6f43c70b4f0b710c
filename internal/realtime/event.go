// Package realtime keeps a directory of live websocket channels per user and
// pushes session events to them.
package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	EventWelcome         = "welcome"
	EventSessionRevoked  = "session.revoked"
	EventPasswordChanged = "security.password_changed"
)

// Event is the frame written to a channel.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// NewID returns a ULID string. ULIDs sort by creation time.
func NewID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func NewEvent(eventType string, data any, now time.Time) (Event, error) {
	id, err := NewID(now)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: id, Type: eventType, Data: data, Time: now.UTC()}, nil
}
