// Package domain contains core concepts of the chat system.
// This file defines Message records and related rules.
// Messages are immutable once the store accepted them.
package domain

import (
	"groupchat/errors"
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 layout used for server-assigned message times.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is a chat message as stored and broadcast.
type Message struct {
	ID       string // time-ordered, assigned by the store
	Room     RoomID
	Username string
	Body     string
	Image    string // optional reference to an uploaded image
	Time     string // ISO-8601, client-supplied or server-assigned
}

// Validate rejects a message that carries neither text nor image.
func (m Message) Validate() error {
	if strings.TrimSpace(string(m.Room)) == "" {
		return errors.ErrMissingRoom
	}
	if strings.TrimSpace(m.Username) == "" {
		return errors.ErrMissingUsername
	}
	if m.Body == "" && m.Image == "" {
		return errors.ErrEmptyMessage
	}
	return nil
}

// HasImage reports whether an image reference is attached.
func (m Message) HasImage() bool { return m.Image != "" }

// FormatTime renders t the way server-assigned message times are written.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
