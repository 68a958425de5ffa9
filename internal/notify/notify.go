// Package notify delivers direct messages and the published leaderboard
// display to Discord.
package notify

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the target message, interaction or
	// recipient no longer exists.
	ErrNotFound = errors.New("notify: target not found")
	// ErrChannelNotFound is returned when the channel itself is unknown.
	ErrChannelNotFound = errors.New("notify: channel not found")
)

// Display is a rendered, publishable message body.
type Display struct {
	Title       string
	Description string
	Footer      string
	Color       int
	Timestamp   time.Time
}
