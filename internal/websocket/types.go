package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// MessageType is the type field of a live-reload message.
type MessageType string

const (
	// MessageReload asks the browser to reload the page.
	MessageReload MessageType = "reload"
	// MessageError carries a build failure to show in the browser.
	MessageError MessageType = "error"
)

// ReloadMessage represents a message sent to the browser. On the wire it is
// {"type":"reload"} or {"type":"error","message":"..."}.
type ReloadMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
	// Generation is the build the message reports on.
	Generation uint64 `json:"-"`
}

// Client represents a live-reload connection
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time
}

// ID returns the client's connection id.
func (c *Client) ID() string {
	return c.id
}

// OriginValidator decides which browser origins may connect.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}
