package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	return ReadJSONWithin(conn, readWait, v)
}

// ReadJSONWithin is ReadJSON with a caller-chosen deadline.
func ReadJSONWithin(conn *websocket.Conn, wait time.Duration, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(wait))
	return conn.ReadJSON(v)
}

// ReadRaw reads one message and returns it undecoded so the caller can peek at
// its envelope first.
func ReadRaw(conn *websocket.Conn, wait time.Duration) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := ReadJSONWithin(conn, wait, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
