package socket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// Frame is the JSON envelope every push-channel event travels in.
// Acknowledgments come back as an "ack" frame referencing AckID.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   string          `json:"ack_id,omitempty"`
}

// ackEvent is the reserved frame event carrying an acknowledgment.
const ackEvent = "ack"

// errorEvent is the reserved frame event carrying a server-side error
// condition (notably the authentication rejection).
const errorEvent = "error"

// Conn is the subset of *websocket.Conn the manager uses. Tests swap in
// a pipe-backed fake.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens an authenticated connection to the push channel.
type Dialer func(ctx context.Context, url, token string) (Conn, error)

// WebsocketDialer dials over a websocket with a bearer credential.
func WebsocketDialer(ctx context.Context, url, token string) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
