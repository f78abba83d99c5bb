package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketstate/internal/crypto"
)

const (
	handshakeTimeout = 15 * time.Second
	writeWait        = 10 * time.Second
)

// helloMessage is the first frame sent on a new bridge connection.
type helloMessage struct {
	Type          string                      `json:"type"`
	Authorization crypto.SessionAuthorization `json:"authorization"`
}

// helloReply is the bridge's answer to helloMessage.
type helloReply struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// WSConnector connects to a bridge endpoint over WebSocket and presents the
// session authorization as the first message.
type WSConnector struct {
	URL    string
	Header http.Header
}

// Connect dials the endpoint and completes the authorization handshake.
func (c WSConnector) Connect(ctx context.Context, auth crypto.SessionAuthorization) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		return nil, fmt.Errorf("bridge/ws: dial: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(helloMessage{Type: "authorize", Authorization: auth}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge/ws: send authorization: %w", err)
	}
	var reply helloReply
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge/ws: read reply: %w", err)
	}
	if reply.Type != "authorized" {
		conn.Close()
		return nil, fmt.Errorf("bridge/ws: rejected: %s", reply.Error)
	}

	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}
