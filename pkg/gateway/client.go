package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Maximum frame size accepted from a peer.
	maxFrameSize = 16 * 1024

	defaultSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy belongs to the auth layer in front of the core.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is the client->server shape on the push connection. The op set is
// the same logical one the HTTP poll transport exposes.
type Frame struct {
	Op       string `json:"op"` // send | edit | delete | typing
	ID       string `json:"id,omitempty"`
	Body     string `json:"body,omitempty"`
	Kind     string `json:"kind,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Typing   bool   `json:"typing,omitempty"`
}

// wsClient is the middleman between one websocket connection and the hub.
type wsClient struct {
	gw      *Gateway
	conn    *websocket.Conn
	send    chan []byte
	channel string
	userID  string
	name    string
	avatar  string
}

// ServeWS upgrades the request to a push subscription on one channel.
// Identity is taken from the already-authenticated request context headers
// upstream of the core.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, channel, userID, name, avatar string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &wsClient{
		gw:      g,
		conn:    conn,
		send:    make(chan []byte, g.sendBuffer),
		channel: channel,
		userID:  userID,
		name:    name,
		avatar:  avatar,
	}
	g.hub.register <- c
	g.presence.Touch(userID, "")
	go c.writePump()
	go c.readPump()
}

// readPump pumps inbound op frames from the connection into the gateway.
// One reader per connection.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.gw.hub.unregister <- c:
		case <-c.gw.hub.stop:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.gw.presence.Touch(c.userID, "")
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_error", "user", c.userID, "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.reply(errorEvent("invalid frame", ""))
			continue
		}
		c.handle(f)
	}
}

func (c *wsClient) handle(f Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	switch f.Op {
	case "send":
		_, err := c.gw.SendMessage(ctx, models.Message{
			Channel:  c.channel,
			Author:   c.userID,
			Name:     c.name,
			Avatar:   c.avatar,
			Body:     f.Body,
			Kind:     f.Kind,
			ClientID: f.ClientID,
		})
		if err != nil {
			c.reply(errorEvent(err.Error(), f.ClientID))
		}
	case "edit":
		if _, err := c.gw.EditMessage(ctx, f.ID, c.userID, f.Body); err != nil {
			c.reply(errorEvent(err.Error(), f.ClientID))
		}
	case "delete":
		if err := c.gw.DeleteMessage(ctx, f.ID, c.userID); err != nil {
			c.reply(errorEvent(err.Error(), f.ClientID))
		}
	case "typing":
		c.gw.SetTyping(c.channel, c.userID, f.Typing)
	default:
		c.reply(errorEvent("unknown op "+f.Op, f.ClientID))
	}
}

type wsError struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	ClientID string `json:"client_id,omitempty"`
}

func errorEvent(msg, clientID string) []byte {
	b, _ := json.Marshal(wsError{Type: "error", Error: msg, ClientID: clientID})
	return b
}

// reply queues a frame for this connection only; quietly dropped when the
// outbound queue is full (the hub will disconnect on the next broadcast).
func (c *wsClient) reply(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

// writePump pumps hub events to the connection. One writer per connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
