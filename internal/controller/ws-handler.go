package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aaronkirkham/youtube-sync/internal/room"
	"github.com/aaronkirkham/youtube-sync/pkg/ctxlogger"
)

// serveWS upgrades the request and binds the socket to a room. The room id
// comes from the referring page URL; connections arriving without one get a
// fresh room and an update_url packet so the client can fix its address
// bar.
func (c *controller) serveWS(w http.ResponseWriter, r *http.Request) {
	sock, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := room.NewConnection(sock, c.logger)
	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("connection_id", conn.ID().String()))

	rm := c.registry.RouteNewConnection(conn, r.Header.Get("Referer"))
	c.logger.InfoContext(ctx, "connection joined room", "room_id", rm.ID())

	c.readLoop(ctx, sock, conn)
}

// readLoop pumps inbound messages into the connection's event handlers
// until the socket closes. Messages are flat json objects whose "type"
// field names the client-origin event.
func (c *controller) readLoop(ctx context.Context, sock *websocket.Conn, conn *room.Connection) {
	defer func() {
		c.registry.OnDisconnect(conn)
		sock.Close()
	}()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.logger.DebugContext(ctx, "websocket closed", "error", err)
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
			c.logger.DebugContext(ctx, "dropping malformed message", "error", err)
			continue
		}

		conn.Dispatch(room.EventType(envelope.Type), data)
	}
}
