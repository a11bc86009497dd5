package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/bft-labs/plotline/pkg/log"
)

// wsConn adapts a server-side WebSocket to Conn.
type wsConn struct {
	id        string
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn net.Conn) *wsConn {
	return &wsConn{id: uuid.NewString(), conn: conn}
}

func (c *wsConn) ID() string { return c.id }

// Send writes one text frame, honouring the context deadline.
func (c *wsConn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return wsutil.WriteServerText(c.conn, data)
}

// Read and Write let wsutil answer pings without racing Send.
func (c *wsConn) Read(p []byte) (int, error) { return c.conn.Read(p) }

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(p)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// ParseChannels splits a comma-separated channel list, dropping blanks.
func ParseChannels(s string) []string {
	var out []string
	for _, ch := range strings.Split(s, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

// ServeWS upgrades the request to a WebSocket and serves it until the client
// disconnects. Initial channels may be given as ?channels=jobs,system.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", log.Err(err))
		return
	}
	conn := newWSConn(raw)
	if err := h.Subscribe(conn, ParseChannels(r.URL.Query().Get("channels"))...); err != nil {
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket client connected",
		log.String("conn_id", conn.ID()),
		log.String("remote", r.RemoteAddr),
	)
	defer func() {
		h.Remove(conn.ID())
		h.logger.Info("websocket client disconnected", log.String("conn_id", conn.ID()))
	}()

	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *wsConn) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.Debug("websocket read error", log.String("conn_id", conn.ID()), log.Err(err))
			}
			return
		}
		if op != ws.OpText {
			continue
		}
		h.handleControl(conn.ID(), conn, data)
	}
}

// handleControl applies one client control message and queues an ack.
func (h *Hub) handleControl(connID string, conn Conn, data []byte) {
	var msg ControlMessage
	var ack Ack
	if err := json.Unmarshal(data, &msg); err != nil {
		ack = Ack{Type: TypeError, Error: "invalid control message"}
	} else {
		switch strings.ToUpper(msg.Type) {
		case TypeSubscribe:
			if err := h.Subscribe(conn, msg.Channels...); err != nil {
				ack = Ack{Type: TypeError, Error: err.Error()}
				break
			}
			ack = Ack{Type: TypeSubscribed, Channels: h.Channels(connID)}
		case TypeUnsubscribe:
			h.Unsubscribe(connID, msg.Channels...)
			ack = Ack{Type: TypeUnsubscribed, Channels: h.Channels(connID)}
		default:
			ack = Ack{Type: TypeError, Error: fmt.Sprintf("unknown message type %q", msg.Type)}
		}
	}
	out, err := json.Marshal(ack)
	if err != nil {
		return
	}
	h.enqueue(connID, out)
}
