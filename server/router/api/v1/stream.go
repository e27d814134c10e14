package v1

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/hrygo/concierge/server/auth"
	apierrors "github.com/hrygo/concierge/server/internal/errors"
	"github.com/hrygo/concierge/server/internal/observability"
	"github.com/hrygo/concierge/store"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	streamBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers cannot set the Authorization header on a websocket, so the
	// token travels in the query and the origin is not trusted for auth.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamMessages upgrades to a websocket and pushes every message inserted
// into the conversation, as delivered by the realtime manager, one MessageRow
// per text frame. The token query parameter stands in for the Authorization
// header.
func (s *APIV1Service) StreamMessages(c echo.Context) error {
	ctx := c.Request().Context()
	if token := c.QueryParam("token"); token != "" && auth.IdentityFrom(ctx) == nil {
		identity, err := s.Authenticator.Parse(token)
		if err != nil {
			return writeError(c, apierrors.Unauthorized("invalid token"))
		}
		ctx = auth.WithIdentity(ctx, identity)
		c.SetRequest(c.Request().WithContext(ctx))
	}
	conversation, err := s.readableConversation(c)
	if err != nil {
		return writeError(c, err)
	}
	if s.Realtime == nil {
		return writeError(c, apierrors.ServiceUnavailable("realtime is not configured"))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered.
		return nil
	}
	stream := newStreamClient(conn)
	unsubscribe, err := s.Realtime.Subscribe(ctx, conversation.ID, stream.deliver)
	if err != nil {
		observability.LoggerFrom(ctx).Error("failed to subscribe stream", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}
	s.Metrics.StreamClients.Inc()
	defer s.Metrics.StreamClients.Dec()
	defer unsubscribe()

	go stream.writePump()
	// The handler blocks until the peer goes away so that the request
	// context stays valid for the subscription.
	stream.readPump()
	return nil
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	seen map[string]struct{}
}

func newStreamClient(conn *websocket.Conn) *streamClient {
	return &streamClient{
		conn: conn,
		send: make(chan []byte, streamBuffer),
		done: make(chan struct{}),
		seen: make(map[string]struct{}),
	}
}

// deliver is the realtime sink. Polling hands over whole pages, so messages
// already pushed are skipped. A peer that cannot keep up is disconnected.
func (c *streamClient) deliver(messages []*store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range messages {
		if _, ok := c.seen[m.ID]; ok {
			continue
		}
		frame, err := json.Marshal(store.NewMessageRow(m))
		if err != nil {
			continue
		}
		select {
		case <-c.done:
			return
		case c.send <- frame:
			c.seen[m.ID] = struct{}{}
		default:
			c.close()
			return
		}
	}
}

func (c *streamClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(8 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}
