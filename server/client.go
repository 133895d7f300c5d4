package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	maxMessageSize = 1 << 20
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

// client is one websocket connection. Requests run concurrently; responses
// are serialized through send.
type client struct {
	id      string
	conn    *websocket.Conn
	router  *router
	limiter *rate.Limiter // nil when unlimited
	send    chan *Response
	closed  chan struct{} // closed when the writer stops
	wg      sync.WaitGroup
}

func newClient(conn *websocket.Conn, r *router, requestsPerMinute, burst int) *client {
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		router: r,
		send:   make(chan *Response, 64),
		closed: make(chan struct{}),
	}
	if requestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
	return c
}

// run blocks until the connection closes. In-flight requests are
// cancelled and awaited before it returns.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		c.writePump()
		close(c.closed)
	}()

	c.readPump(ctx)
	cancel()
	c.wg.Wait()
	close(c.send)
	<-c.closed
}

func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SERVER] Client %s read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(ctx, data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case resp, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(resp); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handleFrame(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(errorResponse("", ErrInvalidRequest, "malformed frame: "+err.Error()))
		return
	}
	if req.Type != FrameRequest {
		c.reply(errorResponse(req.ID, ErrInvalidRequest, "unexpected frame type: "+req.Type))
		return
	}
	if req.ID == "" {
		c.reply(errorResponse("", ErrInvalidRequest, "request id is required"))
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		log.Printf("[SERVER] Client %s rate limited (%s)", c.id, req.Method)
		c.reply(errorResponse(req.ID, ErrRateLimited, "rate limit exceeded"))
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reply(c.router.handle(ctx, &req))
	}()
}

// reply queues resp unless the writer has already stopped.
func (c *client) reply(resp *Response) {
	select {
	case c.send <- resp:
	case <-c.closed:
	}
}
