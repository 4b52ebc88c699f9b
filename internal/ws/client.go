package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/service"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/logger"
	wsproto "duo-chat/backend/pkg/ws"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// State is the lifecycle stage of a connection
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Client is one authenticated WebSocket session. All frames go through the
// bounded send queue; a client that cannot keep up is disconnected.
type Client struct {
	sessionID string
	userID    uint
	conn      *websocket.Conn
	gateway   *Gateway
	limiter   *rate.Limiter
	log       *logger.Logger

	send      chan []byte
	done      chan struct{}
	drain     chan struct{}
	closeOnce sync.Once
	drainOnce sync.Once
	state     atomic.Int32
}

var _ service.Conn = (*Client)(nil)

func (c *Client) SessionID() string { return c.sessionID }
func (c *Client) UserID() uint      { return c.userID }

// State returns the current lifecycle stage
func (c *Client) State() State {
	return State(c.state.Load())
}

// Deliver queues a message for the receiver
func (c *Client) Deliver(msg *models.Message) bool {
	return c.enqueue(wsproto.TypeDeliver, wsproto.DeliverPayload{Message: msg})
}

// Ack queues the persistence confirmation for the sender
func (c *Client) Ack(msg *models.Message, clientRef string) bool {
	return c.enqueue(wsproto.TypeAck, wsproto.AckPayload{Message: msg, ClientRef: clientRef})
}

func (c *Client) sendError(code, message, clientRef string) bool {
	return c.enqueue(wsproto.TypeError, wsproto.ErrorPayload{Code: code, Message: message, ClientRef: clientRef})
}

// enqueue never blocks. A full queue closes the session.
func (c *Client) enqueue(typ string, payload any) bool {
	if c.State() == StateClosed {
		return false
	}
	data, err := wsproto.Encode(typ, payload)
	if err != nil {
		c.log.LogError(err, "failed to encode frame", "type", typ)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("send buffer full, dropping session", "buffer", cap(c.send))
		c.gateway.metrics.overflows.Add(context.Background(), 1)
		// enqueue runs on the sender's goroutine and the write pump may be
		// holding the socket, so the close frame goes out on its own goroutine
		if c.markClosed() {
			go c.closeConn(websocket.CloseTryAgainLater, "send buffer overflow")
		}
		return false
	}
}

// Close terminates the session immediately. Safe to call more than once.
func (c *Client) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Client) closeWith(code int, reason string) {
	if c.markClosed() {
		c.closeConn(code, reason)
	}
}

// markClosed stops the session from accepting frames. It reports true only
// for the first caller, which then owns closing the socket.
func (c *Client) markClosed() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
	return first
}

func (c *Client) closeConn(code int, reason string) {
	deadline := time.Now().Add(c.gateway.opts.WriteWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

// replace tells a superseded session why it is going away, then closes it
// once the queued frames are written.
func (c *Client) replace() {
	c.sendError(apperrors.CodeSessionReplaced, "Signed in from another connection", "")
	c.drainOnce.Do(func() { close(c.drain) })
}

func (c *Client) readPump(ctx context.Context) {
	opts := c.gateway.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read failed", "error", err.Error())
			}
			return
		}
		if c.State() == StateClosed {
			return
		}
		c.handle(ctx, data)
	}
}

func (c *Client) handle(ctx context.Context, data []byte) {
	var env wsproto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError(apperrors.CodeInvalidArgument, "Malformed frame", "")
		return
	}

	switch env.Type {
	case wsproto.TypeSubmit:
		c.handleSubmit(ctx, env.Payload)
	case wsproto.TypePing:
		c.enqueue(wsproto.TypePong, nil)
	default:
		c.sendError(apperrors.CodeUnsupportedMessage, "Unsupported frame type: "+env.Type, "")
	}
}

func (c *Client) handleSubmit(ctx context.Context, raw json.RawMessage) {
	var p wsproto.SubmitPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(apperrors.CodeInvalidArgument, "Malformed submit payload", "")
		return
	}
	if err := c.gateway.validate.Struct(&p); err != nil {
		c.sendError(apperrors.CodeInvalidArgument, err.Error(), p.ClientRef)
		return
	}
	if !c.limiter.Allow() {
		c.sendError(apperrors.CodeRateLimitExceeded, "Too many messages, slow down", p.ClientRef)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.gateway.opts.SubmitTimeout)
	defer cancel()

	_, err := c.gateway.router.Submit(ctx, c, c.userID, service.SubmitRequest{
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
		MediaRef:   p.MediaRef,
		ClientRef:  p.ClientRef,
	})
	if err == nil {
		return
	}

	if appErr := apperrors.As(err); appErr != nil {
		c.sendError(appErr.Code, appErr.Message, p.ClientRef)
		return
	}
	c.log.LogError(err, "submit failed")
	c.sendError(apperrors.CodeUnavailable, "Message was not sent", p.ClientRef)
}

func (c *Client) writePump() {
	opts := c.gateway.opts
	ticker := time.NewTicker(opts.PingPeriod())
	defer ticker.Stop()

	write := func(data []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
		return c.conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			// one frame per message
			if !write(data) {
				c.Close()
				return
			}

		case <-c.drain:
			for n := len(c.send); n > 0; n-- {
				if !write(<-c.send) {
					break
				}
			}
			c.closeWith(websocket.ClosePolicyViolation, "session replaced")
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
