package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/service"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/jwt"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/resilience"
	wsproto "duo-chat/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (m *memStore) Append(_ context.Context, msg *models.Message) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *msg
	stored.ID = uint(len(m.msgs) + 1)
	stored.ChatID = models.ConversationKey(msg.SenderID, msg.ReceiverID)
	stored.Timestamp = time.Now().UTC()
	m.msgs = append(m.msgs, stored)
	return &stored, nil
}

func (m *memStore) FetchHistory(_ context.Context, chatID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, 0)
	for _, msg := range m.msgs {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) ListCounterparts(context.Context, uint) ([]uint, error) {
	return nil, nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

type allUsers struct{}

func (allUsers) Exists(_ context.Context, id uint) (bool, error) { return id < 1000, nil }

type harness struct {
	srv      *httptest.Server
	registry *Registry
	gateway  *Gateway
	store    *memStore
	tokens   *jwt.Service
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := NewRegistry()
	store := &memStore{}
	router := service.NewMessageRouter(store, allUsers{}, registry, nil, service.RouterOptions{
		Retry: resilience.RetryPolicy{Attempts: 1},
	}, logger.Discard())
	tokens := jwt.NewService("gateway-test", time.Hour)
	gw := NewGateway(registry, router, tokens, opts, logger.Discard())

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.GET("/ws", gw.Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})
	return &harness{srv: srv, registry: registry, gateway: gw, store: store, tokens: tokens}
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
}

func (h *harness) dial(t *testing.T, userID uint) *websocket.Conn {
	t.Helper()
	token, err := h.tokens.GenerateToken(userID, "u@example.com")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialOnline connects and waits until the session is registered
func (h *harness) dialOnline(t *testing.T, userID uint) (*websocket.Conn, string) {
	t.Helper()
	var before string
	if c, ok := h.registry.Lookup(userID); ok {
		before = c.SessionID()
	}

	conn := h.dial(t, userID)
	var session string
	require.Eventually(t, func() bool {
		c, ok := h.registry.Lookup(userID)
		if !ok || c.SessionID() == before {
			return false
		}
		session = c.SessionID()
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return conn, session
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	data, err := wsproto.Encode(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) wsproto.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env wsproto.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func decode[T any](t *testing.T, env wsproto.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	for name, url := range map[string]string{
		"missing": h.wsURL(),
		"invalid": h.wsURL() + "?token=not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Zero(t, h.registry.Count())
		})
	}
}

func TestHandshakeAcceptsBearerHeader(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	token, err := h.tokens.GenerateToken(5, "e@example.com")
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	assert.Eventually(t, func() bool { _, ok := h.registry.Lookup(5); return ok }, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitAcksSenderAndDeliversToReceiver(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	sender, _ := h.dialOnline(t, 7)
	receiver, _ := h.dialOnline(t, 3)

	content := "a"
	send(t, sender, wsproto.TypeSubmit, wsproto.SubmitPayload{ReceiverID: 3, Content: &content, ClientRef: "c-1"})

	ack := readFrame(t, sender)
	require.Equal(t, wsproto.TypeAck, ack.Type)
	ackPayload := decode[wsproto.AckPayload](t, ack)
	assert.Equal(t, "c-1", ackPayload.ClientRef)
	assert.Equal(t, "3_7", ackPayload.Message.ChatID)

	deliver := readFrame(t, receiver)
	require.Equal(t, wsproto.TypeDeliver, deliver.Type)
	msg := decode[wsproto.DeliverPayload](t, deliver).Message
	assert.Equal(t, ackPayload.Message.ID, msg.ID)
	assert.Equal(t, uint(7), msg.SenderID)
	assert.Equal(t, "a", *msg.Content)
}

func TestSubmitToOfflineReceiverIsAcked(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	sender, _ := h.dialOnline(t, 7)

	content := "later"
	send(t, sender, wsproto.TypeSubmit, wsproto.SubmitPayload{ReceiverID: 3, Content: &content})

	ack := readFrame(t, sender)
	assert.Equal(t, wsproto.TypeAck, ack.Type)
	assert.Equal(t, 1, h.store.len())
}

func TestSubmitErrorsCarryClientRef(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	conn, _ := h.dialOnline(t, 7)

	content := "me"
	send(t, conn, wsproto.TypeSubmit, wsproto.SubmitPayload{ReceiverID: 7, Content: &content, ClientRef: "self"})
	frame := readFrame(t, conn)
	require.Equal(t, wsproto.TypeError, frame.Type)
	payload := decode[wsproto.ErrorPayload](t, frame)
	assert.Equal(t, apperrors.CodeInvalidArgument, payload.Code)
	assert.Equal(t, "self", payload.ClientRef)

	send(t, conn, wsproto.TypeSubmit, wsproto.SubmitPayload{ReceiverID: 5000, Content: &content, ClientRef: "ghost"})
	payload = decode[wsproto.ErrorPayload](t, readFrame(t, conn))
	assert.Equal(t, apperrors.CodeNotFound, payload.Code)
	assert.Equal(t, "ghost", payload.ClientRef)

	// missing receiver fails validation before reaching the router
	send(t, conn, wsproto.TypeSubmit, map[string]any{"content": "x", "client_ref": "nobody"})
	payload = decode[wsproto.ErrorPayload](t, readFrame(t, conn))
	assert.Equal(t, apperrors.CodeInvalidArgument, payload.Code)

	assert.Zero(t, h.store.len())
}

func TestPingAndUnknownFrames(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	conn, _ := h.dialOnline(t, 7)

	send(t, conn, wsproto.TypePing, nil)
	assert.Equal(t, wsproto.TypePong, readFrame(t, conn).Type)

	send(t, conn, "typing", nil)
	frame := readFrame(t, conn)
	require.Equal(t, wsproto.TypeError, frame.Type)
	assert.Equal(t, apperrors.CodeUnsupportedMessage, decode[wsproto.ErrorPayload](t, frame).Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, apperrors.CodeInvalidArgument, decode[wsproto.ErrorPayload](t, readFrame(t, conn)).Code)
}

func TestSubmitRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.SubmitRate = 0.001
	opts.SubmitBurst = 1
	h := newHarness(t, opts)
	conn, _ := h.dialOnline(t, 7)

	content := "x"
	send(t, conn, wsproto.TypeSubmit, wsproto.SubmitPayload{ReceiverID: 3, Content: &content})
	assert.Equal(t, wsproto.TypeAck, readFrame(t, conn).Type)

	send(t, conn, wsproto.TypeSubmit, wsproto.SubmitPayload{ReceiverID: 3, Content: &content, ClientRef: "2"})
	payload := decode[wsproto.ErrorPayload](t, readFrame(t, conn))
	assert.Equal(t, apperrors.CodeRateLimitExceeded, payload.Code)
	assert.Equal(t, 1, h.store.len())
}

func TestNewSessionReplacesOld(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	first, firstSession := h.dialOnline(t, 7)
	second, secondSession := h.dialOnline(t, 7)
	require.NotEqual(t, firstSession, secondSession)

	frame := readFrame(t, first)
	require.Equal(t, wsproto.TypeError, frame.Type)
	assert.Equal(t, apperrors.CodeSessionReplaced, decode[wsproto.ErrorPayload](t, frame).Code)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	// the old session's teardown leaves the new mapping alone
	time.Sleep(50 * time.Millisecond)
	c, ok := h.registry.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, secondSession, c.SessionID())

	sender, _ := h.dialOnline(t, 3)
	content := "hi"
	send(t, sender, wsproto.TypeSubmit, wsproto.SubmitPayload{ReceiverID: 7, Content: &content})
	assert.Equal(t, wsproto.TypeDeliver, readFrame(t, second).Type)
}

func TestDisconnectUnregisters(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	conn, _ := h.dialOnline(t, 7)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { _, ok := h.registry.Lookup(7); return !ok }, 2*time.Second, 5*time.Millisecond)
}

// upgradedConn returns the server side of a fresh WebSocket connection
// together with the dialing peer. No gateway pumps run on it.
func upgradedConn(t *testing.T, gw *Gateway) (server, peer *websocket.Conn) {
	t.Helper()
	serverConn := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := gw.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- conn
	}))
	t.Cleanup(srv.Close)

	peer, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { peer.Close() })

	server = <-serverConn
	t.Cleanup(func() { server.Close() })
	return server, peer
}

func TestSendOverflowClosesSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	opts := DefaultOptions()
	opts.SendBuffer = 1
	gw := NewGateway(NewRegistry(), nil, nil, opts, logger.Discard())
	server, peer := upgradedConn(t, gw)

	// no pumps run, so nothing drains the queue
	client := gw.newClient(server, 9)
	client.state.Store(int32(StateAuthenticated))

	msg := &models.Message{ID: 1, SenderID: 1, ReceiverID: 9}
	assert.True(t, client.Deliver(msg))
	assert.False(t, client.Deliver(msg))
	assert.Equal(t, StateClosed, client.State())
	assert.False(t, client.Ack(msg, ""), "closed sessions accept nothing")

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := peer.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestStalledReceiverDoesNotBlockSubmit(t *testing.T) {
	opts := DefaultOptions()
	opts.SendBuffer = 8
	opts.WriteWait = 3 * time.Second
	h := newHarness(t, opts)

	// the receiver never reads, so its write pump ends up stuck on the socket
	h.dialOnline(t, 3)
	conn, ok := h.registry.Lookup(3)
	require.True(t, ok)
	receiver := conn.(*Client)

	content := strings.Repeat("x", 64<<10)
	var worst time.Duration
	for i := 0; i < 1000 && receiver.State() != StateClosed; i++ {
		start := time.Now()
		_, err := h.gateway.router.Submit(context.Background(), nil, 7, service.SubmitRequest{ReceiverID: 3, Content: &content})
		require.NoError(t, err)
		worst = max(worst, time.Since(start))
	}

	require.Equal(t, StateClosed, receiver.State(), "receiver should be dropped once its queue fills")
	assert.Less(t, worst, time.Second, "a stalled receiver held up the sender")
}

func TestSessionStartedAfterShutdownIsClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := NewRegistry()
	gw := NewGateway(registry, nil, nil, DefaultOptions(), logger.Discard())
	require.NoError(t, gw.Shutdown(context.Background()))

	server, peer := upgradedConn(t, gw)
	client := gw.newClient(server, 4)
	gw.start(client)

	assert.Equal(t, StateClosed, client.State())
	assert.Zero(t, registry.Count())

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := peer.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	conn, _ := h.dialOnline(t, 7)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.gateway.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, h.registry.Count())

	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	require.Error(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
