package ws

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/service"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/jwt"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// TokenVerifier checks a session token presented at handshake
type TokenVerifier interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// Submitter routes a message submitted on a session
type Submitter interface {
	Submit(ctx context.Context, origin service.Conn, senderID uint, req service.SubmitRequest) (*models.Message, error)
}

// Options configures sessions
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	SubmitTimeout  time.Duration
	SubmitRate     float64
	SubmitBurst    int
	CookieName     string
	AllowedOrigins []string
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		MaxMessageSize: 64 << 10,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		SubmitTimeout:  15 * time.Second,
		SubmitRate:     20,
		SubmitBurst:    40,
		CookieName:     middleware.TokenCookieName,
	}
}

// PingPeriod must stay below PongWait
func (o Options) PingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

type gatewayMetrics struct {
	sessions  metric.Int64UpDownCounter
	replaced  metric.Int64Counter
	overflows metric.Int64Counter
}

// Gateway authenticates WebSocket handshakes and runs the sessions
type Gateway struct {
	registry *Registry
	router   Submitter
	tokens   TokenVerifier
	opts     Options
	upgrader websocket.Upgrader
	validate *validator.Validate
	metrics  gatewayMetrics
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders session start against Shutdown
	mu     sync.Mutex
	closed bool
}

func NewGateway(registry *Registry, router Submitter, tokens TokenVerifier, opts Options, log *logger.Logger) *Gateway {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = def.SubmitTimeout
	}
	if opts.SubmitRate <= 0 {
		opts.SubmitRate = def.SubmitRate
	}
	if opts.SubmitBurst <= 0 {
		opts.SubmitBurst = def.SubmitBurst
	}
	if opts.CookieName == "" {
		opts.CookieName = def.CookieName
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		registry: registry,
		router:   router,
		tokens:   tokens,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  newGatewayMetrics(),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	g.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      g.checkOrigin,
	}
	return g
}

func newGatewayMetrics() gatewayMetrics {
	meter := otel.Meter("duo-chat/backend/internal/ws")
	sessions, _ := meter.Int64UpDownCounter("chat.sessions.active", metric.WithDescription("Open WebSocket sessions"))
	replaced, _ := meter.Int64Counter("chat.sessions.replaced", metric.WithDescription("Sessions superseded by a newer login"))
	overflows, _ := meter.Int64Counter("chat.sessions.overflow", metric.WithDescription("Sessions dropped because their send buffer filled"))
	return gatewayMetrics{sessions: sessions, replaced: replaced, overflows: overflows}
}

// checkOrigin allows same-host requests, non-browser clients and the
// configured origins
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	if slices.Contains(g.opts.AllowedOrigins, "*") || slices.Contains(g.opts.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (g *Gateway) token(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	return middleware.ExtractToken(c, g.opts.CookieName)
}

// Handle authenticates and upgrades GET /ws. Nothing is upgraded or
// registered unless the token verifies.
func (g *Gateway) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	select {
	case <-g.ctx.Done():
		_ = c.Error(apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "Server is shutting down"))
		c.Abort()
		return
	default:
	}

	token := g.token(c)
	if token == "" {
		_ = c.Error(apperrors.NewUnauthorizedError(apperrors.CodeUnauthorized, "Unauthorized - No Token Provided"))
		c.Abort()
		return
	}
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		log.Debug("websocket handshake rejected", "error", err.Error())
		_ = c.Error(apperrors.NewUnauthorizedError(apperrors.CodeInvalidToken, "Unauthorized - Invalid Token"))
		c.Abort()
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the response
		log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := g.newClient(conn, claims.UserID)
	g.start(client)
}

func (g *Gateway) newClient(conn *websocket.Conn, userID uint) *Client {
	sessionID := uuid.NewString()
	client := &Client{
		sessionID: sessionID,
		userID:    userID,
		conn:      conn,
		gateway:   g,
		limiter:   rate.NewLimiter(rate.Limit(g.opts.SubmitRate), g.opts.SubmitBurst),
		log:       g.log.WithSessionID(sessionID).With("user_id", userID),
		send:      make(chan []byte, g.opts.SendBuffer),
		done:      make(chan struct{}),
		drain:     make(chan struct{}),
	}
	client.state.Store(int32(StateUnauthenticated))
	return client
}

// start registers an authenticated client and runs its pumps. A client that
// arrives after Shutdown began is closed without being registered.
func (g *Gateway) start(client *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		client.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}

	client.state.Store(int32(StateAuthenticated))

	if prev := g.registry.Register(client.userID, client); prev != nil {
		g.metrics.replaced.Add(g.ctx, 1)
		client.log.Info("replacing previous session", "previous_session_id", prev.SessionID())
		if old, ok := prev.(*Client); ok {
			old.replace()
		} else {
			prev.Close()
		}
	}
	g.metrics.sessions.Add(g.ctx, 1)
	client.log.Info("session opened")

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump(g.ctx)
		g.release(client)
	}()
}

// release runs once per client after its read pump ends
func (g *Gateway) release(client *Client) {
	client.Close()
	removed := g.registry.Remove(client.userID, client.sessionID)
	g.metrics.sessions.Add(context.Background(), -1)
	client.log.Info("session closed", "unregistered", removed)
}

// Shutdown stops accepting sessions, closes the open ones and waits for
// their goroutines or ctx, whichever comes first.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.cancel()
	g.mu.Unlock()

	g.registry.Range(func(_ uint, conn service.Conn) bool {
		conn.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
