// Package gateway is the WebSocket front of the relay: it accepts classroom
// connections, tracks per-connection state in a registry, dispatches inbound
// frames to typed handlers, and monitors connection health. Frame handling is
// serial per connection; everything cross-connection goes through the
// registry, the lifecycle manager, or the store.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/babelclass/babelclass/internal/classroom"
	"github.com/babelclass/babelclass/internal/config"
	"github.com/babelclass/babelclass/internal/lifecycle"
	"github.com/babelclass/babelclass/internal/observe"
	"github.com/babelclass/babelclass/internal/relay"
	"github.com/babelclass/babelclass/internal/store"
)

// maxFrameBytes caps inbound frame size. Audio frames are the largest
// legitimate payload.
const maxFrameBytes = 1 << 20

// Storage is the slice of the durable store the gateway uses.
type Storage interface {
	store.SessionStore
	store.TranscriptStore
}

// Gateway owns the WebSocket endpoint and its connection registry.
type Gateway struct {
	storage   Storage
	lifecycle *lifecycle.Manager
	directory *classroom.Directory
	relay     *relay.Orchestrator
	provider  relay.Provider
	registry  *Registry
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time
}

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// withNow overrides the clock. Tests only.
func withNow(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway.
func New(storage Storage, lc *lifecycle.Manager, dir *classroom.Directory, orch *relay.Orchestrator, provider relay.Provider, cfg *config.Config, opts ...Option) *Gateway {
	g := &Gateway{
		storage:   storage,
		lifecycle: lc,
		directory: dir,
		relay:     orch,
		provider:  provider,
		registry:  NewRegistry(),
		cfg:       cfg,
		logger:    slog.Default(),
		metrics:   observe.DefaultMetrics(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Registry exposes the connection registry for the health endpoint.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// ServeHTTP upgrades the request to a WebSocket and runs its read loop until
// the connection closes. A classroom code may arrive as ?code= or ?class=;
// an invalid one refuses the connection with INVALID_CLASSROOM.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if code == "" {
		code = strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("class")))
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Error("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	c := newClient(conn)

	if code != "" {
		if !g.directory.IsValid(code) {
			g.logger.Info("connection refused: invalid classroom code",
				"code", code, "remote", r.RemoteAddr)
			_ = c.Send(ctx, errorFrame{Type: typeError, Code: "INVALID_CLASSROOM", Message: "Classroom code is invalid or expired"})
			time.Sleep(g.cfg.Gateway.InvalidClassroomMessageDelay)
			_ = conn.Close(websocket.StatusPolicyViolation, "invalid classroom code")
			return
		}
		if entry, ok := g.directory.GetByCode(code); ok {
			c.SetSessionID(entry.SessionID)
			c.SetClassroomCode(code)
		}
	}

	g.registry.Add(c)
	g.metrics.ActiveConnections.Add(ctx, 1)
	defer g.teardown(context.WithoutCancel(ctx), c)

	g.logger.Info("connection opened", "client_id", c.ID(), "code", code, "remote", r.RemoteAddr)
	if err := c.Send(ctx, connectionFrame{Type: typeConnection, Status: "connected", ClientID: c.ID()}); err != nil {
		g.logger.Warn("failed to send connection greeting", "client_id", c.ID(), "error", err)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				g.logger.Debug("websocket read ended", "client_id", c.ID(), "error", err)
			}
			return
		}
		c.SetAlive(true)
		if typ != websocket.MessageText {
			g.metrics.RecordFrame(ctx, "binary")
			continue
		}
		g.handleFrame(ctx, c, data)
	}
}

// teardown runs once per connection, after the read loop exits: it removes
// the connection from the registry and applies role-specific disconnect
// semantics.
func (g *Gateway) teardown(ctx context.Context, c *Client) {
	g.registry.Remove(c)
	g.metrics.ActiveConnections.Add(ctx, -1)

	sessionID := c.SessionID()
	switch c.Role() {
	case RoleStudent:
		if c.StudentCounted() && sessionID != "" {
			remaining, err := g.storage.AdjustStudentsCount(ctx, sessionID, -1)
			if err != nil {
				g.logger.Error("failed to decrement student count",
					"session_id", sessionID, "error", err)
			} else {
				g.lifecycle.StudentLeft(sessionID, remaining)
			}
		}
	case RoleTeacher:
		if sessionID != "" {
			g.lifecycle.TeacherDisconnected(ctx, sessionID, c.TeacherID() != "")
		}
	}

	g.logger.Info("connection closed",
		"client_id", c.ID(), "role", string(c.Role()), "session_id", sessionID)
}
