package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// Role is the registered role of a connection.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// socket is the slice of *websocket.Conn the gateway uses. Tests substitute
// an in-memory implementation.
type socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

var _ socket = (*websocket.Conn)(nil)

// Client is the per-connection state: the socket plus everything the
// registry tracks about it. All state access is mutex-guarded; writes to the
// socket are serialised separately so a slow send never blocks state reads.
type Client struct {
	id   string
	sock socket

	writeMu sync.Mutex

	mu             sync.Mutex
	role           Role
	name           string
	language       string
	sessionID      string
	classroomCode  string
	teacherID      string
	settings       map[string]any
	ttsServiceType string
	studentCounted bool
	alive          bool
	lastTouch      time.Time
}

// newClient wraps an accepted socket. New connections start alive.
func newClient(sock socket) *Client {
	return &Client{
		id:       uuid.NewString(),
		sock:     sock,
		settings: make(map[string]any),
		alive:    true,
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// Send marshals v and writes it as one text frame. Safe for concurrent use.
func (c *Client) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.Write(ctx, websocket.MessageText, data)
}

// Ping sends a low-level ping frame.
func (c *Client) Ping(ctx context.Context) error {
	return c.sock.Ping(ctx)
}

// Close performs a graceful close handshake.
func (c *Client) Close(code websocket.StatusCode, reason string) error {
	return c.sock.Close(code, reason)
}

// Terminate tears the socket down without a close handshake. Used by the
// health monitor on connections that stopped answering.
func (c *Client) Terminate() {
	_ = c.sock.CloseNow()
}

func (c *Client) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID re-homes the connection onto another session.
func (c *Client) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *Client) ClassroomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classroomCode
}

func (c *Client) SetClassroomCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classroomCode = code
}

func (c *Client) TeacherID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teacherID
}

// setTeacher records a successful teacher registration.
func (c *Client) setTeacher(teacherID, name, language, sessionID, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = RoleTeacher
	c.teacherID = teacherID
	c.name = name
	c.language = language
	c.sessionID = sessionID
	c.classroomCode = code
}

// setStudent records a successful student registration.
func (c *Client) setStudent(name, language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = RoleStudent
	c.name = name
	if language != "" {
		c.language = language
	}
}

func (c *Client) StudentCounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.studentCounted
}

func (c *Client) SetStudentCounted(counted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.studentCounted = counted
}

func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Client) SetAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = alive
}

// MergeSettings folds a settings payload and an optional ttsServiceType into
// the connection's client settings.
func (c *Client) MergeSettings(settings map[string]any, ttsServiceType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range settings {
		c.settings[k] = v
	}
	if ttsServiceType != "" {
		c.ttsServiceType = ttsServiceType
		c.settings["ttsServiceType"] = ttsServiceType
	}
}

// Settings returns a copy of the connection's client settings.
func (c *Client) Settings() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.settings))
	for k, v := range c.settings {
		out[k] = v
	}
	return out
}

// TTSServiceType returns the connection's preferred synthesis backend, if
// the client declared one.
func (c *Client) TTSServiceType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttsServiceType
}

// UseClientSpeech reports whether the client asked for browser-side speech.
func (c *Client) UseClientSpeech() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.settings["useClientSpeech"].(bool)
	return v
}

// Voice returns the client's preferred voice, if declared in settings.
func (c *Client) Voice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.settings["voice"].(string)
	return v
}

// shouldTouch reports whether a session-activity update is due, and if so
// records now as the last update. Activity updates are coalesced so chatty
// connections do not hammer the store.
func (c *Client) shouldTouch(now time.Time, interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastTouch) < interval {
		return false
	}
	c.lastTouch = now
	return true
}
