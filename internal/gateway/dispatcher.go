package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
)

// touchInterval coalesces session-activity updates: at most one store write
// per connection per interval.
const touchInterval = 30 * time.Second

// handleFrame parses one inbound text frame and routes it to its handler.
// Unparseable frames and unknown types are logged and dropped; no error is
// echoed to the client for either.
func (g *Gateway) handleFrame(ctx context.Context, c *Client, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		g.logger.Warn("dropping unparseable frame",
			"client_id", c.ID(), "size", len(data), "error", err)
		return
	}
	g.metrics.RecordFrame(ctx, f.Type)

	if requiresSession(f.Type) && !g.sessionLive(ctx, c) {
		g.expireSession(ctx, c)
		return
	}

	switch f.Type {
	case typeRegister:
		g.handleRegister(ctx, c, f)
	case typePing:
		g.handlePing(ctx, c, f)
	case typePong:
		// Alive flag is already refreshed by the read loop.
	case typeSettings:
		g.handleSettings(ctx, c, f)
		g.maybeTouch(ctx, c)
	case typeTranscription:
		g.maybeTouch(ctx, c)
		g.handleTranscription(ctx, c, f)
	case typeAudio:
		g.handleAudio(c, f)
		g.maybeTouch(ctx, c)
	case typeTTSRequest:
		g.handleTTSRequest(ctx, c, f)
	default:
		g.logger.Warn("unknown message type", "client_id", c.ID(), "type", f.Type)
	}
}

// requiresSession reports whether the frame type needs a live session.
func requiresSession(frameType string) bool {
	switch frameType {
	case typeRegister, typePing, typePong:
		return false
	}
	return true
}

// sessionLive reports whether the connection's session exists and is active.
func (g *Gateway) sessionLive(ctx context.Context, c *Client) bool {
	sessionID := c.SessionID()
	if sessionID == "" {
		return false
	}
	sess, err := g.storage.GetSession(ctx, sessionID)
	return err == nil && sess.IsActive
}

// expireSession tells the client its session is gone and schedules a 1008
// close, delayed so the frame is read before the socket drops.
func (g *Gateway) expireSession(ctx context.Context, c *Client) {
	g.logger.Info("dropping frame for expired session",
		"client_id", c.ID(), "session_id", c.SessionID())
	if err := c.Send(ctx, sessionExpiredFrame{Type: typeSessionExpired, Code: "SESSION_EXPIRED"}); err != nil {
		g.logger.Debug("failed to send session_expired", "client_id", c.ID(), "error", err)
	}
	time.AfterFunc(g.cfg.Gateway.SessionExpiredMessageDelay, func() {
		_ = c.Close(websocket.StatusPolicyViolation, "session expired")
	})
}

// maybeTouch refreshes the session's last-activity timestamp, coalesced per
// connection.
func (g *Gateway) maybeTouch(ctx context.Context, c *Client) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}
	now := g.now()
	if !c.shouldTouch(now, touchInterval) {
		return
	}
	if err := g.storage.TouchSession(ctx, sessionID, now); err != nil {
		g.logger.Warn("failed to touch session", "session_id", sessionID, "error", err)
	}
}
