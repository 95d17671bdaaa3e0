package gateway

import (
	"context"
	"time"
)

// pingTimeout bounds the low-level ping of one connection during a health
// sweep.
const pingTimeout = 5 * time.Second

// RunHealthCheck pings every connection on the configured cadence until ctx
// is cancelled. A connection that did not produce any frame since the
// previous sweep is terminated.
func (g *Gateway) RunHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Scaled(g.cfg.Gateway.HealthCheckInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepConnections(ctx)
		}
	}
}

// sweepConnections performs one health pass: dead sockets are terminated,
// live ones are marked pending and pinged both at the protocol level and
// with an application-level ping frame. Any inbound frame flips the
// connection back to alive.
func (g *Gateway) sweepConnections(ctx context.Context) {
	terminated := 0
	for _, c := range g.registry.All() {
		if !c.Alive() {
			g.logger.Info("terminating unresponsive connection",
				"client_id", c.ID(), "role", string(c.Role()))
			c.Terminate()
			terminated++
			continue
		}
		c.SetAlive(false)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		if err := c.Ping(pingCtx); err != nil {
			g.logger.Debug("low-level ping failed", "client_id", c.ID(), "error", err)
		}
		if err := c.Send(pingCtx, pingFrame{Type: typePing, Timestamp: g.now().UnixMilli()}); err != nil {
			g.logger.Debug("application ping failed", "client_id", c.ID(), "error", err)
		}
		cancel()
	}
	if terminated > 0 {
		g.logger.Info("health sweep", "terminated", terminated, "remaining", g.registry.Len())
	}
}
