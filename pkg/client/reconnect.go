package client

import (
	"context"
	"errors"
	"time"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

// connectionLost decides what happens after the read loop of s ends
func (c *Client) connectionLost(s *session) {
	c.mu.Lock()
	if c.sess != s {
		// Replaced or detached on purpose
		c.mu.Unlock()
		return
	}
	c.sess = nil

	prev := c.state
	retry := prev == stateAuthenticated && !c.intentional.Load() && !c.forced.Load()
	switch {
	case retry:
		c.state = stateReconnecting
	case prev != stateReconnecting:
		c.state = stateDisconnected
	}
	ctx := c.runCtx
	c.mu.Unlock()

	if prev == stateReconnecting {
		// The reconnect loop owns this session and will notice
		return
	}

	if retry {
		c.log.Warn("Connection lost, reconnecting")
		c.ui.AppendSystemMessage("Connection lost. Reconnecting...")
		c.wg.Add(1)
		go c.reconnectLoop(ctx)
		return
	}

	switch {
	case c.forced.Load():
		c.log.Info("Session replaced by another login, not reconnecting")
		c.ui.AppendSystemMessage("Disconnected: your account logged in from another location.")
	case !c.intentional.Load():
		c.ui.AppendSystemMessage("Disconnected from server.")
	}
}

// reconnectLoop retries at a fixed delay until a session is restored,
// the credentials are rejected or the client is shut down
func (c *Client) reconnectLoop(ctx context.Context) {
	defer c.wg.Done()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
		if c.intentional.Load() {
			return
		}

		err := c.reconnect(ctx)
		switch {
		case err == nil:
			c.e2ee.Reset()
			c.log.WithField("attempt", attempt).Info("Reconnected")
			c.ui.AppendSystemMessage("Connection restored. Automatic resume possible.")
			if c.OnReconnect != nil {
				c.OnReconnect()
			}
			return

		case errors.Is(err, ErrAuthFailed):
			c.mu.Lock()
			c.state = stateDisconnected
			c.mu.Unlock()
			c.log.WithError(err).Error("Reconnect rejected")
			c.ui.AppendSystemMessage("Reconnect failed (Auth Error).")
			return

		case ctx.Err() != nil:
			return

		default:
			c.log.WithError(err).WithField("attempt", attempt).Warn("Reconnection failed")
			c.ui.AppendSystemMessage("Reconnection failed. Retrying...")
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}

	c.mu.RLock()
	username, hashed := c.username, c.password
	c.mu.RUnlock()

	if err := c.authenticate(ctx, username, hashed); err != nil {
		c.detach(s)
		return err
	}
	return nil
}

// startHeartbeat keeps s alive until it closes or the client shuts down
func (c *Client) startHeartbeat(ctx context.Context, s *session) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				if err := s.sc.WritePacket(protocol.NewPacket(protocol.TypeHeartbeat)); err != nil {
					c.log.WithError(err).Warn("Heartbeat failed")
				}
			}
		}
	}()
}
