package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"
)

// Session is one attached browsing context: a target and the session id that
// routes commands to it. A session belongs to exactly one in-flight task.
type Session struct {
	TargetID  target.ID
	SessionID target.SessionID

	client *Client
	logger *zap.Logger
}

// BindSession opens a fresh blank target and attaches to it in flat mode, so
// commands can be routed with a plain sessionId field.
func (c *Client) BindSession(ctx context.Context) (*Session, error) {
	var created target.CreateTargetReturns
	if err := c.SendInto(ctx, "Target.createTarget", target.CreateTarget("about:blank"), &created, ""); err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	var attached target.AttachToTargetReturns
	params := target.AttachToTarget(created.TargetID).WithFlatten(true)
	if err := c.SendInto(ctx, "Target.attachToTarget", params, &attached, ""); err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", created.TargetID, err)
	}

	return &Session{
		TargetID:  created.TargetID,
		SessionID: attached.SessionID,
		client:    c,
		logger:    c.logger,
	}, nil
}

// Send routes a command through this session.
func (s *Session) Send(ctx context.Context, method string, params any) (res []byte, err error) {
	return s.client.Send(ctx, method, params, string(s.SessionID))
}

// SendInto routes a command through this session and decodes the result.
func (s *Session) SendInto(ctx context.Context, method string, params, out any) error {
	return s.client.SendInto(ctx, method, params, out, string(s.SessionID))
}

// WaitForEvent blocks for the first matching event on this session.
func (s *Session) WaitForEvent(ctx context.Context, method string, timeout time.Duration) ([]byte, error) {
	raw, err := s.client.WaitForSessionEvent(ctx, method, string(s.SessionID), timeout)
	return []byte(raw), err
}

// Subscribe registers a session-filtered handler.
func (s *Session) Subscribe(method string, fn EventHandler) func() {
	return s.client.SubscribeSession(method, string(s.SessionID), fn)
}

// Close detaches and closes the underlying target. Errors are logged, not
// returned: teardown runs after the task result is already decided.
func (s *Session) Close(ctx context.Context) {
	detach := target.DetachFromTarget().WithSessionID(s.SessionID)
	if _, err := s.client.Send(ctx, "Target.detachFromTarget", detach, ""); err != nil {
		s.logger.Debug("detach from target failed", zap.String("target_id", string(s.TargetID)), zap.Error(err))
	}
	if _, err := s.client.Send(ctx, "Target.closeTarget", target.CloseTarget(s.TargetID), ""); err != nil {
		s.logger.Debug("close target failed", zap.String("target_id", string(s.TargetID)), zap.Error(err))
	}
}
