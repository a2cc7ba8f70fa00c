// Package cdp implements a minimal DevTools protocol client: one duplex
// websocket connection carrying correlated request/response pairs and
// asynchronous events, multiplexing many target sessions.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
)

// Websocket buffer sizes. Evaluate results for large pages can run to a few
// megabytes.
const (
	readBufferSize  = 8 * 1024 * 1024
	writeBufferSize = 1 * 1024 * 1024
)

// Event is one protocol notification, already split from the response stream.
type Event struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

// EventHandler receives dispatched events. Handlers run on the read loop and
// must not block.
type EventHandler func(ev Event)

type subscription struct {
	method    string
	sessionID string
	fn        EventHandler
}

// Client owns one DevTools websocket connection. All methods are safe for
// concurrent use; Send never blocks other callers while awaiting its reply.
type Client struct {
	endpoint string
	logger   *zap.Logger
	conn     *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *cdproto.Message
	subs    []*subscription
	closed  bool

	done     chan struct{}
	readDone chan struct{}
}

// Dial establishes the duplex connection and starts the read loop. A failure
// here is fatal for the whole run and is reported as a ConnectError.
func Dial(ctx context.Context, endpoint string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := &websocket.Dialer{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, &audit.ConnectError{Endpoint: endpoint, Err: err}
	}

	c := &Client{
		endpoint: endpoint,
		logger:   logger,
		conn:     conn,
		pending:  make(map[int64]chan *cdproto.Message),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send transmits one correlated request and blocks until the matching reply,
// context cancellation, or connection teardown. An empty sessionID routes the
// command to the browser target.
func (c *Client) Send(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error) {
	var raw easyjson.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal params: %w", method, err)
		}
		raw = encoded
	}

	id := c.nextID.Add(1)
	ch := make(chan *cdproto.Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, audit.ErrConnectionClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg := &cdproto.Message{
		ID:        id,
		SessionID: target.SessionID(sessionID),
		Method:    cdproto.MethodType(method),
		Params:    raw,
	}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, audit.ErrConnectionClosed
		}
		if reply.Error != nil {
			return nil, &audit.RemoteError{Method: method, Code: reply.Error.Code, Message: reply.Error.Message}
		}
		return json.RawMessage(reply.Result), nil
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// SendInto sends a command and unmarshals its result into out when non-nil.
func (c *Client) SendInto(ctx context.Context, method string, params, out any, sessionID string) error {
	res, err := c.Send(ctx, method, params, sessionID)
	if err != nil {
		return err
	}
	if out == nil || len(res) == 0 {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("%s: unmarshal result: %w", method, err)
	}
	return nil
}

// Subscribe registers a persistent handler for every event of the given
// method, regardless of session. The returned function removes it.
func (c *Client) Subscribe(method string, fn EventHandler) func() {
	return c.subscribe(method, "", fn)
}

// SubscribeSession is Subscribe filtered to one session id.
func (c *Client) SubscribeSession(method, sessionID string, fn EventHandler) func() {
	return c.subscribe(method, sessionID, fn)
}

func (c *Client) subscribe(method, sessionID string, fn EventHandler) func() {
	sub := &subscription{method: method, sessionID: sessionID, fn: fn}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s == sub {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// WaitForEvent blocks until the first event of the given method arrives, the
// timeout elapses, or the context finishes. Its temporary subscription is
// removed on every exit path.
func (c *Client) WaitForEvent(ctx context.Context, method string, timeout time.Duration) (json.RawMessage, error) {
	return c.waitEvent(ctx, method, "", timeout)
}

// WaitForSessionEvent is WaitForEvent filtered to one session id.
func (c *Client) WaitForSessionEvent(ctx context.Context, method, sessionID string, timeout time.Duration) (json.RawMessage, error) {
	return c.waitEvent(ctx, method, sessionID, timeout)
}

func (c *Client) waitEvent(ctx context.Context, method, sessionID string, timeout time.Duration) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	var once sync.Once
	off := c.subscribe(method, sessionID, func(ev Event) {
		once.Do(func() { ch <- ev.Params })
	})
	defer off()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case params := <-ch:
		return params, nil
	case <-timer.C:
		return nil, &audit.TimeoutError{Op: "wait for " + method, Limit: timeout}
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for %s: %w", method, ctx.Err())
	case <-c.done:
		return nil, audit.ErrConnectionClosed
	}
}

// Close terminates the connection and synchronously rejects every outstanding
// request with ErrConnectionClosed. Safe to call more than once.
func (c *Client) Close() error {
	first := c.teardown()
	if !first {
		return nil
	}
	err := c.conn.Close()
	<-c.readDone
	if err != nil {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}

// teardown marks the client closed and rejects outstanding requests. Returns
// false when already closed.
func (c *Client) teardown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
	return true
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.teardown() {
				c.logger.Debug("devtools read loop ended", zap.Error(err))
				_ = c.conn.Close()
			}
			return
		}

		var msg cdproto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed devtools frame", zap.Error(err))
			continue
		}

		switch {
		case msg.ID != 0:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if !ok {
				// Reply for a request that already timed out.
				continue
			}
			ch <- &msg
		case msg.Method != "":
			c.dispatch(Event{
				Method:    string(msg.Method),
				SessionID: string(msg.SessionID),
				Params:    json.RawMessage(msg.Params),
			})
		default:
			c.logger.Debug("ignoring devtools frame without id or method")
		}
	}
}

func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	matched := make([]EventHandler, 0, 4)
	for _, sub := range c.subs {
		if sub.method != ev.Method {
			continue
		}
		if sub.sessionID != "" && sub.sessionID != ev.SessionID {
			continue
		}
		matched = append(matched, sub.fn)
	}
	c.mu.Unlock()

	for _, fn := range matched {
		fn(ev)
	}
}

// pendingCount reports the number of in-flight requests. Test hook.
func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// subCount reports the number of live subscriptions. Test hook.
func (c *Client) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
