package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
)

// fakeEndpoint is a scripted DevTools endpoint: the reply function decides
// which frames go back for each inbound command.
type fakeEndpoint struct {
	t     *testing.T
	srv   *httptest.Server
	url   string
	reply func(msg *cdproto.Message) []string

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeEndpoint(t *testing.T, reply func(msg *cdproto.Message) []string) *fakeEndpoint {
	t.Helper()
	fe := &fakeEndpoint{t: t, reply: reply}
	upgrader := websocket.Upgrader{}
	fe.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fe.mu.Lock()
		fe.conn = conn
		fe.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg cdproto.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if fe.reply == nil {
				continue
			}
			for _, frame := range fe.reply(&msg) {
				fe.send(frame)
			}
		}
	}))
	t.Cleanup(fe.srv.Close)
	fe.url = "ws" + strings.TrimPrefix(fe.srv.URL, "http")
	return fe
}

// send pushes one raw frame to the connected client.
func (fe *fakeEndpoint) send(frame string) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.conn == nil {
		fe.t.Fatal("no client connected")
	}
	if err := fe.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		fe.t.Logf("fake endpoint write: %v", err)
	}
}

// waitConnected blocks until the server side accepted the websocket.
func (fe *fakeEndpoint) waitConnected(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fe.mu.Lock()
		ok := fe.conn != nil
		fe.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never connected")
}

func echoResult(result string) func(msg *cdproto.Message) []string {
	return func(msg *cdproto.Message) []string {
		reply, _ := json.Marshal(map[string]any{"id": msg.ID, "result": json.RawMessage(result)})
		return []string{string(reply)}
	}
}

func dial(t *testing.T, fe *fakeEndpoint) *Client {
	t.Helper()
	client, err := Dial(context.Background(), fe.url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDialFailureIsConnectError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/devtools", zap.NewNop())
	require.Error(t, err)
	var connErr *audit.ConnectError
	require.ErrorAs(t, err, &connErr)
}

func TestSendResolvesAndClearsPending(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, echoResult(`{"answer":42}`))
	client := dial(t, fe)

	res, err := client.Send(context.Background(), "Browser.getVersion", nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":42}`, string(res))
	assert.Zero(t, client.pendingCount())
}

func TestSendSurfacesRemoteError(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, func(msg *cdproto.Message) []string {
		reply, _ := json.Marshal(map[string]any{
			"id":    msg.ID,
			"error": map[string]any{"code": -32000, "message": "Cannot navigate to invalid URL"},
		})
		return []string{string(reply)}
	})
	client := dial(t, fe)

	_, err := client.Send(context.Background(), "Page.navigate", map[string]string{"url": "nope"}, "")
	var remoteErr *audit.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "Page.navigate", remoteErr.Method)
	assert.Equal(t, "Cannot navigate to invalid URL", remoteErr.Message)
	assert.Zero(t, client.pendingCount())
}

func TestCloseRejectsAllOutstanding(t *testing.T) {
	t.Parallel()

	// Never reply, so every request stays pending.
	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)

	const outstanding = 5
	errs := make(chan error, outstanding)
	for i := 0; i < outstanding; i++ {
		go func() {
			_, err := client.Send(context.Background(), "Page.enable", nil, "")
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		return client.pendingCount() == outstanding
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())

	for i := 0; i < outstanding; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, audit.ErrConnectionClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("request not rejected after close")
		}
	}
	assert.Zero(t, client.pendingCount())
}

func TestSendAfterCloseFailsFast(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)
	require.NoError(t, client.Close())

	_, err := client.Send(context.Background(), "Page.enable", nil, "")
	assert.ErrorIs(t, err, audit.ErrConnectionClosed)
}

func TestEventDispatchHonorsSessionFilter(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)
	fe.waitConnected(t)

	all := make(chan Event, 4)
	only := make(chan Event, 4)
	offAll := client.Subscribe("Page.loadEventFired", func(ev Event) { all <- ev })
	defer offAll()
	offOnly := client.SubscribeSession("Page.loadEventFired", "SESSION-A", func(ev Event) { only <- ev })
	defer offOnly()

	fe.send(`{"method":"Page.loadEventFired","params":{"timestamp":1},"sessionId":"SESSION-A"}`)
	fe.send(`{"method":"Page.loadEventFired","params":{"timestamp":2},"sessionId":"SESSION-B"}`)

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(2 * time.Second):
			t.Fatal("unfiltered subscription missed an event")
		}
	}

	select {
	case ev := <-only:
		assert.Equal(t, "SESSION-A", ev.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("session subscription missed its event")
	}
	select {
	case ev := <-only:
		t.Fatalf("session subscription fired for foreign session %q", ev.SessionID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)
	fe.waitConnected(t)

	got := make(chan Event, 1)
	off := client.Subscribe("Network.loadingFinished", func(ev Event) { got <- ev })
	off()
	off() // idempotent

	fe.send(`{"method":"Network.loadingFinished","params":{}}`)
	select {
	case <-got:
		t.Fatal("handler fired after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, client.subCount())
}

func TestWaitForEventSuccessAndCleanup(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)
	fe.waitConnected(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		params, err := client.WaitForSessionEvent(context.Background(), "Page.loadEventFired", "S1", 2*time.Second)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"timestamp":3}`, string(params))
	}()

	require.Eventually(t, func() bool { return client.subCount() == 1 }, time.Second, 5*time.Millisecond)
	fe.send(`{"method":"Page.loadEventFired","params":{"timestamp":3},"sessionId":"S1"}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait never resolved")
	}
	assert.Zero(t, client.subCount())
}

func TestWaitForEventTimeoutRemovesSubscription(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)

	_, err := client.WaitForEvent(context.Background(), "Page.loadEventFired", 50*time.Millisecond)
	var timeoutErr *audit.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, audit.IsTransient(err))
	assert.Zero(t, client.subCount())
}

func TestMalformedAndUnmatchedFramesAreIgnored(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, echoResult(`{}`))
	client := dial(t, fe)
	fe.waitConnected(t)

	fe.send(`this is not json`)
	fe.send(`{"id":99999,"result":{}}`)
	fe.send(`{"foo":"bar"}`)

	// The connection must still correlate after the garbage.
	res, err := client.Send(context.Background(), "Target.getTargets", nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(res))
}

func TestRemoteCloseRejectsWaiters(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)
	fe.waitConnected(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), "Page.enable", nil, "")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return client.pendingCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	fe.mu.Lock()
	_ = fe.conn.Close()
	fe.mu.Unlock()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, audit.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("request not rejected after remote close")
	}
}

func TestBindSessionRoundTrip(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, func(msg *cdproto.Message) []string {
		var result string
		switch string(msg.Method) {
		case "Target.createTarget":
			var params struct {
				URL string `json:"url"`
			}
			_ = json.Unmarshal(msg.Params, &params)
			if params.URL != "about:blank" {
				return nil
			}
			result = `{"targetId":"TARGET-1"}`
		case "Target.attachToTarget":
			result = `{"sessionId":"SESSION-1"}`
		default:
			result = `{}`
		}
		reply, _ := json.Marshal(map[string]any{"id": msg.ID, "result": json.RawMessage(result)})
		return []string{string(reply)}
	})
	client := dial(t, fe)

	sess, err := client.BindSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TARGET-1", string(sess.TargetID))
	assert.Equal(t, "SESSION-1", string(sess.SessionID))

	// Session teardown should not error even though replies are generic.
	sess.Close(context.Background())
}

func TestSendContextCancellationForgetsPending(t *testing.T) {
	t.Parallel()

	fe := newFakeEndpoint(t, nil)
	client := dial(t, fe)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, "Page.enable", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, client.pendingCount())
}
