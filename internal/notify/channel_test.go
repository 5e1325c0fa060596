package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/rs/zerolog"
)

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{msgs: make(chan []byte, len(msgs)), closed: make(chan struct{})}
	for _, m := range msgs {
		c.msgs <- []byte(m)
	}
	close(c.msgs)
	return c
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// blockingConn never delivers anything until closed
type blockingConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *blockingConn) ReadMessage() ([]byte, error) {
	<-c.closed
	return nil, errors.New("use of closed connection")
}

func (c *blockingConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeTransport struct {
	dials atomic.Int32
	dial  func(n int) (Conn, error)
}

func (t *fakeTransport) Connect(ctx context.Context, address string) (Conn, error) {
	n := int(t.dials.Add(1))
	return t.dial(n)
}

func testPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   1.5,
		MaxAttempts:  attempts,
		JoinTimeout:  time.Second,
	}
}

func event(uid string) string {
	return fmt.Sprintf(`{"%s":{"vr":"UI","Value":["%s"]},"%s":{"vr":"US","Value":[5]}}`,
		models.TagAffectedSOPInstanceUID, uid, models.TagEventTypeID)
}

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not stop")
	}
}

func TestChannelDispatchesEachEvent(t *testing.T) {
	transport := &fakeTransport{dial: func(n int) (Conn, error) {
		if n == 1 {
			return newFakeConn(event("1.2.3.1"), event("1.2.3.2"), event("1.2.3.3")), nil
		}
		return nil, errors.New("connection refused")
	}}

	ch := NewChannel(transport, testPolicy(1), zerolog.Nop(), nil)
	ch.SetAddress("ws://example.com/subscribers/TEST_AE")

	var mu sync.Mutex
	seen := map[string]bool{}
	calls := 0
	err := ch.Connect(func(ev *models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		seen[ev.AffectedSOPInstanceUID()] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, ch)

	if calls != 3 {
		t.Fatalf("expected 3 handler calls, got %d", calls)
	}
	for _, uid := range []string{"1.2.3.1", "1.2.3.2", "1.2.3.3"} {
		if !seen[uid] {
			t.Errorf("event for %s not delivered", uid)
		}
	}
}

func TestChannelDropsInvalidJSON(t *testing.T) {
	transport := &fakeTransport{dial: func(n int) (Conn, error) {
		return newFakeConn("not json {"), nil
	}}

	ch := NewChannel(transport, testPolicy(1), zerolog.Nop(), nil)
	ch.SetAddress("ws://example.com/subscribers/TEST_AE")

	var calls atomic.Int32
	if err := ch.Connect(func(ev *models.Event) error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, ch)

	if calls.Load() != 0 {
		t.Fatalf("handler should not be invoked, got %d calls", calls.Load())
	}
	if ch.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", ch.State())
	}
	if ch.Running() {
		t.Fatal("channel should not be running")
	}
	if !errors.Is(ch.Err(), ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", ch.Err())
	}
}

func TestChannelHandlerFailuresAreContained(t *testing.T) {
	transport := &fakeTransport{dial: func(n int) (Conn, error) {
		if n == 1 {
			return newFakeConn(event("1.1"), event("1.2"), event("1.3")), nil
		}
		return nil, errors.New("connection refused")
	}}

	ch := NewChannel(transport, testPolicy(1), zerolog.Nop(), nil)
	ch.SetAddress("ws://example.com/ch")

	var calls atomic.Int32
	err := ch.Connect(func(ev *models.Event) error {
		switch calls.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("handler failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, ch)

	if calls.Load() != 3 {
		t.Fatalf("expected all 3 events to reach the handler, got %d", calls.Load())
	}
}

func TestChannelReconnectsUntilExhausted(t *testing.T) {
	transport := &fakeTransport{dial: func(n int) (Conn, error) {
		return nil, errors.New("connection refused")
	}}

	ch := NewChannel(transport, testPolicy(3), zerolog.Nop(), nil)
	ch.SetAddress("ws://example.com/ch")
	if err := ch.Connect(nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, ch)

	if got := transport.dials.Load(); got != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", got)
	}
	if !errors.Is(ch.Err(), ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", ch.Err())
	}
}

func TestChannelConnectRequiresAddress(t *testing.T) {
	transport := &fakeTransport{dial: func(n int) (Conn, error) {
		return newFakeConn(), nil
	}}
	ch := NewChannel(transport, testPolicy(1), zerolog.Nop(), nil)

	if err := ch.Connect(nil); !errors.Is(err, ErrNoChannelAddress) {
		t.Fatalf("expected ErrNoChannelAddress, got %v", err)
	}
	if ch.State() != StateIdle || ch.Running() {
		t.Fatalf("channel should stay idle, got %s", ch.State())
	}
	if transport.dials.Load() != 0 {
		t.Fatal("no dial expected without an address")
	}
}

func TestChannelDisconnect(t *testing.T) {
	transport := &fakeTransport{dial: func(n int) (Conn, error) {
		return &blockingConn{closed: make(chan struct{})}, nil
	}}
	ch := NewChannel(transport, testPolicy(10), zerolog.Nop(), nil)

	// not connected yet
	ch.Disconnect()

	ch.SetAddress("ws://example.com/ch")
	if err := ch.Connect(nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := ch.Connect(nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for ch.State() != StateConnected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ch.State() != StateConnected {
		t.Fatalf("expected CONNECTED, got %s", ch.State())
	}

	ch.Disconnect()
	ch.Disconnect()

	if ch.Running() {
		t.Fatal("channel still running after Disconnect")
	}
	if ch.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", ch.State())
	}
	if ch.Err() != nil {
		t.Fatalf("deliberate disconnect should leave no error, got %v", ch.Err())
	}
}

func TestReconnectPolicyBackoff(t *testing.T) {
	p := DefaultReconnectPolicy()
	d := p.InitialDelay
	want := []time.Duration{
		7500 * time.Millisecond,
		11250 * time.Millisecond,
		16875 * time.Millisecond,
	}
	for i, w := range want {
		d = p.next(d)
		if d != w {
			t.Fatalf("step %d: expected %s, got %s", i, w, d)
		}
	}
	if got := p.next(50 * time.Second); got != p.MaxDelay {
		t.Fatalf("expected delay capped at %s, got %s", p.MaxDelay, got)
	}
}

func TestResolveAddress(t *testing.T) {
	got := ResolveAddress("http://pacs.local/dicom-web", "/subscribers/AE")
	if got != "http://pacs.local/subscribers/AE" {
		t.Fatalf("unexpected address %s", got)
	}
	abs := "ws://other/ch"
	if got := ResolveAddress("http://pacs.local", abs); got != abs {
		t.Fatalf("absolute address changed: %s", got)
	}
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(event("1.2.3")))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(event("1.2.4")))
	}))
	defer srv.Close()

	transport := NewWebSocketTransport(nil, time.Second, "secret")
	ch := NewChannel(transport, testPolicy(1), zerolog.Nop(), nil)
	ch.SetAddress(srv.URL + "/subscribers/TEST_AE")

	var got []string
	var mu sync.Mutex
	if err := ch.Connect(func(ev *models.Event) error {
		mu.Lock()
		got = append(got, ev.AffectedSOPInstanceUID())
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, ch)

	if strings.Join(got, ",") != "1.2.3,1.2.4" {
		t.Fatalf("unexpected events %v", got)
	}
	if auth.Load() != "Bearer secret" {
		t.Fatalf("unexpected Authorization header %v", auth.Load())
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := map[string]string{
		"http://a/b":  "ws://a/b",
		"https://a/b": "wss://a/b",
		"ws://a/b":    "ws://a/b",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		if err != nil || got != want {
			t.Errorf("websocketURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := websocketURL("ftp://a/b"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}
