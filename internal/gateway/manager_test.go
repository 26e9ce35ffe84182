package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/user/blimp/internal/state"
)

// fakeConn delivers queued frames and records writes.
type fakeConn struct {
	in        chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			if c.closeErr != nil {
				return 0, nil, c.closeErr
			}
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(frame string) { c.in <- []byte(frame) }

// peerClose simulates the server dropping the socket.
func (c *fakeConn) peerClose() { close(c.in) }

// peerCloseCode simulates the server closing with a close frame.
func (c *fakeConn) peerCloseCode(code int) {
	c.closeErr = &websocket.CloseError{Code: code}
	close(c.in)
}

// fakeDialer hands out conns in order, then blocks until ctx is done.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	if d.err != nil {
		d.mu.Unlock()
		return nil, d.err
	}
	if len(d.conns) > 0 {
		c := d.conns[0]
		d.conns = d.conns[1:]
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

var testCreds = Credentials{
	Token:      "secret-token",
	Intents:    IntentGuildMessages,
	Properties: Properties{OS: "linux", Browser: "blimp", Device: "blimp"},
}

func nextWrite(t *testing.T, c *fakeConn) Envelope {
	t.Helper()
	select {
	case data := <-c.writes:
		env, err := Decode(data)
		if err != nil {
			t.Fatalf("client wrote undecodable frame %s: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a handshake")
	}
	return Envelope{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startManager(t *testing.T, m *Manager) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		ch <- m.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancelFn()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
	})
	return cancelFn, ch
}

func bodyString(t *testing.T, env Envelope, key string) string {
	t.Helper()
	f, _ := env.Body.Field(key)
	s, _ := f.AsString()
	return s
}

func TestManagerReadyOpensSession(t *testing.T) {
	m := NewManager(testCreds, nil)

	m.HandleFrame(context.Background(), []byte(`{"op":0,"t":"READY","s":1,"d":{"session_id":"S1"}}`))

	if id, ok := m.Session().CurrentID(); !ok || id != "S1" {
		t.Errorf("expected session S1, got %q", id)
	}
	if m.State() != StateOpen {
		t.Errorf("expected open, got %s", m.State())
	}
	if seq, _ := m.Session().LastSequence(); seq != 1 {
		t.Errorf("expected sequence 1, got %d", seq)
	}
}

func TestManagerForwardsMessageCreate(t *testing.T) {
	h := &recordingHandler{}
	m := NewManager(testCreds, NewRouter(h, nil))

	m.HandleFrame(context.Background(), []byte(`{"op":0,"t":"MESSAGE_CREATE","s":2,"d":{
		"content":"thanks!",
		"channel_id":"C1",
		"mentions":[{"id":"42","username":"ann","discriminator":"0001"}]
	}}`))

	msgs := h.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "thanks!" || msgs[0].ChannelID != "C1" {
		t.Errorf("unexpected message %+v", msgs[0])
	}
	if len(msgs[0].Mentions) != 1 || msgs[0].Mentions[0].ID != "42" {
		t.Errorf("unexpected mentions %+v", msgs[0].Mentions)
	}
}

func TestManagerDropsUndecodableFrame(t *testing.T) {
	m := NewManager(testCreds, nil)
	m.HandleFrame(context.Background(), []byte(`{"op":0,"t":"READY","s":4,"d":{"session_id":"S1"}}`))

	m.HandleFrame(context.Background(), []byte("not json"))
	m.HandleFrame(context.Background(), []byte(`{"op":99,"d":{}}`))

	if m.State() != StateOpen {
		t.Errorf("expected state unchanged, got %s", m.State())
	}
	if id, _ := m.Session().CurrentID(); id != "S1" {
		t.Errorf("expected session unchanged, got %q", id)
	}
	if seq, _ := m.Session().LastSequence(); seq != 4 {
		t.Errorf("expected sequence unchanged, got %d", seq)
	}
}

func TestManagerNextHandshake(t *testing.T) {
	m := NewManager(testCreds, nil)
	if hs := m.nextHandshake(); hs.Op != OpIdentify {
		t.Errorf("expected identify without a session, got %s", hs.Op)
	}

	m.Session().MarkReady("abc")
	hs := m.nextHandshake()
	if hs.Op != OpResume {
		t.Fatalf("expected resume with a session, got %s", hs.Op)
	}
	if got := bodyString(t, hs, "session_id"); got != "abc" {
		t.Errorf("expected session_id abc, got %q", got)
	}
}

func TestManagerResumesAfterClosure(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	h := &recordingHandler{}
	m := NewManager(testCreds, NewRouter(h, nil), WithDialer(dialer))
	startManager(t, m)

	if hs := nextWrite(t, first); hs.Op != OpIdentify {
		t.Fatalf("expected identify on first connection, got %s", hs.Op)
	}
	first.send(`{"op":10,"d":{"heartbeat_interval":41250}}`)
	first.send(`{"op":0,"t":"READY","s":1,"d":{"session_id":"S1"}}`)
	first.send(`{"op":0,"t":"MESSAGE_CREATE","s":5,"d":{"content":"hi","channel_id":"C1","mentions":[]}}`)
	waitFor(t, "message", func() bool { return len(h.messages()) == 1 })
	first.peerClose()

	hs := nextWrite(t, second)
	if hs.Op != OpResume {
		t.Fatalf("expected resume after closure, got %s", hs.Op)
	}
	if got := bodyString(t, hs, "session_id"); got != "S1" {
		t.Errorf("expected session_id S1, got %q", got)
	}
	seq, _ := hs.Body.Field("seq")
	if n, _ := seq.AsInt(); n != 5 {
		t.Errorf("expected last seen sequence 5, got %d", n)
	}

	second.send(`{"op":0,"t":"RESUMED","s":6,"d":null}`)
	waitFor(t, "open", func() bool { return m.State() == StateOpen })
	if g := m.Session().Generation(); g != 2 {
		t.Errorf("expected generation 2, got %d", g)
	}
}

func TestManagerIdentifiesAfterClosureWithoutSession(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	m := NewManager(testCreds, nil, WithDialer(dialer))
	startManager(t, m)

	nextWrite(t, first)
	first.peerClose()

	if hs := nextWrite(t, second); hs.Op != OpIdentify {
		t.Errorf("expected identify, got %s", hs.Op)
	}
}

func TestManagerIdentifiesAfterRefusedResume(t *testing.T) {
	tests := []struct {
		name  string
		close func(c *fakeConn)
	}{
		{"invalid seq", func(c *fakeConn) { c.peerCloseCode(CloseInvalidSeq) }},
		{"session timed out", func(c *fakeConn) { c.peerCloseCode(CloseSessionTimedOut) }},
		{"no close frame", func(c *fakeConn) { c.peerClose() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := state.NewSession()
			s.MarkReady("S1")
			s.ObserveSequence(1337)
			metrics := NewMetrics(prometheus.NewRegistry(), "test")

			first, second := newFakeConn(), newFakeConn()
			dialer := &fakeDialer{conns: []*fakeConn{first, second}}
			m := NewManager(testCreds, nil, WithDialer(dialer), WithSession(s), WithMetrics(metrics))
			startManager(t, m)

			if hs := nextWrite(t, first); hs.Op != OpResume {
				t.Fatalf("expected resume on first connection, got %s", hs.Op)
			}
			tt.close(first)

			if hs := nextWrite(t, second); hs.Op != OpIdentify {
				t.Fatalf("expected identify after a refused resume, got %s", hs.Op)
			}
			if _, ok := s.CurrentID(); ok {
				t.Error("expected the session to be cleared")
			}
			if _, ok := s.LastSequence(); ok {
				t.Error("expected the sequence to be cleared")
			}
			if n := testutil.ToFloat64(metrics.handshakeRejected.WithLabelValues("false")); n != 1 {
				t.Errorf("expected 1 rejected handshake, got %v", n)
			}
		})
	}
}

func TestManagerLocalCloseKeepsResumeSession(t *testing.T) {
	s := state.NewSession()
	s.MarkReady("S1")
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	m := NewManager(testCreds, nil, WithDialer(dialer), WithSession(s))
	startManager(t, m)

	if hs := nextWrite(t, first); hs.Op != OpResume {
		t.Fatalf("expected resume, got %s", hs.Op)
	}
	if !m.Reconnect() {
		t.Fatal("expected an open socket to close")
	}
	if hs := nextWrite(t, second); hs.Op != OpResume {
		t.Errorf("expected resume after a local close, got %s", hs.Op)
	}
}

func TestManagerStopsOnFatalClose(t *testing.T) {
	first := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first}}
	m := NewManager(testCreds, nil, WithDialer(dialer))
	_, done := startManager(t, m)

	nextWrite(t, first)
	first.peerCloseCode(CloseAuthenticationFailed)

	select {
	case err := <-done:
		if !errors.Is(err, ErrFatalClose) {
			t.Fatalf("expected ErrFatalClose, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept reconnecting after a fatal close")
	}
	if n := dialer.dialCount(); n != 1 {
		t.Errorf("expected a single dial, got %d", n)
	}
}

func TestManagerServerRequestedReconnect(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	m := NewManager(testCreds, nil, WithDialer(dialer))
	startManager(t, m)

	nextWrite(t, first)
	first.send(`{"op":0,"t":"READY","s":1,"d":{"session_id":"S1"}}`)
	first.send(`{"op":7,"d":null}`)

	if hs := nextWrite(t, second); hs.Op != OpResume {
		t.Errorf("expected resume, got %s", hs.Op)
	}
}

func TestManagerInvalidSession(t *testing.T) {
	tests := []struct {
		body string
		want Opcode
	}{
		{"false", OpIdentify},
		{"true", OpResume},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			first, second := newFakeConn(), newFakeConn()
			dialer := &fakeDialer{conns: []*fakeConn{first, second}}
			m := NewManager(testCreds, nil, WithDialer(dialer))
			startManager(t, m)

			nextWrite(t, first)
			first.send(`{"op":0,"t":"READY","s":1,"d":{"session_id":"S1"}}`)
			first.send(`{"op":9,"d":` + tt.body + `}`)

			if hs := nextWrite(t, second); hs.Op != tt.want {
				t.Errorf("expected %s, got %s", tt.want, hs.Op)
			}
		})
	}
}

func TestManagerForcedReconnect(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	m := NewManager(testCreds, nil, WithDialer(dialer))
	startManager(t, m)

	nextWrite(t, first)
	first.send(`{"op":0,"t":"READY","s":3,"d":{"session_id":"S1"}}`)
	waitFor(t, "open", func() bool { return m.State() == StateOpen })

	snap := m.Snapshot()
	if !snap.Resumable || snap.SessionID != "S1" || snap.ConnectionID == "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.LastSequence == nil || *snap.LastSequence != 3 {
		t.Errorf("expected last sequence 3, got %v", snap.LastSequence)
	}

	if !m.Reconnect() {
		t.Fatal("expected an open socket to close")
	}
	if hs := nextWrite(t, second); hs.Op != OpResume {
		t.Errorf("expected resume, got %s", hs.Op)
	}
}

func TestManagerPolicyExhaustion(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	m := NewManager(testCreds, nil, WithDialer(dialer), WithPolicy(&ReconnectPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
	}))

	err := m.Run(context.Background())
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	if n := dialer.dialCount(); n != 3 {
		t.Errorf("expected 3 dial attempts, got %d", n)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(testCreds, nil, WithDialer(&fakeDialer{conns: []*fakeConn{conn}}))
	cancel, done := startManager(t, m)

	nextWrite(t, conn)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerSharesSession(t *testing.T) {
	s := state.NewSession()
	s.MarkReady("S9")
	m := NewManager(testCreds, nil, WithSession(s))
	if hs := m.nextHandshake(); hs.Op != OpResume {
		t.Errorf("expected resume from a supplied session, got %s", hs.Op)
	}
}

func TestManagerOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	identified := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var hs map[string]any
		json.Unmarshal(data, &hs)
		identified <- hs

		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":0,"t":"READY","s":1,"d":{"session_id":"WS1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":0,"t":"MESSAGE_CREATE","s":2,"d":{"content":"thanks <@42>","channel_id":"C9","mentions":[{"id":"42","username":"ann","discriminator":"0001"}]}}`))

		// hold the socket until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	h := &recordingHandler{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewManager(testCreds, NewRouter(h, nil), WithURL(url), WithDialer(NewWebsocketDialer(time.Second)))
	startManager(t, m)

	select {
	case hs := <-identified:
		if hs["op"] != float64(OpIdentify) {
			t.Errorf("expected identify, got %v", hs["op"])
		}
		d, _ := hs["d"].(map[string]any)
		if d["token"] != "secret-token" || d["intents"] != float64(512) {
			t.Errorf("unexpected identify body %v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a handshake")
	}

	waitFor(t, "message", func() bool { return len(h.messages()) == 1 })
	if id, _ := m.Session().CurrentID(); id != "WS1" {
		t.Errorf("expected session WS1, got %q", id)
	}
	if m.State() != StateOpen {
		t.Errorf("expected open, got %s", m.State())
	}
}
