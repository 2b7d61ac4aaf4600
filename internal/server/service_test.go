package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/obexgo/internal/auth"
	"github.com/danmuck/obexgo/internal/inbox"
	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/testutil/testlog"
	"github.com/danmuck/obexgo/internal/transport"
)

func startService(t *testing.T, cfg ServiceConfig) (*Service, *transport.PipeNotifier, *inbox.Store, func() error) {
	t.Helper()
	store, err := inbox.New(inbox.Options{Root: t.TempDir(), AllowCreate: true})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	n := transport.NewPipeNotifier(0, transport.Options{MaxPacketSize: 512})
	svc := NewService(cfg, func() session.Handler { return store.Handler() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, n)
	}()
	waitFor(t, "ready", svc.Ready)

	var once sync.Once
	var serveErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case serveErr = <-done:
			case <-time.After(3 * time.Second):
				t.Fatalf("serve did not stop")
			}
		})
		return serveErr
	}
	t.Cleanup(func() { _ = stop() })
	return svc, n, store, stop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dial(t *testing.T, n *transport.PipeNotifier) *session.Client {
	t.Helper()
	tr, err := n.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := session.NewClient(tr, session.Config{ResponseTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func push(t *testing.T, c *session.Client, name string, body []byte) {
	t.Helper()
	h, err := header.Text(header.Name, name)
	if err != nil {
		t.Fatalf("name header: %v", err)
	}
	op, err := c.Put(context.Background(), header.Set{h})
	if err != nil {
		t.Fatalf("put open: %v", err)
	}
	if _, err := op.Write(body); err != nil {
		t.Fatalf("put write: %v", err)
	}
	if err := op.Close(); err != nil {
		t.Fatalf("put close: %v", err)
	}
}

func TestServiceServesSequentialAndConcurrentSessions(t *testing.T) {
	testlog.Start(t)
	svc, n, store, stop := startService(t, ServiceConfig{Name: "obexd-test"})
	ctx := context.Background()

	first := dial(t, n)
	second := dial(t, n)
	for i, c := range []*session.Client{first, second} {
		if _, err := c.Connect(ctx, nil); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	waitFor(t, "two sessions", func() bool { return len(svc.Sessions()) == 2 })

	push(t, first, "a.txt", []byte("alpha"))
	push(t, second, "b.txt", []byte("bravo"))

	for name, want := range map[string]string{"a.txt": "alpha", "b.txt": "bravo"} {
		got, err := os.ReadFile(filepath.Join(store.Root(), name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s: got %q want %q", name, got, want)
		}
	}

	// server reports land just after the final response reaches the client
	waitFor(t, "request reports", func() bool {
		for _, info := range svc.Sessions() {
			if info.Requests < 2 {
				return false
			}
		}
		return true
	})
	list := svc.Sessions()
	if list[0].ID >= list[1].ID {
		t.Fatalf("sessions not ordered by id: %+v", list)
	}
	for _, info := range list {
		if !info.Connected || info.Kind != "pipe" || info.LastOp == "" {
			t.Fatalf("unexpected session snapshot: %+v", info)
		}
	}

	if _, err := first.Disconnect(ctx, nil); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitFor(t, "one session", func() bool { return len(svc.Sessions()) == 1 })
	if svc.TotalSessions() != 2 {
		t.Fatalf("total sessions: got %d want 2", svc.TotalSessions())
	}

	if err := stop(); err != nil {
		t.Fatalf("serve returned error: %v", err)
	}
	if svc.Ready() {
		t.Fatalf("service still ready after stop")
	}
	if svc.ActiveSessions() != 0 {
		t.Fatalf("active sessions after stop: %d", svc.ActiveSessions())
	}
	if _, err := second.SetPath(ctx, nil, true, false); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("expected connection closed after shutdown, got %v", err)
	}
}

func TestServiceAdmitRejectsRemote(t *testing.T) {
	testlog.Start(t)
	deny := auth.FuncChecker(func(req auth.Request) error {
		if req.Role != auth.RoleServer || req.Scheme != "pipe" {
			t.Errorf("unexpected admit request: %s", req)
		}
		return auth.ErrPermissionDenied
	})
	svc, n, _, _ := startService(t, ServiceConfig{Admit: deny})

	c := dial(t, n)
	if _, err := c.Connect(context.Background(), nil); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("expected rejected session to close, got %v", err)
	}
	if svc.TotalSessions() != 0 {
		t.Fatalf("rejected session was counted")
	}
}

func TestServiceMaxSessions(t *testing.T) {
	testlog.Start(t)
	svc, n, _, _ := startService(t, ServiceConfig{MaxSessions: 1})
	ctx := context.Background()

	clients := make([]*session.Client, 4)
	for i := range clients {
		clients[i] = dial(t, n)
	}
	var wg sync.WaitGroup
	var connected atomic.Int32
	for _, c := range clients {
		wg.Add(1)
		go func(c *session.Client) {
			defer wg.Done()
			if _, err := c.Connect(ctx, nil); err == nil {
				connected.Add(1)
			} else if !errors.Is(err, protocol.ErrConnectionClosed) {
				t.Errorf("over-limit session: expected connection closed, got %v", err)
			}
		}(c)
	}
	wg.Wait()

	if got := connected.Load(); got != 1 {
		t.Fatalf("connected sessions: got %d want 1", got)
	}
	if got := svc.ActiveSessions(); got != 1 {
		t.Fatalf("active sessions: got %d want 1", got)
	}
	if got := len(svc.Sessions()); got != 1 {
		t.Fatalf("tracked sessions: got %d want 1", got)
	}

	for _, c := range clients {
		if c.State() == session.StateConnected {
			if _, err := c.Disconnect(ctx, nil); err != nil {
				t.Fatalf("admitted session should be unaffected: %v", err)
			}
		}
	}
	waitFor(t, "slot released", func() bool { return svc.ActiveSessions() == 0 })

	again := dial(t, n)
	if _, err := again.Connect(ctx, nil); err != nil {
		t.Fatalf("connect after release: %v", err)
	}
}

func TestServiceSessionsWhileDialing(t *testing.T) {
	testlog.Start(t)
	svc, n, _, _ := startService(t, ServiceConfig{})
	ctx := context.Background()

	done := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, info := range svc.Sessions() {
				_ = info.Connected
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		c := dial(t, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Connect(ctx, nil); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	wg.Wait()
	close(done)
	<-polled

	waitFor(t, "twenty connected sessions", func() bool {
		list := svc.Sessions()
		for _, info := range list {
			if !info.Connected {
				return false
			}
		}
		return len(list) == 20
	})
}

func TestServiceListenPermission(t *testing.T) {
	testlog.Start(t)
	svc := NewService(ServiceConfig{
		Kind:       transport.KindPipe,
		Permission: auth.StaticToken{Token: "secret"},
		Token:      "nope",
	}, nil)
	if err := svc.Run(context.Background()); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if svc.Addr() != "" {
		t.Fatalf("addr set without a notifier: %q", svc.Addr())
	}
}
