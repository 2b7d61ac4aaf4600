package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/obexgo/internal/auth"
	"github.com/danmuck/obexgo/internal/config"
	"github.com/danmuck/obexgo/internal/inbox"
	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/server"
	"github.com/danmuck/obexgo/internal/testutil/testlog"
	"github.com/danmuck/obexgo/internal/transport"
)

func startInbox(t *testing.T) (*inbox.Store, *transport.PipeNotifier) {
	t.Helper()
	cfg := config.DefaultServerConfig()
	cfg.Name = "obexctl-test"
	cfg.Transport = "pipe"
	cfg.Root = t.TempDir()
	store, err := inbox.New(inbox.Options{Root: cfg.Root, AllowCreate: true})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	svc := server.NewService(serviceConfig(cfg, ""), func() session.Handler { return store.Handler() })
	n := transport.NewPipeNotifier(0, transport.Options{MaxPacketSize: 256})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx, n)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return store, n
}

func connectPipe(t *testing.T, n *transport.PipeNotifier) *remote {
	t.Helper()
	cfg := config.DefaultClientConfig()
	cfg.Transport = "pipe"
	cfg.Target = "F9EC7BC4-953C-11D2-984E-525400DC9E09"
	cfg.ResponseTimeout = config.Duration{Duration: 2 * time.Second}
	d := newDialer(cfg, "")
	d.Pipe = n

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := dialRemote(ctx, cfg, d)
	if err != nil {
		t.Fatalf("dial remote: %v", err)
	}
	t.Cleanup(func() { r.close(context.Background()) })
	return r
}

func TestRemotePushListPullRemove(t *testing.T) {
	testlog.Start(t)
	store, n := startInbox(t)
	r := connectPipe(t, n)
	ctx := context.Background()

	if err := r.enter(ctx, "docs/notes", true); err != nil {
		t.Fatalf("enter: %v", err)
	}
	body := bytes.Repeat([]byte("0123456789"), 100)
	sent, err := r.push(ctx, "big.bin", int64(len(body)), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if sent != int64(len(body)) {
		t.Fatalf("pushed %d of %d bytes", sent, len(body))
	}
	onDisk, err := os.ReadFile(filepath.Join(store.Root(), "docs", "notes", "big.bin"))
	if err != nil || !bytes.Equal(onDisk, body) {
		t.Fatalf("stored object mismatch: err=%v len=%d", err, len(onDisk))
	}

	l, err := r.list(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if l.Parent == nil || len(l.Files) != 1 || l.Files[0].Name != "big.bin" || l.Files[0].Size != int64(len(body)) {
		t.Fatalf("unexpected listing: %+v", l)
	}
	var out bytes.Buffer
	printListing(&out, l)
	if !strings.Contains(out.String(), "big.bin") {
		t.Fatalf("listing output missing file: %q", out.String())
	}

	var got bytes.Buffer
	hs, _ := nameHeaders("big.bin")
	if _, err := r.pull(ctx, hs, &got); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !bytes.Equal(got.Bytes(), body) {
		t.Fatalf("pulled %d bytes, want %d", got.Len(), len(body))
	}

	if err := r.remove(ctx, "big.bin"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var refused *protocol.RefusedError
	if err := r.remove(ctx, "big.bin"); !errors.As(err, &refused) {
		t.Fatalf("expected refusal removing a missing object, got %v", err)
	}

	if err := r.enter(ctx, "../..", false); err != nil {
		t.Fatalf("back to root: %v", err)
	}
	l, err = r.list(ctx)
	if err != nil {
		t.Fatalf("root list: %v", err)
	}
	if l.Parent != nil || len(l.Folders) != 1 || l.Folders[0].Name != "docs" {
		t.Fatalf("unexpected root listing: %+v", l)
	}
}

func TestServerTokenMustMatch(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultServerConfig()
	cfg.Transport = "pipe"
	cfg.Addr = "0"
	cfg.Token = "s3cret"

	for _, presented := range []string{"", "wrong"} {
		svc := server.NewService(serviceConfig(cfg, presented), nil)
		if _, err := svc.Listen(); !errors.Is(err, auth.ErrPermissionDenied) {
			t.Fatalf("presented %q: expected permission denied, got %v", presented, err)
		}
	}

	svc := server.NewService(serviceConfig(cfg, "s3cret"), nil)
	n, err := svc.Listen()
	if err != nil {
		t.Fatalf("listen with matching token: %v", err)
	}
	_ = n.Close()
}

func TestClientTokenMustMatch(t *testing.T) {
	testlog.Start(t)
	_, n := startInbox(t)
	cfg := config.DefaultClientConfig()
	cfg.Transport = "pipe"
	cfg.Token = "s3cret"
	cfg.ResponseTimeout = config.Duration{Duration: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d := newDialer(cfg, "wrong")
	d.Pipe = n
	if _, err := dialRemote(ctx, cfg, d); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	d = newDialer(cfg, "s3cret")
	d.Pipe = n
	r, err := dialRemote(ctx, cfg, d)
	if err != nil {
		t.Fatalf("dial with matching token: %v", err)
	}
	r.close(ctx)
}

func TestPresentedTokenFlagOverridesEnv(t *testing.T) {
	t.Setenv(tokenEnv, "from-env")
	prev := rootFlags.token
	t.Cleanup(func() { rootFlags.token = prev })

	rootFlags.token = ""
	if got := presentedToken(); got != "from-env" {
		t.Fatalf("env token: got %q", got)
	}
	rootFlags.token = "from-flag"
	if got := presentedToken(); got != "from-flag" {
		t.Fatalf("flag token: got %q", got)
	}
}
