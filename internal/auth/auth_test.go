package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/obexgo/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestStaticTokenCheck(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrPermissionDenied},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrPermissionDenied},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Check(Request{Role: RoleClient, Scheme: "tcp", Address: "h:1", Token: tc.input})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			log.Debug().Str("case", tc.name).AnErr("result", err).Msg("auth/static-token")
		})
	}
}

func TestAllowlistPatterns(t *testing.T) {
	testlog.Start(t)
	list := Allowlist{Patterns: []string{"tcp://127.0.0.1:*", "rfcomm://*"}}

	if err := list.Check(Request{Scheme: "tcp", Address: "127.0.0.1:650"}); err != nil {
		t.Fatalf("expected loopback tcp allowed, got %v", err)
	}
	if err := list.Check(Request{Scheme: "rfcomm", Address: "00:11:22:33:44:55:12"}); err != nil {
		t.Fatalf("expected rfcomm allowed, got %v", err)
	}
	if err := list.Check(Request{Scheme: "tcp", Address: "10.0.0.1:650"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected remote tcp denied, got %v", err)
	}
}

func TestChainStopsOnFirstDenial(t *testing.T) {
	testlog.Start(t)
	calls := 0
	counting := FuncChecker(func(Request) error {
		calls++
		return nil
	})
	chain := Chain{counting, StaticToken{Token: "secret"}, counting}

	if err := chain.Check(Request{Token: "wrong"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected chain to stop after denial, calls=%d", calls)
	}
	if err := chain.Check(Request{Token: "secret"}); err != nil {
		t.Fatalf("expected chain to pass, got %v", err)
	}
	if err := (AllowAll{}).Check(Request{}); err != nil {
		t.Fatalf("allow all denied: %v", err)
	}
}
