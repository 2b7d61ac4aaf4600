package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/obexgo/internal/testutil/testlog"
	"github.com/danmuck/obexgo/internal/transport"
)

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	serverPath := filepath.Join(dir, "server.toml")
	if err := WriteTemplate(serverPath, "server", false); err != nil {
		t.Fatalf("write server template: %v", err)
	}
	srv, err := LoadServerConfig(serverPath)
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	if srv.Kind() != transport.KindTCP || srv.Addr != DefaultTCPAddr || !srv.Admin.Enabled {
		t.Fatalf("unexpected server config: %+v", srv)
	}
	if srv.ResponseTimeout.Duration != 30*time.Second {
		t.Fatalf("response timeout=%v", srv.ResponseTimeout)
	}

	clientPath := filepath.Join(dir, "client.toml")
	if err := WriteTemplate(clientPath, "client", false); err != nil {
		t.Fatalf("write client template: %v", err)
	}
	cli, err := LoadClientConfig(clientPath)
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	target, err := ParseTarget(cli.Target)
	if err != nil || len(target) != 16 {
		t.Fatalf("target=%x err=%v", target, err)
	}
	p := cli.RetryPolicy()
	if p.MaxAttempts != 1 || p.InitialDelay != 250*time.Millisecond || p.MaxDelay != 5*time.Second {
		t.Fatalf("retry policy=%+v", p)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := WriteTemplate(path, "server", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, "server", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "server", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "min.toml")
	if err := os.WriteFile(path, []byte("root = \"/srv/obex\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "obexd" || cfg.Transport != "tcp" || cfg.Root != "/srv/obex" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateServerConfigRejects(t *testing.T) {
	cases := map[string]func(*ServerConfig){
		"unknown transport": func(c *ServerConfig) { c.Transport = "usb" },
		"missing addr":      func(c *ServerConfig) { c.Addr = "" },
		"tiny packet":       func(c *ServerConfig) { c.MaxPacketSize = 100 },
		"missing root":      func(c *ServerConfig) { c.Root = " " },
		"admin no addr":     func(c *ServerConfig) { c.Admin = AdminConfig{Enabled: true} },
	}
	for name, mutate := range cases {
		cfg := DefaultServerConfig()
		mutate(&cfg)
		if err := ValidateServerConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	cfg := DefaultServerConfig()
	cfg.Transport = "pipe"
	cfg.Addr = ""
	if err := ValidateServerConfig(cfg); err != nil {
		t.Fatalf("pipe without addr: %v", err)
	}
}

func TestBadDurationFailsParse(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("response_timeout = \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadClientConfig(path)
	if err == nil || !strings.Contains(err.Error(), "config parse failed") {
		t.Fatalf("expected parse failure, got %v", err)
	}
}
