package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// Duration reads "250ms"-style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Name            string      `toml:"name"`
	Transport       string      `toml:"transport"`
	Addr            string      `toml:"addr"`
	MaxPacketSize   int         `toml:"max_packet_size"`
	ResponseTimeout Duration    `toml:"response_timeout"`
	Root            string      `toml:"root"`
	ReadOnly        bool        `toml:"read_only"`
	AllowCreate     bool        `toml:"allow_create"`
	MaxObjectBytes  int64       `toml:"max_object_bytes"`
	Token           string      `toml:"token"`
	Allow           []string    `toml:"allow"`
	Admin           AdminConfig `toml:"admin"`
}

type AdminConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type ClientConfig struct {
	Transport       string      `toml:"transport"`
	Addr            string      `toml:"addr"`
	MaxPacketSize   int         `toml:"max_packet_size"`
	ConnectTimeout  Duration    `toml:"connect_timeout"`
	ResponseTimeout Duration    `toml:"response_timeout"`
	Token           string      `toml:"token"`
	Target          string      `toml:"target"`
	Retry           RetryConfig `toml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay Duration `toml:"initial_delay"`
	Multiplier   float64  `toml:"multiplier"`
	MaxDelay     Duration `toml:"max_delay"`
	Jitter       bool     `toml:"jitter"`
}

// DefaultTCPAddr uses the IANA OBEX port.
const DefaultTCPAddr = "127.0.0.1:650"

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:            "obexd",
		Transport:       "tcp",
		Addr:            DefaultTCPAddr,
		ResponseTimeout: Duration{30 * time.Second},
		Root:            "./inbox",
		AllowCreate:     true,
		Admin: AdminConfig{
			Addr: "127.0.0.1:9650",
		},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport:       "tcp",
		Addr:            DefaultTCPAddr,
		ConnectTimeout:  Duration{5 * time.Second},
		ResponseTimeout: Duration{30 * time.Second},
		Retry: RetryConfig{
			MaxAttempts:  1,
			InitialDelay: Duration{250 * time.Millisecond},
			Multiplier:   2.0,
			MaxDelay:     Duration{5 * time.Second},
			Jitter:       true,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("server config missing name")
	}
	if err := validateEndpoint(cfg.Transport, cfg.Addr); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validatePacketSize(cfg.MaxPacketSize); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if strings.TrimSpace(cfg.Root) == "" {
		return fmt.Errorf("server config missing root")
	}
	if cfg.MaxObjectBytes < 0 {
		return fmt.Errorf("server config max_object_bytes must not be negative")
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("server config admin.addr required when admin is enabled")
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if err := validateEndpoint(cfg.Transport, cfg.Addr); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := validatePacketSize(cfg.MaxPacketSize); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("client config retry.max_attempts must not be negative")
	}
	if cfg.Target != "" {
		if _, err := ParseTarget(cfg.Target); err != nil {
			return fmt.Errorf("client config: %w", err)
		}
	}
	return nil
}

func validateEndpoint(kind, addr string) error {
	k, err := transport.ParseKind(strings.ToLower(strings.TrimSpace(kind)))
	if err != nil {
		return err
	}
	if strings.TrimSpace(addr) == "" && k != transport.KindPipe {
		return fmt.Errorf("addr is required for %s", k)
	}
	return nil
}

func validatePacketSize(n int) error {
	if n == 0 {
		return nil
	}
	if n < protocol.MinPacketSize || n > protocol.MaxPacketSize {
		return fmt.Errorf("max_packet_size %d outside %d..%d", n, protocol.MinPacketSize, protocol.MaxPacketSize)
	}
	return nil
}

// ParseTarget decodes a Target header value written as hex, dashes allowed.
func ParseTarget(s string) ([]byte, error) {
	out, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", s, err)
	}
	return out, nil
}

func (c ServerConfig) Kind() transport.Kind {
	k, _ := transport.ParseKind(strings.ToLower(strings.TrimSpace(c.Transport)))
	return k
}

func (c ClientConfig) Kind() transport.Kind {
	k, _ := transport.ParseKind(strings.ToLower(strings.TrimSpace(c.Transport)))
	return k
}

// RetryPolicy converts the retry block for a transport.Dialer.
func (c ClientConfig) RetryPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay.Duration,
		Multiplier:   c.Retry.Multiplier,
		MaxDelay:     c.Retry.MaxDelay.Duration,
		Jitter:       c.Retry.Jitter,
	}
}
