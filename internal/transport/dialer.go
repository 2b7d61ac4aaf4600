package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/obexgo/internal/auth"
	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	_ Notifier = (*TCPNotifier)(nil)
	_ Notifier = (*RFCOMMNotifier)(nil)
	_ Notifier = (*PipeNotifier)(nil)
)

// RetryPolicy defines connect retry backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultRetryPolicy dials once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  1,
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// NextDelay returns the delay before attempt N (1-based).
func (p RetryPolicy) NextDelay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-2))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Dialer opens client transports of one Kind. The permission check runs
// once per Dial before any transport is constructed.
type Dialer struct {
	Kind       Kind
	Options    Options
	Timeout    time.Duration
	Retry      RetryPolicy
	Permission auth.Checker
	Token      string
	Observer   Observer

	// Pipe is the in-process endpoint used when Kind is KindPipe.
	Pipe *PipeNotifier

	rng *rand.Rand
}

// Dial connects to address, whose format depends on Kind:
// host:port for TCP, bdaddr:channel for RFCOMM, a device path for IrDA.
func (d *Dialer) Dial(ctx context.Context, address string) (Transport, error) {
	address = strings.TrimSpace(address)
	if d.Permission != nil {
		req := auth.Request{Role: auth.RoleClient, Scheme: d.Kind.String(), Address: address, Token: d.Token}
		if err := d.Permission.Check(req); err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrConnectionFailure, err)
		}
	}
	attempts := d.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := d.Retry.NextDelay(attempt, d.rng); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %w", protocol.ErrConnectionFailure, ctx.Err())
			case <-timer.C:
			}
		}
		t, err := d.dialOnce(ctx, address)
		if err == nil {
			return Monitor(t, d.Observer), nil
		}
		lastErr = err
		log.Warn().Str("kind", d.Kind.String()).Str("addr", address).Int("attempt", attempt).Err(err).Msg("transport_dial_failed")
		if ctx.Err() != nil || !errors.Is(err, protocol.ErrConnectionFailure) {
			break
		}
	}
	return nil, lastErr
}

func (d *Dialer) dialOnce(ctx context.Context, address string) (Transport, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	switch d.Kind {
	case KindTCP:
		return DialTCP(ctx, address, d.Timeout, d.Options)
	case KindRFCOMM:
		addr, err := ParseRFCOMMAddr(address)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrConnectionFailure, err)
		}
		return DialRFCOMM(ctx, addr, d.Options)
	case KindIrDA:
		return OpenIrDA(address, d.Options)
	case KindPipe:
		if d.Pipe == nil {
			return nil, fmt.Errorf("%w: no pipe endpoint configured", protocol.ErrConnectionFailure)
		}
		return d.Pipe.Dial(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported transport kind %s", protocol.ErrConnectionFailure, d.Kind)
	}
}

// Listen binds a notifier of kind at address after the server-side
// permission check. Address is host:port for TCP and a channel number for
// RFCOMM.
func Listen(kind Kind, address string, opts Options, permission auth.Checker, token string) (Notifier, error) {
	if permission != nil {
		req := auth.Request{Role: auth.RoleServer, Scheme: kind.String(), Address: address, Token: token}
		if err := permission.Check(req); err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrConnectionFailure, err)
		}
	}
	switch kind {
	case KindTCP:
		n, err := ListenTCP(address, opts)
		if err != nil {
			return nil, err
		}
		return n, nil
	case KindRFCOMM:
		ch, err := parseChannel(address)
		if err != nil {
			return nil, err
		}
		n, err := ListenRFCOMM(ch, opts)
		if err != nil {
			return nil, err
		}
		return n, nil
	case KindPipe:
		port, _ := strconv.Atoi(strings.TrimSpace(address))
		return NewPipeNotifier(port, opts), nil
	default:
		return nil, fmt.Errorf("%w: no notifier for %s", protocol.ErrConnectionFailure, kind)
	}
}

func parseChannel(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	ch, err := strconv.Atoi(s)
	if err != nil || ch < 0 || ch > 30 {
		return 0, fmt.Errorf("%w: invalid channel %q", protocol.ErrConnectionFailure, s)
	}
	return uint8(ch), nil
}
