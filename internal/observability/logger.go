package observability

import (
	"encoding/hex"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/rs/zerolog"
)

// SessionReporter logs and counts every finished OBEX request.
type SessionReporter struct {
	Logger  zerolog.Logger
	Service string
}

func NewSessionReporter(logger zerolog.Logger, service string) *SessionReporter {
	return &SessionReporter{Logger: logger, Service: service}
}

func (r *SessionReporter) Report(rep session.Report) {
	op := rep.Op.String()
	code := ""
	if rep.Code != 0 {
		code = rep.Code.String()
	}
	RecordRequest(r.Service, string(rep.Role), op, code, rep.Packets, rep.Bytes, rep.Duration, rep.Aborted)

	event := r.Logger.Debug()
	switch {
	case rep.Err != nil && protocol.IsFatal(rep.Err):
		event = r.Logger.Warn().Err(rep.Err)
	case rep.Code != 0 && !rep.Code.Success() && !rep.Code.Continue():
		event = r.Logger.Info()
	}
	event.
		Str("role", string(rep.Role)).
		Str("remote", rep.Remote).
		Str("op", op).
		Str("code", code).
		Int("packets", rep.Packets).
		Int64("bytes", rep.Bytes).
		Dur("duration", rep.Duration).
		Bool("aborted", rep.Aborted).
		Msg("obex_request")
}

// TrafficObserver counts transport bytes and, at trace level, dumps them.
type TrafficObserver struct {
	Logger  zerolog.Logger
	Service string
}

func NewTrafficObserver(logger zerolog.Logger, service string) *TrafficObserver {
	return &TrafficObserver{Logger: logger, Service: service}
}

func (o *TrafficObserver) Observe(kind transport.Kind, remote string, dir transport.Direction, p []byte) {
	RecordTransportBytes(o.Service, kind.String(), dir.String(), len(p))
	if e := o.Logger.Trace(); e.Enabled() {
		e.Str("kind", kind.String()).
			Str("remote", remote).
			Str("dir", dir.String()).
			Int("len", len(p)).
			Str("hex", hex.EncodeToString(p)).
			Msg("obex_traffic")
	}
}

var (
	_ session.Reporter   = (*SessionReporter)(nil)
	_ transport.Observer = (*TrafficObserver)(nil)
)
