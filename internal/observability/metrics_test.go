package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/testutil/testlog"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("obexd", "GET", "/health", 200, 12*time.Millisecond)
	RecordSessionOpened("obexd", "tcp")
	RecordSessionClosed("obexd", "tcp")
	RecordRequest("obexd", "server", "PUT(final)", "", 1, 0, time.Millisecond, false)
}

func TestSessionReporterCountsRequests(t *testing.T) {
	testlog.Start(t)
	r := NewSessionReporter(zerolog.Nop(), "reporter-test")
	before := testutil.ToFloat64(sessionRequests.WithLabelValues("reporter-test", "client", "PUT(final)", "SUCCESS"))
	r.Report(session.Report{
		Role:    session.RoleClient,
		Op:      protocol.OpPutFinal,
		Code:    protocol.RespSuccess,
		Packets: 3,
		Bytes:   600,
	})
	r.Report(session.Report{Role: session.RoleClient, Op: protocol.OpGetFinal, Err: errors.New("boom")})
	after := testutil.ToFloat64(sessionRequests.WithLabelValues("reporter-test", "client", "PUT(final)", "SUCCESS"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
	if got := testutil.ToFloat64(bodyBytes.WithLabelValues("reporter-test", "client", "PUT(final)")); got != 600 {
		t.Fatalf("body bytes=%v", got)
	}
}

func TestTrafficObserverCountsBytes(t *testing.T) {
	testlog.Start(t)
	o := NewTrafficObserver(zerolog.Nop(), "traffic-test")
	o.Observe(transport.KindPipe, "pipe:a", transport.Outbound, []byte{0x80, 0x00, 0x03})
	o.Observe(transport.KindPipe, "pipe:a", transport.Inbound, []byte{0xA0})
	if got := testutil.ToFloat64(transportBytes.WithLabelValues("traffic-test", "pipe", "out")); got != 3 {
		t.Fatalf("out bytes=%v", got)
	}
	if got := testutil.ToFloat64(transportBytes.WithLabelValues("traffic-test", "pipe", "in")); got != 1 {
		t.Fatalf("in bytes=%v", got)
	}
}
