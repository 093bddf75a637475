package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordDispatch(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.RecordDispatch("ping", true, time.Millisecond)
	m.RecordDispatch("ping", true, time.Millisecond)
	m.RecordDispatch("eval", false, time.Millisecond)

	if got := metricCounterValue(t, m.dispatchTotal.WithLabelValues("ping", "success")); got != 2 {
		t.Fatalf("dispatch_total(ping,success) = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.dispatchTotal.WithLabelValues("eval", "failure")); got != 1 {
		t.Fatalf("dispatch_total(eval,failure) = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.dispatchDuration.WithLabelValues("ping")); got != 2 {
		t.Fatalf("dispatch_duration(ping) count = %v, want 2", got)
	}
}

func TestFramesAndReplies(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	m.RecordFrame("json")
	m.RecordFrame("bert")
	m.RecordDecodeError("bert")
	m.RecordReply("ok")
	m.RecordEncodingFallback()
	m.RecordSend()
	m.RecordSendError("not_open")

	if got := metricCounterValue(t, m.framesReceived.WithLabelValues("json")); got != 1 {
		t.Fatalf("frames_received(json) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.decodeErrors.WithLabelValues("bert")); got != 1 {
		t.Fatalf("decode_errors(bert) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.repliesSent.WithLabelValues("ok")); got != 1 {
		t.Fatalf("replies_sent(ok) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.encodingFallbacks); got != 1 {
		t.Fatalf("encoding_fallbacks = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.framesSent); got != 1 {
		t.Fatalf("frames_sent = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.sendErrors.WithLabelValues("not_open")); got != 1 {
		t.Fatalf("send_errors(not_open) = %v, want 1", got)
	}
}

func TestSetState(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	all := []string{"connecting", "open", "reconnecting"}

	m.SetState("connecting", all)
	m.SetState("open", all)

	if got := metricGaugeValue(t, m.connectionState.WithLabelValues("open")); got != 1 {
		t.Fatalf("connection_state(open) = %v, want 1", got)
	}
	if got := metricGaugeValue(t, m.connectionState.WithLabelValues("connecting")); got != 0 {
		t.Fatalf("connection_state(connecting) = %v, want 0", got)
	}
}

func TestConnectsAndReconnects(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	m.RecordConnect(true)
	m.RecordConnect(false)
	m.RecordReconnect("reload")

	if got := metricCounterValue(t, m.connectsTotal.WithLabelValues("failure")); got != 1 {
		t.Fatalf("connects_total(failure) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.reconnectsTotal.WithLabelValues("reload")); got != 1 {
		t.Fatalf("reconnects_total(reload) = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordFrame("json")
	m.RecordDecodeError("json")
	m.RecordDispatch("ping", true, 0)
	m.RecordReply("ok")
	m.RecordEncodingFallback()
	m.RecordSend()
	m.RecordSendError("x")
	m.SetState("open", nil)
	m.RecordConnect(true)
	m.RecordReconnect("reload")
}
