package stats

import (
	"testing"
	"time"
)

func TestPrecisionChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if stat.precision != time.Nanosecond {
		t.Fatal("Default precision should be nanos.")
	}

	statp := stat.Precision(time.Millisecond).(*defaultStatsReceiver)
	if stat.precision != time.Nanosecond {
		t.Fatal("Default precision should still nanos.")
	}
	if statp.precision != time.Millisecond {
		t.Fatal("New stat precision should be millis.")
	}
}

func TestScopeChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should be empty.")
	}

	statp := stat.Scope("a/b", "c").(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should still empty.")
	}
	if len(statp.scope) != 2 || statp.scope[0] != "a_SLASH_b" || statp.scope[1] != "c" {
		t.Fatal("Invalid scope value: ", statp.scope)
	}
	if statp.scopedName("d") != "a_SLASH_b/c/d" {
		t.Fatal("Invalid scope name: " + statp.scopedName("d"))
	}

	// Sibling scopes must not share a backing array.
	q := statp.Scope("queue").(*defaultStatsReceiver)
	l := statp.Scope("lsf").(*defaultStatsReceiver)
	if q.scopedName("x") != "a_SLASH_b/c/queue/x" || l.scopedName("x") != "a_SLASH_b/c/lsf/x" {
		t.Fatal("Sibling scopes interfere: ", q.scope, l.scope)
	}
}

func TestRegister(t *testing.T) {
	reg := NewFinagleStatsRegistry()
	if reg.GetOrRegister("counter", NewCounter()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("gauge", NewGauge()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("gaugeFloat", NewGaugeFloat()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("histogram", NewHistogram()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("latency", NewLatency()) == nil {
		t.Fatal("Registry did not save instrument")
	}
}

func TestMarshal(t *testing.T) {
	ct := make(chan time.Time, 2)
	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*5, ct)
	defer func() { Time = DefaultStatsTime() }()
	defer close(ct)

	reg := NewFinagleStatsRegistry()
	reg.GetOrRegister("counter", NewCounter()).(Counter).Inc(1)
	reg.GetOrRegister("gauge", NewGauge()).(Gauge).Update(2)

	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()
	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*10, ct)
	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()

	bytes, err := reg.(MarshalerPretty).MarshalJSONPretty()
	expected :=
		`{
  "counter": 1,
  "gauge": 2,
  "latency.avg": 7.5,
  "latency.count": 2,
  "latency.max": 10,
  "latency.min": 5,
  "latency.p50": 7.5,
  "latency.p90": 10,
  "latency.p95": 10,
  "latency.p99": 10,
  "latency.p999": 10,
  "latency.p9999": 10,
  "latency.sum": 15
}`
	if string(bytes) != expected {
		t.Fatal("Wrong json marshal output: ", string(bytes), err)
	}
}

func TestScopedCountersShareRegistry(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Scope("queue").Counter(QueueSubmitCounter).Inc(3)
	if c := stat.Counter("queue", QueueSubmitCounter).Count(); c != 3 {
		t.Fatalf("Expected scoped and unscoped lookups to agree, got %d", c)
	}
}

func TestNilReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Scope("a").Counter("b").Inc(1)
	stat.Gauge("g").Update(7)
	stat.Latency("l").Time().Stop()
	if stat.Counter("b").Count() != 0 {
		t.Fatal("Nil counter should never count")
	}
	if len(stat.Render(false)) != 0 {
		t.Fatal("Nil receiver should render nothing")
	}
}

func TestOverlappingLatencyTimers(t *testing.T) {
	stat := DefaultStatsReceiver()
	a := stat.Latency("poll").Time()
	b := stat.Latency("poll").Time()
	b.Stop()
	a.Stop()
	l := stat.Latency("poll").(*metricLatency)
	if l.Count() != 2 {
		t.Fatalf("Expected 2 samples, got %d", l.Count())
	}
}
