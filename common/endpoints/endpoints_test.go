package endpoints_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EJahren/ert/common/endpoints"
	"github.com/EJahren/ert/common/stats"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(data)
}

func TestEndpoints(t *testing.T) {
	stat, _ := stats.NewCustomStatsReceiver(stats.NewFinagleStatsRegistry, 0)
	stat.Counter("queue", "submitCounter").Inc(3)
	s := endpoints.NewServer("", stat, func() interface{} {
		return map[string]int{"Running": 2}
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	if code, body := get(t, srv, "/health"); code != 200 || body != "ok" {
		t.Errorf("health: %d %q", code, body)
	}

	code, body := get(t, srv, "/status")
	var status map[string]int
	if err := json.Unmarshal([]byte(body), &status); code != 200 || err != nil || status["Running"] != 2 {
		t.Errorf("status: %d %q %v", code, body, err)
	}

	code, body = get(t, srv, "/admin/metrics.json")
	var metrics map[string]interface{}
	if err := json.Unmarshal([]byte(body), &metrics); code != 200 || err != nil {
		t.Fatalf("metrics: %d %q %v", code, body, err)
	}
	if metrics["queue/submitCounter"] != 3.0 {
		t.Errorf("expected submitCounter 3, got %v", metrics)
	}

	if code, _ := get(t, srv, "/"); code != 501 {
		t.Errorf("expected 501 from /, got %d", code)
	}
	if code, _ := get(t, srv, "/nope"); code != 404 {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestNoStatus(t *testing.T) {
	srv := httptest.NewServer(endpoints.NewServer("", stats.NilStatsReceiver(), nil).Handler())
	defer srv.Close()
	if code, _ := get(t, srv, "/status"); code != 404 {
		t.Errorf("expected 404, got %d", code)
	}
}
