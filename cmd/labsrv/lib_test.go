package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func TestBuildMuxBindsNodes(t *testing.T) {
	c := Config{Nodes: []ObjSetup{
		{Type: "rigol-ds1102", Addr: "127.0.0.1:5555", Endpoint: "lab/scope"},
		{Type: "rigol-dg1032", Addr: "127.0.0.1:5556", Endpoint: "/lab/fg/"},
		{Type: "lakeshore331", Addr: "127.0.0.1:2001", Endpoint: "cryo"},
		{Type: "wa1500", Addr: "127.0.0.1:2002", Endpoint: "wavemeter"},
	}}
	mux, closers, err := BuildMux(c, quietLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if len(closers) != 4 {
		t.Errorf("expected 4 instruments, got %d", len(closers))
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	graph := map[string][]string{}
	if err := json.NewDecoder(w.Body).Decode(&graph); err != nil {
		t.Fatal(err)
	}
	for _, ep := range []string{"/lab/scope", "/lab/fg", "/cryo", "/wavemeter"} {
		if len(graph[ep]) == 0 {
			t.Errorf("no routes listed for %s", ep)
		}
	}
	if !strings.Contains(strings.Join(graph["/lab/scope"], ","), "GET /waveform") {
		t.Errorf("scope routes missing waveform: %v", graph["/lab/scope"])
	}
	if !strings.Contains(strings.Join(graph["/cryo"], ","), "POST /lock") {
		t.Errorf("lock route not injected: %v", graph["/cryo"])
	}
}

func TestLockedNodeAnswers423(t *testing.T) {
	c := Config{Nodes: []ObjSetup{{Type: "rigol-ds1102", Addr: "127.0.0.1:5555", Endpoint: "scope"}}}
	reg := prometheus.NewRegistry()
	mux, _, err := BuildMux(c, quietLogger(), reg)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scope/lock", strings.NewReader(`{"bool": true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("lock failed with %d", w.Code)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scope/run", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `labctl_http_requests_total{code="423",method="POST",node="/scope"} 1`) {
		t.Errorf("locked request not counted:\n%s", w.Body.String())
	}
}

func TestBuildMuxRejectsBadConfig(t *testing.T) {
	if _, _, err := BuildMux(Config{Nodes: []ObjSetup{{Type: "hp3458", Endpoint: "dmm"}}}, quietLogger(), prometheus.NewRegistry()); err == nil {
		t.Error("expected unknown type to be rejected")
	}
	dup := Config{Nodes: []ObjSetup{
		{Type: "lakeshore331", Addr: "127.0.0.1:2001", Endpoint: "cryo"},
		{Type: "wa1500", Addr: "127.0.0.1:2002", Endpoint: "/cryo/"},
	}}
	if _, _, err := BuildMux(dup, quietLogger(), prometheus.NewRegistry()); err == nil {
		t.Error("expected duplicate endpoint to be rejected")
	}
}

func TestRequestsAreLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	mux, _, err := BuildMux(Config{}, log, prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "GET") && strings.Contains(e.Message, "/endpoints") && strings.Contains(e.Message, "200") {
			return
		}
	}
	t.Errorf("no access log entry for GET /endpoints in %d entries", len(hook.AllEntries()))
}
