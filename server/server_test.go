package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/atlas/core"
	"github.com/becomeliminal/atlas/server"
)

// fakeOps records inputs and returns canned results.
type fakeOps struct {
	healthy bool
	search  chan core.SearchInput
}

func (f *fakeOps) Ingest(ctx context.Context, in core.IngestInput) (*core.IngestResult, error) {
	return &core.IngestResult{FilesProcessed: len(in.Paths)}, nil
}

func (f *fakeOps) Search(ctx context.Context, in core.SearchInput) (*core.SearchResult, error) {
	if f.search != nil {
		f.search <- in
	}
	return &core.SearchResult{Query: in.Query, Hits: []core.SearchHit{{ID: "c1", Score: 0.9}}}, nil
}

func (f *fakeOps) Consolidate(ctx context.Context, in core.ConsolidateInput) (*core.ConsolidationResult, error) {
	if in.Keep == "both" {
		return nil, errors.New(`unknown keep "both"`)
	}
	return &core.ConsolidationResult{DryRun: in.DryRun}, nil
}

func (f *fakeOps) Health(ctx context.Context) (*core.HealthReport, error) {
	return &core.HealthReport{Healthy: f.healthy}, nil
}

func (f *fakeOps) Status(ctx context.Context) (*core.StatusReport, error) {
	return &core.StatusReport{Chunks: 3}, nil
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) response {
	t.Helper()
	frame := map[string]any{"type": "req", "id": id, "method": method}
	if params != nil {
		frame["params"] = params
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestServer_Methods(t *testing.T) {
	ops := &fakeOps{healthy: true, search: make(chan core.SearchInput, 1)}
	srv := httptest.NewServer(server.New(ops, "").Handler())
	defer srv.Close()
	conn := dial(t, srv)

	resp := call(t, conn, "1", server.MethodSearch, map[string]any{"query": "jwt", "limit": 3, "no_rerank": true})
	if !resp.OK || resp.Type != "res" || resp.ID != "1" {
		t.Fatalf("search response = %+v", resp)
	}
	in := <-ops.search
	if in.Query != "jwt" || in.Limit != 3 || !in.NoRerank {
		t.Errorf("search input = %+v", in)
	}
	var result core.SearchResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil || len(result.Hits) != 1 {
		t.Errorf("payload = %s, %v", resp.Payload, err)
	}

	resp = call(t, conn, "2", server.MethodIngest, map[string]any{"paths": []string{"a", "b"}})
	var ingested core.IngestResult
	json.Unmarshal(resp.Payload, &ingested)
	if !resp.OK || ingested.FilesProcessed != 2 {
		t.Errorf("ingest response = %+v", resp)
	}

	resp = call(t, conn, "3", server.MethodStatus, nil)
	if !resp.OK {
		t.Errorf("status response = %+v", resp)
	}

	resp = call(t, conn, "4", server.MethodConsolidate, map[string]any{"keep": "both"})
	if resp.OK || resp.Error == nil || resp.Error.Code != server.ErrInternal {
		t.Errorf("consolidate error response = %+v", resp)
	}
}

func TestServer_BadRequests(t *testing.T) {
	srv := httptest.NewServer(server.New(&fakeOps{}, "").Handler())
	defer srv.Close()
	conn := dial(t, srv)

	resp := call(t, conn, "1", "forget", nil)
	if resp.OK || resp.Error.Code != server.ErrUnknownMethod {
		t.Errorf("unknown method response = %+v", resp)
	}

	resp = call(t, conn, "2", server.MethodSearch, "not an object")
	if resp.OK || resp.Error.Code != server.ErrInvalidRequest {
		t.Errorf("bad params response = %+v", resp)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	var malformed response
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&malformed); err != nil {
		t.Fatal(err)
	}
	if malformed.OK || malformed.Error.Code != server.ErrInvalidRequest {
		t.Errorf("malformed frame response = %+v", malformed)
	}
}

func TestServer_RateLimitPerConnection(t *testing.T) {
	srv := httptest.NewServer(server.New(&fakeOps{}, "", server.WithRateLimit(1, 2)).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	for i, want := range []bool{true, true, false} {
		resp := call(t, conn, string(rune('a'+i)), server.MethodStatus, nil)
		if resp.OK != want {
			t.Fatalf("request %d ok=%v, want %v", i, resp.OK, want)
		}
		if !want && resp.Error.Code != server.ErrRateLimited {
			t.Errorf("error code = %s", resp.Error.Code)
		}
	}

	// A new connection gets its own budget.
	other := dial(t, srv)
	if resp := call(t, other, "x", server.MethodStatus, nil); !resp.OK {
		t.Errorf("second connection limited: %+v", resp)
	}
}

func TestServer_HTTPHealth(t *testing.T) {
	tests := []struct {
		healthy bool
		want    int
	}{
		{true, http.StatusOK},
		{false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(server.New(&fakeOps{healthy: tt.healthy}, "").Handler())
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		var report core.HealthReport
		json.NewDecoder(resp.Body).Decode(&report)
		resp.Body.Close()
		srv.Close()

		if resp.StatusCode != tt.want || report.Healthy != tt.healthy {
			t.Errorf("healthy=%v: status %d, report %+v", tt.healthy, resp.StatusCode, report)
		}
	}
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := server.New(&fakeOps{healthy: true}, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get("http://" + ln.Addr().String() + "/health"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
