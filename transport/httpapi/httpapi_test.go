package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomyedwab/sqlbridge/sqlbridge/errs"
	"github.com/tomyedwab/sqlbridge/sqlbridge/host"
	"github.com/tomyedwab/sqlbridge/sqlbridge/types"
)

func setupServer(t *testing.T) *httptest.Server {
	b := host.NewDefault(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Serve(ctx)
		close(done)
	}()
	srv := httptest.NewServer(NewRouter(b, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func post(t *testing.T, srv *httptest.Server, body string) (int, types.Response) {
	t.Helper()
	res, err := http.Post(srv.URL+"/v1/call", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer res.Body.Close()
	var resp types.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	return res.StatusCode, resp
}

func TestCall(t *testing.T) {
	srv := setupServer(t)
	path := filepath.Join(t.TempDir(), "http.db")

	status, resp := post(t, srv, fmt.Sprintf(`{"action":"open","args":[%q,1]}`, path))
	if status != http.StatusOK || !resp.OK() {
		t.Fatalf("Open failed: %d %+v", status, resp)
	}
	if resp.ID == "" {
		t.Error("Expected the request ID to be filled in")
	}

	status, resp = post(t, srv, `{"action":"batch-exec","args":[["CREATE TABLE t(a)","INSERT INTO t VALUES('x')"]]}`)
	if status != http.StatusOK || !resp.OK() {
		t.Fatalf("Batch failed: %d %+v", status, resp)
	}

	_, resp = post(t, srv, `{"id":"q","action":"query-array","args":["SELECT a FROM t",[]]}`)
	if string(resp.Payload) != `[["x"]]` || resp.ID != "q" {
		t.Errorf("Unexpected array response %+v", resp)
	}

	status, resp = post(t, srv, `{"action":"query-scalar","args":["SELECT nope FROM t",[]]}`)
	if status != http.StatusOK || resp.OK() || resp.Kind != "engine_failure" {
		t.Errorf("Expected engine failure envelope with 200, got %d %+v", status, resp)
	}
}

func TestBadBody(t *testing.T) {
	srv := setupServer(t)
	status, resp := post(t, srv, `{"action":`)
	if status != http.StatusBadRequest || resp.Kind != errs.KindMalformedArguments.String() || resp.Status != types.StatusError {
		t.Errorf("Expected 400 malformed, got %d %+v", status, resp)
	}
}

func TestHealthz(t *testing.T) {
	srv := setupServer(t)

	check := func(wantOpen bool) {
		res, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer res.Body.Close()
		var body struct {
			Status string `json:"status"`
			Open   bool   `json:"open"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			t.Fatalf("Health body is not JSON: %v", err)
		}
		if body.Status != "ok" || body.Open != wantOpen {
			t.Errorf("Unexpected health %+v, want open=%v", body, wantOpen)
		}
	}

	check(false)
	post(t, srv, fmt.Sprintf(`{"action":"open","args":[%q,1]}`, filepath.Join(t.TempDir(), "h.db")))
	check(true)
	post(t, srv, `{"action":"close"}`)
	check(false)
}

func TestWrongMethod(t *testing.T) {
	srv := setupServer(t)
	res, err := http.Get(srv.URL + "/v1/call")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", res.StatusCode)
	}
}
