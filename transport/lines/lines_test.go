package lines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomyedwab/sqlbridge/sqlbridge/host"
	"github.com/tomyedwab/sqlbridge/sqlbridge/types"
)

func TestServeSession(t *testing.T) {
	b := host.NewDefault(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	path := filepath.Join(t.TempDir(), "lines.db")
	input := strings.Join([]string{
		fmt.Sprintf(`{"id":"1","action":"open","args":[%q,1]}`, "file://"+path),
		``,
		`{"id":"2","action":"batch-exec","args":[["CREATE TABLE t(a)","INSERT INTO t VALUES('x')"]]}`,
		`{"id":"3","action":"query-array","args":["SELECT a FROM t",[]]}`,
		`{"id":"4","action":"query-scalar","args":["SELECT a FROM t WHERE a='y'",[]]}`,
		`not json`,
		`{"id":"6","action":"close"}`,
	}, "\n")

	var out bytes.Buffer
	if err := Serve(context.Background(), b, strings.NewReader(input), &out, zerolog.Nop()); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	outLines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(outLines) != 6 {
		t.Fatalf("Expected 6 responses, got %d:\n%s", len(outLines), out.String())
	}
	var resps []types.Response
	for _, l := range outLines {
		var r types.Response
		if err := json.Unmarshal([]byte(l), &r); err != nil {
			t.Fatalf("Response is not JSON: %v", err)
		}
		resps = append(resps, r)
	}

	if !resps[0].OK() || !resps[1].OK() {
		t.Fatalf("Setup failed: %+v %+v", resps[0], resps[1])
	}
	if string(resps[2].Payload) != `[["x"]]` || resps[2].ID != "3" {
		t.Errorf("Unexpected array response %+v", resps[2])
	}
	if string(resps[3].Payload) != "null" {
		t.Errorf("Unexpected scalar response %+v", resps[3])
	}
	if resps[4].Kind != "malformed_arguments" {
		t.Errorf("Expected malformed request error, got %+v", resps[4])
	}
	if !resps[5].OK() {
		t.Errorf("Close failed: %+v", resps[5])
	}
}

type stoppedHandler struct{}

func (stoppedHandler) HandleRequest(context.Context, []byte) ([]byte, error) {
	return nil, host.ErrStopped
}

func TestServeStopsOnHandlerError(t *testing.T) {
	var out bytes.Buffer
	err := Serve(context.Background(), stoppedHandler{}, strings.NewReader(`{"action":"close"}`+"\n"), &out, zerolog.Nop())
	if !errors.Is(err, host.ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("Expected no output, got %q", out.String())
	}
}
