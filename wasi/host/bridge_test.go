package host

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	bridge "github.com/tomyedwab/sqlbridge/sqlbridge/host"
	"github.com/tomyedwab/sqlbridge/sqlbridge/types"
)

// fakeGuest is a flat byte slice standing in for linear memory, with a bump
// allocator in place of the guest's alloc_bytes.
type fakeGuest struct {
	mem     []byte
	next    uint32
	handles map[uint32][2]uint32
}

func newFakeGuest(size int) *fakeGuest {
	return &fakeGuest{mem: make([]byte, size), next: 16, handles: map[uint32][2]uint32{}}
}

func (g *fakeGuest) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(g.mem)) {
		return nil, false
	}
	return g.mem[offset : offset+byteCount], true
}

func (g *fakeGuest) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(g.mem)) {
		return false
	}
	copy(g.mem[offset:], v)
	return true
}

func (g *fakeGuest) alloc(ctx context.Context, size uint32) (uint32, uint32, error) {
	ptr := g.next
	g.next += size
	handle := uint32(len(g.handles) + 1)
	g.handles[handle] = [2]uint32{ptr, size}
	return handle, ptr, nil
}

func (g *fakeGuest) put(data string) (uint32, uint32) {
	ptr := g.next
	copy(g.mem[ptr:], data)
	g.next += uint32(len(data))
	return ptr, uint32(len(data))
}

func (g *fakeGuest) result(t *testing.T, ret uint64) (string, bool) {
	t.Helper()
	loc, ok := g.handles[uint32(ret)]
	if !ok {
		t.Fatalf("Unknown handle %d", uint32(ret))
	}
	return string(g.mem[loc[0] : loc[0]+loc[1]]), ret&errorBit != 0
}

func startBridge(t *testing.T) *bridge.Bridge {
	b := bridge.NewDefault(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func TestBridgeCall(t *testing.T) {
	b := startBridge(t)
	g := newFakeGuest(1 << 16)
	ctx := context.Background()

	call := func(req string) types.Response {
		t.Helper()
		ptr, n := g.put(req)
		out, isErr := g.result(t, bridgeCall(ctx, b, g, g.alloc, zerolog.Nop(), ptr, n))
		if isErr {
			t.Fatalf("Unexpected transport error: %s", out)
		}
		var resp types.Response
		if err := json.Unmarshal([]byte(out), &resp); err != nil {
			t.Fatalf("Response is not JSON: %v", err)
		}
		return resp
	}

	path := filepath.Join(t.TempDir(), "guest.db")
	openReq, _ := json.Marshal(map[string]any{"id": "1", "action": "open", "args": []any{path, 1}})
	if resp := call(string(openReq)); !resp.OK() {
		t.Fatalf("Open failed: %+v", resp)
	}
	if resp := call(`{"id":"2","action":"batch-exec","args":[["CREATE TABLE t(a)","INSERT INTO t VALUES('hi')"]]}`); !resp.OK() {
		t.Fatalf("Batch failed: %+v", resp)
	}
	resp := call(`{"id":"3","action":"query-scalar","args":["SELECT a FROM t",[]]}`)
	if string(resp.Payload) != `"hi"` || resp.ID != "3" {
		t.Errorf("Unexpected scalar response %+v", resp)
	}
}

func TestBridgeCallBadPointer(t *testing.T) {
	b := startBridge(t)
	g := newFakeGuest(256)

	ret := bridgeCall(context.Background(), b, g, g.alloc, zerolog.Nop(), 200, 1000)
	out, isErr := g.result(t, ret)
	if !isErr {
		t.Fatalf("Expected error bit to be set, got %q", out)
	}
	if out == "" {
		t.Error("Expected an error message")
	}
}

type stoppedHandler struct{}

func (stoppedHandler) HandleRequest(context.Context, []byte) ([]byte, error) {
	return nil, bridge.ErrStopped
}

func TestBridgeCallHandlerError(t *testing.T) {
	g := newFakeGuest(1024)
	ptr, n := g.put(`{"action":"close"}`)
	out, isErr := g.result(t, bridgeCall(context.Background(), stoppedHandler{}, g, g.alloc, zerolog.Nop(), ptr, n))
	if !isErr || out != bridge.ErrStopped.Error() {
		t.Errorf("Expected stopped error, got %q (error bit %v)", out, isErr)
	}
}

func TestWriteBytesAllocFailure(t *testing.T) {
	g := newFakeGuest(64)
	failing := func(context.Context, uint32) (uint32, uint32, error) {
		return 0, 0, errors.New("out of memory")
	}
	if _, err := writeBytes(context.Background(), g, failing, []byte("x")); err == nil {
		t.Error("Expected alloc failure to surface")
	}
	overflow := func(context.Context, uint32) (uint32, uint32, error) {
		return 1, 60, nil
	}
	if _, err := writeBytes(context.Background(), g, overflow, []byte("0123456789")); err == nil {
		t.Error("Expected out of range write to fail")
	}
}

func TestRunnerRejectsInvalidModule(t *testing.T) {
	ctx := context.Background()
	r, err := NewRunner(ctx, stoppedHandler{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	defer r.Close(ctx)

	if err := r.Run(ctx, []byte("not wasm"), RunOptions{Name: "bad"}); err == nil {
		t.Error("Expected invalid module to fail")
	}
}
