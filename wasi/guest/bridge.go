//go:build wasip1

// Package guest binds a WASM guest to the host's SQL bridge. Build with
// GOOS=wasip1 GOARCH=wasm and run under wasi/host.
package guest

import (
	"fmt"
	"unsafe"

	"github.com/tomyedwab/sqlbridge/sqlbridge/client"
)

//go:wasmimport env sqlite_bridge_call
func sqlite_bridge_call(reqPtr, reqSize uint32) uint64

var bytes = newByteTable()

//go:wasmexport alloc_bytes
func allocBytes(size uint32) uint64 {
	handle, buf := bytes.alloc(size)
	return uint64(handle)<<32 | uint64(uintptr(unsafe.Pointer(unsafe.SliceData(buf[:cap(buf)]))))
}

//go:wasmexport free_bytes
func freeBytes(handle uint32) {
	bytes.free(handle)
}

// CallHost sends one request payload to the host and returns the response.
func CallHost(requestPayload []byte) ([]byte, error) {
	if len(requestPayload) == 0 {
		return nil, fmt.Errorf("empty request payload")
	}
	ret := sqlite_bridge_call(
		uint32(uintptr(unsafe.Pointer(unsafe.SliceData(requestPayload)))),
		uint32(len(requestPayload)),
	)
	resp, ok := bytes.take(uint32(ret))
	if !ok {
		return nil, fmt.Errorf("sqlite_bridge_call returned unknown handle %d", uint32(ret))
	}
	if ret>>32 != 0 {
		return nil, fmt.Errorf("sqlite_bridge_call returned error: %s", string(resp))
	}
	return resp, nil
}

// NewClient returns a bridge client that talks to the host.
func NewClient() *client.Client {
	return client.New(CallHost)
}
