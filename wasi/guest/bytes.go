package guest

import "sync"

// byteTable keeps buffers handed to the host reachable until the guest
// takes them back. Without it the collector could reclaim a buffer between
// alloc_bytes returning and the host writing into it.
type byteTable struct {
	mu      sync.Mutex
	handles map[uint32][]byte
	next    uint32
}

func newByteTable() *byteTable {
	return &byteTable{handles: make(map[uint32][]byte), next: 1}
}

// alloc reserves size bytes and returns the handle for them. A zero size
// still gets a one byte backing array so the buffer has an address.
func (t *byteTable) alloc(size uint32) (uint32, []byte) {
	buf := make([]byte, size, max(size, 1))
	t.mu.Lock()
	defer t.mu.Unlock()
	handle := t.next
	t.next++
	t.handles[handle] = buf
	return handle, buf
}

// take returns the buffer for handle and forgets it.
func (t *byteTable) take(handle uint32) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.handles[handle]
	delete(t.handles, handle)
	return buf, ok
}

func (t *byteTable) free(handle uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, handle)
}

func (t *byteTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
