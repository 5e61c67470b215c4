// file: pkg/mempool/mempool.go
package mempool

import (
	"encoding/binary"
	"sync"
)

// Mempool is a FIFO queue of opaque application payloads, admitted in the
// order proposers submit them. Unlike a transaction-aware mempool, it does
// not classify or reorder entries: the protocol treats a block's payload as
// opaque bytes (spec §6), so admission order is the only ordering rule.
type Mempool struct {
	mu    sync.Mutex
	queue [][]byte
}

func New() *Mempool {
	return &Mempool{}
}

// Submit admits a raw payload for inclusion in a future block.
func (m *Mempool) Submit(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	m.queue = append(m.queue, cp)
	m.mu.Unlock()
}

// PullPayload drains entries in FIFO order until limit bytes (cap, not
// exact) is reached, concatenating them with a length-prefix so Execution
// can split them back apart.
func (m *Mempool) PullPayload(limit int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []byte
	taken := 0
	for len(m.queue) > 0 {
		entry := m.queue[0]
		if taken > 0 && taken+len(entry) > limit {
			break
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(entry)))
		out = append(out, lenBuf[:]...)
		out = append(out, entry...)
		taken += len(entry)
		m.queue = m.queue[1:]
	}
	return out
}

// SplitPayload reverses PullPayload's length-prefixed framing; Execution
// implementations use it to recover individual entries.
func SplitPayload(payload []byte) [][]byte {
	var out [][]byte
	for len(payload) >= 4 {
		n := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		if uint32(len(payload)) < n {
			break
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

// Len reports the number of payloads currently queued.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
