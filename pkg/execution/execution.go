// file: pkg/execution/execution.go
package execution

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/hadv/ockham/pkg/consensus"
	"github.com/hadv/ockham/pkg/mempool"
)

// Engine is a deterministic Execution collaborator: state_root is fully
// determined by parent_state_root and payload (every honest validator that
// executes the same payload over the same parent reaches the same root),
// which is all the protocol itself requires. The payload's entry count is
// folded into the root as a minimal stand-in for application state; the
// engine holds no state of its own and models no particular ledger
// semantics.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Execute(parentStateRoot consensus.Hash, payload []byte) (consensus.Hash, error) {
	entries := mempool.SplitPayload(payload)

	h := sha256.New()
	h.Write(parentStateRoot[:])
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(entries)))
	h.Write(count[:])
	for _, e := range entries {
		h.Write(e)
	}

	var out consensus.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

var _ consensus.Execution = (*Engine)(nil)
