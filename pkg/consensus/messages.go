// file: pkg/consensus/messages.go
package consensus

import "context"

// Handlers are the reactor's inbound entry points; a Network
// implementation calls these as messages arrive off the wire.
type Handlers struct {
	OnBlock func(b Block)
	OnVote  func(v Vote)
}

// Network is the external broadcast/point-to-point collaborator (spec §6).
type Network interface {
	BroadcastBlock(ctx context.Context, b Block) error
	BroadcastVote(ctx context.Context, v Vote) error
	// RequestBlock performs a point-to-point sync request to peer for a
	// block by hash, used to repair a MissingDependency (spec §7).
	RequestBlock(ctx context.Context, peer NodeID, hash Hash) (Block, bool, error)
	SetHandlers(h Handlers)
	// PeerCount reports the number of live connected peers, surfaced
	// through Status for the {current_view, finalized_view, peers, role}
	// aggregate status (spec §7).
	PeerCount() int
}

// Mempool is the external transaction-admission collaborator.
type Mempool interface {
	PullPayload(limit int) []byte
}

// Execution is the external deterministic state-transition collaborator.
type Execution interface {
	Execute(parentStateRoot Hash, payload []byte) (Hash, error)
}

// FinalizedNotification is emitted once a view's Finalize QC lands and
// mark_finalized succeeds.
type FinalizedNotification struct {
	View View
	Hash Hash
}
