// file: pkg/consensus/engine.go
package consensus

import (
	"context"
	"crypto/sha256"
	"math/rand"

	"github.com/hadv/ockham/pkg/crypto"

	"go.uber.org/zap"
)

// Engine is the per-validator state machine reactor (spec §4.5): it
// consumes inbound blocks, votes, and local timeouts off a single ordered
// queue, applies the safety rules, drives the Chain Store / Vote Pool / QC
// Builder / Pacemaker, and emits outbound proposals, votes, and
// finalization notifications.
type Engine struct {
	Committee *Committee
	Self      NodeID

	Store  ChainStore
	Pool   *VotePool
	QCB    *QCBuilder
	Safety *Safety
	PM     *Pacemaker

	Elector LeaderElector
	Net     Network
	Signer  *crypto.BLSSigner
	Mempool Mempool
	Exec    Execution

	Logger         *zap.SugaredLogger
	VerboseLogging bool

	OnFinalized func(FinalizedNotification)

	blockCh chan Block
	voteCh  chan Vote

	proposedView View
}

// GenesisQC is the trusted, unsigned bootstrap certificate every validator
// starts from: it notarizes the genesis block at view 0 without requiring
// signature verification (there is no committee to sign before genesis).
func GenesisQC(genesisHash Hash) QuorumCertificate {
	return QuorumCertificate{View: 0, BlockHash: genesisHash, Kind: Notarize}
}

func NewEngine(committee *Committee, self NodeID, store ChainStore, elector LeaderElector, net Network, signer *crypto.BLSSigner, mempool Mempool, exec Execution, pm *Pacemaker) *Engine {
	e := &Engine{
		Committee: committee,
		Self:      self,
		Store:     store,
		Pool:      NewVotePool(committee),
		QCB:       NewQCBuilder(committee),
		Safety:    NewSafety(),
		PM:        pm,
		Elector:   elector,
		Net:       net,
		Signer:    signer,
		Mempool:   mempool,
		Exec:      exec,
		blockCh:   make(chan Block, 1024),
		voteCh:    make(chan Vote, 1024),
	}
	net.SetHandlers(Handlers{
		OnBlock: func(b Block) { e.blockCh <- b },
		OnVote:  func(v Vote) { e.voteCh <- v },
	})
	return e
}

func hashPayload(p []byte) Hash { return sha256.Sum256(p) }

func (e *Engine) logw(level string, msg string, kv ...interface{}) {
	if e.Logger == nil {
		return
	}
	switch level {
	case "debug":
		if e.VerboseLogging {
			e.Logger.Debugw(msg, kv...)
		}
	case "warn":
		e.Logger.Warnw(msg, kv...)
	case "info":
		e.Logger.Infow(msg, kv...)
	case "error":
		e.Logger.Errorw(msg, kv...)
	}
}

// Recover implements spec §4.5 "Recovery on startup": load the finalized
// tip and highest QC, set current_view = highest_qc.view + 1, and restore
// last_voted_view so a restarted node can never equivocate against its own
// pre-crash ballots.
func (e *Engine) Recover() {
	_, _ = e.Store.FinalizedTip()
	hq := e.Store.HighestQC()
	if hq.View+1 > e.PM.CurrentView() {
		e.PM.OnQC(hq)
	}
	if vr, ok := e.Store.(voteRecordLoader); ok {
		for kind, view := range vr.LoadLastVoted(e.Self) {
			e.Safety.RecordVote(kind, view)
		}
	}
}

// voteRecordLoader is an optional capability a durable ChainStore may offer
// to replay persisted vote records across a restart (pkg/storage's pebble
// implementation satisfies it).
type voteRecordLoader interface {
	LoadLastVoted(self NodeID) map[VoteKind]View
}

// pendingResolver is an optional capability for chain stores that buffer
// blocks with an unknown parent (spec §4.1 "not an error... buffered
// pending sync").
type pendingResolver interface {
	ResolvePending(parentHash Hash) []Block
}

// voteRecorder is an optional capability a durable ChainStore may offer to
// persist this node's own ballots before they go out on the wire, so a
// crash between signing and broadcasting can never result in a second,
// divergent vote for the same (view, kind) after restart.
type voteRecorder interface {
	RecordOwnVote(v Vote) error
}

// Start arms the pacemaker for the current view and, if this node leads
// that view, proposes immediately.
func (e *Engine) Start(ctx context.Context) {
	e.PM.ArmCurrent()
	e.tryPropose(ctx)
}

// Run is the single-threaded reactor loop (spec §5): one message is
// processed to completion before the next is dequeued.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-e.blockCh:
			e.handleBlock(ctx, b)
		case v := <-e.voteCh:
			e.handleVote(ctx, v)
		case tv := <-e.PM.LocalTimeouts():
			e.handleTimeout(ctx, tv)
		}
	}
}

func (e *Engine) castVote(ctx context.Context, view View, hash Hash, kind VoteKind) {
	if !e.Safety.RecordVote(kind, view) {
		return
	}
	sig := e.Signer.Sign(CanonicalVoteBytes(view, hash, kind))
	vote := Vote{View: view, BlockHash: hash, Kind: kind, Author: e.Self, Signature: sig}
	if recorder, ok := e.Store.(voteRecorder); ok {
		if err := recorder.RecordOwnVote(vote); err != nil {
			e.logw("error", "record_own_vote_failed", "view", view, "kind", kind.String(), "err", err)
			return
		}
	}
	if err := e.Net.BroadcastVote(ctx, vote); err != nil {
		e.logw("debug", "broadcast_vote_failed", "view", view, "kind", kind.String(), "err", err)
	}
	// Reactor is single-threaded and gossip does not guarantee self-delivery;
	// count our own vote immediately rather than waiting on the network.
	e.handleVote(ctx, vote)
}

func (e *Engine) tryPropose(ctx context.Context) {
	v := e.PM.CurrentView()
	if v <= e.proposedView {
		return
	}
	if e.Elector.LeaderOf(v) != e.Self {
		return
	}
	e.proposedView = v

	highQC := e.Store.HighestQC()
	parentHash := highQC.BlockHash
	var parentStateRoot Hash
	if parentBlk, ok := e.Store.GetBlock(parentHash); ok {
		parentStateRoot = parentBlk.StateRoot
	}

	payload := e.Mempool.PullPayload(1 << 20)
	stateRoot, err := e.Exec.Execute(parentStateRoot, payload)
	if err != nil {
		e.logw("error", "execute_failed", "view", v, "err", err)
		return
	}

	block := Block{
		Author:        e.Self,
		View:          v,
		ParentHash:    parentHash,
		Justify:       highQC,
		PayloadDigest: hashPayload(payload),
		StateRoot:     stateRoot,
		Payload:       payload,
	}

	if err := e.Net.BroadcastBlock(ctx, block); err != nil {
		e.logw("debug", "broadcast_block_failed", "view", v, "err", err)
	}
	e.logw("info", "propose", "view", v, "parent", parentHash.String())
	e.handleBlock(ctx, block)
}

// handleBlock implements validation-of-an-inbound-block (spec §4.5).
func (e *Engine) handleBlock(ctx context.Context, b Block) {
	h := HashOfBlock(b)

	if _, ok := e.Store.GetBlock(h); ok {
		return // duplicate, silently ignored
	}

	if b.View < e.PM.CurrentView() {
		e.logw("debug", "block_stale", "view", b.View, "current", e.PM.CurrentView())
		return
	}
	if b.Author != e.Elector.LeaderOf(b.View) {
		e.logw("debug", "block_wrong_leader", "view", b.View, "author", b.Author)
		return
	}
	if b.Justify.View >= b.View {
		e.logw("debug", "block_justify_not_monotone", "view", b.View, "justify_view", b.Justify.View)
		return
	}
	if err := verifyJustify(e.Committee, b.Justify); err != nil {
		e.logw("debug", "block_bad_justify", "view", b.View, "err", err)
		return
	}

	if b.ParentHash != DummyHash {
		if _, ok := e.Store.GetBlock(b.ParentHash); !ok {
			e.handleMissingParent(ctx, b)
			return
		}
	} else if !b.Justify.IsDummy() {
		e.logw("debug", "block_dummy_parent_without_dummy_qc", "view", b.View)
		return
	}

	if hashPayload(b.Payload) != b.PayloadDigest {
		e.logw("debug", "block_payload_digest_mismatch", "view", b.View)
		return
	}
	var parentStateRoot Hash
	if parentBlk, ok := e.Store.GetBlock(b.ParentHash); ok {
		parentStateRoot = parentBlk.StateRoot
	}
	gotStateRoot, err := e.Exec.Execute(parentStateRoot, b.Payload)
	if err != nil || gotStateRoot != b.StateRoot {
		e.logw("debug", "block_state_root_mismatch", "view", b.View, "err", err)
		return
	}

	if !e.Safety.RecordBlockSeen(b.View, b.Author, h) {
		e.logw("warn", "equivocation_detected", "view", b.View, "author", b.Author)
		return
	}

	res, err := e.Store.InsertBlock(b)
	if err != nil {
		e.logw("error", "insert_block_failed", "err", err)
		return
	}
	switch res {
	case Inserted:
		// fallthrough to vote below
	case Duplicate:
		return
	case UnknownParent:
		e.handleMissingParent(ctx, b)
		return
	}
	_ = e.Store.InsertQC(b.Justify)

	e.castVote(ctx, b.View, h, Notarize)

	if resolver, ok := e.Store.(pendingResolver); ok {
		for _, child := range resolver.ResolvePending(h) {
			e.handleBlock(ctx, child)
		}
	}
}

func verifyJustify(committee *Committee, qc QuorumCertificate) error {
	if qc.View == 0 {
		return nil // trusted genesis certificate, not independently signed
	}
	return VerifyQC(committee, qc)
}

// handleMissingParent implements the MissingDependency error path (spec
// §7): buffer the block and issue a point-to-point sync request to a
// random peer rather than treating the gap as fatal.
func (e *Engine) handleMissingParent(ctx context.Context, b Block) {
	if _, err := e.Store.InsertBlock(b); err != nil {
		e.logw("error", "buffer_pending_block_failed", "err", err)
	}
	e.logw("debug", "missing_dependency", "view", b.View, "parent", b.ParentHash.String())

	peers := e.Committee.IDs
	if len(peers) == 0 {
		return
	}
	target := peers[rand.Intn(len(peers))]
	go func() {
		fetched, ok, err := e.Net.RequestBlock(ctx, target, b.ParentHash)
		if err != nil || !ok {
			return
		}
		e.blockCh <- fetched
	}()
}

// handleVote implements the vote-handling pipeline (spec §4.5): every
// inbound vote routes to the Vote Pool; on QuorumReached it builds a QC and
// acts on it depending on kind.
func (e *Engine) handleVote(ctx context.Context, v Vote) {
	result, votes := e.Pool.Ingest(v)
	switch result {
	case Accepted, DuplicateVote:
		return
	case Stale:
		e.logw("debug", "vote_stale", "view", v.View)
		return
	case InvalidSignature:
		e.logw("debug", "vote_invalid_signature", "view", v.View, "author", v.Author)
		return
	case Equivocation:
		e.logw("warn", "equivocation_detected", "view", v.View, "author", v.Author, "kind", v.Kind.String())
		return
	case QuorumReached:
		// proceed below
	}

	qc, err := e.QCB.Build(v.View, v.Kind, v.BlockHash, votes)
	if err != nil {
		e.logw("error", "qc_build_failed", "view", v.View, "kind", v.Kind.String(), "err", err)
		return
	}
	if err := e.Store.InsertQC(qc); err != nil {
		e.logw("error", "insert_qc_failed", "err", err)
		return
	}

	switch qc.Kind {
	case Notarize:
		e.PM.OnQC(qc)
		e.logw("info", "notarize_qc", "view", qc.View, "dummy", qc.IsDummy())
		if !qc.IsDummy() {
			e.castVote(ctx, qc.View, qc.BlockHash, Finalize)
		}
		e.tryPropose(ctx)
	case Finalize:
		if qc.IsDummy() {
			return // dummy views are never finalized (P4)
		}
		ancestors, err := e.Store.MarkFinalized(qc.View, qc.BlockHash)
		if err != nil {
			e.logw("debug", "mark_finalized_failed", "view", qc.View, "err", err)
			return
		}
		e.Pool.GC(qc.View)
		for _, blk := range ancestors {
			bh := HashOfBlock(blk)
			e.logw("info", "finalized", "view", blk.View, "hash", bh.String())
			if e.OnFinalized != nil {
				e.OnFinalized(FinalizedNotification{View: blk.View, Hash: bh})
			}
		}
	}
}

func (e *Engine) handleTimeout(ctx context.Context, v View) {
	if v != e.PM.CurrentView() {
		return // superseded by a QC that already advanced the view
	}
	e.logw("debug", "local_timeout", "view", v)
	e.castVote(ctx, v, DummyHash, Notarize)
	e.PM.OnTimeout(v)
}

// Status is the aggregate view an RPC collaborator is allowed to see
// (spec §7): current_view, finalized_view, peers, role.
type Status struct {
	CurrentView   View
	FinalizedView View
	FinalizedHash Hash
	Peers         int
	Role          string
}

func (e *Engine) Status() Status {
	fv, fh := e.Store.FinalizedTip()
	role := "follower"
	if e.Elector.LeaderOf(e.PM.CurrentView()) == e.Self {
		role = "leader"
	}
	peers := 0
	if e.Net != nil {
		peers = e.Net.PeerCount()
	}
	return Status{CurrentView: e.PM.CurrentView(), FinalizedView: fv, FinalizedHash: fh, Peers: peers, Role: role}
}
