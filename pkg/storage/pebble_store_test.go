// file: pkg/storage/pebble_store_test.go
package storage

import (
	"path/filepath"
	"testing"

	"github.com/hadv/ockham/pkg/consensus"
)

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "chain")
	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open pebble store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Bootstrap(consensus.GenesisBlock()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func TestPebbleStoreBootstrapIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	gh := consensus.HashOfBlock(consensus.GenesisBlock())

	if _, ok := s.GetBlock(gh); !ok {
		t.Fatal("genesis block missing after bootstrap")
	}
	fv, fh := s.FinalizedTip()
	if fv != 0 || fh != gh {
		t.Fatalf("finalized tip = (%d, %s), want (0, genesis)", fv, fh)
	}

	// A second Bootstrap call against the same data must be a no-op, not an
	// error, so cmd/ockham-node can call it unconditionally on every start.
	if err := s.Bootstrap(consensus.GenesisBlock()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestPebbleStoreInsertBlockAndQCRoundTrip(t *testing.T) {
	s := openTestStore(t)
	gh := consensus.HashOfBlock(consensus.GenesisBlock())

	blk := consensus.Block{Author: "val0", View: 1, ParentHash: gh}
	h := consensus.HashOfBlock(blk)
	res, err := s.InsertBlock(blk)
	if err != nil || res != consensus.Inserted {
		t.Fatalf("insert block: res=%v err=%v", res, err)
	}
	got, ok := s.GetBlock(h)
	if !ok || got.Author != "val0" {
		t.Fatalf("round-tripped block = %+v, ok=%v", got, ok)
	}

	qc := consensus.QuorumCertificate{View: 1, BlockHash: h, Signers: []consensus.NodeID{"val0", "val1", "val2"}}
	if err := s.InsertQC(qc); err != nil {
		t.Fatalf("insert qc: %v", err)
	}
	gotQC, ok := s.GetQC(1)
	if !ok || len(gotQC.Signers) != 3 {
		t.Fatalf("round-tripped qc = %+v, ok=%v", gotQC, ok)
	}
	if hq := s.HighestQC(); hq.View != 1 {
		t.Fatalf("highest qc view = %d, want 1", hq.View)
	}
}

func TestPebbleStoreUnknownParentBuffersThenResolves(t *testing.T) {
	s := openTestStore(t)

	orphan := consensus.Block{Author: "val0", View: 3, ParentHash: consensus.Hash{0x7}}
	res, err := s.InsertBlock(orphan)
	if err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	if res != consensus.UnknownParent {
		t.Fatalf("insert orphan: got %v, want UnknownParent", res)
	}
	pending := s.ResolvePending(consensus.Hash{0x7})
	if len(pending) != 1 {
		t.Fatalf("resolved pending: got %d, want 1", len(pending))
	}
	// ResolvePending drains the buffer; a second call returns nothing.
	if pending := s.ResolvePending(consensus.Hash{0x7}); len(pending) != 0 {
		t.Fatalf("second resolve: got %d, want 0", len(pending))
	}
}

func TestPebbleStoreRecordOwnVoteAndLoadLastVoted(t *testing.T) {
	s := openTestStore(t)

	v := consensus.Vote{View: 5, BlockHash: consensus.Hash{0x1}, Kind: consensus.Notarize, Author: "val0"}
	if err := s.RecordOwnVote(v); err != nil {
		t.Fatalf("record own vote: %v", err)
	}
	f := consensus.Vote{View: 5, BlockHash: consensus.Hash{0x1}, Kind: consensus.Finalize, Author: "val0"}
	if err := s.RecordOwnVote(f); err != nil {
		t.Fatalf("record own finalize vote: %v", err)
	}

	last := s.LoadLastVoted("val0")
	if last[consensus.Notarize] != 5 {
		t.Fatalf("last notarize view = %d, want 5", last[consensus.Notarize])
	}
	if last[consensus.Finalize] != 5 {
		t.Fatalf("last finalize view = %d, want 5", last[consensus.Finalize])
	}

	// A validator that never voted has no entries at all.
	other := s.LoadLastVoted("val1")
	if len(other) != 0 {
		t.Fatalf("unvoted author returned %d entries, want 0", len(other))
	}
}

func TestPebbleStoreMarkFinalizedRejectsBackwardMove(t *testing.T) {
	s := openTestStore(t)
	gh := consensus.HashOfBlock(consensus.GenesisBlock())

	b1 := consensus.Block{Author: "val0", View: 1, ParentHash: gh}
	h1 := consensus.HashOfBlock(b1)
	if _, err := s.InsertBlock(b1); err != nil {
		t.Fatalf("insert b1: %v", err)
	}

	ancestors, err := s.MarkFinalized(1, h1)
	if err != nil {
		t.Fatalf("mark finalized: %v", err)
	}
	if len(ancestors) != 1 || ancestors[0].View != 1 {
		t.Fatalf("ancestors = %+v, want exactly [view 1]", ancestors)
	}

	if _, err := s.MarkFinalized(0, gh); err == nil {
		t.Fatal("finalizing view 0 after view 1 succeeded, want error (I7)")
	}
}

var _ consensus.ChainStore = (*PebbleStore)(nil)
