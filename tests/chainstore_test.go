// file: tests/chainstore_test.go
package tests

import (
	"testing"

	"github.com/hadv/ockham/pkg/consensus"
)

func TestMemChainStoreGenesisSeeded(t *testing.T) {
	genesis := consensus.GenesisBlock()
	store := consensus.NewMemChainStore(genesis)

	gh := consensus.HashOfBlock(genesis)
	if _, ok := store.GetBlock(gh); !ok {
		t.Fatal("genesis block not seeded")
	}
	hq := store.HighestQC()
	if hq.View != 0 || hq.BlockHash != gh {
		t.Fatalf("highest QC at startup = %+v, want genesis QC", hq)
	}
	fv, fh := store.FinalizedTip()
	if fv != 0 || fh != gh {
		t.Fatalf("finalized tip at startup = (%d, %s), want (0, genesis)", fv, fh)
	}
}

func TestMemChainStoreInsertBlockUnknownParentBuffers(t *testing.T) {
	genesis := consensus.GenesisBlock()
	store := consensus.NewMemChainStore(genesis)

	orphan := consensus.Block{Author: "val0", View: 5, ParentHash: consensus.Hash{0xFF}}
	res, err := store.InsertBlock(orphan)
	if err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	if res != consensus.UnknownParent {
		t.Fatalf("insert orphan: got %v, want UnknownParent", res)
	}

	// Nothing buffered under the wrong parent hash.
	if pending := store.ResolvePending(consensus.Hash{0xAA}); len(pending) != 0 {
		t.Fatalf("resolved under wrong parent: got %d blocks, want 0", len(pending))
	}
	pending := store.ResolvePending(consensus.Hash{0xFF})
	if len(pending) != 1 {
		t.Fatalf("resolved pending under correct parent: got %d blocks, want 1", len(pending))
	}
}

func TestMemChainStoreInsertQCKeepsMoreSigners(t *testing.T) {
	genesis := consensus.GenesisBlock()
	store := consensus.NewMemChainStore(genesis)

	var hash consensus.Hash
	hash[0] = 1
	weak := consensus.QuorumCertificate{View: 1, BlockHash: hash, Signers: []consensus.NodeID{"val0", "val1", "val2"}}
	if err := store.InsertQC(weak); err != nil {
		t.Fatalf("insert weak qc: %v", err)
	}
	strong := consensus.QuorumCertificate{View: 1, BlockHash: hash, Signers: []consensus.NodeID{"val0", "val1", "val2", "val3"}}
	if err := store.InsertQC(strong); err != nil {
		t.Fatalf("insert strong qc: %v", err)
	}
	got, ok := store.GetQC(1)
	if !ok || len(got.Signers) != 4 {
		t.Fatalf("qc at view 1 = %+v, want the 4-signer qc retained", got)
	}

	// A QC with fewer signers than the one already stored must not replace it.
	if err := store.InsertQC(weak); err != nil {
		t.Fatalf("re-insert weak qc: %v", err)
	}
	got, _ = store.GetQC(1)
	if len(got.Signers) != 4 {
		t.Fatalf("qc at view 1 after re-insert = %d signers, want 4 (weaker QC must not win)", len(got.Signers))
	}
}

func TestMemChainStoreMarkFinalizedWalksAncestorsAndRejectsBackward(t *testing.T) {
	genesis := consensus.GenesisBlock()
	store := consensus.NewMemChainStore(genesis)
	gh := consensus.HashOfBlock(genesis)

	b1 := consensus.Block{Author: "val0", View: 1, ParentHash: gh}
	h1 := consensus.HashOfBlock(b1)
	if _, err := store.InsertBlock(b1); err != nil {
		t.Fatalf("insert b1: %v", err)
	}

	b2 := consensus.Block{Author: "val1", View: 2, ParentHash: h1}
	h2 := consensus.HashOfBlock(b2)
	if _, err := store.InsertBlock(b2); err != nil {
		t.Fatalf("insert b2: %v", err)
	}

	ancestors, err := store.MarkFinalized(2, h2)
	if err != nil {
		t.Fatalf("mark finalized: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("ancestor chain length = %d, want 2 (b1, b2)", len(ancestors))
	}
	if ancestors[0].View != 1 || ancestors[1].View != 2 {
		t.Fatalf("ancestor chain order = [%d, %d], want [1, 2]", ancestors[0].View, ancestors[1].View)
	}

	if _, err := store.MarkFinalized(1, h1); err == nil {
		t.Fatal("finalizing an earlier view after a later one succeeded, want error (I7)")
	}
}

func TestMemChainStoreMarkFinalizedUnknownBlock(t *testing.T) {
	store := consensus.NewMemChainStore(consensus.GenesisBlock())
	if _, err := store.MarkFinalized(1, consensus.Hash{0x42}); err == nil {
		t.Fatal("finalizing an unknown block succeeded, want error")
	}
}
