// file: pkg/storage/pebble_store.go
package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/hadv/ockham/pkg/consensus"
)

// PebbleStore is the durable consensus.ChainStore backing a production
// node: every write that must precede an outbound message (a new block, a
// fresh QC, a finalization) is flushed with pebble.Sync before the call
// returns, matching the durability rule spec'd for the Chain Store.
type PebbleStore struct {
	db *pebble.DB

	// unknown-parent buffering is transient; it does not need to survive a
	// crash, so it is kept in memory alongside the durable index.
	mu            sync.Mutex
	pendingByPrnt map[consensus.Hash][]consensus.Block
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &PebbleStore{db: db, pendingByPrnt: make(map[consensus.Hash][]consensus.Block)}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Bootstrap seeds the store with the genesis block and its trusted QC, if
// the store is empty. Safe to call unconditionally on startup.
func (s *PebbleStore) Bootstrap(genesis consensus.Block) error {
	gh := consensus.HashOfBlock(genesis)
	if _, ok := s.GetBlock(gh); ok {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	blockVal, err := encodeGob(genesis)
	if err != nil {
		return fmt.Errorf("encode genesis block: %w", err)
	}
	if err := batch.Set(kBlock(gh), blockVal, nil); err != nil {
		return err
	}
	genesisQC := consensus.GenesisQC(gh)
	qcVal, err := encodeGob(genesisQC)
	if err != nil {
		return fmt.Errorf("encode genesis qc: %w", err)
	}
	if err := batch.Set(kQC(0), qcVal, nil); err != nil {
		return err
	}
	if err := batch.Set(kHighestQC(), qcVal, nil); err != nil {
		return err
	}
	tipVal, err := encodeGob(finalizedTip{View: 0, Hash: gh})
	if err != nil {
		return fmt.Errorf("encode genesis tip: %w", err)
	}
	if err := batch.Set(kFinalizedTip(), tipVal, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertBlock(b consensus.Block) (consensus.InsertResult, error) {
	h := consensus.HashOfBlock(b)
	if _, ok := s.GetBlock(h); ok {
		return consensus.Duplicate, nil
	}

	if b.ParentHash != consensus.DummyHash {
		if _, ok := s.GetBlock(b.ParentHash); !ok {
			s.mu.Lock()
			s.pendingByPrnt[b.ParentHash] = append(s.pendingByPrnt[b.ParentHash], b)
			s.mu.Unlock()
			return consensus.UnknownParent, nil
		}
	}

	val, err := encodeGob(b)
	if err != nil {
		return 0, fmt.Errorf("encode block: %w", err)
	}
	if err := s.db.Set(kBlock(h), val, pebble.Sync); err != nil {
		return 0, fmt.Errorf("persist block: %w", err)
	}
	return consensus.Inserted, nil
}

func (s *PebbleStore) ResolvePending(parentHash consensus.Hash) []consensus.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingByPrnt[parentHash]
	delete(s.pendingByPrnt, parentHash)
	return pending
}

func (s *PebbleStore) InsertQC(qc consensus.QuorumCertificate) error {
	if existing, ok := s.GetQC(qc.View); ok && len(qc.Signers) <= len(existing.Signers) {
		return nil
	}
	val, err := encodeGob(qc)
	if err != nil {
		return fmt.Errorf("encode qc: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kQC(qc.View), val, nil); err != nil {
		return err
	}
	if hq := s.HighestQC(); qc.View >= hq.View {
		if err := batch.Set(kHighestQC(), val, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetBlock(h consensus.Hash) (consensus.Block, bool) {
	val, closer, err := s.db.Get(kBlock(h))
	if err != nil {
		return consensus.Block{}, false
	}
	defer closer.Close()
	var out consensus.Block
	if err := decodeGob(val, &out); err != nil {
		return consensus.Block{}, false
	}
	return out, true
}

func (s *PebbleStore) GetQC(v consensus.View) (consensus.QuorumCertificate, bool) {
	val, closer, err := s.db.Get(kQC(v))
	if err != nil {
		return consensus.QuorumCertificate{}, false
	}
	defer closer.Close()
	var out consensus.QuorumCertificate
	if err := decodeGob(val, &out); err != nil {
		return consensus.QuorumCertificate{}, false
	}
	return out, true
}

func (s *PebbleStore) HighestQC() consensus.QuorumCertificate {
	val, closer, err := s.db.Get(kHighestQC())
	if err != nil {
		return consensus.QuorumCertificate{}
	}
	defer closer.Close()
	var out consensus.QuorumCertificate
	if err := decodeGob(val, &out); err != nil {
		return consensus.QuorumCertificate{}
	}
	return out
}

type finalizedTip struct {
	View consensus.View
	Hash consensus.Hash
}

func (s *PebbleStore) FinalizedTip() (consensus.View, consensus.Hash) {
	val, closer, err := s.db.Get(kFinalizedTip())
	if err != nil {
		return 0, consensus.Hash{}
	}
	defer closer.Close()
	var out finalizedTip
	if err := decodeGob(val, &out); err != nil {
		return 0, consensus.Hash{}
	}
	return out.View, out.Hash
}

func (s *PebbleStore) MarkFinalized(v consensus.View, hash consensus.Hash) ([]consensus.Block, error) {
	finV, finH := s.FinalizedTip()
	if v <= finV {
		return nil, fmt.Errorf("finalized frontier cannot move backward: have view %d, got %d", finV, v)
	}
	blk, ok := s.GetBlock(hash)
	if !ok {
		return nil, fmt.Errorf("cannot finalize unknown block %s", hash)
	}

	chain := []consensus.Block{blk}
	cur := blk
	for cur.View > 0 && cur.ParentHash != finH {
		parent, ok := s.GetBlock(cur.ParentHash)
		if !ok || parent.View <= finV {
			break
		}
		chain = append([]consensus.Block{parent}, chain...)
		cur = parent
	}

	tipVal, err := encodeGob(finalizedTip{View: v, Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("encode finalized tip: %w", err)
	}
	if err := s.db.Set(kFinalizedTip(), tipVal, pebble.Sync); err != nil {
		return nil, fmt.Errorf("persist finalized tip: %w", err)
	}
	return chain, nil
}

// RecordOwnVote persists this node's own ballot (and the per-kind
// last-voted index used by Recover) before it is broadcast.
func (s *PebbleStore) RecordOwnVote(v consensus.Vote) error {
	val, err := encodeGob(v)
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kVote(v.View, v.Author, v.Kind), val, nil); err != nil {
		return err
	}
	var lv [8]byte
	binary.BigEndian.PutUint64(lv[:], uint64(v.View))
	if err := batch.Set(kLastVoted(v.Author, v.Kind), lv[:], nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// LoadLastVoted restores last_voted_view for both ballot kinds so a
// restarted node never double-votes against its own pre-crash state.
func (s *PebbleStore) LoadLastVoted(self consensus.NodeID) map[consensus.VoteKind]consensus.View {
	out := make(map[consensus.VoteKind]consensus.View, 2)
	for _, kind := range []consensus.VoteKind{consensus.Notarize, consensus.Finalize} {
		val, closer, err := s.db.Get(kLastVoted(self, kind))
		if err != nil {
			continue
		}
		out[kind] = consensus.View(binary.BigEndian.Uint64(val))
		closer.Close()
	}
	return out
}

var _ consensus.ChainStore = (*PebbleStore)(nil)
