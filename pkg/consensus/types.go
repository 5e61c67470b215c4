// file: pkg/consensus/types.go
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

type NodeID string
type View uint64
type Height uint64

// Hash is the fixed 32-byte digest used throughout the protocol.
type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }
func (h Hash) IsZero() bool   { return h == Hash{} }

// DummyHash is the sentinel all-zero hash standing in for the dummy block.
var DummyHash = Hash{}

// VoteKind distinguishes the two ballots a validator casts per view.
type VoteKind uint8

const (
	Notarize VoteKind = iota
	Finalize
)

func (k VoteKind) String() string {
	if k == Notarize {
		return "notarize"
	}
	return "finalize"
}

// domain separation tags prepended to the vote signing preimage (spec §6).
var (
	tagNotarize = []byte("OCK-V1-NOTARIZE")
	tagFinalize = []byte("OCK-V1-FINALIZE")
)

func tagFor(k VoteKind) []byte {
	if k == Notarize {
		return tagNotarize
	}
	return tagFinalize
}

// Block is content-addressed: its hash binds author, view, parent, justify,
// payload digest and state root (I2).
type Block struct {
	Author        NodeID
	View          View
	ParentHash    Hash
	Justify       QuorumCertificate
	PayloadDigest Hash
	StateRoot     Hash

	// Payload carries the actual application bytes alongside the block. It
	// is not part of the hash preimage (only PayloadDigest is); a relay
	// could in principle drop it once the block is notarized.
	Payload []byte
}

// QuorumCertificate aggregates >= Q votes for the same (view, block_hash, kind).
type QuorumCertificate struct {
	View               View
	BlockHash          Hash
	Kind               VoteKind
	Signers            []NodeID
	AggregateSignature []byte
}

func (qc QuorumCertificate) IsDummy() bool { return qc.BlockHash == DummyHash }
func (qc QuorumCertificate) IsZero() bool  { return qc.AggregateSignature == nil && qc.Signers == nil && qc.View == 0 && qc.BlockHash.IsZero() }

// Vote is a single validator's signed ballot for a (view, block_hash, kind).
type Vote struct {
	View      View
	BlockHash Hash
	Kind      VoteKind
	Author    NodeID
	Signature []byte
}

// CanonicalVoteBytes is the exact preimage a validator signs for a vote:
// the domain-separation tag followed by fixed-width (view, block_hash, kind).
func CanonicalVoteBytes(view View, blockHash Hash, kind VoteKind) []byte {
	buf := make([]byte, 0, len(tagNotarize)+8+32+1)
	buf = append(buf, tagFor(kind)...)
	var viewBuf [8]byte
	binary.LittleEndian.PutUint64(viewBuf[:], uint64(view))
	buf = append(buf, viewBuf[:]...)
	buf = append(buf, blockHash[:]...)
	buf = append(buf, byte(kind))
	return buf
}

// canonicalQCBytes folds a QC down to the bytes a later block's hash binds
// to, so that justify-monotonicity (I3) is checkable without re-walking the
// aggregate signature itself.
func canonicalQCBytes(qc QuorumCertificate) []byte {
	h := sha256.New()
	var viewBuf [8]byte
	binary.LittleEndian.PutUint64(viewBuf[:], uint64(qc.View))
	h.Write(viewBuf[:])
	h.Write(qc.BlockHash[:])
	h.Write([]byte{byte(qc.Kind)})
	for _, s := range qc.Signers {
		h.Write([]byte(s))
	}
	h.Write(qc.AggregateSignature)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out[:]
}

// GenesisBlock is the fixed, zero-valued root every chain store seeds
// itself with; every committee member computes the identical hash for it.
func GenesisBlock() Block { return Block{} }

// HashOfBlock computes the content hash of a block, excluding the hash
// itself (I2): author, view, parent_hash, justify, payload_digest,
// state_root. Author (a variable-length NodeID) is length-framed;
// everything else is fixed-width little-endian.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	var viewBuf [8]byte
	binary.LittleEndian.PutUint64(viewBuf[:], uint64(b.View))
	h.Write(viewBuf[:])

	h.Write(b.ParentHash[:])
	h.Write(canonicalQCBytes(b.Justify))
	h.Write(b.PayloadDigest[:])
	h.Write(b.StateRoot[:])

	var authLen [4]byte
	binary.LittleEndian.PutUint32(authLen[:], uint32(len(b.Author)))
	h.Write(authLen[:])
	h.Write([]byte(b.Author))

	return sha256.Sum256(h.Sum(nil))
}
