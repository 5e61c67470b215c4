// file: pkg/consensus/votepool.go
package consensus

import (
	"sync"

	"github.com/hadv/ockham/pkg/crypto"
)

// IngestResult is the outcome of feeding a vote to the pool (spec §4.2).
type IngestResult int

const (
	Accepted IngestResult = iota
	DuplicateVote
	Equivocation
	Stale
	InvalidSignature
	QuorumReached
)

type voteKey struct {
	view View
	kind VoteKind
	hash Hash
}

type authorKey struct {
	view   View
	kind   VoteKind
	author NodeID
}

// VotePool deduplicates and thresholds incoming votes, firing a quorum
// event exactly once per (view, kind, block_hash).
type VotePool struct {
	mu sync.Mutex

	committee *Committee
	Retention View // K: GC horizon below finalized_tip.view - Retention

	byTarget map[voteKey]map[NodeID]Vote
	byAuthor map[authorKey]Vote
	fired    map[voteKey]bool

	finalizedView View
}

func NewVotePool(committee *Committee) *VotePool {
	return &VotePool{
		committee: committee,
		Retention: 64,
		byTarget:  make(map[voteKey]map[NodeID]Vote),
		byAuthor:  make(map[authorKey]Vote),
		fired:     make(map[voteKey]bool),
	}
}

// Ingest validates and accounts for a vote. On the quorum-crossing accept,
// it returns QuorumReached along with the full set of votes counted so far
// for that target (spec: "the first time the cardinality crosses Q").
func (p *VotePool) Ingest(v Vote) (IngestResult, []Vote) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.View <= p.finalizedView {
		return Stale, nil
	}

	pk, ok := p.committee.PubKeys[v.Author]
	if !ok || !crypto.Verify(pk, CanonicalVoteBytes(v.View, v.BlockHash, v.Kind), v.Signature) {
		return InvalidSignature, nil
	}

	ak := authorKey{view: v.View, kind: v.Kind, author: v.Author}
	if prior, ok := p.byAuthor[ak]; ok {
		if prior.BlockHash == v.BlockHash {
			return DuplicateVote, nil
		}
		// I5: the author already voted for a different block in this
		// (view, kind). Evidence is retained by the caller if it cares;
		// the vote pool itself just refuses to count the new one.
		return Equivocation, nil
	}
	p.byAuthor[ak] = v

	tk := voteKey{view: v.View, kind: v.Kind, hash: v.BlockHash}
	if p.byTarget[tk] == nil {
		p.byTarget[tk] = make(map[NodeID]Vote)
	}
	p.byTarget[tk][v.Author] = v

	count := len(p.byTarget[tk])
	Q := p.committee.Quorum()
	if count >= Q && !p.fired[tk] {
		p.fired[tk] = true
		return QuorumReached, p.votesLocked(tk)
	}
	return Accepted, nil
}

func (p *VotePool) votesLocked(tk voteKey) []Vote {
	out := make([]Vote, 0, len(p.byTarget[tk]))
	for _, v := range p.byTarget[tk] {
		out = append(out, v)
	}
	return out
}

// GC discards all vote-pool entries for view <= finalizedView - Retention,
// and remembers finalizedView so subsequent Stale checks use it.
func (p *VotePool) GC(finalizedView View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finalizedView = finalizedView
	if finalizedView < p.Retention {
		return
	}
	horizon := finalizedView - p.Retention

	for tk := range p.byTarget {
		if tk.view <= horizon {
			delete(p.byTarget, tk)
			delete(p.fired, tk)
		}
	}
	for ak := range p.byAuthor {
		if ak.view <= horizon {
			delete(p.byAuthor, ak)
		}
	}
}
