// file: pkg/consensus/safety.go
package consensus

import "sync"

// Safety tracks the bookkeeping an honest validator must keep to uphold
// I4 (one block per view per author) and I5 (one vote per view per kind).
type Safety struct {
	mu sync.Mutex

	lastVotedView map[VoteKind]View
	seenAuthorView map[authorViewKey]Hash // first accepted block per (view, author)
}

type authorViewKey struct {
	view   View
	author NodeID
}

func NewSafety() *Safety {
	return &Safety{
		lastVotedView:  make(map[VoteKind]View),
		seenAuthorView: make(map[authorViewKey]Hash),
	}
}

// LastVoted returns the highest view the node has cast a vote of kind k in.
func (s *Safety) LastVoted(k VoteKind) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVotedView[k]
}

// RecordVote marks that the node has now voted k in view v. Returns false
// (and records nothing) if the node already voted k in a view >= v, so a
// caller never double-signs (I5).
func (s *Safety) RecordVote(k VoteKind, v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastVotedView[k] >= v {
		return false
	}
	s.lastVotedView[k] = v
	return true
}

// CanVoteNotarize reports whether the node is still eligible to cast a
// Notarize vote in view v (neither a real block nor the dummy has already
// claimed this node's Notarize ballot for v).
func (s *Safety) CanVoteNotarize(v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVotedView[Notarize] < v
}

func (s *Safety) CanVoteFinalize(v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVotedView[Finalize] < v
}

// RecordBlockSeen enforces I4: the first valid block observed for
// (view, author) is the only one this node will ever vote on. Returns false
// if a different block was already recorded for that (view, author) —
// equivocation by the proposer.
func (s *Safety) RecordBlockSeen(view View, author NodeID, hash Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := authorViewKey{view: view, author: author}
	if prior, ok := s.seenAuthorView[k]; ok {
		return prior == hash
	}
	s.seenAuthorView[k] = hash
	return true
}
