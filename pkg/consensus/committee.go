// file: pkg/consensus/committee.go
package consensus

import "github.com/hadv/ockham/pkg/crypto"

// Committee is the fixed, ordered validator set (I1). Ordering is the basis
// for both round-robin leader selection and the QC builder's canonical
// lowest-index-first signer selection.
type Committee struct {
	IDs     []NodeID
	PubKeys map[NodeID]*crypto.BLSPubKey
}

func NewCommittee(ids []NodeID, pubkeys map[NodeID]*crypto.BLSPubKey) *Committee {
	return &Committee{IDs: ids, PubKeys: pubkeys}
}

func (c *Committee) N() int { return len(c.IDs) }

// Quorum threshold Q = floor(2n/3)+1 (I1).
func (c *Committee) Quorum() int {
	n := c.N()
	return (2*n)/3 + 1
}

func (c *Committee) Index(id NodeID) int {
	for i, v := range c.IDs {
		if v == id {
			return i
		}
	}
	return -1
}

func (c *Committee) Contains(id NodeID) bool { return c.Index(id) >= 0 }

// LeaderElector is the collaborator capability the state machine consults
// for leader(V) = committee[V mod n].
type LeaderElector interface{ LeaderOf(v View) NodeID }

type RoundRobinElector struct{ Committee *Committee }

func (r RoundRobinElector) LeaderOf(v View) NodeID {
	n := r.Committee.N()
	if n == 0 {
		return NodeID("")
	}
	return r.Committee.IDs[int(v)%n]
}
