// file: pkg/consensus/qc.go
package consensus

import (
	"fmt"
	"sort"

	"github.com/hadv/ockham/pkg/crypto"
)

// QCBuilder collapses a quorum of votes into a single aggregated
// certificate (spec §4.3), choosing signers deterministically so that
// honest nodes produce byte-identical QCs for the same (view, kind, hash).
type QCBuilder struct {
	committee *Committee
}

func NewQCBuilder(committee *Committee) *QCBuilder {
	return &QCBuilder{committee: committee}
}

// Build selects exactly Q votes, lowest committee index first, aggregates
// their signatures, and returns the resulting QC. The caller is expected to
// have already validated each vote's signature (e.g. via VotePool.Ingest).
func (b *QCBuilder) Build(view View, kind VoteKind, hash Hash, votes []Vote) (QuorumCertificate, error) {
	Q := b.committee.Quorum()
	if len(votes) < Q {
		return QuorumCertificate{}, fmt.Errorf("qc build: need %d votes, got %d", Q, len(votes))
	}

	byAuthor := make(map[NodeID]Vote, len(votes))
	for _, v := range votes {
		if v.View != view || v.Kind != kind || v.BlockHash != hash {
			continue
		}
		byAuthor[v.Author] = v
	}

	type indexed struct {
		idx int
		id  NodeID
	}
	var candidates []indexed
	for id := range byAuthor {
		idx := b.committee.Index(id)
		if idx < 0 {
			continue
		}
		candidates = append(candidates, indexed{idx: idx, id: id})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].idx < candidates[j].idx })
	if len(candidates) < Q {
		return QuorumCertificate{}, fmt.Errorf("qc build: only %d committee-recognized votes, need %d", len(candidates), Q)
	}
	candidates = candidates[:Q]

	signers := make([]NodeID, 0, Q)
	sigs := make([][]byte, 0, Q)
	for _, c := range candidates {
		signers = append(signers, c.id)
		sigs = append(sigs, byAuthor[c.id].Signature)
	}

	agg := crypto.Aggregate(sigs)
	if agg == nil {
		return QuorumCertificate{}, fmt.Errorf("qc build: aggregation failed")
	}

	qc := QuorumCertificate{
		View:               view,
		BlockHash:          hash,
		Kind:               kind,
		Signers:            signers,
		AggregateSignature: agg,
	}

	msg := CanonicalVoteBytes(view, hash, kind)
	pks := make([]*crypto.BLSPubKey, 0, Q)
	for _, id := range signers {
		pks = append(pks, b.committee.PubKeys[id])
	}
	if !crypto.VerifyAggregate(pks, msg, agg) {
		return QuorumCertificate{}, fmt.Errorf("qc build: aggregate signature failed verification")
	}

	return qc, nil
}

// VerifyQC checks an inbound QC structurally and cryptographically: signer
// set is a subset of the committee with no duplicates, |signers| >= Q, and
// the aggregate signature verifies over the canonical (view, hash, kind).
func VerifyQC(committee *Committee, qc QuorumCertificate) error {
	Q := committee.Quorum()
	if len(qc.Signers) < Q {
		return fmt.Errorf("qc: signer set size %d below quorum %d", len(qc.Signers), Q)
	}
	seen := make(map[NodeID]bool, len(qc.Signers))
	pks := make([]*crypto.BLSPubKey, 0, len(qc.Signers))
	for _, id := range qc.Signers {
		if seen[id] {
			return fmt.Errorf("qc: duplicate signer %s", id)
		}
		seen[id] = true
		pk, ok := committee.PubKeys[id]
		if !ok {
			return fmt.Errorf("qc: signer %s not in committee", id)
		}
		pks = append(pks, pk)
	}
	msg := CanonicalVoteBytes(qc.View, qc.BlockHash, qc.Kind)
	if !crypto.VerifyAggregate(pks, msg, qc.AggregateSignature) {
		return fmt.Errorf("qc: aggregate signature verification failed")
	}
	return nil
}
