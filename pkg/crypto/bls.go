// file: pkg/crypto/bls.go
package crypto

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

// scheme pins the BLS variant: G1 keys, G2 signatures.
type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

// BLSSigner implements sign/verify/aggregate/verify_aggregate over
// BLS12-381 for vote and quorum certificate signatures.
type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

func NewBLSSignerFromSeed(seed []byte) *BLSSigner {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		panic(err)
	}
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}
}

func (s *BLSSigner) PublicKey() *BLSPubKey { return s.pk }

// Sign produces a signature over msg (the caller prepends domain-separation
// tags per spec §6 before calling this).
func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

// Verify checks a single signature under pk.
func Verify(pk *BLSPubKey, msg, sigBytes []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// Aggregate collapses a quorum of signatures over the same message into one.
func Aggregate(sigBytesList [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(sigBytesList))
	for _, sb := range sigBytesList {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

// VerifyAggregate checks an aggregate signature by a signer set over a
// single shared message (the QC's canonical (view, block_hash, kind) bytes).
func VerifyAggregate(pks []*BLSPubKey, msg []byte, aggSig []byte) bool {
	return bls.VerifyAggregate(pks, [][]byte{msg}, bls.Signature(aggSig))
}
