// file: pkg/storage/codec.go
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/hadv/ockham/pkg/consensus"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func viewKey(v consensus.View) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(v))
	return k[:]
}

// key layout (spec §6): b:<hash> q:<view> v:<view>:<author>:<kind> f:tip m:hq
func kBlock(h consensus.Hash) []byte { return append([]byte("b:"), h[:]...) }
func kQC(v consensus.View) []byte    { return append([]byte("q:"), viewKey(v)...) }
func kFinalizedTip() []byte          { return []byte("f:tip") }
func kHighestQC() []byte             { return []byte("m:hq") }

func kVote(v consensus.View, author consensus.NodeID, kind consensus.VoteKind) []byte {
	key := append([]byte("v:"), viewKey(v)...)
	key = append(key, ':')
	key = append(key, []byte(author)...)
	key = append(key, ':', byte(kind))
	return key
}

// kLastVoted indexes only the latest view voted by author for kind, so
// startup recovery can restore last_voted_view without scanning every vote
// record ever cast.
func kLastVoted(author consensus.NodeID, kind consensus.VoteKind) []byte {
	key := append([]byte("lv:"), []byte(author)...)
	key = append(key, ':', byte(kind))
	return key
}

func keyUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out[:i+1]
		}
	}
	return nil
}
