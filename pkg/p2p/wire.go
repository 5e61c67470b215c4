// file: pkg/p2p/wire.go
package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(BlockWire{})
	gob.Register(VoteWire{})
}

// BlockWire and VoteWire are the gossipsub envelopes; the payload itself is
// a gob-encoded consensus.Block / consensus.Vote. The wire envelope is kept
// separate from the canonical hash/signature preimages (spec §6): gob is a
// transport convenience, never part of what gets hashed or signed.
type BlockWire struct {
	Block []byte
}

type VoteWire struct {
	Vote []byte
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
