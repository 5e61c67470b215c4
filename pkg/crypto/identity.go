// file: pkg/crypto/identity.go
package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a node's secp256k1 keypair. cmd/ockham-node loads or
// generates one and logs its address; the libp2p host does not use it as
// its key. Committee membership (consensus.NodeID) is a separately
// configured identifier, not derived from this address.
type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateIdentity creates a new random secp256k1 validator identity.
func GenerateIdentity() (*Identity, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	return &Identity{privateKey: privateKey, address: address}, nil
}

// IdentityFromPrivateKeyHex loads a validator identity from a persisted key.
func IdentityFromPrivateKeyHex(hexKey string) (*Identity, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse identity key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	return &Identity{privateKey: privateKey, address: address}, nil
}

func (id *Identity) Address() common.Address { return id.address }

func (id *Identity) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(id.privateKey))
}
