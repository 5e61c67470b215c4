// file: tests/multi_validator_test.go
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/hadv/ockham/pkg/consensus"
	"github.com/hadv/ockham/pkg/crypto"
	"github.com/hadv/ockham/pkg/execution"
	"github.com/hadv/ockham/pkg/mempool"
	"github.com/hadv/ockham/pkg/p2p"
	"github.com/hadv/ockham/pkg/util"
)

// TestFourValidatorsOverLibp2p runs four validators as independent libp2p
// hosts on loopback, exercising the real gossipsub broadcast path and the
// sync protocol instead of the in-process bus the other scenario tests use.
// N=4 is the minimum committee that tolerates f=1 (quorum = floor(2n/3)+1 = 3).
func TestFourValidatorsOverLibp2p(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ids := []consensus.NodeID{"val0", "val1", "val2", "val3"}
	pubkeys := make(map[consensus.NodeID]*crypto.BLSPubKey, len(ids))
	signerByID := make(map[consensus.NodeID]*crypto.BLSSigner, len(ids))
	for _, id := range ids {
		s := crypto.NewBLSSignerFromSeed(testBLSSeed(id))
		signerByID[id] = s
		pubkeys[id] = s.PublicKey()
	}
	committee := consensus.NewCommittee(ids, pubkeys)
	elector := consensus.RoundRobinElector{Committee: committee}

	nets := make([]*p2p.Libp2pNet, len(ids))
	engines := make([]*consensus.Engine, len(ids))
	stores := make([]*consensus.MemChainStore, len(ids))

	for i, id := range ids {
		net, err := p2p.New(ctx, p2p.Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
		if err != nil {
			t.Fatalf("%s: libp2p init failed: %v", id, err)
		}
		nets[i] = net

		store := consensus.NewMemChainStore(consensus.GenesisBlock())
		stores[i] = store
		net.SetBlockLookup(store.GetBlock)

		pm := consensus.NewPacemaker(consensus.PacemakerTimers{BaseTimeout: 300 * time.Millisecond, Cap: 8}, util.RealClock{}, 1)
		engines[i] = consensus.NewEngine(committee, id, store, elector, net, signerByID[id], mempool.New(), execution.New(), pm)
	}

	// Register every peer's libp2p identity under its NodeID and connect the
	// full mesh, mirroring how a bootstrap/discovery layer would converge in
	// production.
	for i, id := range ids {
		for j, peerID := range ids {
			if i == j {
				continue
			}
			nets[i].SetPeerID(peerID, nets[j].Host().ID())
		}
	}
	for i := 0; i < len(nets); i++ {
		for j := i + 1; j < len(nets); j++ {
			nets[i].Host().Peerstore().AddAddrs(nets[j].Host().ID(), nets[j].Host().Addrs(), time.Hour)
			nets[j].Host().Peerstore().AddAddrs(nets[i].Host().ID(), nets[i].Host().Addrs(), time.Hour)
			if err := nets[i].Host().Connect(ctx, nets[j].Host().Peerstore().PeerInfo(nets[j].Host().ID())); err != nil {
				t.Logf("warn: connecting %s <-> %s: %v", ids[i], ids[j], err)
			}
		}
	}

	// Gossipsub mesh formation takes a beat.
	time.Sleep(300 * time.Millisecond)

	for i := range engines {
		engines[i].Start(ctx)
		go func(i int) {
			if err := engines[i].Run(ctx); err != nil && ctx.Err() == nil {
				t.Logf("%s: engine run error: %v", ids[i], err)
			}
		}(i)
	}

	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
waitLoop:
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for all validators to finalize view 1")
		case <-tick.C:
			allReady := true
			for i := range engines {
				if engines[i].Status().FinalizedView < 1 {
					allReady = false
					break
				}
			}
			if allReady {
				break waitLoop
			}
		}
	}

	var want consensus.Hash
	for i, e := range engines {
		got := e.Status().FinalizedHash
		if i == 0 {
			want = got
		} else if got != want {
			t.Errorf("%s: finalized hash mismatch: got %s, want %s", ids[i], got, want)
		}
	}
}
