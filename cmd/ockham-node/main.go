// file: cmd/ockham-node/main.go
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/hadv/ockham/params"
	"github.com/hadv/ockham/pkg/api"
	"github.com/hadv/ockham/pkg/consensus"
	"github.com/hadv/ockham/pkg/crypto"
	"github.com/hadv/ockham/pkg/execution"
	"github.com/hadv/ockham/pkg/mempool"
	"github.com/hadv/ockham/pkg/p2p"
	"github.com/hadv/ockham/pkg/storage"
	"github.com/hadv/ockham/pkg/util"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitCorruption  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ockham-node <validator-index>")
		return exitConfigError
	}
	validatorIndex, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid validator index %q: %v\n", os.Args[1], err)
		return exitConfigError
	}

	cfg := params.LoadFromEnv("")
	if err := cfg.Validate(validatorIndex); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return exitConfigError
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("node_starting", "validator_index", validatorIndex, "validators", cfg.Validators)

	ids := make([]consensus.NodeID, len(cfg.Validators))
	for i, v := range cfg.Validators {
		ids[i] = consensus.NodeID(v)
	}
	self := ids[validatorIndex]

	// Devnet key derivation: every node can independently compute every
	// committee member's BLS public key from its NodeID, so no separate key
	// registry needs distributing before the network comes up.
	// OCKHAM_BLS_SEED_HEX replaces the seed of this node's own signer only;
	// the committee public keys, this node's included, are always derived
	// from NodeIDs.
	pubkeys := make(map[consensus.NodeID]*crypto.BLSPubKey, len(ids))
	for _, id := range ids {
		seed := blsSeedFor(id)
		pubkeys[id] = crypto.NewBLSSignerFromSeed(seed).PublicKey()
	}
	committee := consensus.NewCommittee(ids, pubkeys)

	selfSeed := blsSeedFor(self)
	if cfg.Node.BLSSeedHex != "" {
		decoded, err := hex.DecodeString(cfg.Node.BLSSeedHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid OCKHAM_BLS_SEED_HEX: %v\n", err)
			return exitConfigError
		}
		selfSeed = decoded
	}
	signer := crypto.NewBLSSignerFromSeed(selfSeed)

	// The secp256k1 identity is loaded from OCKHAM_KEY_HEX (or generated
	// fresh) and its address is logged. It is separate from the committee's
	// NodeID, which stays a human-assigned string, and the libp2p host below
	// generates its own key rather than using this one.
	var identity *crypto.Identity
	if cfg.Node.KeyHex != "" {
		identity, err = crypto.IdentityFromPrivateKeyHex(cfg.Node.KeyHex)
	} else {
		identity, err = crypto.GenerateIdentity()
	}
	if err != nil {
		sugar.Errorw("identity_init_failed", "err", err)
		return exitConfigError
	}
	sugar.Infow("identity_ready", "address", identity.Address().Hex())

	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		sugar.Errorw("chain_store_open_failed", "err", err)
		return exitCorruption
	}
	defer store.Close()
	if err := store.Bootstrap(consensus.GenesisBlock()); err != nil {
		sugar.Errorw("chain_store_bootstrap_failed", "err", err)
		return exitCorruption
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resolve the static per-validator multiaddr table (OCKHAM_PEER_ADDRS)
	// into a NodeID->peer.ID map and a bootstrap list, so RequestBlock's
	// sync-repair path has a live peer to dial instead of depending on
	// discovery that never runs in this binary.
	peerIDs := make(map[consensus.NodeID]peer.ID, len(cfg.Node.PeerAddrs))
	bootstrap := append([]string(nil), cfg.Node.Bootstrap...)
	for idStr, addr := range cfg.Node.PeerAddrs {
		id := consensus.NodeID(idStr)
		if id == self {
			continue
		}
		m, err := ma.NewMultiaddr(addr)
		if err != nil {
			sugar.Errorw("peer_addr_invalid", "peer", idStr, "addr", addr, "err", err)
			return exitConfigError
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			sugar.Errorw("peer_addr_missing_id", "peer", idStr, "addr", addr, "err", err)
			return exitConfigError
		}
		peerIDs[id] = info.ID
		bootstrap = append(bootstrap, addr)
	}
	sugar.Infow("peer_table_ready", "known_peers", len(peerIDs))

	net, err := p2p.New(ctx, p2p.Config{
		ListenAddr: cfg.Node.ListenAddr,
		Bootstrap:  bootstrap,
		PeerIDs:    peerIDs,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Errorw("p2p_init_failed", "err", err)
		return exitConfigError
	}
	net.SetBlockLookup(store.GetBlock)

	elector := consensus.RoundRobinElector{Committee: committee}
	pm := consensus.NewPacemaker(consensus.PacemakerTimers{
		BaseTimeout: cfg.Pacemaker.BaseTimeout,
		Cap:         cfg.Pacemaker.Cap,
	}, util.RealClock{}, 1)

	pool := mempool.New()
	exec := execution.New()

	engine := consensus.NewEngine(committee, self, store, elector, net, signer, pool, exec, pm)
	engine.Logger = sugar
	if os.Getenv("OCKHAM_VERBOSE") == "true" {
		engine.VerboseLogging = true
	}

	apiServer := api.NewServer(engine, store, sugar)
	engine.OnFinalized = func(n consensus.FinalizedNotification) {
		apiServer.Hub().Publish(map[string]interface{}{
			"view": uint64(n.View),
			"hash": n.Hash.String(),
		})
	}

	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}()

	engine.Recover()
	engine.Start(ctx)

	sugar.Infow("node_ready", "self", self, "quorum", committee.Quorum(), "n", committee.N())

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Errorw("engine_failed", "err", err)
		return exitCorruption
	}
	return exitOK
}

func blsSeedFor(id consensus.NodeID) []byte {
	h := sha256.Sum256(append([]byte("OCKHAM-DEVNET-BLS-SEED:"), []byte(id)...))
	return h[:]
}

