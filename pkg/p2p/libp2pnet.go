// file: pkg/p2p/libp2pnet.go
package p2p

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/hadv/ockham/pkg/consensus"
)

const (
	topicBlock   = "ockham-block"
	topicVote    = "ockham-vote"
	protocolSync = protocol.ID("/ockham/sync/1.0.0")
)

// Libp2pNet implements consensus.Network: blocks and votes both go out over
// gossipsub broadcast (unlike a leader-unicast design, every validator needs
// every vote to build its own copy of the QC), and RequestBlock repairs a
// MissingDependency via a direct libp2p stream to one peer.
type Libp2pNet struct {
	h  host.Host
	ps *pubsub.PubSub
	log *zap.SugaredLogger

	tBlock, tVote     *pubsub.Topic
	subBlock, subVote *pubsub.Subscription

	muH      sync.RWMutex
	handlers consensus.Handlers

	muPeers sync.RWMutex
	peerIDs map[consensus.NodeID]peer.ID

	muLookup sync.RWMutex
	lookup   func(consensus.Hash) (consensus.Block, bool)
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	PeerIDs    map[consensus.NodeID]peer.ID
	Logger     *zap.SugaredLogger
}

func New(ctx context.Context, cfg Config) (*Libp2pNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("parse listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("new libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("new gossipsub: %w", err)
	}

	peerIDs := cfg.PeerIDs
	if peerIDs == nil {
		peerIDs = make(map[consensus.NodeID]peer.ID)
	}

	n := &Libp2pNet{h: h, ps: ps, log: cfg.Logger, peerIDs: peerIDs}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := n.joinTopics(ctx); err != nil {
		return nil, err
	}
	h.SetStreamHandler(protocolSync, n.handleSyncStream)

	go n.readBlocks(ctx)
	go n.readVotes(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return n, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics(ctx context.Context) error {
	var err error
	if n.tBlock, err = n.ps.Join(topicBlock); err != nil {
		return err
	}
	if n.tVote, err = n.ps.Join(topicVote); err != nil {
		return err
	}
	if n.subBlock, err = n.tBlock.Subscribe(); err != nil {
		return err
	}
	if n.subVote, err = n.tVote.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (n *Libp2pNet) Host() host.Host { return n.h }

// SetPeerID registers the libp2p peer identity behind a validator's NodeID,
// so RequestBlock can dial it directly.
func (n *Libp2pNet) SetPeerID(id consensus.NodeID, pid peer.ID) {
	n.muPeers.Lock()
	n.peerIDs[id] = pid
	n.muPeers.Unlock()
}

// SetBlockLookup wires the local chain store's GetBlock so this node can
// answer other validators' RequestBlock calls.
func (n *Libp2pNet) SetBlockLookup(f func(consensus.Hash) (consensus.Block, bool)) {
	n.muLookup.Lock()
	n.lookup = f
	n.muLookup.Unlock()
}

// PeerCount reports the number of peers the libp2p host currently holds a
// connection to.
func (n *Libp2pNet) PeerCount() int {
	return len(n.h.Network().Peers())
}

func (n *Libp2pNet) SetHandlers(h consensus.Handlers) {
	n.muH.Lock()
	n.handlers = h
	n.muH.Unlock()
}

func (n *Libp2pNet) BroadcastBlock(ctx context.Context, b consensus.Block) error {
	bb, err := gobEncode(b)
	if err != nil {
		return err
	}
	data, err := gobEncode(BlockWire{Block: bb})
	if err != nil {
		return err
	}
	return n.tBlock.Publish(ctx, data)
}

func (n *Libp2pNet) BroadcastVote(ctx context.Context, v consensus.Vote) error {
	vb, err := gobEncode(v)
	if err != nil {
		return err
	}
	data, err := gobEncode(VoteWire{Vote: vb})
	if err != nil {
		return err
	}
	return n.tVote.Publish(ctx, data)
}

func (n *Libp2pNet) RequestBlock(ctx context.Context, peerID consensus.NodeID, hash consensus.Hash) (consensus.Block, bool, error) {
	n.muPeers.RLock()
	target, ok := n.peerIDs[peerID]
	n.muPeers.RUnlock()
	if !ok {
		return consensus.Block{}, false, fmt.Errorf("sync: no known peer id for %s", peerID)
	}

	stream, err := n.h.NewStream(ctx, target, protocolSync)
	if err != nil {
		return consensus.Block{}, false, fmt.Errorf("sync: open stream: %w", err)
	}
	defer stream.Close()

	if _, err := stream.Write(hash[:]); err != nil {
		return consensus.Block{}, false, fmt.Errorf("sync: write request: %w", err)
	}

	var found [1]byte
	if _, err := io.ReadFull(stream, found[:]); err != nil {
		return consensus.Block{}, false, fmt.Errorf("sync: read found flag: %w", err)
	}
	if found[0] == 0 {
		return consensus.Block{}, false, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(stream, lenBuf[:]); err != nil {
		return consensus.Block{}, false, fmt.Errorf("sync: read length: %w", err)
	}
	data := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(stream, data); err != nil {
		return consensus.Block{}, false, fmt.Errorf("sync: read body: %w", err)
	}

	var blk consensus.Block
	if err := gobDecode(data, &blk); err != nil {
		return consensus.Block{}, false, fmt.Errorf("sync: decode block: %w", err)
	}
	return blk, true, nil
}

func (n *Libp2pNet) handleSyncStream(s network.Stream) {
	defer s.Close()

	var hashBuf [32]byte
	if _, err := io.ReadFull(s, hashBuf[:]); err != nil {
		return
	}
	var hash consensus.Hash
	copy(hash[:], hashBuf[:])

	n.muLookup.RLock()
	lookup := n.lookup
	n.muLookup.RUnlock()

	var blk consensus.Block
	var ok bool
	if lookup != nil {
		blk, ok = lookup(hash)
	}
	if !ok {
		s.Write([]byte{0})
		return
	}

	data, err := gobEncode(blk)
	if err != nil {
		s.Write([]byte{0})
		return
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	s.Write([]byte{1})
	s.Write(lenBuf[:])
	s.Write(data)
}

func (n *Libp2pNet) readBlocks(ctx context.Context) {
	for {
		msg, err := n.subBlock.Next(ctx)
		if err != nil {
			return
		}
		var w BlockWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var blk consensus.Block
		if err := gobDecode(w.Block, &blk); err != nil {
			continue
		}
		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnBlock != nil {
			h.OnBlock(blk)
		}
	}
}

func (n *Libp2pNet) readVotes(ctx context.Context) {
	for {
		msg, err := n.subVote.Next(ctx)
		if err != nil {
			return
		}
		var w VoteWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var v consensus.Vote
		if err := gobDecode(w.Vote, &v); err != nil {
			continue
		}
		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnVote != nil {
			h.OnVote(v)
		}
	}
}

var _ consensus.Network = (*Libp2pNet)(nil)
