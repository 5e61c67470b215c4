package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Pacemaker holds the capped-exponential timeout schedule (spec §4.4).
type Pacemaker struct {
	BaseTimeout time.Duration
	Cap         float64
}

// Node holds process-level configuration: identity, storage, networking,
// logging, and the API surface.
type Node struct {
	ValidatorIndex int
	KeyHex         string // ECDSA identity private key, hex-encoded; empty generates an ephemeral one
	BLSSeedHex     string // BLS signing seed, hex-encoded; empty uses the seed derived from this node's NodeID

	DataDir  string
	LogLevel string
	LogFile  string

	ListenAddr string
	Bootstrap  []string

	// PeerAddrs maps each committee member's NodeID to its dialable libp2p
	// multiaddr (including the /p2p/<peer-id> suffix), resolving the fixed,
	// operator-known committee to concrete transport addresses since peer
	// discovery beyond the committee is out of scope.
	PeerAddrs map[string]string

	APIAddr string
}

type Config struct {
	Validators []string // one entry per committee seat, index == validator index
	Pacemaker  Pacemaker
	Node       Node
}

func Default() Config {
	return Config{
		Validators: []string{"val0", "val1", "val2", "val3"},
		Pacemaker: Pacemaker{
			BaseTimeout: 500 * time.Millisecond,
			Cap:         8,
		},
		Node: Node{
			DataDir:  "data",
			LogLevel: "info",
			LogFile:  "data/ockham.log",
			APIAddr:  ":8645",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) layered
// under OCKHAM_* environment variables, with the env file applied first
// so explicit environment variables always take precedence.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("OCKHAM_VALIDATORS"); v != "" {
		cfg.Validators = strings.Split(v, ",")
	}
	if v := os.Getenv("OCKHAM_BASE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Pacemaker.BaseTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("OCKHAM_TIMEOUT_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pacemaker.Cap = f
		}
	}
	if v := os.Getenv("OCKHAM_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("OCKHAM_LOG_LEVEL"); v != "" {
		cfg.Node.LogLevel = v
	}
	if v := os.Getenv("OCKHAM_LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("OCKHAM_LISTEN"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("OCKHAM_BOOTSTRAP"); v != "" {
		cfg.Node.Bootstrap = strings.Split(v, ",")
	}
	if v := os.Getenv("OCKHAM_PEER_ADDRS"); v != "" {
		cfg.Node.PeerAddrs = make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			id, addr, ok := strings.Cut(pair, "=")
			if !ok || id == "" || addr == "" {
				continue
			}
			cfg.Node.PeerAddrs[id] = addr
		}
	}
	if v := os.Getenv("OCKHAM_API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("OCKHAM_KEY_HEX"); v != "" {
		cfg.Node.KeyHex = v
	}
	if v := os.Getenv("OCKHAM_BLS_SEED_HEX"); v != "" {
		cfg.Node.BLSSeedHex = v
	}

	return cfg
}

// Validate checks the fields a node cannot start without.
func (c Config) Validate(validatorIndex int) error {
	if validatorIndex < 0 || validatorIndex >= len(c.Validators) {
		return fmt.Errorf("validator index %d out of range [0, %d)", validatorIndex, len(c.Validators))
	}
	if c.Pacemaker.BaseTimeout <= 0 {
		return fmt.Errorf("pacemaker base timeout must be positive")
	}
	return nil
}
