// file: pkg/api/server.go
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hadv/ockham/pkg/consensus"
)

var errInvalidHashLength = errors.New("hash must be 32 bytes")

// engineView is the narrow slice of *consensus.Engine the API surface
// needs, kept as an interface so tests can stub it without standing up a
// full reactor.
type engineView interface {
	Status() consensus.Status
}

// Server exposes a read-only status/query surface over the consensus
// state plus a WebSocket push feed for finalization events (spec §7);
// it never accepts a transaction submission path of its own, since
// payload admission happens through the Mempool collaborator directly.
type Server struct {
	engine engineView
	store  consensus.ChainStore
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(engine engineView, store consensus.ChainStore, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/blocks/{hash}", s.handleGetBlock).Methods("GET")
	s.router.HandleFunc("/qc/{view}", s.handleGetQC).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Hub exposes the WebSocket push hub so the caller can wire
// Engine.OnFinalized to Hub.Publish; Start runs Hub.Run in its own
// goroutine.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	handler := c.Handler(s.router)

	if s.log != nil {
		s.log.Infow("api_listening", "addr", addr)
	}
	return http.ListenAndServe(addr, handler)
}

type statusResponse struct {
	CurrentView   uint64 `json:"current_view"`
	FinalizedView uint64 `json:"finalized_view"`
	FinalizedHash string `json:"finalized_hash"`
	Peers         int    `json:"peers"`
	Role          string `json:"role"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	respondJSON(w, statusResponse{
		CurrentView:   uint64(st.CurrentView),
		FinalizedView: uint64(st.FinalizedView),
		FinalizedHash: st.FinalizedHash.String(),
		Peers:         st.Peers,
		Role:          st.Role,
	})
}

type blockResponse struct {
	Author        string `json:"author"`
	View          uint64 `json:"view"`
	ParentHash    string `json:"parent_hash"`
	PayloadDigest string `json:"payload_digest"`
	StateRoot     string `json:"state_root"`
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	hashHex := mux.Vars(r)["hash"]
	hash, err := parseHash(hashHex)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid hash", err.Error())
		return
	}
	blk, ok := s.store.GetBlock(hash)
	if !ok {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	respondJSON(w, blockResponse{
		Author:        string(blk.Author),
		View:          uint64(blk.View),
		ParentHash:    blk.ParentHash.String(),
		PayloadDigest: blk.PayloadDigest.String(),
		StateRoot:     blk.StateRoot.String(),
	})
}

type qcResponse struct {
	View      uint64   `json:"view"`
	BlockHash string   `json:"block_hash"`
	Kind      string   `json:"kind"`
	Signers   []string `json:"signers"`
}

func (s *Server) handleGetQC(w http.ResponseWriter, r *http.Request) {
	viewStr := mux.Vars(r)["view"]
	viewN, err := strconv.ParseUint(viewStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid view", err.Error())
		return
	}
	qc, ok := s.store.GetQC(consensus.View(viewN))
	if !ok {
		respondError(w, http.StatusNotFound, "qc not found", "")
		return
	}
	signers := make([]string, len(qc.Signers))
	for i, id := range qc.Signers {
		signers[i] = string(id)
	}
	respondJSON(w, qcResponse{
		View:      uint64(qc.View),
		BlockHash: qc.BlockHash.String(),
		Kind:      qc.Kind.String(),
		Signers:   signers,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func parseHash(hexStr string) (consensus.Hash, error) {
	var h consensus.Hash
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errMsg, Message: message})
}
