// Package roomdir implements the room directory service: the session
// bookkeeping hosts register with and joiners scan, plus the relay hub
// peers fall back to when direct connectivity fails.
package roomdir

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ldnlink/internal/api"
	"ldnlink/internal/model"
	"ldnlink/internal/store"
)

// DefaultSessionTTL is how long a registration survives without a
// keepalive before scans stop returning it.
const DefaultSessionTTL = 30 * time.Second

// Config parameterizes the directory server.
type Config struct {
	Listen     string
	DataDir    string
	AuthToken  string
	SessionTTL time.Duration
	// RelayURL is what clients are told to dial for relay transport.
	// When empty it is derived from Listen.
	RelayURL string
}

// Server is the directory HTTP server.
type Server struct {
	cfg     Config
	regPath string

	mu  sync.Mutex
	reg *store.Registry

	hub *relayHub
}

// NewServer constructs a directory server, loading any persisted
// registry from cfg.DataDir.
func NewServer(cfg Config) (*Server, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	s := &Server{cfg: cfg, reg: &store.Registry{}, hub: newRelayHub()}
	if cfg.DataDir != "" {
		s.regPath = filepath.Join(cfg.DataDir, "rooms.yaml")
		reg, err := store.LoadRegistry(s.regPath)
		if err != nil {
			return nil, err
		}
		s.reg = reg
	}
	return s, nil
}

// Handler returns the full HTTP surface, relay endpoint included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.auth(s.handleRegister))
	mux.HandleFunc("/keepalive", s.auth(s.handleKeepalive))
	mux.HandleFunc("/unregister", s.auth(s.handleUnregister))
	mux.HandleFunc("/scan", s.auth(s.handleScan))
	mux.HandleFunc("/join", s.auth(s.handleJoin))
	mux.HandleFunc("/leave", s.auth(s.handleLeave))
	mux.HandleFunc("/relay", s.hub.handle)
	return mux
}

// ListenAndServe runs the directory server.
func (s *Server) ListenAndServe() error {
	log.Printf("room directory listening on %s", s.cfg.Listen)
	return http.ListenAndServe(s.cfg.Listen, s.Handler())
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.AuthToken {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := req.Record
	if rec.AppID == 0 || rec.NodeCountMax == 0 || rec.NodeCountMax > model.NodeCountLimit {
		http.Error(w, "malformed session record", http.StatusBadRequest)
		return
	}
	if len(rec.AdvertiseData) > model.AdvertiseDataLimit {
		http.Error(w, "advertise data too large", http.StatusBadRequest)
		return
	}

	handle := uuid.NewString()
	token := newRelayToken()
	now := time.Now().UTC()

	s.mu.Lock()
	s.prune(now)
	s.reg.Sessions = append(s.reg.Sessions, store.SessionInfo{
		Handle:         handle,
		AppID:          rec.AppID,
		SceneID:        rec.SceneID,
		Name:           rec.Name,
		Channel:        rec.Channel,
		NodeCount:      1, // host only; joins and leaves adjust it
		NodeCountMax:   rec.NodeCountMax,
		HasPassword:    len(req.Passphrase) > 0,
		AdvertiseData:  rec.AdvertiseData,
		SessionID:      rec.SessionID,
		HostEndpoint:   rec.HostEndpoint,
		HostPublicAddr: rec.HostPublicAddr,
		NATType:        rec.NATType,
		Version:        req.Version,
		Passphrase:     req.Passphrase,
		RelayToken:     token,
		LastSeenAt:     now,
	})
	s.persistLocked()
	s.mu.Unlock()

	log.Printf("register session handle=%s app_id=%#x name=%q", handle, rec.AppID, rec.Name)
	writeJSON(w, api.RegisterResponse{
		Handle:     handle,
		RelayToken: token,
		RelayURL:   s.relayURL(r),
	})
}

func (s *Server) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	var req api.KeepaliveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.AdvertiseData) > model.AdvertiseDataLimit {
		http.Error(w, "advertise data too large", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(req.Handle)
	if sess == nil {
		http.Error(w, "unknown handle", http.StatusNotFound)
		return
	}
	sess.LastSeenAt = time.Now().UTC()
	if req.AdvertiseData != nil {
		sess.AdvertiseData = req.AdvertiseData
	}
	s.persistLocked()
	writeJSON(w, api.KeepaliveResponse{NodeCount: sess.NodeCount})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req api.UnregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	kept := s.reg.Sessions[:0]
	for _, sess := range s.reg.Sessions {
		if sess.Handle != req.Handle {
			kept = append(kept, sess)
		}
	}
	s.reg.Sessions = kept
	s.persistLocked()
	s.mu.Unlock()

	log.Printf("unregister session handle=%s", req.Handle)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appID, _ := strconv.ParseUint(q.Get("app_id"), 10, 64)
	name := q.Get("name")
	channel, _ := strconv.ParseUint(q.Get("channel"), 10, 16)

	now := time.Now().UTC()
	s.mu.Lock()
	s.prune(now)
	out := make([]api.SessionRecord, 0, len(s.reg.Sessions))
	for _, sess := range s.reg.Sessions {
		if appID != 0 && sess.AppID != appID {
			continue
		}
		if name != "" && sess.Name != name {
			continue
		}
		if channel != 0 && sess.Channel != uint16(channel) {
			continue
		}
		out = append(out, recordOf(sess))
	}
	s.mu.Unlock()

	writeJSON(w, api.ScanResponse{Sessions: out})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req api.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(req.Handle)
	if sess == nil {
		http.Error(w, "unknown handle", http.StatusNotFound)
		return
	}
	if sess.Version != 0 && req.Version != 0 && sess.Version != req.Version {
		http.Error(w, fmt.Sprintf("host protocol version %d", sess.Version), http.StatusUpgradeRequired)
		return
	}
	if sess.HasPassword && string(sess.Passphrase) != string(req.Passphrase) {
		http.Error(w, "bad passphrase", http.StatusUnauthorized)
		return
	}
	if sess.NodeCount >= sess.NodeCountMax {
		http.Error(w, "session full", http.StatusConflict)
		return
	}
	member := store.Member{
		Handle:   uuid.NewString(),
		NodeName: req.NodeName,
		JoinedAt: time.Now().UTC(),
	}
	sess.Members = append(sess.Members, member)
	sess.NodeCount = uint8(1 + len(sess.Members))
	slot := sess.NodeCount - 1
	s.persistLocked()

	log.Printf("join session handle=%s node=%q slot=%d", req.Handle, req.NodeName, slot)
	writeJSON(w, api.JoinResponse{
		Record:         recordOf(*sess),
		RelayToken:     sess.RelayToken,
		RelayURL:       s.relayURL(r),
		HostEndpoint:   sess.HostEndpoint,
		HostPublicAddr: sess.HostPublicAddr,
		SlotIndex:      slot,
		MemberHandle:   member.Handle,
	})
}

// handleLeave releases a joined slot so the session can admit another
// guest. Unknown member handles are a no-op: leaving is idempotent.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req api.LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(req.Handle)
	if sess == nil {
		http.Error(w, "unknown handle", http.StatusNotFound)
		return
	}
	kept := sess.Members[:0]
	for _, m := range sess.Members {
		if m.Handle != req.MemberHandle {
			kept = append(kept, m)
		}
	}
	sess.Members = kept
	sess.NodeCount = uint8(1 + len(sess.Members))
	s.persistLocked()

	log.Printf("leave session handle=%s member=%s", req.Handle, req.MemberHandle)
	w.WriteHeader(http.StatusNoContent)
}

// prune drops sessions whose keepalive lapsed. Caller holds s.mu.
func (s *Server) prune(now time.Time) {
	kept := s.reg.Sessions[:0]
	for _, sess := range s.reg.Sessions {
		if now.Sub(sess.LastSeenAt) <= s.cfg.SessionTTL {
			kept = append(kept, sess)
		}
	}
	s.reg.Sessions = kept
}

func (s *Server) findLocked(handle string) *store.SessionInfo {
	for i := range s.reg.Sessions {
		if s.reg.Sessions[i].Handle == handle {
			return &s.reg.Sessions[i]
		}
	}
	return nil
}

func (s *Server) persistLocked() {
	if s.regPath == "" {
		return
	}
	if err := store.SaveRegistry(s.regPath, s.reg); err != nil {
		log.Printf("persist registry failed: %v", err)
	}
}

// relayURL derives the relay endpoint clients should dial. Without an
// explicit configuration it points back at this server, using the host
// the client already reached us on.
func (s *Server) relayURL(r *http.Request) string {
	if s.cfg.RelayURL != "" {
		return s.cfg.RelayURL
	}
	return "ws://" + r.Host + "/relay"
}

func recordOf(sess store.SessionInfo) api.SessionRecord {
	return api.SessionRecord{
		Handle:         sess.Handle,
		AppID:          sess.AppID,
		SceneID:        sess.SceneID,
		Name:           sess.Name,
		Channel:        sess.Channel,
		NodeCount:      sess.NodeCount,
		NodeCountMax:   sess.NodeCountMax,
		HasPassword:    sess.HasPassword,
		AdvertiseData:  sess.AdvertiseData,
		SessionID:      sess.SessionID,
		HostEndpoint:   sess.HostEndpoint,
		HostPublicAddr: sess.HostPublicAddr,
		NATType:        sess.NATType,
		Version:        sess.Version,
		UpdatedAt:      sess.LastSeenAt,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response failed: %v", err)
	}
}

func newRelayToken() uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(err)
		}
		if t := binary.LittleEndian.Uint32(b[:]); t != 0 {
			return t
		}
	}
}
