// Package server implements the sync server: the process-wide room, peer
// connection, and session-token registries, the join/leave protocol, and
// the WebSocket endpoint that carries the wire protocol.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/collabforge/syncd/internal/config"
	"github.com/collabforge/syncd/internal/crdt"
	"github.com/collabforge/syncd/internal/logger"
	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/room"
	"github.com/collabforge/syncd/internal/storage"
	"github.com/collabforge/syncd/internal/voice"
	"github.com/collabforge/syncd/internal/wire"
)

const authTimeout = 10 * time.Second

// Server owns every process-wide registry a connected peer can touch.
type Server struct {
	Config   *config.Config
	Storage  *storage.Store
	Rooms    *room.Registry
	Presence *presence.Manager
	Voice    *voice.Service
	Sessions *SessionRegistry

	limiter   *peerLimiter
	startedAt time.Time

	peersMu sync.RWMutex
	peers   map[string]*Peer
}

// New wires a Server from its already-constructed dependencies.
func New(cfg *config.Config, store *storage.Store, voiceSvc *voice.Service) *Server {
	return &Server{
		Config:    cfg,
		Storage:   store,
		Rooms:     room.NewRegistry(),
		Presence:  presence.NewManager(),
		Voice:     voiceSvc,
		Sessions:  NewSessionRegistry(),
		limiter:   newPeerLimiter(),
		startedAt: time.Now(),
		peers:     make(map[string]*Peer),
	}
}

// Routes returns the HTTP mux exposing the sync WebSocket endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{project_id}", s.handleWS)
	return mux
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startedAt) }

// Stats summarizes the server's current load for the admin HTTP API's
// GET /health. A WebSocket Ping is answered with Pong only.
func (s *Server) Stats() wire.Stats {
	return wire.Stats{
		ActiveProjects: uint32(s.Rooms.Count()),
		ActivePeers:    uint32(s.Presence.TotalPeerCount()),
		UptimeSeconds:  uint64(s.Uptime().Seconds()),
	}
}

func (s *Server) trackPeer(p *Peer) {
	s.peersMu.Lock()
	s.peers[p.ID] = p
	s.peersMu.Unlock()
}

func (s *Server) untrackPeer(peerID string) {
	s.peersMu.Lock()
	delete(s.peers, peerID)
	s.peersMu.Unlock()
	s.limiter.remove(peerID)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	if projectID == "" {
		http.Error(w, "project_id required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	hello, useJSON, err := s.readHello(r.Context(), conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}
	if hello.ProtocolVersion != wire.ProtocolVersion {
		conn.Close(websocket.StatusPolicyViolation, "version mismatch")
		return
	}

	peerID, name, color := s.resolveIdentity(hello)
	p := newPeer(peerID, conn, useJSON)
	p.Name = name
	p.Color = color
	s.trackPeer(p)
	defer s.untrackPeer(p.ID)

	token, err := s.Sessions.Issue(p.ID, projectID)
	if err != nil {
		logger.ForPeer(p.ID).Error("issue session token", "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	p.SessionToken = token

	welcome := wire.Welcome{
		ProtocolVersion: wire.ProtocolVersion,
		PeerID:          p.ID,
		Color:           p.Color,
		SessionToken:    token,
		ServerTime:      time.Now().Unix(),
	}
	p.Send(welcome)

	ctx := r.Context()
	done := p.writeLoop(ctx)

	s.readLoop(ctx, projectID, p, conn)

	s.handleDisconnect(p)
	<-done
	conn.Close(websocket.StatusNormalClosure, "closing")
}

// readHello reads the connection's first frame, which must be a Hello
// message in either binary or JSON framing; the framing observed here is
// reused for every subsequent frame on this connection.
func (s *Server) readHello(ctx context.Context, conn *websocket.Conn) (wire.Hello, bool, error) {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	kind, data, err := conn.Read(authCtx)
	if err != nil {
		return wire.Hello{}, false, err
	}

	useJSON := kind == websocket.MessageText
	var msg wire.ClientMessage
	if useJSON {
		msg, err = wire.DecodeClientJSON(data)
	} else {
		msg, err = wire.DecodeClient(data)
	}
	if err != nil {
		return wire.Hello{}, false, err
	}

	hello, ok := msg.(wire.Hello)
	if !ok {
		return wire.Hello{}, false, &wire.InvalidFormatError{Reason: "expected hello"}
	}
	return hello, useJSON, nil
}

// resolveIdentity assigns a fresh peer id/color, or recovers a prior
// identity when the client presents a valid session token (spec.md §4.6:
// "the new peer-id inherits the prior session mapping").
func (s *Server) resolveIdentity(hello wire.Hello) (peerID, name, color string) {
	name = hello.ClientName
	if name == "" {
		name = "anonymous"
	}
	if hello.SessionToken != "" {
		if prevPeer, _, ok := s.Sessions.Lookup(hello.SessionToken); ok {
			s.Sessions.Revoke(hello.SessionToken)
			return prevPeer, name, presence.RandomColor()
		}
	}
	return uuid.NewString(), name, presence.RandomColor()
}

func (s *Server) handleDisconnect(p *Peer) {
	if p.ProjectID == "" {
		return
	}
	s.leaveProject(p, p.ProjectID)
}

// materializeRoom fetches a project's room, creating it (and loading or
// initializing its document) on first join.
// ErrTooManyProjects is returned by materializeRoom when max_projects live
// rooms are already materialized and projectID is not among them.
var ErrTooManyProjects = &wire.InvalidFormatError{Reason: "max_projects reached"}

func (s *Server) materializeRoom(projectID string) (*room.Room, error) {
	if r, ok := s.Rooms.Get(projectID); ok {
		return r, nil
	}
	if s.Rooms.Count() >= s.Config.MaxProjects {
		return nil, ErrTooManyProjects
	}

	doc, err := s.loadOrCreateDocument(projectID)
	if err != nil {
		return nil, err
	}

	r := room.New(projectID, doc, s.Presence.GetOrCreate(projectID))
	s.Rooms.Put(r)
	return r, nil
}

func (s *Server) loadOrCreateDocument(projectID string) (*crdt.Document, error) {
	data, ok, err := s.Storage.LoadDocument(projectID)
	if err != nil {
		return nil, err
	}
	if ok {
		return crdt.LoadDocument(data, unixNow)
	}

	doc := crdt.NewDocument(projectID, "server", unixNow)
	s.saveMetadataNonFatal(projectID, projectID)
	return doc, nil
}

// saveMetadataNonFatal persists a fresh project's catalog row. Per spec.md
// §7, a storage failure here must not fail project creation: the in-memory
// room is kept and the next successful background flush heals persistence.
func (s *Server) saveMetadataNonFatal(projectID, name string) {
	if err := s.Storage.SaveMetadata(storage.DocumentMetadata{
		ProjectID: projectID,
		Name:      name,
		CreatedAt: time.Now().Unix(),
		UpdatedAt: time.Now().Unix(),
	}); err != nil {
		logger.ForRoom(projectID).Warn("save metadata on create", "error", err)
	}
}

// CreateProject materializes a brand-new room under a fresh project id, used
// by the admin HTTP surface's POST /api/projects (spec.md §6). name may be
// empty, in which case the project id also serves as its display name.
func (s *Server) CreateProject(name string) (string, error) {
	if s.Rooms.Count() >= s.Config.MaxProjects {
		return "", ErrTooManyProjects
	}
	projectID := uuid.NewString()
	displayName := name
	if displayName == "" {
		displayName = projectID
	}
	doc := crdt.NewDocument(projectID, "server", unixNow)
	s.saveMetadataNonFatal(projectID, displayName)
	r := room.New(projectID, doc, s.Presence.GetOrCreate(projectID))
	s.Rooms.Put(r)
	return projectID, nil
}

func unixNow() int64 { return time.Now().Unix() }
