package server

import (
	"context"
	"time"

	"github.com/coder/websocket"

	"github.com/collabforge/syncd/internal/crdt"
	"github.com/collabforge/syncd/internal/logger"
	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/room"
	"github.com/collabforge/syncd/internal/wire"
)

// readLoop blocks reading frames from conn until the connection closes,
// dispatching each decoded client message. pathProject is the project
// named by the WebSocket's URL; a peer only ever joins that one project.
func (s *Server) readLoop(ctx context.Context, pathProject string, p *Peer, conn *websocket.Conn) {
	log := logger.ForPeer(p.ID)
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !s.limiter.allow(p.ID) {
			p.Send(wire.Error{Code: wire.ErrRateLimited, Message: "rate limit exceeded"})
			continue
		}

		var msg wire.ClientMessage
		if kind == websocket.MessageText {
			msg, err = wire.DecodeClientJSON(data)
		} else {
			msg, err = wire.DecodeClient(data)
		}
		if err != nil {
			p.Send(wire.Error{Code: wire.ErrInvalidMessage, Message: err.Error()})
			continue
		}

		if err := s.dispatch(pathProject, p, msg); err != nil {
			log.Warn("dispatch error", "type", msg.ClientType(), "error", err)
		}
	}
}

func (s *Server) dispatch(pathProject string, p *Peer, msg wire.ClientMessage) error {
	switch m := msg.(type) {
	case wire.JoinProject:
		return s.joinProject(p, pathProject, m.RequestState)
	case wire.LeaveProject:
		s.leaveProject(p, m.ProjectID)
		return nil
	case wire.ClientSyncMessage:
		return s.handleSync(p, m)
	case wire.SyncRequest:
		return s.handleSyncRequest(p, m)
	case wire.OpenFile:
		return s.handleOpenFile(p, m)
	case wire.CloseFile:
		return s.handleCloseFile(p, m)
	case wire.FileRequest:
		return s.handleFileRequest(p, m)
	case wire.CursorUpdate:
		return s.handleCursorUpdate(p, m)
	case wire.PresenceUpdate:
		return s.handlePresenceUpdate(p, m)
	case wire.ClientChatMessage:
		return s.handleChatMessage(p, m)
	case wire.ChatHistoryRequest:
		return s.handleChatHistoryRequest(p, m)
	case wire.VoiceJoin:
		return s.handleVoiceJoin(p, m)
	case wire.VoiceLeave:
		return nil
	case wire.Ping:
		p.Send(wire.Pong{Timestamp: m.Timestamp, ServerTime: time.Now().Unix()})
		return nil
	case wire.ClientGoodbye:
		return nil
	default:
		p.Send(wire.Error{Code: wire.ErrInvalidMessage, Message: "unsupported message"})
		return nil
	}
}

// joinProject runs the five-step join protocol from spec.md §4.6.
func (s *Server) joinProject(p *Peer, projectID string, requestState bool) error {
	if p.ProjectID != "" {
		p.Send(wire.Error{Code: wire.ErrAlreadyJoined, Message: "already joined a project", ProjectID: projectID})
		return nil
	}

	r, err := s.materializeRoom(projectID)
	if err != nil {
		p.Send(wire.Error{Code: wire.ErrServerError, Message: err.Error(), ProjectID: projectID})
		return err
	}

	if r.PeerCount() >= s.Config.MaxPeersPerProject {
		p.Send(wire.Error{Code: wire.ErrProjectFull, Message: "project is full", ProjectID: projectID})
		return nil
	}

	now := time.Now()
	priorHeads, hasPrior := s.resumeSyncState(projectID, p.ID)
	heads, err := crdt.EncodeClock(r.Document().GetHeads())
	if err != nil {
		return err
	}
	r.SetSyncState(p.ID, heads)

	others := r.Presence().GetAllPeers()
	r.Presence().AddPeer(p.ID, p.Name, now)
	r.Join(p.ID, p)
	p.ProjectID = projectID

	peerInfos := make([]wire.PeerInfo, 0, len(others))
	for _, snap := range others {
		peerInfos = append(peerInfos, peerInfoFromSnapshot(snap))
	}

	joined := wire.ProjectJoined{ProjectID: projectID, Peers: peerInfos}
	var catchUp []byte
	switch {
	case hasPrior:
		changes := r.Document().GetChangesSince(priorHeads)
		catchUp, err = crdt.EncodeChanges(changes)
		if err != nil {
			return err
		}
	case requestState:
		joined.DocumentState, err = r.Document().Save()
		if err != nil {
			return err
		}
	}
	p.Send(joined)
	if catchUp != nil {
		p.Send(wire.ServerSyncMessage{ProjectID: projectID, SyncData: catchUp})
	}

	snap, _ := r.Presence().Snapshot(p.ID)
	r.Broadcast(room.ScopeExcludePeer(p.ID), wire.PeerJoined{
		ProjectID: projectID,
		Peer:      peerInfoFromSnapshot(snap),
	})
	return nil
}

// resumeSyncState loads and decodes a peer's last-recorded sync position
// (a vector clock) so a reconnect can compute a minimal catch-up payload via
// GetChangesSince instead of always resending the full document.
func (s *Server) resumeSyncState(projectID, peerID string) (crdt.VectorClock, bool) {
	data, ok, err := s.Storage.LoadSyncState(projectID, peerID)
	if err != nil || !ok {
		return nil, false
	}
	heads, err := crdt.DecodeClock(data)
	if err != nil {
		return nil, false
	}
	return heads, true
}

func peerInfoFromSnapshot(snap presence.Snapshot) wire.PeerInfo {
	return wire.PeerInfo{
		PeerID:     snap.PeerID,
		Name:       snap.Name,
		Color:      snap.Color,
		Status:     snap.Status,
		ActiveFile: snap.ActiveFile,
		JoinedAt:   snap.JoinedAt.Unix(),
	}
}

func (s *Server) leaveProject(p *Peer, projectID string) {
	if projectID == "" {
		projectID = p.ProjectID
	}
	r, ok := s.Rooms.Get(projectID)
	if !ok {
		return
	}
	r.Leave(p.ID)
	r.Presence().RemovePeer(p.ID)
	if err := s.Storage.RemoveSyncState(projectID, p.ID); err != nil {
		logger.ForPeerRoom(p.ID, projectID).Warn("remove sync state", "error", err)
	}
	p.ProjectID = ""
	r.Broadcast(room.ScopeAll(), wire.PeerLeft{ProjectID: projectID, PeerID: p.ID, Reason: "left"})
}

func (s *Server) roomFor(p *Peer, projectID string) (*room.Room, error) {
	if p.ProjectID == "" || p.ProjectID != projectID {
		return nil, &wire.InvalidFormatError{Reason: "not joined to project " + projectID}
	}
	r, ok := s.Rooms.Get(projectID)
	if !ok {
		return nil, &wire.InvalidFormatError{Reason: "unknown project " + projectID}
	}
	return r, nil
}

func (s *Server) handleSync(p *Peer, m wire.ClientSyncMessage) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		p.Send(wire.Error{Code: wire.ErrNotJoined, Message: err.Error(), ProjectID: m.ProjectID})
		return nil
	}
	if _, err := r.ApplySync(p.ID, m.SyncData, false); err != nil {
		p.Send(wire.Error{Code: wire.ErrInvalidMessage, Message: err.Error(), ProjectID: m.ProjectID})
		return err
	}

	heads, err := crdt.EncodeClock(r.Document().GetHeads())
	if err != nil {
		return err
	}
	r.SetSyncState(p.ID, heads)
	if err := s.Storage.SaveSyncState(m.ProjectID, p.ID, heads); err != nil {
		logger.ForPeerRoom(p.ID, m.ProjectID).Warn("save sync state", "error", err)
	}
	p.Send(wire.SyncComplete{ProjectID: m.ProjectID})
	return nil
}

func (s *Server) handleSyncRequest(p *Peer, m wire.SyncRequest) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		p.Send(wire.Error{Code: wire.ErrNotJoined, Message: err.Error(), ProjectID: m.ProjectID})
		return nil
	}
	changes := r.Document().GetChangesSince(crdt.VectorClock{})
	data, err := crdt.EncodeChanges(changes)
	if err != nil {
		return err
	}
	p.Send(wire.ServerSyncMessage{ProjectID: m.ProjectID, SyncData: data})
	return nil
}

func (s *Server) handleOpenFile(p *Peer, m wire.OpenFile) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		return nil
	}
	r.Presence().UpdateStatus(p.ID, wire.PresenceActive, m.FilePath, time.Now())
	return nil
}

func (s *Server) handleCloseFile(p *Peer, m wire.CloseFile) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		return nil
	}
	r.Presence().CloseFile(p.ID, m.FilePath)
	return nil
}

func (s *Server) handleFileRequest(p *Peer, m wire.FileRequest) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		p.Send(wire.Error{Code: wire.ErrNotJoined, Message: err.Error(), ProjectID: m.ProjectID})
		return nil
	}
	content, version, ok := r.Document().GetFileContent(m.FilePath)
	if !ok {
		p.Send(wire.FileNotFound{ProjectID: m.ProjectID, FilePath: m.FilePath})
		return nil
	}
	p.Send(wire.FileContent{ProjectID: m.ProjectID, FilePath: m.FilePath, Content: content, Version: version})
	return nil
}

func (s *Server) handleCursorUpdate(p *Peer, m wire.CursorUpdate) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		return nil
	}
	r.Presence().UpdateCursor(p.ID, presence.Cursor{
		FilePath:     m.FilePath,
		Line:         m.Line,
		Column:       m.Column,
		SelectionEnd: m.SelectionEnd,
		Handle:       m.CursorHandle,
		UpdatedAt:    time.Now(),
	}, time.Now())

	snap, _ := r.Presence().Snapshot(p.ID)
	r.Broadcast(room.ScopeExcludePeer(p.ID), wire.CursorBroadcast{
		ProjectID:    m.ProjectID,
		PeerID:       p.ID,
		PeerName:     snap.Name,
		PeerColor:    snap.Color,
		FilePath:     m.FilePath,
		Line:         m.Line,
		Column:       m.Column,
		SelectionEnd: m.SelectionEnd,
		CursorHandle: m.CursorHandle,
	})
	return nil
}

func (s *Server) handlePresenceUpdate(p *Peer, m wire.PresenceUpdate) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		return nil
	}
	now := time.Now()
	r.Presence().UpdateStatus(p.ID, m.Status, m.ActiveFile, now)
	r.Presence().SetTyping(p.ID, m.IsTyping, now)

	snap, _ := r.Presence().Snapshot(p.ID)
	r.Broadcast(room.ScopeExcludePeer(p.ID), wire.PresenceBroadcast{
		ProjectID:  m.ProjectID,
		PeerID:     p.ID,
		PeerName:   snap.Name,
		Status:     m.Status,
		ActiveFile: m.ActiveFile,
		IsTyping:   m.IsTyping,
		LastActive: now.Unix(),
	})
	return nil
}

func (s *Server) handleChatMessage(p *Peer, m wire.ClientChatMessage) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		return nil
	}
	item := r.AddChatMessage(p.ID, p.Name, m.Content, time.Now())
	r.Broadcast(room.ScopeAll(), wire.ChatBroadcast{
		ProjectID: m.ProjectID,
		PeerID:    item.PeerID,
		PeerName:  item.PeerName,
		Content:   item.Content,
		Timestamp: item.Timestamp,
	})
	return nil
}

func (s *Server) handleChatHistoryRequest(p *Peer, m wire.ChatHistoryRequest) error {
	r, err := s.roomFor(p, m.ProjectID)
	if err != nil {
		return nil
	}
	p.Send(wire.ChatHistory{ProjectID: m.ProjectID, Messages: r.ChatHistory(int(m.Limit))})
	return nil
}

func (s *Server) handleVoiceJoin(p *Peer, m wire.VoiceJoin) error {
	if !s.Voice.Enabled() {
		p.Send(wire.Error{Code: wire.ErrServerError, Message: "voice is not configured", ProjectID: m.ProjectID})
		return nil
	}
	token, err := s.Voice.IssueToken(m.ProjectID, p.ID)
	if err != nil {
		p.Send(wire.Error{Code: wire.ErrServerError, Message: err.Error(), ProjectID: m.ProjectID})
		return err
	}
	p.Send(wire.VoiceToken{
		ProjectID: m.ProjectID,
		Token:     token,
		RoomName:  m.ProjectID,
		ServerURL: s.Voice.ServerURL(),
	})
	return nil
}
