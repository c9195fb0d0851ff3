// Package admin exposes a small HTTP API alongside the WebSocket sync
// endpoint: health checks, listing and inspecting projects, and creating
// new projects, for
// operators and dashboards rather than editor clients.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/room"
	"github.com/collabforge/syncd/internal/storage"
	"github.com/collabforge/syncd/internal/wire"
)

// StatsSource reports the live server summary backing GET /health, and
// creates projects on behalf of POST /api/projects.
type StatsSource interface {
	Stats() wire.Stats
	CreateProject(name string) (string, error)
}

// API wires the admin HTTP surface against the server's registries.
type API struct {
	rooms    *room.Registry
	presence *presence.Manager
	store    *storage.Store
	stats    StatsSource
	wsBase   string
}

// New constructs an admin API. wsBase prefixes the ws_url returned from
// project creation (e.g. "ws://localhost:5000"); empty means relative paths.
func New(rooms *room.Registry, presenceMgr *presence.Manager, store *storage.Store, stats StatsSource, wsBase string) *API {
	return &API{rooms: rooms, presence: presenceMgr, store: store, stats: stats, wsBase: wsBase}
}

// Register mounts the admin routes on mux, including the /api/rooms/...
// aliases spec.md §6 keeps for compatibility with older clients.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/projects", a.handleListProjects)
	mux.HandleFunc("POST /api/projects", a.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", a.handleGetProject)
	mux.HandleFunc("GET /api/rooms", a.handleListProjects)
	mux.HandleFunc("POST /api/rooms", a.handleCreateProject)
	mux.HandleFunc("GET /api/rooms/{id}", a.handleGetProject)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stats.Stats())
}

type projectSummary struct {
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	PeerCount  int    `json:"peer_count"`
	Live       bool   `json:"live"`
	UpdatedAt  int64  `json:"updated_at"`
	SizeBytes  uint64 `json:"size_bytes"`
	ChangeSeen uint64 `json:"change_count"`
}

// handleListProjects merges the persisted catalog with whichever projects
// currently have a materialized room, so a project mid-edit with no saved
// snapshot yet still shows up.
func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	metas, err := a.store.ListDocuments()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list projects")
		return
	}

	live := make(map[string]*room.Room)
	for _, rm := range a.rooms.All() {
		live[rm.ProjectID()] = rm
	}

	seen := make(map[string]bool, len(metas))
	out := make([]projectSummary, 0, len(metas))
	for _, m := range metas {
		seen[m.ProjectID] = true
		summary := projectSummary{
			ProjectID:  m.ProjectID,
			Name:       m.Name,
			UpdatedAt:  m.UpdatedAt,
			SizeBytes:  m.SizeBytes,
			ChangeSeen: m.ChangeCount,
		}
		if rm, ok := live[m.ProjectID]; ok {
			summary.Live = true
			summary.PeerCount = rm.PeerCount()
		}
		out = append(out, summary)
	}
	for id, rm := range live {
		if seen[id] {
			continue
		}
		out = append(out, projectSummary{
			ProjectID: id,
			Name:      id,
			Live:      true,
			PeerCount: rm.PeerCount(),
			UpdatedAt: time.Now().Unix(),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type createProjectResponse struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	WSURL     string `json:"ws_url"`
}

// handleCreateProject materializes a new room and returns its connection
// details. The request body is optional; an absent or empty name falls back
// to the generated project id.
func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	projectID, err := a.stats.CreateProject(req.Name)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	name := req.Name
	if name == "" {
		name = projectID
	}
	writeJSON(w, http.StatusCreated, createProjectResponse{
		ProjectID: projectID,
		Name:      name,
		WSURL:     a.wsBase + "/ws/" + projectID,
	})
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, ok, err := a.store.GetMetadata(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load project")
		return
	}
	if !ok {
		if _, live := a.rooms.Get(id); !live {
			writeError(w, http.StatusNotFound, "unknown project")
			return
		}
	}

	summary := projectSummary{
		ProjectID:  id,
		Name:       meta.Name,
		UpdatedAt:  meta.UpdatedAt,
		SizeBytes:  meta.SizeBytes,
		ChangeSeen: meta.ChangeCount,
	}
	if rm, ok := a.rooms.Get(id); ok {
		summary.Live = true
		summary.PeerCount = rm.PeerCount()
		if summary.Name == "" {
			summary.Name = id
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
