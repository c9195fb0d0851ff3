package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/collabforge/syncd/internal/presence"
	"github.com/collabforge/syncd/internal/room"
	"github.com/collabforge/syncd/internal/storage"
	"github.com/collabforge/syncd/internal/wire"
)

// fakeStats is a minimal StatsSource stub so admin handlers can be tested
// without spinning up a full server.Server.
type fakeStats struct {
	created []string
	failNew error
}

func (f *fakeStats) Stats() wire.Stats {
	return wire.Stats{ActiveProjects: 1, ActivePeers: 2, UptimeSeconds: 42}
}

func (f *fakeStats) CreateProject(name string) (string, error) {
	if f.failNew != nil {
		return "", f.failNew
	}
	id := "proj-" + name
	if name == "" {
		id = "proj-generated"
	}
	f.created = append(f.created, id)
	return id, nil
}

func testAPI(t *testing.T) (*API, *fakeStats) {
	t.Helper()
	store, err := storage.Open(":memory:", false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	stats := &fakeStats{}
	api := New(room.NewRegistry(), presence.NewManager(), store, stats, "ws://localhost:5000")
	return api, stats
}

func TestHealthEndpoint(t *testing.T) {
	api, _ := testAPI(t)
	mux := http.NewServeMux()
	api.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats wire.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.ActivePeers != 2 {
		t.Errorf("ActivePeers = %d, want 2", stats.ActivePeers)
	}
}

func TestCreateProjectReturnsWSURL(t *testing.T) {
	api, stats := testAPI(t)
	mux := http.NewServeMux()
	api.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/projects", "application/json", strings.NewReader(`{"name":"demo"}`))
	if err != nil {
		t.Fatalf("POST /api/projects: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out createProjectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ProjectID != "proj-demo" {
		t.Errorf("ProjectID = %q, want %q", out.ProjectID, "proj-demo")
	}
	if out.WSURL != "ws://localhost:5000/ws/proj-demo" {
		t.Errorf("WSURL = %q", out.WSURL)
	}
	if len(stats.created) != 1 {
		t.Fatalf("expected one project created, got %d", len(stats.created))
	}
}

func TestCreateProjectEmptyBodyUsesGeneratedName(t *testing.T) {
	api, _ := testAPI(t)
	mux := http.NewServeMux()
	api.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/projects", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/projects: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
}

func TestRoomsAliasMirrorsProjects(t *testing.T) {
	api, _ := testAPI(t)
	mux := http.NewServeMux()
	api.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("GET /api/rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestListProjectsIncludesPersisted(t *testing.T) {
	api, _ := testAPI(t)
	if err := api.store.SaveMetadata(storage.DocumentMetadata{ProjectID: "p1", Name: "p1"}); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}

	mux := http.NewServeMux()
	api.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/projects")
	if err != nil {
		t.Fatalf("GET /api/projects: %v", err)
	}
	defer resp.Body.Close()

	var out []projectSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ProjectID != "p1" {
		t.Fatalf("projects = %+v", out)
	}
}
