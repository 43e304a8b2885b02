package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"thesisgen/internal/blob"
	"thesisgen/internal/core"
	"thesisgen/internal/exports"
	"thesisgen/internal/generate"
	"thesisgen/pkg/domain"
)

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *core.Service) {
	t.Helper()
	service := core.NewInMemoryService(core.NewDefaultRulesEngine(), &generate.Stub{}, blob.NewMemory())
	return NewHandler(service, opts...), service
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProjectEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/project", domain.Project{
		OwnerID: "owner-1", Title: "Thesis", Field: "History",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save project: %d %s", rec.Code, rec.Body.String())
	}
	var saved struct {
		Project domain.Project `json:"project"`
	}
	decodeInto(t, rec, &saved)
	if saved.Project.ID == "" || saved.Project.CurrentPhase != domain.PhaseConcept {
		t.Fatalf("unexpected project %+v", saved.Project)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/project/owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get project: %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/project/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown owner, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/project/owner-1/phase", map[string]string{"phase": "drafting"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set phase: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/v1/project/owner-1/drafts/methodology", map[string]string{
		"text": "The chosen method is a longitudinal survey",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save draft: %d %s", rec.Code, rec.Body.String())
	}
	var drafted struct {
		Project domain.Project `json:"project"`
	}
	decodeInto(t, rec, &drafted)
	if drafted.Project.WordCount != 7 {
		t.Fatalf("expected word count 7, got %d", drafted.Project.WordCount)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/project/owner-1/drafts/methodology", nil)
	var loaded struct {
		Text string `json:"text"`
	}
	decodeInto(t, rec, &loaded)
	if !strings.Contains(loaded.Text, "longitudinal survey") {
		t.Fatalf("unexpected draft %q", loaded.Text)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/project/owner-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete project: %d", rec.Code)
	}
}

func TestTaskEndpointsLifecycle(t *testing.T) {
	handler, service := newTestHandler(t)
	project, _, err := service.SaveProject(context.Background(), domain.Project{OwnerID: "owner-1", Title: "Thesis"})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tasks", domain.Task{
		ProjectID: project.ID, Title: "Literature survey",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Task domain.Task `json:"task"`
	}
	decodeInto(t, rec, &created)
	if created.Task.Status != domain.TaskStatusTodo || created.Task.Priority != domain.PriorityMedium {
		t.Fatalf("expected defaults, got %+v", created.Task)
	}

	id := created.Task.ID
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/tasks/"+id+"/advance", nil)
	var advanced struct {
		Task domain.Task `json:"task"`
	}
	decodeInto(t, rec, &advanced)
	if advanced.Task.Status != domain.TaskStatusInProgress {
		t.Fatalf("expected In Progress, got %q", advanced.Task.Status)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/tasks/"+id+"/revert", nil)
	decodeInto(t, rec, &advanced)
	if advanced.Task.Status != domain.TaskStatusTodo {
		t.Fatalf("expected To Do after revert, got %q", advanced.Task.Status)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/tasks/"+id, map[string]string{"priority": "High"})
	decodeInto(t, rec, &advanced)
	if advanced.Task.Priority != domain.PriorityHigh {
		t.Fatalf("expected High priority, got %q", advanced.Task.Priority)
	}

	// An invalid priority is blocked by the rules engine.
	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/tasks/"+id, map[string]string{"priority": "Urgent"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid priority, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/tasks/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete task: %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/tasks/"+id+"/advance", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 advancing deleted task, got %d", rec.Code)
	}
}

func TestAnalyzeSourceEndpoint(t *testing.T) {
	handler, service := newTestHandler(t)
	project, _, err := service.SaveProject(context.Background(), domain.Project{OwnerID: "owner-1", Title: "Thesis"})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/projects/"+project.ID+"/sources/analyze", map[string]string{
		"text": "A study on urban vegetation and temperature",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("analyze: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/projects/"+project.ID+"/sources", nil)
	var listed struct {
		Sources []domain.Source `json:"sources"`
	}
	decodeInto(t, rec, &listed)
	if len(listed.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(listed.Sources))
	}
}

func TestAnalyzeSourceMalformedCompletionMapsToBadGateway(t *testing.T) {
	service := core.NewInMemoryService(core.NewDefaultRulesEngine(), &generate.Stub{Completion: "not json"}, blob.NewMemory())
	handler := NewHandler(service)
	project, _, err := service.SaveProject(context.Background(), domain.Project{OwnerID: "owner-1", Title: "Thesis"})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/projects/"+project.ID+"/sources/analyze", map[string]string{"text": "x"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for parse failure, got %d %s", rec.Code, rec.Body.String())
	}
	if sources := service.ListSources(context.Background(), project.ID); len(sources) != 0 {
		t.Fatalf("parse failure must not write a source")
	}
}

func TestGenerateConceptsEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/generate/concepts", map[string]string{"field": "Urban Planning"})
	if rec.Code != http.StatusOK {
		t.Fatalf("concepts: %d %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Concepts []domain.Concept `json:"concepts"`
	}
	decodeInto(t, rec, &payload)
	if len(payload.Concepts) == 0 {
		t.Fatalf("expected concepts")
	}
}

func TestExportEndpoints(t *testing.T) {
	service := core.NewInMemoryService(core.NewDefaultRulesEngine(), &generate.Stub{}, blob.NewMemory())
	project, _, err := service.SaveProject(context.Background(), domain.Project{OwnerID: "owner-1", Title: "Thesis"})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	worker := exports.NewWorker(service.Store(), blob.NewMemory(), nil)
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })
	handler := NewHandler(service, WithExports(worker))

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/exports", map[string]any{
		"kind": "task_board", "project_id": project.ID, "requested_by": "owner-1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue: %d %s", rec.Code, rec.Body.String())
	}
	var queued struct {
		Export exports.Record `json:"export"`
	}
	decodeInto(t, rec, &queued)
	if queued.Export.RequestedBy != "owner-1" {
		t.Fatalf("expected requester on record, got %q", queued.Export.RequestedBy)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doJSON(t, handler, http.MethodGet, "/api/v1/exports/"+queued.Export.ID, nil)
		var got struct {
			Export exports.Record `json:"export"`
		}
		decodeInto(t, rec, &got)
		if got.Export.Status == exports.StatusSucceeded {
			break
		}
		if got.Export.Status == exports.StatusFailed {
			t.Fatalf("export failed: %s", got.Export.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("export never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/exports", nil)
	var listed struct {
		Exports []exports.Record `json:"exports"`
	}
	decodeInto(t, rec, &listed)
	if len(listed.Exports) != 1 {
		t.Fatalf("expected 1 export, got %d", len(listed.Exports))
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/exports", map[string]any{"kind": "weekly", "project_id": project.ID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rec.Code)
	}
}

func TestWatchStreamsCommittedChanges(t *testing.T) {
	handler, service := newTestHandler(t)
	project, _, err := service.SaveProject(context.Background(), domain.Project{OwnerID: "owner-1", Title: "Thesis"})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/watch?entity=task&project_id="+project.ID, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("watch request: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	if _, _, err := service.CreateTask(context.Background(), domain.Task{
		ProjectID: project.ID, Title: "Literature survey",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatalf("no event received: %v", scanner.Err())
	}
	var event domain.WatchEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	if event.Entity != domain.EntityTask || event.Action != domain.ActionCreate {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestWatchRejectsUnknownEntity(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/watch?entity=everything", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSPAFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>thesisgen</html>"), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	handler, _ := newTestHandler(t, WithSPARoot(dir))

	rec := doJSON(t, handler, http.MethodGet, "/app.js", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "console.log") {
		t.Fatalf("asset not served: %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/workspace/kanban", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "thesisgen") {
		t.Fatalf("fallback not served: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("API paths must not fall back, got %d", rec.Code)
	}
}
