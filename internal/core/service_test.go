package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"thesisgen/internal/blob"
	"thesisgen/internal/generate"
	"thesisgen/pkg/domain"
)

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	return NewInMemoryService(NewDefaultRulesEngine(), &generate.Stub{}, blob.NewMemory(), opts...)
}

func seedProject(t *testing.T, svc *Service, ownerID string) Project {
	t.Helper()
	project, _, err := svc.SaveProject(context.Background(), Project{OwnerID: ownerID, Title: "Urban Heat Islands", Field: "Geography"})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return project
}

func TestSaveProjectUpsert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	first := seedProject(t, svc, "uid-1")
	if first.CurrentPhase != domain.PhaseConcept {
		t.Fatalf("expected concept phase default, got %q", first.CurrentPhase)
	}
	second, _, err := svc.SaveProject(ctx, Project{OwnerID: "uid-1", Title: "Revised", Field: "Geography"})
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert must keep document identity")
	}
	got, ok := svc.GetProjectByOwner(ctx, "uid-1")
	if !ok || got.Title != "Revised" {
		t.Fatalf("expected overwritten project, got %+v ok=%v", got, ok)
	}
}

func TestTaskLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	project := seedProject(t, svc, "uid-1")

	task, _, err := svc.CreateTask(ctx, Task{ProjectID: project.ID, Title: "Literature survey"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != domain.TaskStatusTodo || task.Priority != domain.PriorityMedium {
		t.Fatalf("expected board defaults, got %+v", task)
	}

	// Done is reachable in two advances from the first column.
	for i := 0; i < 2; i++ {
		task, _, err = svc.AdvanceTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	if task.Status != domain.TaskStatusDone {
		t.Fatalf("expected Done after two advances, got %q", task.Status)
	}

	// advancing Done stays Done
	task, _, err = svc.AdvanceTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("advance done: %v", err)
	}
	if task.Status != domain.TaskStatusDone {
		t.Fatalf("advancing Done must be a no-op, got %q", task.Status)
	}

	task, _, err = svc.RevertTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if task.Status != domain.TaskStatusTodo {
		t.Fatalf("revert must land on the first column, got %q", task.Status)
	}

	if _, err := svc.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if tasks := svc.ListTasks(ctx, project.ID); len(tasks) != 0 {
		t.Fatalf("expected empty board, got %d tasks", len(tasks))
	}
}

func TestTaskRulesBlockInvalidValues(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	project := seedProject(t, svc, "uid-1")

	_, res, err := svc.CreateTask(ctx, Task{ProjectID: project.ID, Title: "Bad", Status: "Blocked"})
	var violation RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}

	_, _, err = svc.CreateTask(ctx, Task{ProjectID: "missing-project", Title: "Orphan"})
	if !errors.As(err, &violation) {
		t.Fatalf("expected project reference violation, got %v", err)
	}
}

func TestSetProjectPhase(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedProject(t, svc, "uid-1")

	project, _, err := svc.SetProjectPhase(ctx, "uid-1", domain.PhaseDrafting)
	if err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if project.CurrentPhase != domain.PhaseDrafting {
		t.Fatalf("unexpected phase %q", project.CurrentPhase)
	}
	if _, _, err := svc.SetProjectPhase(ctx, "uid-1", "sabbatical"); err == nil {
		t.Fatalf("expected invalid phase rejection")
	}
}

func TestSaveDraftPersistsWordCount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedProject(t, svc, "uid-1")

	project, _, err := svc.SaveDraft(ctx, "uid-1", "methodology", "one two three four five")
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if project.WordCount != 5 {
		t.Fatalf("expected word count 5, got %d", project.WordCount)
	}
	text, err := svc.LoadDraft(ctx, "uid-1", "methodology")
	if err != nil {
		t.Fatalf("load draft: %v", err)
	}
	if text != "one two three four five" {
		t.Fatalf("unexpected draft %q", text)
	}
	if missing, err := svc.LoadDraft(ctx, "uid-1", "conclusion"); err != nil || missing != "" {
		t.Fatalf("missing draft should read empty, got %q err=%v", missing, err)
	}
}

func TestSaveDraftUnknownOwnerWritesNoBlob(t *testing.T) {
	drafts := blob.NewMemory()
	svc := NewInMemoryService(NewDefaultRulesEngine(), &generate.Stub{}, drafts)

	_, _, err := svc.SaveDraft(context.Background(), "ghost", "introduction", "orphan text")
	var notFound ErrNotFound
	if !errors.As(err, &notFound) || notFound.Entity != EntityProject {
		t.Fatalf("expected project not-found error, got %v", err)
	}
	infos, err := drafts.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("draft for unknown owner must not be stored, found %d blobs", len(infos))
	}
}

func TestDeleteProjectRemovesSubtree(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	project := seedProject(t, svc, "uid-1")
	if _, _, err := svc.AddSource(ctx, project.ID, SourceAnalysis{Title: "Paper"}); err != nil {
		t.Fatalf("add source: %v", err)
	}
	if _, _, err := svc.CreateTask(ctx, Task{ProjectID: project.ID, Title: "Read"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, _, err := svc.SaveDraft(ctx, "uid-1", "intro", "draft words"); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	if _, err := svc.DeleteProject(ctx, "uid-1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, ok := svc.GetProjectByOwner(ctx, "uid-1"); ok {
		t.Fatalf("expected project gone")
	}
	if n := len(svc.ListSources(ctx, project.ID)); n != 0 {
		t.Fatalf("expected sources gone, %d left", n)
	}
	if n := len(svc.ListTasks(ctx, project.ID)); n != 0 {
		t.Fatalf("expected tasks gone, %d left", n)
	}
	if text, err := svc.LoadDraft(ctx, "uid-1", "intro"); err != nil || text != "" {
		t.Fatalf("expected drafts gone, got %q err=%v", text, err)
	}

	if _, err := svc.DeleteProject(ctx, "uid-1"); err == nil {
		t.Fatalf("expected not-found error on second delete")
	}
}

func TestGenerateConcepts(t *testing.T) {
	svc := newTestService(t)
	concepts, err := svc.GenerateConcepts(context.Background(), "Geography")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(concepts) == 0 || concepts[0].Title == "" {
		t.Fatalf("unexpected concepts %+v", concepts)
	}
}

func TestAnalyzeSourceWritesOnSuccessOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	project := seedProject(t, svc, "uid-1")

	source, _, err := svc.AnalyzeSource(ctx, project.ID, "long pasted source text")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if source.Author == "" {
		t.Fatalf("expected populated source, got %+v", source)
	}
	if n := len(svc.ListSources(ctx, project.ID)); n != 1 {
		t.Fatalf("expected one source, got %d", n)
	}
}

func TestAnalyzeSourceMalformedCompletion(t *testing.T) {
	stub := &generate.Stub{Completion: "I am sorry, I cannot analyze this."}
	svc := NewInMemoryService(NewDefaultRulesEngine(), stub, blob.NewMemory())
	ctx := context.Background()
	project := seedProject(t, svc, "uid-1")

	_, _, err := svc.AnalyzeSource(ctx, project.ID, "text")
	var parseErr *generate.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if n := len(svc.ListSources(ctx, project.ID)); n != 0 {
		t.Fatalf("malformed completion must write no source, got %d", n)
	}
}

func TestGenerationInFlightGuard(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	gen := blockingGenerator{blocked: blocked, release: release}
	svc := NewInMemoryService(NewDefaultRulesEngine(), gen, blob.NewMemory())

	done := make(chan error, 1)
	go func() {
		_, err := svc.GenerateConcepts(context.Background(), "Geography")
		done <- err
	}()
	<-blocked

	if _, err := svc.GenerateConcepts(context.Background(), "Geography"); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	// a different field is an independent submission
	if _, err := svc.GenerateConcepts(context.Background(), "Sociology"); errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("different scope must not be blocked")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := svc.GenerateConcepts(context.Background(), "Geography"); err != nil {
		t.Fatalf("guard must clear after completion: %v", err)
	}
}

type blockingGenerator struct {
	blocked chan struct{}
	release chan struct{}
}

func (g blockingGenerator) Generate(_ context.Context, req generate.Request) (string, error) {
	select {
	case g.blocked <- struct{}{}:
		<-g.release
	default:
	}
	return (&generate.Stub{}).Generate(context.Background(), req)
}

func TestServiceWatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	project := seedProject(t, svc, "uid-1")

	handle, err := svc.Watch(EntityTask, project.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer handle.Cancel()

	created, _, err := svc.CreateTask(ctx, Task{ProjectID: project.ID, Title: "Observe"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case event := <-handle.Events():
		if event.ID != created.ID || event.Action != ActionCreate {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
}
