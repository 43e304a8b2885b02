package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"thesisgen/internal/blob"
	"thesisgen/internal/generate"
	"thesisgen/internal/infra/persistence/memory"
	"thesisgen/pkg/domain"
)

// Store is the persistence surface the service operates on. NowFunc exposes
// the backend clock so audit timestamps line up with record timestamps.
type Store interface {
	domain.PersistentStore
	NowFunc() func() time.Time
}

// ErrNotFound is returned when reference validation fails within
// transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrGenerationInFlight is returned when a generation operation is submitted
// while an identical one is still running.
var ErrGenerationInFlight = errors.New("generation already in progress")

// ErrWatchUnsupported is returned when the configured backend has no live
// subscription support.
var ErrWatchUnsupported = errors.New("store does not support subscriptions")

// Service exposes the transactional thesis operations behind the application:
// project lifecycle, literature sources, kanban tasks, chapter drafts, and
// the generation workflows.
type Service struct {
	store     Store
	generator generate.Generator
	drafts    blob.Store
	opts      serviceOptions

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewService constructs a service backed by the supplied store. The
// generator and draft store may be nil when the corresponding workflows are
// not configured; their operations then fail with a configuration error.
func NewService(store Store, generator generate.Generator, drafts blob.Store, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.clock == nil {
		if fn := store.NowFunc(); fn != nil {
			options.clock = ClockFunc(fn)
		} else {
			options.clock = ClockFunc(nil)
		}
	}
	return &Service{
		store:     store,
		generator: generator,
		drafts:    drafts,
		opts:      options,
		inflight:  make(map[string]struct{}),
	}
}

// WithModel selects the generation model used for every request.
func WithModel(model string) ServiceOption {
	return func(o *serviceOptions) {
		o.model = model
	}
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// given rules engine.
func NewInMemoryService(engine *RulesEngine, generator generate.Generator, drafts blob.Store, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), generator, drafts, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() Store {
	return s.store
}

// Drafts returns the blob store holding chapter drafts.
func (s *Service) Drafts() blob.Store {
	return s.drafts
}

// auditOperations maps instrumented operations to the entity and action they
// audit as. Operations absent from the table are measured but not audited.
var auditOperations = map[string]struct {
	entity EntityType
	action Action
}{
	"save_project":      {EntityProject, ActionCreate},
	"update_project":    {EntityProject, ActionUpdate},
	"delete_project":    {EntityProject, ActionDelete},
	"set_project_phase": {EntityProject, ActionUpdate},
	"save_draft":        {EntityProject, ActionUpdate},
	"add_source":        {EntitySource, ActionCreate},
	"analyze_source":    {EntitySource, ActionCreate},
	"create_task":       {EntityTask, ActionCreate},
	"update_task":       {EntityTask, ActionUpdate},
	"advance_task":      {EntityTask, ActionUpdate},
	"revert_task":       {EntityTask, ActionUpdate},
	"delete_task":       {EntityTask, ActionDelete},
}

func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	meta, ok := auditOperations[operation]
	if !ok {
		return
	}
	s.opts.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, operation, entityID string, duration time.Duration, opErr error) {
	meta, ok := auditOperations[operation]
	if !ok {
		return
	}
	s.opts.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusError,
		Error:     opErr.Error(),
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	})
}

// observe wraps an operation with tracing, metrics, audit, and logging. The
// callback returns the primary entity ID once known.
func (s *Service) observe(ctx context.Context, operation string, fn func(context.Context) (string, error)) error {
	start := time.Now()
	ctx, span := s.opts.tracer.Start(ctx, operation)
	entityID, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.opts.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		s.recordAuditError(ctx, operation, entityID, duration, err)
		s.opts.logger.Error("operation failed", "operation", operation, "error", err)
		return err
	}
	s.recordAuditSuccess(ctx, operation, entityID, duration)
	s.opts.logger.Debug("operation completed", "operation", operation, "entity_id", entityID)
	return nil
}

// tryBegin marks a generation key as in flight. It reports false when the
// same key is already running.
func (s *Service) tryBegin(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, running := s.inflight[key]; running {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Service) end(key string) {
	s.inflightMu.Lock()
	delete(s.inflight, key)
	s.inflightMu.Unlock()
}

// SaveProject upserts the owner's project document.
func (s *Service) SaveProject(ctx context.Context, project Project) (Project, Result, error) {
	var saved Project
	var res Result
	err := s.observe(ctx, "save_project", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			saved, txErr = tx.SaveProject(project)
			return txErr
		})
		return saved.ID, err
	})
	return saved, res, err
}

// GetProjectByOwner returns the owner's project document, if any.
func (s *Service) GetProjectByOwner(_ context.Context, ownerID string) (Project, bool) {
	return s.store.GetProject(ownerID)
}

// UpdateProject mutates the owner's project using the provided mutator.
func (s *Service) UpdateProject(ctx context.Context, ownerID string, mutator func(*Project) error) (Project, Result, error) {
	var updated Project
	var res Result
	err := s.observe(ctx, "update_project", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateProject(ownerID, mutator)
			return txErr
		})
		return updated.ID, err
	})
	return updated, res, err
}

// SetProjectPhase moves the owner's project to a new phase.
func (s *Service) SetProjectPhase(ctx context.Context, ownerID string, phase ProjectPhase) (Project, Result, error) {
	valid := false
	for _, p := range domain.ValidProjectPhases() {
		if p == phase {
			valid = true
			break
		}
	}
	if !valid {
		return Project{}, Result{}, fmt.Errorf("invalid project phase %q", phase)
	}
	return s.UpdateProject(ctx, ownerID, func(p *Project) error {
		p.CurrentPhase = phase
		return nil
	})
}

// DeleteProject removes the owner's project together with its sources,
// tasks, and saved drafts.
func (s *Service) DeleteProject(ctx context.Context, ownerID string) (Result, error) {
	var res Result
	err := s.observe(ctx, "delete_project", func(ctx context.Context) (string, error) {
		project, ok := s.store.GetProject(ownerID)
		if !ok {
			return "", ErrNotFound{Entity: EntityProject, ID: ownerID}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			for _, src := range view.ListSources(project.ID) {
				if err := tx.DeleteSource(src.ID); err != nil {
					return err
				}
			}
			for _, task := range view.ListTasks(project.ID) {
				if err := tx.DeleteTask(task.ID); err != nil {
					return err
				}
			}
			return tx.DeleteProject(ownerID)
		})
		if err != nil {
			return project.ID, err
		}
		s.removeDrafts(ctx, ownerID)
		return project.ID, nil
	})
	return res, err
}

func (s *Service) removeDrafts(ctx context.Context, ownerID string) {
	if s.drafts == nil {
		return
	}
	infos, err := s.drafts.List(ctx, draftPrefix(ownerID))
	if err != nil {
		s.opts.logger.Warn("listing drafts for cleanup failed", "owner_id", ownerID, "error", err)
		return
	}
	for _, info := range infos {
		if _, err := s.drafts.Delete(ctx, info.Key); err != nil {
			s.opts.logger.Warn("draft cleanup failed", "key", info.Key, "error", err)
		}
	}
}

// AddSource persists a literature source from an analysis result.
func (s *Service) AddSource(ctx context.Context, projectID string, analysis SourceAnalysis) (Source, Result, error) {
	var created Source
	var res Result
	err := s.observe(ctx, "add_source", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateSource(Source{
				ProjectID:  projectID,
				Title:      analysis.Title,
				Author:     analysis.Author,
				Year:       analysis.Year,
				Method:     analysis.Method,
				Result:     analysis.Result,
				Conclusion: analysis.Conclusion,
			})
			return txErr
		})
		return created.ID, err
	})
	return created, res, err
}

// ListSources returns the project's literature sources.
func (s *Service) ListSources(_ context.Context, projectID string) []Source {
	return s.store.ListSources(projectID)
}

// CreateTask persists a kanban task, applying board defaults for blank
// status and priority.
func (s *Service) CreateTask(ctx context.Context, task Task) (Task, Result, error) {
	var created Task
	var res Result
	err := s.observe(ctx, "create_task", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateTask(task)
			return txErr
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateTask mutates a task using the provided mutator.
func (s *Service) UpdateTask(ctx context.Context, id string, mutator func(*Task) error) (Task, Result, error) {
	var updated Task
	var res Result
	err := s.observe(ctx, "update_task", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateTask(id, mutator)
			return txErr
		})
		return id, err
	})
	return updated, res, err
}

// AdvanceTask moves a task one board column forward. Advancing a Done task
// is a no-op.
func (s *Service) AdvanceTask(ctx context.Context, id string) (Task, Result, error) {
	var updated Task
	var res Result
	err := s.observe(ctx, "advance_task", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindTask(id)
			if !ok {
				return ErrNotFound{Entity: EntityTask, ID: id}
			}
			next := current.Status.Next()
			if next == current.Status {
				updated = current
				return nil
			}
			var txErr error
			updated, txErr = tx.UpdateTask(id, func(t *Task) error {
				t.Status = next
				return nil
			})
			return txErr
		})
		return id, err
	})
	return updated, res, err
}

// RevertTask sends a task back to the first board column from any status.
func (s *Service) RevertTask(ctx context.Context, id string) (Task, Result, error) {
	var updated Task
	var res Result
	err := s.observe(ctx, "revert_task", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindTask(id)
			if !ok {
				return ErrNotFound{Entity: EntityTask, ID: id}
			}
			if current.Status == domain.TaskStatusTodo {
				updated = current
				return nil
			}
			var txErr error
			updated, txErr = tx.UpdateTask(id, func(t *Task) error {
				t.Status = domain.TaskStatusTodo
				return nil
			})
			return txErr
		})
		return id, err
	})
	return updated, res, err
}

// DeleteTask removes a task record.
func (s *Service) DeleteTask(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.observe(ctx, "delete_task", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteTask(id)
		})
		return id, err
	})
	return res, err
}

// ListTasks returns the project's tasks in creation order.
func (s *Service) ListTasks(_ context.Context, projectID string) []Task {
	return s.store.ListTasks(projectID)
}

func draftPrefix(ownerID string) string {
	return fmt.Sprintf("drafts/%s/", ownerID)
}

func draftKey(ownerID, chapter string) string {
	return fmt.Sprintf("drafts/%s/%s.md", ownerID, chapter)
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// SaveDraft stores chapter text in the draft store and persists the
// recomputed word count onto the owner's project.
func (s *Service) SaveDraft(ctx context.Context, ownerID, chapter, text string) (Project, Result, error) {
	var updated Project
	var res Result
	err := s.observe(ctx, "save_draft", func(ctx context.Context) (string, error) {
		if s.drafts == nil {
			return "", fmt.Errorf("draft storage is not configured")
		}
		if chapter == "" {
			return "", fmt.Errorf("chapter name is required")
		}
		// The existence check precedes the blob write so a bad owner ID
		// cannot leave a draft with no project behind.
		if _, ok := s.store.GetProject(ownerID); !ok {
			return "", ErrNotFound{Entity: EntityProject, ID: ownerID}
		}
		if _, err := s.drafts.Put(ctx, draftKey(ownerID, chapter), strings.NewReader(text), blob.PutOptions{
			ContentType: "text/markdown",
			Metadata:    map[string]string{"owner_id": ownerID, "chapter": chapter},
		}); err != nil {
			return "", err
		}
		words := countWords(text)
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateProject(ownerID, func(p *Project) error {
				p.WordCount = words
				return nil
			})
			return txErr
		})
		return updated.ID, err
	})
	return updated, res, err
}

// LoadDraft returns previously saved chapter text. A missing draft yields an
// empty string.
func (s *Service) LoadDraft(ctx context.Context, ownerID, chapter string) (string, error) {
	if s.drafts == nil {
		return "", fmt.Errorf("draft storage is not configured")
	}
	_, rc, err := s.drafts.Get(ctx, draftKey(ownerID, chapter))
	if errors.Is(err, blob.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Service) generateText(ctx context.Context, prompt string) (string, error) {
	if s.generator == nil {
		return "", fmt.Errorf("generation is not configured")
	}
	return s.generator.Generate(ctx, generate.Request{Model: s.opts.model, Prompt: prompt})
}

// GenerateConcepts asks the model for thesis topic proposals in a field of
// study. Concurrent submissions for the same field are rejected.
func (s *Service) GenerateConcepts(ctx context.Context, field string) ([]Concept, error) {
	key := "generate_concepts/" + field
	if !s.tryBegin(key) {
		return nil, ErrGenerationInFlight
	}
	defer s.end(key)

	var concepts []Concept
	err := s.observe(ctx, "generate_concepts", func(ctx context.Context) (string, error) {
		completion, err := s.generateText(ctx, generate.ConceptPrompt(field))
		if err != nil {
			return "", err
		}
		concepts, err = generate.DecodeConcepts(completion)
		return "", err
	})
	return concepts, err
}

// AnalyzeSource runs a source-analysis completion and, only when the result
// decodes cleanly, writes the source document.
func (s *Service) AnalyzeSource(ctx context.Context, projectID, text string) (Source, Result, error) {
	key := "analyze_source/" + projectID
	if !s.tryBegin(key) {
		return Source{}, Result{}, ErrGenerationInFlight
	}
	defer s.end(key)

	var created Source
	var res Result
	err := s.observe(ctx, "analyze_source", func(ctx context.Context) (string, error) {
		completion, err := s.generateText(ctx, generate.AnalysisPrompt(text))
		if err != nil {
			return "", err
		}
		analysis, err := generate.DecodeSourceAnalysis(completion)
		if err != nil {
			return "", err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateSource(Source{
				ProjectID:  projectID,
				Title:      analysis.Title,
				Author:     analysis.Author,
				Year:       analysis.Year,
				Method:     analysis.Method,
				Result:     analysis.Result,
				Conclusion: analysis.Conclusion,
			})
			return txErr
		})
		return created.ID, err
	})
	return created, res, err
}

// ContinueChapter asks the model to extend a chapter draft and returns the
// continuation verbatim.
func (s *Service) ContinueChapter(ctx context.Context, ownerID, draft string) (string, error) {
	key := "continue_chapter/" + ownerID
	if !s.tryBegin(key) {
		return "", ErrGenerationInFlight
	}
	defer s.end(key)

	var continuation string
	err := s.observe(ctx, "continue_chapter", func(ctx context.Context) (string, error) {
		var genErr error
		continuation, genErr = s.generateText(ctx, generate.ContinuationPrompt(draft))
		return "", genErr
	})
	return continuation, err
}

// Watch opens a live subscription on the underlying store.
func (s *Service) Watch(entity EntityType, projectID string) (domain.WatchHandle, error) {
	ws, ok := s.store.(domain.WatchStore)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return ws.Watch(entity, projectID), nil
}
