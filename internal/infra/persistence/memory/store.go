// Package memory provides an in-memory implementation of the core persistence
// store used for tests, demo mode, and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"thesisgen/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.WatchStore      = (*Store)(nil)
)

type (
	// Project aliases domain.Project for in-memory persistence operations.
	Project = domain.Project
	// Source aliases domain.Source.
	Source = domain.Source
	// Task aliases domain.Task.
	Task = domain.Task
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// memoryState holds the committed collections. Projects are keyed by owner
// so an owner can hold at most one project document.
type memoryState struct {
	projects map[string]Project
	sources  map[string]Source
	tasks    map[string]Task
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Projects map[string]Project `json:"projects"`
	Sources  map[string]Source  `json:"sources"`
	Tasks    map[string]Task    `json:"tasks"`
}

func newMemoryState() memoryState {
	return memoryState{
		projects: make(map[string]Project),
		sources:  make(map[string]Source),
		tasks:    make(map[string]Task),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Projects: make(map[string]Project, len(state.projects)),
		Sources:  make(map[string]Source, len(state.sources)),
		Tasks:    make(map[string]Task, len(state.tasks)),
	}
	for k, v := range state.projects {
		s.Projects[k] = v
	}
	for k, v := range state.sources {
		s.Sources[k] = v
	}
	for k, v := range state.tasks {
		s.Tasks[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Projects {
		state.projects[k] = v
	}
	for k, v := range s.Sources {
		state.sources[k] = v
	}
	for k, v := range s.Tasks {
		state.tasks[k] = v
	}
	return state
}

func (m memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(m))
}

// Store is the in-memory persistence backend.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hub    *watchHub
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		hub:    newWatchHub(),
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListProjects returns all projects within the snapshot, oldest first.
func (v transactionView) ListProjects() []Project {
	out := make([]Project, 0, len(v.state.projects))
	for _, p := range v.state.projects {
		out = append(out, p)
	}
	sortProjects(out)
	return out
}

// ListSources returns the sources nested under a project. An empty projectID
// returns every source.
func (v transactionView) ListSources(projectID string) []Source {
	out := make([]Source, 0, len(v.state.sources))
	for _, src := range v.state.sources {
		if projectID == "" || src.ProjectID == projectID {
			out = append(out, src)
		}
	}
	sortSources(out)
	return out
}

// ListTasks returns the tasks nested under a project. An empty projectID
// returns every task.
func (v transactionView) ListTasks(projectID string) []Task {
	out := make([]Task, 0, len(v.state.tasks))
	for _, t := range v.state.tasks {
		if projectID == "" || t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

// FindProject retrieves a project by owner from the snapshot.
func (v transactionView) FindProject(ownerID string) (Project, bool) {
	p, ok := v.state.projects[ownerID]
	return p, ok
}

// FindSource retrieves a source by ID from the snapshot.
func (v transactionView) FindSource(id string) (Source, bool) {
	src, ok := v.state.sources[id]
	return src, ok
}

// FindTask retrieves a task by ID from the snapshot.
func (v transactionView) FindTask(id string) (Task, bool) {
	t, ok := v.state.tasks[id]
	return t, ok
}

func sortProjects(out []Project) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

func sortSources(out []Source) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

func sortTasks(out []Task) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Rules are evaluated against the mutated snapshot before commit; blocking
// violations abort the commit and no watch events are published.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			s.mu.Unlock()
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			s.mu.Unlock()
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	changes := tx.changes
	s.mu.Unlock()

	s.hub.publishChanges(changes)
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// Watch subscribes to committed changes for one collection. An empty
// projectID receives events for every project.
func (s *Store) Watch(entity domain.EntityType, projectID string) domain.WatchHandle {
	return s.hub.subscribe(entity, projectID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindProject exposes project lookup within the transaction scope.
func (tx *transaction) FindProject(ownerID string) (Project, bool) {
	p, ok := tx.state.projects[ownerID]
	return p, ok
}

// FindTask exposes task lookup within the transaction scope.
func (tx *transaction) FindTask(id string) (Task, bool) {
	t, ok := tx.state.tasks[id]
	return t, ok
}

// SaveProject upserts the project document for its owner. A fresh document
// gets identity and creation time; an existing one keeps both and records
// an update instead of a create.
func (tx *transaction) SaveProject(p Project) (Project, error) {
	if p.OwnerID == "" {
		return Project{}, fmt.Errorf("project owner is required")
	}
	existing, exists := tx.state.projects[p.OwnerID]
	if exists {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = tx.now
		tx.state.projects[p.OwnerID] = p
		tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Before: existing, After: p})
		return p, nil
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if p.CurrentPhase == "" {
		p.CurrentPhase = domain.PhaseConcept
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.projects[p.OwnerID] = p
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdateProject mutates an owner's project using the provided mutator function.
func (tx *transaction) UpdateProject(ownerID string, mutator func(*Project) error) (Project, error) {
	current, ok := tx.state.projects[ownerID]
	if !ok {
		return Project{}, fmt.Errorf("project for owner %q not found", ownerID)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Project{}, err
	}
	current.ID = before.ID
	current.OwnerID = ownerID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.projects[ownerID] = current
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteProject removes an owner's project. A project still holding sources
// or tasks is rejected; callers delete the nested records first.
func (tx *transaction) DeleteProject(ownerID string) error {
	current, ok := tx.state.projects[ownerID]
	if !ok {
		return fmt.Errorf("project for owner %q not found", ownerID)
	}
	for _, src := range tx.state.sources {
		if src.ProjectID == current.ID {
			return fmt.Errorf("project %q still referenced by source %q", current.ID, src.ID)
		}
	}
	for _, t := range tx.state.tasks {
		if t.ProjectID == current.ID {
			return fmt.Errorf("project %q still referenced by task %q", current.ID, t.ID)
		}
	}
	delete(tx.state.projects, ownerID)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateSource stores a new literature source.
func (tx *transaction) CreateSource(src Source) (Source, error) {
	if src.ID == "" {
		src.ID = tx.store.newID()
	}
	if _, exists := tx.state.sources[src.ID]; exists {
		return Source{}, fmt.Errorf("source %q already exists", src.ID)
	}
	src.CreatedAt = tx.now
	src.UpdatedAt = tx.now
	tx.state.sources[src.ID] = src
	tx.recordChange(Change{Entity: domain.EntitySource, Action: domain.ActionCreate, After: src})
	return src, nil
}

// UpdateSource mutates a source using the provided mutator function.
func (tx *transaction) UpdateSource(id string, mutator func(*Source) error) (Source, error) {
	current, ok := tx.state.sources[id]
	if !ok {
		return Source{}, fmt.Errorf("source %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Source{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.sources[id] = current
	tx.recordChange(Change{Entity: domain.EntitySource, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteSource removes a source from the transaction state.
func (tx *transaction) DeleteSource(id string) error {
	current, ok := tx.state.sources[id]
	if !ok {
		return fmt.Errorf("source %q not found", id)
	}
	delete(tx.state.sources, id)
	tx.recordChange(Change{Entity: domain.EntitySource, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateTask stores a new kanban task. Missing status and priority fall back
// to the board defaults.
func (tx *transaction) CreateTask(t Task) (Task, error) {
	if t.ID == "" {
		t.ID = tx.store.newID()
	}
	if _, exists := tx.state.tasks[t.ID]; exists {
		return Task{}, fmt.Errorf("task %q already exists", t.ID)
	}
	if t.Status == "" {
		t.Status = domain.TaskStatusTodo
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.tasks[t.ID] = t
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionCreate, After: t})
	return t, nil
}

// UpdateTask mutates a task using the provided mutator function.
func (tx *transaction) UpdateTask(id string, mutator func(*Task) error) (Task, error) {
	current, ok := tx.state.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Task{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.tasks[id] = current
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteTask removes a task from the transaction state.
func (tx *transaction) DeleteTask(id string) error {
	current, ok := tx.state.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	delete(tx.state.tasks, id)
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionDelete, Before: current})
	return nil
}

// GetProject retrieves a project by owner from committed state.
func (s *Store) GetProject(ownerID string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.projects[ownerID]
	return p, ok
}

// ListProjects returns all projects from committed state.
func (s *Store) ListProjects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Project, 0, len(s.state.projects))
	for _, p := range s.state.projects {
		out = append(out, p)
	}
	sortProjects(out)
	return out
}

// ListSources returns a project's sources from committed state.
func (s *Store) ListSources(projectID string) []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Source, 0, len(s.state.sources))
	for _, src := range s.state.sources {
		if projectID == "" || src.ProjectID == projectID {
			out = append(out, src)
		}
	}
	sortSources(out)
	return out
}

// ListTasks returns a project's tasks from committed state.
func (s *Store) ListTasks(projectID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.state.tasks))
	for _, t := range s.state.tasks {
		if projectID == "" || t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}
