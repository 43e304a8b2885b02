package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	SaveProject(Project) (Project, error)
	UpdateProject(ownerID string, mutator func(*Project) error) (Project, error)
	DeleteProject(ownerID string) error
	CreateSource(Source) (Source, error)
	UpdateSource(id string, mutator func(*Source) error) (Source, error)
	DeleteSource(id string) error
	CreateTask(Task) (Task, error)
	UpdateTask(id string, mutator func(*Task) error) (Task, error)
	DeleteTask(id string) error
	FindProject(ownerID string) (Project, bool)
	FindTask(id string) (Task, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// aggregation views.
type TransactionView interface {
	ListProjects() []Project
	ListSources(projectID string) []Source
	ListTasks(projectID string) []Task
	FindProject(ownerID string) (Project, bool)
	FindSource(id string) (Source, bool)
	FindTask(id string) (Task, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetProject(ownerID string) (Project, bool)
	ListProjects() []Project
	ListSources(projectID string) []Source
	ListTasks(projectID string) []Task
}

// WatchEvent is a single change delivered to a live subscription. Events are
// delivered in commit order per collection; there is no cross-collection
// ordering guarantee.
type WatchEvent struct {
	Entity EntityType `json:"entity"`
	Action Action     `json:"action"`
	ID     string     `json:"id"`
	After  any        `json:"after,omitempty"`
}

// WatchHandle is a live subscription to store changes. Cancel must be called
// on teardown; the event channel closes after Cancel returns or when the
// subscriber falls too far behind.
type WatchHandle interface {
	Events() <-chan WatchEvent
	Cancel()
}

// WatchStore is implemented by backends that support live subscriptions.
// An empty projectID watches the whole collection.
type WatchStore interface {
	Watch(entity EntityType, projectID string) WatchHandle
}
