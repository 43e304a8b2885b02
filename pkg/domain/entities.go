// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by thesisgen.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProject identifies the thesis project record owned by one identity.
	EntityProject EntityType = "project"
	// EntitySource identifies a literature-review source record.
	EntitySource EntityType = "source"
	// EntityTask identifies a kanban task record.
	EntityTask EntityType = "task"
)

// TaskStatus enumerates kanban board columns. The values are the exact
// strings held by the remote document store, not normalized identifiers.
type TaskStatus string

// Canonical task statuses in board order.
const (
	TaskStatusTodo       TaskStatus = "To Do"
	TaskStatusInProgress TaskStatus = "In Progress"
	TaskStatusDone       TaskStatus = "Done"
)

// Next returns the status one column forward. Done has no next column and
// maps to itself.
func (s TaskStatus) Next() TaskStatus {
	switch s {
	case TaskStatusTodo:
		return TaskStatusInProgress
	case TaskStatusInProgress:
		return TaskStatusDone
	default:
		return s
	}
}

// TaskPriority enumerates task priorities using the store's wire strings.
type TaskPriority string

// Canonical task priorities.
const (
	PriorityLow    TaskPriority = "Low"
	PriorityMedium TaskPriority = "Medium"
	PriorityHigh   TaskPriority = "High"
)

// ProjectPhase captures the coarse progress stage shown on the dashboard.
type ProjectPhase string

// Canonical project phases.
const (
	PhaseConcept    ProjectPhase = "concept"
	PhaseLitReview  ProjectPhase = "literature_review"
	PhaseDrafting   ProjectPhase = "drafting"
	PhaseRevision   ProjectPhase = "revision"
	PhaseSubmission ProjectPhase = "submission"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project is the single thesis workspace owned by one identity. The record
// is keyed by the owner: saving a project for an owner that already has one
// overwrites the existing document rather than appending a second.
type Project struct {
	Base
	OwnerID      string       `json:"owner_id"`
	Title        string       `json:"title"`
	Field        string       `json:"field"`
	CurrentPhase ProjectPhase `json:"current_phase"`
	WordCount    int          `json:"word_count"`
}

// Source is a literature-review entry with bibliographic and findings
// metadata extracted by analysis. Sources nest under a project.
type Source struct {
	Base
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Year       string `json:"year"`
	Method     string `json:"method"`
	Result     string `json:"result"`
	Conclusion string `json:"conclusion"`
}

// Task is a kanban work item nested under a project.
type Task struct {
	Base
	ProjectID string       `json:"project_id"`
	Title     string       `json:"title"`
	Status    TaskStatus   `json:"status"`
	Priority  TaskPriority `json:"priority"`
}

// Concept is a generated topic proposal offered during onboarding. Concepts
// are ephemeral; selecting one creates the project document.
type Concept struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SourceAnalysis is the structured shape expected from a source-analysis
// completion before a Source document is written.
type SourceAnalysis struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	Year       string `json:"year"`
	Method     string `json:"method"`
	Result     string `json:"result"`
	Conclusion string `json:"conclusion"`
}

// ValidTaskStatuses lists every accepted task status value.
func ValidTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskStatusTodo, TaskStatusInProgress, TaskStatusDone}
}

// ValidTaskPriorities lists every accepted task priority value.
func ValidTaskPriorities() []TaskPriority {
	return []TaskPriority{PriorityLow, PriorityMedium, PriorityHigh}
}

// ValidProjectPhases lists every accepted project phase value.
func ValidProjectPhases() []ProjectPhase {
	return []ProjectPhase{PhaseConcept, PhaseLitReview, PhaseDrafting, PhaseRevision, PhaseSubmission}
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
