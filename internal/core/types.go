package core

import "thesisgen/pkg/domain"

type (
	EntityType         = domain.EntityType
	TaskStatus         = domain.TaskStatus
	TaskPriority       = domain.TaskPriority
	ProjectPhase       = domain.ProjectPhase
	Severity           = domain.Severity
	Base               = domain.Base
	Project            = domain.Project
	Source             = domain.Source
	Task               = domain.Task
	Concept            = domain.Concept
	SourceAnalysis     = domain.SourceAnalysis
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityProject = domain.EntityProject
	EntitySource  = domain.EntitySource
	EntityTask    = domain.EntityTask
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
