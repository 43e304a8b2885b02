package core

import (
	"context"
	"fmt"

	"thesisgen/pkg/domain"
)

// NewTaskValuesRule blocks task writes carrying status or priority values
// outside the board's accepted wire strings.
func NewTaskValuesRule() domain.Rule {
	valid := taskValuesRule{
		statuses:   make(map[domain.TaskStatus]struct{}),
		priorities: make(map[domain.TaskPriority]struct{}),
	}
	for _, s := range domain.ValidTaskStatuses() {
		valid.statuses[s] = struct{}{}
	}
	for _, p := range domain.ValidTaskPriorities() {
		valid.priorities[p] = struct{}{}
	}
	return valid
}

type taskValuesRule struct {
	statuses   map[domain.TaskStatus]struct{}
	priorities map[domain.TaskPriority]struct{}
}

func (taskValuesRule) Name() string { return "task_values" }

func (r taskValuesRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityTask || change.Action == domain.ActionDelete {
			continue
		}
		task, ok := change.After.(domain.Task)
		if !ok {
			continue
		}
		if _, valid := r.statuses[task.Status]; !valid {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "task_values",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("task %s has invalid status %q", task.ID, task.Status),
				Entity:   domain.EntityTask,
				EntityID: task.ID,
			})
		}
		if _, valid := r.priorities[task.Priority]; !valid {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "task_values",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("task %s has invalid priority %q", task.ID, task.Priority),
				Entity:   domain.EntityTask,
				EntityID: task.ID,
			})
		}
	}
	return res, nil
}
