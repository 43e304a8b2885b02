package core

import (
	"context"
	"fmt"

	"thesisgen/pkg/domain"
)

// NewProjectReferenceRule blocks source and task writes that reference a
// project absent from the transactional snapshot.
func NewProjectReferenceRule() domain.Rule {
	return projectReferenceRule{}
}

type projectReferenceRule struct{}

func (projectReferenceRule) Name() string { return "project_reference" }

func (projectReferenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var projectIDs map[string]struct{}
	ensureIndex := func() {
		if projectIDs != nil {
			return
		}
		projectIDs = make(map[string]struct{})
		for _, p := range view.ListProjects() {
			projectIDs[p.ID] = struct{}{}
		}
	}

	for _, change := range changes {
		if change.Action == domain.ActionDelete {
			continue
		}
		var entityID, projectID string
		switch record := change.After.(type) {
		case domain.Source:
			entityID, projectID = record.ID, record.ProjectID
		case domain.Task:
			entityID, projectID = record.ID, record.ProjectID
		default:
			continue
		}
		ensureIndex()
		if _, ok := projectIDs[projectID]; !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "project_reference",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %s references missing project %q", change.Entity, entityID, projectID),
				Entity:   change.Entity,
				EntityID: entityID,
			})
		}
	}
	return res, nil
}
