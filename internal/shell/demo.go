package shell

import (
	"context"
	"fmt"

	"thesisgen/internal/blob"
	"thesisgen/internal/core"
	"thesisgen/internal/generate"
	"thesisgen/internal/identity"
	"thesisgen/pkg/domain"
)

// Demo account served by the in-memory provider.
const (
	DemoEmail    = "demo@thesisgen.local"
	demoPassword = "demo"
)

// NewDemo builds a fully offline shell: memory store, stub generator,
// in-memory blobs and a local identity provider seeded with a demo account
// and fixture data. The shell lands directly in the workspace; nothing
// touches the network and every mutation is lost on restart.
func NewDemo(opts ...Option) (*Shell, error) {
	provider := identity.NewLocalProvider()
	provider.Register(DemoEmail, demoPassword)

	service := core.NewInMemoryService(core.NewDefaultRulesEngine(), &generate.Stub{}, blob.NewMemory())

	ctx := context.Background()
	session, err := provider.SignIn(ctx, DemoEmail, demoPassword)
	if err != nil {
		return nil, fmt.Errorf("demo sign-in: %w", err)
	}
	if err := seedDemoData(ctx, service, session.UserID); err != nil {
		return nil, fmt.Errorf("seed demo data: %w", err)
	}

	s := New(service, provider, opts...)
	s.mu.Lock()
	s.demoMode = true
	s.mu.Unlock()
	if err := s.route(ctx, session); err != nil {
		return nil, err
	}
	return s, nil
}

func seedDemoData(ctx context.Context, service *core.Service, ownerID string) error {
	project, _, err := service.SaveProject(ctx, domain.Project{
		OwnerID:      ownerID,
		Title:        "The Impact of Microplastics on Marine Ecosystems",
		Field:        "Environmental Science",
		CurrentPhase: domain.PhaseLitReview,
	})
	if err != nil {
		return err
	}

	sources := []domain.SourceAnalysis{
		{
			Title:      "Microplastic Accumulation in Coastal Sediments",
			Author:     "Rivera et al.",
			Year:       "2022",
			Method:     "Field sampling across 14 coastal sites",
			Result:     "Concentrations correlate with urban runoff proximity",
			Conclusion: "Sediment load is a reliable proxy for local pollution pressure",
		},
		{
			Title:      "Trophic Transfer of Polymer Particles",
			Author:     "Okafor and Lind",
			Year:       "2021",
			Method:     "Controlled feeding study in a model food web",
			Result:     "Particles persist across two trophic levels",
			Conclusion: "Bioaccumulation risk extends beyond filter feeders",
		},
	}
	for _, analysis := range sources {
		if _, _, err := service.AddSource(ctx, project.ID, analysis); err != nil {
			return err
		}
	}

	tasks := []domain.Task{
		{ProjectID: project.ID, Title: "Literature survey"},
		{ProjectID: project.ID, Title: "Draft methodology chapter", Status: domain.TaskStatusInProgress, Priority: domain.PriorityHigh},
		{ProjectID: project.ID, Title: "Collect pilot samples", Status: domain.TaskStatusDone, Priority: domain.PriorityLow},
	}
	for _, task := range tasks {
		if _, _, err := service.CreateTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
