// Package shell implements the top-level application state machine that
// selects which screen is active and owns the session lifecycle. Session
// state is held in an explicit value with teardown that cancels live
// subscriptions; nothing here is ambient or global.
package shell

import (
	"context"
	"fmt"
	"sync"

	"thesisgen/internal/config"
	"thesisgen/internal/core"
	"thesisgen/internal/identity"
	"thesisgen/pkg/domain"
)

// State identifies the active screen.
type State string

// Shell states in rough visit order.
const (
	StateLoading   State = "loading"
	StateSetup     State = "setup"
	StateAuth      State = "auth"
	StateLaunchpad State = "launchpad"
	StateWorkspace State = "workspace"
)

// Session couples the authenticated identity with the live subscriptions it
// owns. Teardown cancels every watch.
type Session struct {
	Identity  identity.Session
	ProjectID string

	watches []domain.WatchHandle
}

func (s *Session) teardown() {
	for _, handle := range s.watches {
		handle.Cancel()
	}
	s.watches = nil
}

// Shell is the application state machine.
type Shell struct {
	service  *core.Service
	provider identity.Provider
	logger   core.Logger

	mu            sync.RWMutex
	state         State
	session       *Session
	unsubscribe   func()
	demoMode      bool
	lastConfigErr error
}

// Option customizes shell construction.
type Option func(*Shell)

// WithLogger attaches a logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Shell) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a shell in the loading state.
func New(service *core.Service, provider identity.Provider, opts ...Option) *Shell {
	s := &Shell{
		service:  service,
		provider: provider,
		logger:   core.NoopLogger(),
		state:    StateLoading,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the active screen.
func (s *Shell) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Session reports the active session, if any.
func (s *Shell) Session() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// DemoMode reports whether the shell was seeded by NewDemo.
func (s *Shell) DemoMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.demoMode
}

// ConfigError reports the credential failure that kept the shell in setup.
func (s *Shell) ConfigError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastConfigErr
}

// Initialize validates credentials and routes out of loading. Missing
// credentials land in setup; otherwise the shell moves to auth, or straight
// to a routed screen when the provider already holds a session. Initialize
// may be called again after setup amends the configuration.
func (s *Shell) Initialize(ctx context.Context, cfg config.Config) error {
	if err := cfg.ValidateCredentials(); err != nil {
		s.mu.Lock()
		s.state = StateSetup
		s.lastConfigErr = err
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.lastConfigErr = nil
	s.mu.Unlock()

	s.watchProviderSessions()

	if session, ok := s.provider.CurrentSession(); ok {
		return s.route(ctx, session)
	}
	s.mu.Lock()
	s.state = StateAuth
	s.mu.Unlock()
	return nil
}

// SignIn authenticates and routes to launchpad or workspace depending on
// whether the identity already owns a project.
func (s *Shell) SignIn(ctx context.Context, email, password string) (State, error) {
	if current := s.State(); current != StateAuth {
		return current, fmt.Errorf("sign-in is only available from auth, shell is in %s", current)
	}
	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return StateAuth, err
	}
	if err := s.route(ctx, session); err != nil {
		return s.State(), err
	}
	return s.State(), nil
}

// SignOut tears the session down and returns to auth.
func (s *Shell) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if s.session != nil {
		s.session.teardown()
		s.session = nil
	}
	s.state = StateAuth
	s.mu.Unlock()
	return s.provider.SignOut(ctx)
}

// SelectConcept creates the project for the signed-in identity from a chosen
// concept and moves to the workspace. Exactly one project results; the store
// keys projects by owner.
func (s *Shell) SelectConcept(ctx context.Context, field string, concept domain.Concept) (domain.Project, error) {
	s.mu.RLock()
	session := s.session
	state := s.state
	s.mu.RUnlock()
	if session == nil {
		return domain.Project{}, fmt.Errorf("no active session")
	}
	if state != StateLaunchpad {
		return domain.Project{}, fmt.Errorf("concept selection is only available from launchpad, shell is in %s", state)
	}

	project, _, err := s.service.SaveProject(ctx, domain.Project{
		OwnerID: session.Identity.UserID,
		Title:   concept.Title,
		Field:   field,
	})
	if err != nil {
		return domain.Project{}, err
	}
	s.enterWorkspace(project)
	return project, nil
}

// route installs the session and picks launchpad or workspace based on
// whether a project document exists for the identity.
func (s *Shell) route(ctx context.Context, identitySession identity.Session) error {
	project, ok := s.service.GetProjectByOwner(ctx, identitySession.UserID)

	s.mu.Lock()
	if s.session != nil {
		s.session.teardown()
	}
	s.session = &Session{Identity: identitySession}
	s.mu.Unlock()

	if !ok {
		s.mu.Lock()
		s.state = StateLaunchpad
		s.mu.Unlock()
		s.logger.Info("routed to launchpad", "user_id", identitySession.UserID)
		return nil
	}
	s.enterWorkspace(project)
	s.logger.Info("routed to workspace", "user_id", identitySession.UserID, "project_id", project.ID)
	return nil
}

// enterWorkspace attaches live subscriptions for the project's collections
// to the session and switches state.
func (s *Shell) enterWorkspace(project domain.Project) {
	var watches []domain.WatchHandle
	for _, entity := range []domain.EntityType{domain.EntityProject, domain.EntitySource, domain.EntityTask} {
		handle, err := s.service.Watch(entity, project.ID)
		if err != nil {
			s.logger.Warn("watch unavailable", "entity", string(entity), "error", err.Error())
			continue
		}
		watches = append(watches, handle)
	}

	s.mu.Lock()
	if s.session == nil {
		// The session was torn down while the watches were being
		// attached, so the workspace has nothing to show.
		s.state = StateAuth
		s.mu.Unlock()
		for _, handle := range watches {
			handle.Cancel()
		}
		return
	}
	s.session.ProjectID = project.ID
	s.session.watches = append(s.session.watches, watches...)
	s.state = StateWorkspace
	s.mu.Unlock()
}

// watchProviderSessions tears local session state down when the provider
// reports an external sign-out.
func (s *Shell) watchProviderSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.provider.OnSessionChange(func(_ identity.Session, active bool) {
		if active {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.session == nil {
			return
		}
		s.session.teardown()
		s.session = nil
		s.state = StateAuth
	})
}

// Close removes the provider listener and tears down any session.
func (s *Shell) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.session != nil {
		s.session.teardown()
		s.session = nil
	}
}

// Service exposes the underlying service facade.
func (s *Shell) Service() *core.Service { return s.service }

// ActiveWatchCount reports how many live subscriptions the session holds.
func (s *Shell) ActiveWatchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return 0
	}
	return len(s.session.watches)
}
