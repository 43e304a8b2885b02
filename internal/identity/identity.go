// Package identity abstracts the external identity provider behind a small
// session-oriented interface. Authentication itself is delegated to the
// provider; this package only brokers sessions and change notifications.
package identity

import "context"

// Session describes an authenticated identity.
type Session struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Token    string `json:"token,omitempty"`
	DemoMode bool   `json:"demo_mode,omitempty"`
}

// AuthError carries the provider's message text verbatim so callers can show
// it inline on the sign-in form.
type AuthError struct {
	Message        string
	HTTPStatusCode int
}

func (e *AuthError) Error() string { return e.Message }

// Provider brokers sign-in, sign-out and session-change notifications.
type Provider interface {
	// SignIn authenticates with email and password and installs the
	// resulting session as current.
	SignIn(ctx context.Context, email, password string) (Session, error)
	// SignOut clears the current session.
	SignOut(ctx context.Context) error
	// CurrentSession reports the active session, if any.
	CurrentSession() (Session, bool)
	// OnSessionChange registers a listener invoked after every sign-in and
	// sign-out. The returned function removes the listener.
	OnSessionChange(fn func(Session, bool)) (cancel func())
}
