package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
)

type localAccount struct {
	userID   string
	password string
}

// LocalProvider is an in-memory identity provider for development and demo
// mode. Accounts are registered up front; nothing leaves the process.
type LocalProvider struct {
	mu        sync.RWMutex
	accounts  map[string]localAccount
	session   *Session
	listeners map[int]func(Session, bool)
	nextID    int
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider constructs an empty local provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{
		accounts:  make(map[string]localAccount),
		listeners: make(map[int]func(Session, bool)),
	}
}

// Register adds an account and returns its generated user ID.
func (p *LocalProvider) Register(email, password string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := strings.ToLower(email)
	if existing, ok := p.accounts[key]; ok {
		existing.password = password
		p.accounts[key] = existing
		return existing.userID
	}
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	account := localAccount{userID: hex.EncodeToString(b[:]), password: password}
	p.accounts[key] = account
	return account.userID
}

func (p *LocalProvider) SignIn(_ context.Context, email, password string) (Session, error) {
	p.mu.Lock()
	account, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		p.mu.Unlock()
		return Session{}, &AuthError{Message: "EMAIL_NOT_FOUND"}
	}
	if account.password != password {
		p.mu.Unlock()
		return Session{}, &AuthError{Message: "INVALID_PASSWORD"}
	}
	session := Session{UserID: account.userID, Email: email}
	p.session = &session
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(session, true)
	}
	return session, nil
}

func (p *LocalProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.session = nil
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(Session{}, false)
	}
	return nil
}

func (p *LocalProvider) CurrentSession() (Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return Session{}, false
	}
	return *p.session, true
}

func (p *LocalProvider) OnSessionChange(fn func(Session, bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// snapshotListeners copies the listener set so callbacks run outside the lock.
func (p *LocalProvider) snapshotListeners() []func(Session, bool) {
	out := make([]func(Session, bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}
