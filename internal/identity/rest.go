package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultIdentityBaseURL = "https://identitytoolkit.googleapis.com"

// RESTProvider authenticates against the hosted identity service using its
// password sign-in endpoint. Sessions live in process memory only.
type RESTProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu        sync.RWMutex
	session   *Session
	listeners map[int]func(Session, bool)
	nextID    int
}

var _ Provider = (*RESTProvider)(nil)

// RESTOption customizes provider construction.
type RESTOption func(*RESTProvider)

// WithBaseURL overrides the identity endpoint. Intended for tests.
func WithBaseURL(baseURL string) RESTOption {
	return func(p *RESTProvider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(client *http.Client) RESTOption {
	return func(p *RESTProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// NewRESTProvider constructs a provider authenticated by API key.
func NewRESTProvider(apiKey string, opts ...RESTOption) *RESTProvider {
	p := &RESTProvider{
		baseURL:   defaultIdentityBaseURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		listeners: make(map[int]func(Session, bool)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	IDToken string `json:"idToken"`
}

type identityErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *RESTProvider) SignIn(ctx context.Context, email, password string) (Session, error) {
	if p.apiKey == "" {
		return Session{}, fmt.Errorf("identity API key is not configured")
	}
	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return Session{}, err
	}
	url := fmt.Sprintf("%s/v1/accounts:signInWithPassword?key=%s", p.baseURL, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var decoded identityErrorResponse
		if err := json.Unmarshal(raw, &decoded); err != nil || decoded.Error.Message == "" {
			return Session{}, &AuthError{
				Message:        fmt.Sprintf("bad status: %d", resp.StatusCode),
				HTTPStatusCode: resp.StatusCode,
			}
		}
		return Session{}, &AuthError{Message: decoded.Error.Message, HTTPStatusCode: resp.StatusCode}
	}

	var decoded signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Session{}, fmt.Errorf("decode sign-in response: %w", err)
	}
	session := Session{UserID: decoded.LocalID, Email: decoded.Email, Token: decoded.IDToken}

	p.mu.Lock()
	p.session = &session
	listeners := p.snapshotListeners()
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(session, true)
	}
	return session, nil
}

func (p *RESTProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.session = nil
	listeners := p.snapshotListeners()
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(Session{}, false)
	}
	return nil
}

func (p *RESTProvider) CurrentSession() (Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return Session{}, false
	}
	return *p.session, true
}

func (p *RESTProvider) OnSessionChange(fn func(Session, bool)) func() {
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

func (p *RESTProvider) snapshotListeners() []func(Session, bool) {
	out := make([]func(Session, bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}
