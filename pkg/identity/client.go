// Package identity is a client for a GoTrue (Supabase Auth) compatible
// identity provider.
//
// The client owns the signed-in session: it persists it in a Storage so a
// new process starts signed in, refreshes it before it expires and reports
// every change to the handlers registered with OnAuthStateChange. Handlers
// are called synchronously, one event at a time, in the order the changes
// happened. A handler must not call back into methods that change the
// session.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/pkce"
	"github.com/marko-app/marko/internal/serviceerr"
)

const (
	DefaultStorageKey   = "marko-auth-session"
	DefaultExpiryMargin = 30 * time.Second

	clientInfo       = "marko-go/1"
	maxErrorBodySize = 64 << 10
)

// Storage is the durable key-value storage the session is persisted in.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Config struct {
	// URL is the project URL; the auth API lives under /auth/v1.
	URL    string
	APIKey string

	HTTPClient *http.Client
	// Storage is optional. Without it the session lives in memory only.
	Storage    Storage
	StorageKey string
	// ExpiryMargin is how long before expiry a session is refreshed.
	ExpiryMargin time.Duration
}

type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	storage    Storage
	storageKey string
	margin     time.Duration
	pkce       pkce.Source
	now        func() time.Time

	// emitMu orders session changes and their events.
	emitMu  sync.Mutex
	mu      sync.Mutex
	session *Session
	loaded  bool

	listeners listeners
	refreshes singleflight.Group
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "identity provider url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, fmt.Sprintf("invalid identity provider url %q", cfg.URL))
	}

	c := &Client{
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		storage:    cfg.Storage,
		storageKey: cfg.StorageKey,
		margin:     cfg.ExpiryMargin,
		now:        time.Now,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.storageKey == "" {
		c.storageKey = DefaultStorageKey
	}
	if c.margin <= 0 {
		c.margin = DefaultExpiryMargin
	}

	return c, nil
}

// OnAuthStateChange registers h for every subsequent session change. The
// returned function removes the registration; calling it twice is harmless.
func (c *Client) OnAuthStateChange(h func(Event)) (unsubscribe func()) {
	return c.listeners.add(h)
}

// CurrentSession returns the signed-in session or nil. A session close to
// expiry is refreshed first; when the provider rejects the refresh the
// session is dropped and nil is returned.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	s, err := c.loadSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.ExpiresWithin(c.now(), c.margin) {
		return s, nil
	}

	refreshed, err := c.refresh(ctx, s.RefreshToken)
	if err != nil {
		if isRejected(err) {
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

type otpRequest struct {
	Email               string `json:"email"`
	CreateUser          bool   `json:"create_user"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// SignInWithOTP sends a magic link and one-time code to email, creating the
// user when it does not exist. The link is completed with
// ExchangeCodeForSession, the code with VerifyOTP.
func (c *Client) SignInWithOTP(ctx context.Context, email string) error {
	if email == "" {
		return serviceerr.New(serviceerr.CodeValidation, "email is required")
	}

	p := c.pkce.PKCE()
	if c.storage != nil {
		if err := c.storage.Set(ctx, c.verifierKey(), p.Verifier); err != nil {
			return serviceerr.Wrap(serviceerr.CodePersistence, err, "storing code verifier")
		}
	}

	req := otpRequest{
		Email:               email,
		CreateUser:          true,
		CodeChallenge:       p.Challenge,
		CodeChallengeMethod: strings.ToLower(p.Method),
	}
	if err := c.do(ctx, http.MethodPost, "/otp", nil, "", req, nil); err != nil {
		return err
	}

	slogctx.Info(ctx, "Sent sign in link", "email", email)
	return nil
}

type verifyRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// VerifyOTP signs in with the one-time code sent by SignInWithOTP.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	if email == "" || code == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "email and code are required")
	}

	var s Session
	err := c.do(ctx, http.MethodPost, "/verify", nil, "", verifyRequest{Type: "email", Email: email, Token: code}, &s)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, &s)
}

type pkceRequest struct {
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

// ExchangeCodeForSession completes a magic link sign in.
func (c *Client) ExchangeCodeForSession(ctx context.Context, authCode string) (*Session, error) {
	if authCode == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "auth code is required")
	}
	if c.storage == nil {
		return nil, serviceerr.New(serviceerr.CodeValidation, "no code verifier found")
	}

	verifier, ok, err := c.storage.Get(ctx, c.verifierKey())
	if err != nil {
		return nil, serviceerr.Wrap(serviceerr.CodePersistence, err, "reading code verifier")
	}
	if !ok || verifier == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "no code verifier found")
	}

	var s Session
	err = c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}}, "", pkceRequest{AuthCode: authCode, CodeVerifier: verifier}, &s)
	if err != nil {
		return nil, err
	}

	if err := c.storage.Delete(ctx, c.verifierKey()); err != nil {
		slogctx.Warn(ctx, "Failed to delete the code verifier", "error", err)
	}
	return c.signedIn(ctx, &s)
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpResult holds the new user. Session is nil while the email address
// awaits confirmation.
type SignUpResult struct {
	User    User
	Session *Session
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if email == "" || password == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "email and password are required")
	}

	// The response is a session when sign ups are auto confirmed, the bare
	// user otherwise.
	var resp struct {
		Session

		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.do(ctx, http.MethodPost, "/signup", nil, "", passwordRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return &SignUpResult{User: User{ID: resp.ID, Email: resp.Email}}, nil
	}

	s, err := c.signedIn(ctx, &resp.Session)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{User: s.User, Session: s}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "email and password are required")
	}

	var s Session
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "", passwordRequest{Email: email, Password: password}, &s)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, &s)
}

// RefreshSession exchanges the refresh token for a new session regardless
// of the current expiry.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	s, err := c.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, serviceerr.New(serviceerr.CodeProvider, "not signed in")
	}
	return c.refresh(ctx, s.RefreshToken)
}

// SignOut revokes the session at the provider and drops it locally. The
// local session is dropped even when the provider cannot be reached.
func (c *Client) SignOut(ctx context.Context) error {
	s, err := c.loadSession(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Failed to load the session before signing out", "error", err)
	}

	if s != nil {
		err := c.do(ctx, http.MethodPost, "/logout", nil, s.AccessToken, nil, nil)
		if err != nil && !isRejected(err) {
			slogctx.Warn(ctx, "Failed to revoke the session", "error", err)
		}
	}

	c.clearSession(ctx)
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh runs at most one refresh per refresh token at a time; GoTrue
// revokes a refresh token family when a token is reused.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	v, err, _ := c.refreshes.Do(refreshToken, func() (any, error) {
		var s Session
		err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "", refreshRequest{RefreshToken: refreshToken}, &s)
		if err != nil {
			if !isRejected(err) {
				return nil, err
			}
			if current, replaced := c.clearSessionFor(ctx, refreshToken); replaced {
				return current, nil
			}
			slogctx.Info(ctx, "Refresh token rejected, signing out", "error", err)
			return nil, err
		}

		s.complete(c.now())
		if current, replaced := c.applyFor(ctx, refreshToken, &s); replaced {
			return current, nil
		}
		slogctx.Debug(ctx, "Refreshed session", "expires_at", s.Expiry())
		return s.clone(), nil
	})
	if err != nil {
		return nil, err
	}

	//nolint:forcetypeassert
	return v.(*Session).clone(), nil
}

func (c *Client) signedIn(ctx context.Context, s *Session) (*Session, error) {
	if s.AccessToken == "" {
		return nil, serviceerr.New(serviceerr.CodeProvider, "provider returned no access token")
	}

	s.complete(c.now())
	c.apply(ctx, s, EventSignedIn)
	slogctx.Info(ctx, "Signed in", "user_id", s.User.ID)
	return s.clone(), nil
}

// loadSession returns the in-memory session, reading the persisted one on
// first use. Loading a persisted session emits INITIAL_SESSION.
func (c *Client) loadSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.loaded {
		s := c.session.clone()
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	var s *Session
	if c.storage != nil {
		raw, ok, err := c.storage.Get(ctx, c.storageKey)
		if err != nil {
			return nil, serviceerr.Wrap(serviceerr.CodePersistence, err, "reading persisted session")
		}
		if ok {
			s = &Session{}
			if err := json.Unmarshal([]byte(raw), s); err != nil || s.AccessToken == "" {
				slogctx.Warn(ctx, "Ignoring unreadable persisted session", "error", err)
				s = nil
			}
		}
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.loaded {
		// a concurrent sign in or load won
		current := c.session.clone()
		c.mu.Unlock()
		return current, nil
	}
	c.session = s
	c.loaded = true
	c.mu.Unlock()

	if s != nil {
		c.emit(Event{Kind: EventInitialSession, Session: s.clone()})
	}
	return s.clone(), nil
}

// apply replaces the session and emits kind. A session that cannot be
// persisted is still used for the lifetime of the process.
func (c *Client) apply(ctx context.Context, s *Session, kind EventKind) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.applyLocked(ctx, s, kind)
}

// applyFor applies a refreshed session only while the current session
// still holds refreshToken. Otherwise the current session is returned with
// replaced set: a sign in happened while the refresh was in flight.
func (c *Client) applyFor(ctx context.Context, refreshToken string, s *Session) (current *Session, replaced bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if current, held := c.holds(refreshToken); !held {
		return current, true
	}
	c.applyLocked(ctx, s, EventTokenRefreshed)
	return nil, false
}

// clearSessionFor drops the session only while it still holds
// refreshToken, reporting the current session otherwise.
func (c *Client) clearSessionFor(ctx context.Context, refreshToken string) (current *Session, replaced bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if current, held := c.holds(refreshToken); !held {
		return current, true
	}
	c.clearLocked(ctx)
	return nil, false
}

// holds reports whether the current session uses refreshToken. It returns
// a copy of the current session when it does not.
func (c *Client) holds(refreshToken string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.RefreshToken == refreshToken {
		return nil, true
	}
	return c.session.clone(), false
}

func (c *Client) applyLocked(ctx context.Context, s *Session, kind EventKind) {
	if c.storage != nil {
		raw, err := json.Marshal(s)
		if err == nil {
			err = c.storage.Set(ctx, c.storageKey, string(raw))
		}
		if err != nil {
			slogctx.Warn(ctx, "Failed to persist the session", "error", err)
		}
	}

	c.mu.Lock()
	c.session = s.clone()
	c.loaded = true
	c.mu.Unlock()

	c.emit(Event{Kind: kind, Session: s.clone()})
}

func (c *Client) clearSession(ctx context.Context) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.clearLocked(ctx)
}

func (c *Client) clearLocked(ctx context.Context) {
	if c.storage != nil {
		if err := c.storage.Delete(ctx, c.storageKey); err != nil {
			slogctx.Warn(ctx, "Failed to delete the persisted session", "error", err)
		}
	}

	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()

	c.emit(Event{Kind: EventSignedOut})
}

func (c *Client) emit(ev Event) {
	for _, h := range c.listeners.snapshot() {
		h(ev)
	}
}

func (c *Client) verifierKey() string {
	return c.storageKey + "-code-verifier"
}

// do sends a JSON request to the auth API. bearer defaults to the API key.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Info", clientInfo)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return serviceerr.Wrap(serviceerr.CodeProvider, err, "executing request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providerError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return serviceerr.Wrap(serviceerr.CodeProvider, err, "decoding response")
	}
	return nil
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// providerError keeps the server's message verbatim.
func providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var e errorResponse
	_ = json.Unmarshal(raw, &e)

	desc := firstNonEmpty(e.ErrorDescription, e.Msg, e.Message, e.Error)
	if desc == "" {
		desc = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	return serviceerr.New(serviceerr.CodeProvider, desc).WithStatus(resp.StatusCode)
}

// isRejected reports whether the provider refused the credentials, as
// opposed to being unreachable.
func isRejected(err error) bool {
	var e *serviceerr.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.StatusCode == http.StatusBadRequest ||
		e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
