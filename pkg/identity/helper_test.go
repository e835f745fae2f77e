package identity_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/marko-app/marko/internal/pkce"
	"github.com/marko-app/marko/pkg/identity"
)

const (
	testAPIKey   = "anon-key"
	testEmail    = "alice@example.com"
	testPassword = "secret"
	testOTP      = "123456"
	testAuthCode = "auth-code-1"
)

var testSigningKey = []byte("gotrue-test-signing-key-0123456789")

type fakeRequest struct {
	Method        string
	Path          string
	GrantType     string
	APIKey        string
	Authorization string
	Body          map[string]any
}

// fakeGoTrue implements the subset of the GoTrue API the client uses.
type fakeGoTrue struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	requests      []fakeRequest
	ttl           time.Duration
	omitExpiresAt bool
	challenge     string
	refreshTokens map[string]bool
	issued        int
}

func startFakeGoTrue(t *testing.T) *fakeGoTrue {
	t.Helper()

	f := &fakeGoTrue{
		t:             t,
		ttl:           time.Hour,
		refreshTokens: map[string]bool{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeGoTrue) URL() string {
	return f.server.URL
}

func (f *fakeGoTrue) setTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = ttl
}

func (f *fakeGoTrue) revokeRefreshTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshTokens = map[string]bool{}
}

func (f *fakeGoTrue) recorded() []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeRequest(nil), f.requests...)
}

func (f *fakeGoTrue) count(path, grantType string) int {
	n := 0
	for _, r := range f.recorded() {
		if r.Path == path && r.GrantType == grantType {
			n++
		}
	}
	return n
}

func (f *fakeGoTrue) handle(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, fakeRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		GrantType:     r.URL.Query().Get("grant_type"),
		APIKey:        r.Header.Get("apikey"),
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})

	if r.Header.Get("apikey") != testAPIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
		return
	}

	str := func(k string) string {
		s, _ := body[k].(string)
		return s
	}

	switch r.URL.Path {
	case "/auth/v1/otp":
		f.challenge = str("code_challenge")
		writeJSON(w, http.StatusOK, map[string]any{})
	case "/auth/v1/verify":
		if str("token") != testOTP || str("type") != "email" {
			writeJSON(w, http.StatusForbidden, map[string]any{"code": 403, "error_code": "otp_expired", "msg": "Token has expired or is invalid"})
			return
		}
		writeJSON(w, http.StatusOK, f.issueLocked(str("email")))
	case "/auth/v1/signup":
		if strings.HasPrefix(str("email"), "confirm") {
			writeJSON(w, http.StatusOK, map[string]any{"id": "user-pending", "email": str("email"), "confirmation_sent_at": time.Now()})
			return
		}
		writeJSON(w, http.StatusOK, f.issueLocked(str("email")))
	case "/auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)
	case "/auth/v1/token":
		f.tokenLocked(w, r.URL.Query().Get("grant_type"), str)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"msg": "not found"})
	}
}

func (f *fakeGoTrue) tokenLocked(w http.ResponseWriter, grantType string, str func(string) string) {
	switch grantType {
	case "password":
		if str("email") != testEmail || str("password") != testPassword {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, f.issueLocked(testEmail))
	case "pkce":
		if str("auth_code") != testAuthCode || pkce.Challenge(str("code_verifier")) != f.challenge {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code challenge does not match previously saved code verifier"})
			return
		}
		writeJSON(w, http.StatusOK, f.issueLocked(testEmail))
	case "refresh_token":
		if !f.refreshTokens[str("refresh_token")] {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		delete(f.refreshTokens, str("refresh_token"))
		writeJSON(w, http.StatusOK, f.issueLocked(testEmail))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (f *fakeGoTrue) issueLocked(email string) map[string]any {
	f.issued++
	exp := time.Now().Add(f.ttl)
	refresh := fmt.Sprintf("refresh-%d", f.issued)
	f.refreshTokens[refresh] = true

	resp := map[string]any{
		"access_token":  signTestToken(f.t, "user-1", email, exp),
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    int64(f.ttl / time.Second),
		"user":          map[string]any{"id": "user-1", "email": email},
	}
	if !f.omitExpiresAt {
		resp["expires_at"] = exp.Unix()
	}
	return resp
}

func signTestToken(t *testing.T, subject, email string, exp time.Time) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: testSigningKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	claims := struct {
		jwt.Claims

		Email string `json:"email"`
	}{
		Claims: jwt.Claims{
			Subject:  subject,
			Expiry:   jwt.NewNumericDate(exp),
			IssuedAt: jwt.NewNumericDate(time.Now()),
			// unique per token even within the same second
			ID: fmt.Sprintf("%d", time.Now().UnixNano()),
		},
		Email: email,
	}

	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)

	return raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// eventRecorder collects events in delivery order.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
	tokens []string
}

func (r *eventRecorder) handle(ev identity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, string(ev.Kind))
	r.tokens = append(r.tokens, ev.AccessToken())
}

func (r *eventRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *eventRecorder) lastToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) == 0 {
		return ""
	}
	return r.tokens[len(r.tokens)-1]
}
