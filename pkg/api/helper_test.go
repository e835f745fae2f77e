package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marko-app/marko/pkg/api"
)

type recordedRequest struct {
	Method        string
	Path          string
	Authorization []string
	RequestID     string
	Body          []byte
}

type response struct {
	status int
	body   string
}

// fakeBackend answers with canned responses keyed by "METHOD path" and
// records every request it receives.
type fakeBackend struct {
	server *httptest.Server

	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string][]response
	gate      chan struct{}
	gates     map[string]chan struct{}
}

func startFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	f := &fakeBackend{
		responses: map[string][]response{},
		gates:     map[string]chan struct{}{},
	}
	f.respond(http.MethodGet, "/healthz", http.StatusOK, "ok")
	f.respond(http.MethodGet, api.KeyGroups, http.StatusOK, `{"groups":[{"id":"g1","name":"Travelers","created_by":"u1","created_at":"2024-05-01T10:00:00Z"}]}`)
	f.respond(http.MethodPost, api.KeyGroups, http.StatusCreated, `{"group":{"id":"g2","name":"x","created_at":"2024-05-02T10:00:00Z"}}`)
	f.respond(http.MethodPost, "/api/v1/groups/g1/join", http.StatusOK, `{"message":"Successfully joined group"}`)
	f.respond(http.MethodGet, "/api/v1/groups/g1/members", http.StatusOK, `{"members":[{"id":"u1","email":"alice@example.com","name":"Alice","created_at":"2024-04-01T08:00:00Z"}]}`)
	f.respond(http.MethodGet, api.KeyNotifications, http.StatusOK, `{"notifications":[{"id":"n1","group_id":"g1","message":"Alice arrived in US","created_at":"2024-05-03T12:00:00Z"}]}`)
	f.respond(http.MethodPost, "/api/v1/locations", http.StatusCreated, `{"location":{"country_code":"US","status":"arrived"}, "message":"Location updated successfully"}`)

	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)

	return f
}

// respond queues responses for a route. The last one is repeated.
func (f *fakeBackend) respond(method, path string, status int, body string, more ...response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+path] = append([]response{{status: status, body: body}}, more...)
}

func (f *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Values("Authorization"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Body:          body,
	})
	key := r.Method + " " + r.URL.Path
	queue, ok := f.responses[key]
	var resp response
	if ok {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[key] = queue[1:]
		}
	}
	gate := f.gate
	if g, held := f.gates[key]; held {
		gate = g
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Not found"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

// hold blocks every response until gate is closed.
func (f *fakeBackend) hold(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

// holdRoute blocks the responses of one route until gate is closed.
func (f *fakeBackend) holdRoute(method, path string, gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[method+" "+path] = gate
}

func (f *fakeBackend) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeBackend) last() recordedRequest {
	reqs := f.recorded()
	if len(reqs) == 0 {
		return recordedRequest{}
	}
	return reqs[len(reqs)-1]
}

func (f *fakeBackend) count(method, path string) int {
	n := 0
	for _, r := range f.recorded() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// staticTokens is a TokenSource whose token can be swapped between calls.
type staticTokens struct {
	mu    sync.Mutex
	token string
}

func (s *staticTokens) Get(_ context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *staticTokens) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func newTestClient(t *testing.T, f *fakeBackend, tokens api.TokenSource, policy *api.Policy) *api.Client {
	t.Helper()

	c, err := api.NewClient(t.Context(), api.Config{
		BaseURL: f.server.URL,
		Tokens:  tokens,
		Policy:  policy,
	})
	require.NoError(t, err)

	return c
}
