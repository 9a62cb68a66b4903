// Package testutil provides common testing utilities and fakes.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/relay"
)

// RelayStub is an x402 relay double. It records every envelope it receives
// and answers with a fixed status and body.
type RelayStub struct {
	*httptest.Server

	mu        sync.RWMutex
	apiKey    string
	status    int
	body      string
	envelopes []relay.Envelope
	rejected  int
}

// NewRelayStub starts a relay stub that expects apiKey on every request.
// Requests with a different key get 401 and are not recorded.
func NewRelayStub(apiKey string, status int, body string) *RelayStub {
	s := &RelayStub{apiKey: apiKey, status: status, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *RelayStub) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(relay.APIKeyHeader) != s.apiKey {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}

	var env relay.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, fmt.Sprintf("bad envelope: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.envelopes = append(s.envelopes, env)
	status, body := s.status, s.body
	s.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Respond changes the status and body returned from now on.
func (s *RelayStub) Respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

// Config returns a relay configuration pointing at the stub.
func (s *RelayStub) Config(required bool) relay.Config {
	return relay.Config{Endpoint: s.URL, APIKey: s.apiKey, Required: required}
}

// Envelopes returns a copy of the recorded envelopes.
func (s *RelayStub) Envelopes() []relay.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]relay.Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out
}

// Unauthorized returns how many requests carried the wrong API key.
func (s *RelayStub) Unauthorized() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejected
}

// Steps returns n distinct execution steps with increasing timestamps.
func Steps(n int) []intent.ExecutionStep {
	out := make([]intent.ExecutionStep, n)
	for i := range out {
		out[i] = intent.ExecutionStep{
			ID:        fmt.Sprintf("step-%d", i),
			Label:     "checkpoint",
			Timestamp: int64(1700000000 + i),
		}
	}
	return out
}
