package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lyinggame/server/internal/domain"
)

type failingEndpoints struct {
	err error
}

func (f failingEndpoints) EndpointForPlayer(domain.Room, string) (string, error) {
	return "", f.err
}

func TestActionProviderNextActionHappyPath(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocolResponse{Action: "discard_quads", Rank: "7"})
	}))
	defer server.Close()

	provider := ActionProvider{
		Client:    New(2 * time.Second),
		Endpoints: EndpointMap{"A": server.URL},
	}

	action, err := provider.NextAction(context.Background(), baseRoom(), "A")
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != domain.ActionDiscardQuads || action.Rank != domain.Rank7 {
		t.Fatalf("expected discard of sevens, got %+v", action)
	}
}

func TestActionProviderNextActionMissingEndpoint(t *testing.T) {
	t.Parallel()

	provider := ActionProvider{
		Client:    New(2 * time.Second),
		Endpoints: EndpointMap{},
	}

	_, err := provider.NextAction(context.Background(), baseRoom(), "A")
	if !errors.Is(err, ErrEndpointNotConfigured) {
		t.Fatalf("expected ErrEndpointNotConfigured, got %v", err)
	}
}

func TestActionProviderNextActionEndpointProviderError(t *testing.T) {
	t.Parallel()

	provider := ActionProvider{
		Client:    New(2 * time.Second),
		Endpoints: failingEndpoints{err: errors.New("lookup failed")},
	}

	_, err := provider.NextAction(context.Background(), baseRoom(), "A")
	if !errors.Is(err, ErrEndpointNotConfigured) {
		t.Fatalf("expected ErrEndpointNotConfigured, got %v", err)
	}
}

func TestActionProviderRejectsHostOutsideAllowlist(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(protocolResponse{Action: "call_lie"})
	}))
	defer server.Close()

	provider := ActionProvider{
		Client:       New(2 * time.Second),
		Endpoints:    EndpointMap{"A": server.URL},
		AllowedHosts: map[string]struct{}{"bots.internal:9000": {}},
	}
	_, err := provider.NextAction(context.Background(), baseRoom(), "A")
	if !errors.Is(err, ErrEndpointNotAllowed) {
		t.Fatalf("expected ErrEndpointNotAllowed, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no request to a disallowed host, got %d", calls.Load())
	}

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	provider.AllowedHosts = map[string]struct{}{parsed.Host: {}}
	if _, err := provider.NextAction(context.Background(), baseRoom(), "A"); err != nil {
		t.Fatalf("expected allowlisted host to pass, got %v", err)
	}
}

func TestActionProviderPropagatesClientError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not-json"))
	}))
	defer server.Close()

	provider := ActionProvider{
		Client:    New(2 * time.Second),
		Endpoints: EndpointMap{"A": server.URL},
	}

	_, err := provider.NextAction(context.Background(), baseRoom(), "A")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}
