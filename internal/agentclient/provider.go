package agentclient

import (
	"context"
	"fmt"

	"github.com/lyinggame/server/internal/domain"
)

type PlayerEndpointProvider interface {
	EndpointForPlayer(room domain.Room, playerID string) (string, error)
}

// EndpointMap assigns a fixed endpoint per player id.
type EndpointMap map[string]string

func (m EndpointMap) EndpointForPlayer(_ domain.Room, playerID string) (string, error) {
	endpoint, ok := m[playerID]
	if !ok || endpoint == "" {
		return "", fmt.Errorf("%w: player %s", ErrEndpointNotConfigured, playerID)
	}
	return endpoint, nil
}

type ActionProvider struct {
	Client           Client
	Endpoints        PlayerEndpointProvider
	AllowedHosts     map[string]struct{}
	DefaultTimeoutMS uint64
}

func (p ActionProvider) NextAction(ctx context.Context, room domain.Room, playerID string) (domain.Action, error) {
	if p.Endpoints == nil {
		return domain.Action{}, ErrEndpointNotConfigured
	}

	endpoint, err := p.Endpoints.EndpointForPlayer(room, playerID)
	if err != nil {
		return domain.Action{}, fmt.Errorf("%w: %v", ErrEndpointNotConfigured, err)
	}
	if endpoint == "" {
		return domain.Action{}, fmt.Errorf("%w: player %s", ErrEndpointNotConfigured, playerID)
	}
	if err := CheckEndpoint(endpoint, p.AllowedHosts); err != nil {
		return domain.Action{}, err
	}

	timeoutMS := p.DefaultTimeoutMS
	if timeoutMS == 0 {
		timeoutMS = defaultActionTimeout
	}

	client := p.Client
	if client.httpClient == nil {
		client = New(defaultTimeout)
	}

	return client.NextAction(ctx, Request{
		EndpointURL:     endpoint,
		Room:            room,
		PlayerID:        playerID,
		ActionTimeoutMS: timeoutMS,
	})
}
