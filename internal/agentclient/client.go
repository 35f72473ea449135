package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/statemachine"
)

const (
	ProtocolVersion      = 1
	defaultTimeout       = 2 * time.Second
	defaultActionTimeout = uint64(2000)
	maxResponseBodyBytes = 1 << 20
)

var (
	ErrEndpointNotConfigured = errors.New("agent endpoint not configured")
	ErrEndpointNotAllowed    = errors.New("agent endpoint not allowed")
	ErrRequestTimeout        = errors.New("agent request timeout")
	ErrNetwork               = errors.New("agent network error")
	ErrMalformedResponse     = errors.New("agent response malformed")
	ErrIllegalAgentAction    = errors.New("agent returned illegal action")
	ErrUnknownPlayer         = errors.New("acting player not in room")
)

type Client struct {
	httpClient *http.Client
}

type Request struct {
	EndpointURL string
	// Room should already be the acting player's view.
	Room            domain.Room
	PlayerID        string
	ActionTimeoutMS uint64
}

type protocolPlayer struct {
	ID        string `json:"id"`
	CardCount int    `json:"card_count"`
}

type protocolRequest struct {
	ProtocolVersion int              `json:"protocol_version"`
	RoomID          string           `json:"room_id"`
	PlayerID        string           `json:"player_id"`
	Hand            []domain.Card    `json:"hand"`
	PileCount       int              `json:"pile_count"`
	DeclaredRank    *domain.Rank     `json:"declared_rank"`
	LastPlayedBy    *string          `json:"last_played_by"`
	Players         []protocolPlayer `json:"players"`
	LegalActions    []string         `json:"legal_actions"`
	ActionDeadline  uint64           `json:"action_deadline_ms"`
}

type protocolResponse struct {
	Action       string        `json:"action"`
	Cards        []domain.Card `json:"cards,omitempty"`
	DeclaredRank string        `json:"declared_rank,omitempty"`
	Rank         string        `json:"rank,omitempty"`
}

func New(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return Client{httpClient: &http.Client{Timeout: timeout}}
}

func (c Client) NextAction(ctx context.Context, req Request) (domain.Action, error) {
	if strings.TrimSpace(req.EndpointURL) == "" {
		return domain.Action{}, ErrEndpointNotConfigured
	}
	if c.httpClient == nil {
		c = New(defaultTimeout)
	}

	payload, legalActionSet, err := buildProtocolRequest(req.Room, req.PlayerID, chooseActionTimeout(req))
	if err != nil {
		return domain.Action{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Action{}, fmt.Errorf("%w: marshal payload: %v", ErrMalformedResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return domain.Action{}, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeoutError(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Action{}, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return domain.Action{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.Action{}, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	decoder.DisallowUnknownFields()

	var dto protocolResponse
	if err := decoder.Decode(&dto); err != nil {
		return domain.Action{}, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); err != io.EOF {
		return domain.Action{}, fmt.Errorf("%w: response body has trailing data", ErrMalformedResponse)
	}

	return parseAndValidateProtocolResponse(dto, req.PlayerID, legalActionSet)
}

// CheckEndpoint rejects endpoints that are not http(s) or whose host[:port] is
// missing from allowed. An empty allowlist accepts any host.
func CheckEndpoint(endpoint string, allowed map[string]struct{}) error {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrEndpointNotConfigured, endpoint)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrEndpointNotAllowed, parsed.Scheme)
	}
	if len(allowed) == 0 {
		return nil
	}
	if _, ok := allowed[parsed.Host]; ok {
		return nil
	}
	if _, ok := allowed[parsed.Hostname()]; ok {
		return nil
	}
	return fmt.Errorf("%w: host %s", ErrEndpointNotAllowed, parsed.Host)
}

func chooseActionTimeout(req Request) uint64 {
	if req.ActionTimeoutMS > 0 {
		return req.ActionTimeoutMS
	}
	return defaultActionTimeout
}

func buildProtocolRequest(room domain.Room, playerID string, timeoutMS uint64) (protocolRequest, map[domain.ActionKind]struct{}, error) {
	acting, ok := room.Player(playerID)
	if !ok {
		return protocolRequest{}, nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}

	legalKinds := statemachine.LegalActions(room, playerID)
	legalActionSet := make(map[domain.ActionKind]struct{}, len(legalKinds))
	legalActions := make([]string, 0, len(legalKinds))
	for _, kind := range legalKinds {
		legalActionSet[kind] = struct{}{}
		legalActions = append(legalActions, string(kind))
	}

	payload := protocolRequest{
		ProtocolVersion: ProtocolVersion,
		RoomID:          room.ID,
		PlayerID:        playerID,
		Hand:            append([]domain.Card{}, acting.HandCards...),
		PileCount:       room.PileCardsCount,
		DeclaredRank:    room.DeclaredRank,
		LastPlayedBy:    room.LastPlayedByPlayerID,
		Players:         make([]protocolPlayer, 0, len(room.TurnOrderPlayerIDs)),
		LegalActions:    legalActions,
		ActionDeadline:  timeoutMS,
	}
	for _, id := range room.TurnOrderPlayerIDs {
		player, ok := room.Player(id)
		if !ok {
			continue
		}
		payload.Players = append(payload.Players, protocolPlayer{ID: id, CardCount: player.CardCount})
	}

	return payload, legalActionSet, nil
}

func parseAndValidateProtocolResponse(dto protocolResponse, playerID string, legal map[domain.ActionKind]struct{}) (domain.Action, error) {
	kind := domain.ActionKind(dto.Action)
	if _, ok := legal[kind]; !ok {
		return domain.Action{}, fmt.Errorf("%w: action %q not legal", ErrIllegalAgentAction, dto.Action)
	}

	switch kind {
	case domain.ActionPlay:
		if dto.Rank != "" {
			return domain.Action{}, fmt.Errorf("%w: rank not allowed for %s", ErrIllegalAgentAction, kind)
		}
		declared, err := domain.ParseRank(dto.DeclaredRank)
		if err != nil {
			return domain.Action{}, fmt.Errorf("%w: %v", ErrIllegalAgentAction, err)
		}
		action, err := domain.NewPlayAction(playerID, dto.Cards, declared)
		if err != nil {
			return domain.Action{}, fmt.Errorf("%w: %v", ErrIllegalAgentAction, err)
		}
		return action, nil
	case domain.ActionDiscardQuads:
		if len(dto.Cards) > 0 || dto.DeclaredRank != "" {
			return domain.Action{}, fmt.Errorf("%w: only rank is allowed for %s", ErrIllegalAgentAction, kind)
		}
		rank, err := domain.ParseRank(dto.Rank)
		if err != nil {
			return domain.Action{}, fmt.Errorf("%w: %v", ErrIllegalAgentAction, err)
		}
		return domain.NewDiscardQuadsAction(playerID, rank), nil
	default:
		if len(dto.Cards) > 0 || dto.DeclaredRank != "" || dto.Rank != "" {
			return domain.Action{}, fmt.Errorf("%w: no fields allowed for %s", ErrIllegalAgentAction, kind)
		}
		return domain.Action{Kind: kind, PlayerID: playerID}, nil
	}
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
