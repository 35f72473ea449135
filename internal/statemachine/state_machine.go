package statemachine

import (
	"fmt"

	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/gamelog"
	"github.com/lyinggame/server/internal/rules"
)

// Env carries the collaborators a transition may need.
type Env struct {
	Dealer   rules.Dealer
	Narrator *gamelog.Narrator
}

func (e Env) withDefaults() Env {
	if e.Dealer == nil {
		e.Dealer = rules.NewDealer(nil)
	}
	if e.Narrator == nil {
		e.Narrator = gamelog.English()
	}
	return e
}

type NewRoomInput struct {
	RoomCode string
	PlayerID string
	Username string
	Narrator *gamelog.Narrator
}

// requiredStatus is the status a room must be in for each action to apply.
// Leave is accepted in any status.
var requiredStatus = map[domain.ActionKind]domain.RoomStatus{
	domain.ActionJoin:         domain.RoomStatusLobby,
	domain.ActionStart:        domain.RoomStatusLobby,
	domain.ActionPlay:         domain.RoomStatusInProgress,
	domain.ActionSkip:         domain.RoomStatusInProgress,
	domain.ActionCallLie:      domain.RoomStatusInProgress,
	domain.ActionDiscardQuads: domain.RoomStatusInProgress,
}

var transitions = map[domain.RoomStatus]domain.RoomStatus{
	domain.RoomStatusLobby:      domain.RoomStatusInProgress,
	domain.RoomStatusInProgress: domain.RoomStatusCompleted,
}

func NewRoom(input NewRoomInput) (domain.Room, error) {
	if input.PlayerID == "" {
		return domain.Room{}, fmt.Errorf("%w: player id is required", domain.ErrInvalidArgument)
	}
	username, err := domain.NormalizeUsername(input.Username)
	if err != nil {
		return domain.Room{}, err
	}
	narrator := input.Narrator
	if narrator == nil {
		narrator = gamelog.English()
	}

	host := domain.Player{ID: input.PlayerID, Username: username, IsHost: true}
	host.SetHand(nil)
	room := domain.Room{
		RoomCode:           input.RoomCode,
		Status:             domain.RoomStatusLobby,
		HostPlayerID:       input.PlayerID,
		Players:            []domain.Player{host},
		TurnOrderPlayerIDs: []string{input.PlayerID},
		GameLog:            []string{narrator.RoomCreated(username)},
	}
	room.SetPile(nil)
	return room, nil
}

// ApplyAction validates action against room and returns the next room.
// The input room is never modified; on error the returned room is zero.
func ApplyAction(room domain.Room, action domain.Action, env Env) (domain.Room, error) {
	env = env.withDefaults()
	next := room.Clone()

	if action.PlayerID == "" {
		return domain.Room{}, fmt.Errorf("%w: player id is required", domain.ErrInvalidArgument)
	}

	switch action.Kind {
	case domain.ActionJoin:
		if next.PlayerIndex(action.PlayerID) >= 0 {
			return next, nil
		}
	case domain.ActionStart:
		if action.PlayerID != next.HostPlayerID {
			return domain.Room{}, fmt.Errorf("%w: only the host can start the game", domain.ErrForbidden)
		}
	}

	if err := checkStatus(next, action.Kind); err != nil {
		return domain.Room{}, err
	}

	var err error
	switch action.Kind {
	case domain.ActionJoin:
		err = applyJoin(&next, action, env)
	case domain.ActionStart:
		err = applyStart(&next, env)
	case domain.ActionPlay:
		err = applyPlay(&next, action, env)
	case domain.ActionSkip:
		err = applySkip(&next, action, env)
	case domain.ActionCallLie:
		err = applyCallLie(&next, action, env)
	case domain.ActionDiscardQuads:
		err = applyDiscardQuads(&next, action, env)
	case domain.ActionLeave:
		err = applyLeave(&next, action, env)
	default:
		err = fmt.Errorf("%w: unknown action %q", domain.ErrInvalidArgument, action.Kind)
	}
	if err != nil {
		return domain.Room{}, err
	}
	return next, nil
}

func checkStatus(room domain.Room, kind domain.ActionKind) error {
	want, ok := requiredStatus[kind]
	if !ok || room.Status == want {
		return nil
	}
	return fmt.Errorf("%w: cannot %s while room is %s", domain.ErrInvalidState, kind, room.Status)
}

func transition(room *domain.Room, to domain.RoomStatus) error {
	if transitions[room.Status] != to {
		return fmt.Errorf("%w: cannot move room from %s to %s", domain.ErrInvalidState, room.Status, to)
	}
	room.Status = to
	return nil
}

func applyJoin(room *domain.Room, action domain.Action, env Env) error {
	if len(room.Players) >= domain.MaxPlayers {
		return domain.ErrRoomFull
	}
	username, err := domain.NormalizeUsername(action.Username)
	if err != nil {
		return err
	}
	player := domain.Player{ID: action.PlayerID, Username: username}
	player.SetHand(nil)
	room.Players = append(room.Players, player)
	room.TurnOrderPlayerIDs = append(room.TurnOrderPlayerIDs, action.PlayerID)
	room.GameLog = append(room.GameLog, env.Narrator.Joined(username))
	return nil
}

func applyStart(room *domain.Room, env Env) error {
	count := len(room.Players)
	if count < domain.MinPlayersToStart || count > domain.MaxPlayers {
		return fmt.Errorf("%w: need %d-%d players to start, have %d",
			domain.ErrInvalidState, domain.MinPlayersToStart, domain.MaxPlayers, count)
	}

	ids := make([]string, 0, count)
	for _, player := range room.Players {
		ids = append(ids, player.ID)
	}
	hands, err := env.Dealer.Deal(ids)
	if err != nil {
		return err
	}
	order, err := env.Dealer.TurnOrder(ids)
	if err != nil {
		return err
	}

	for i := range room.Players {
		room.Players[i].SetHand(hands[room.Players[i].ID])
	}
	room.TurnOrderPlayerIDs = order
	room.CurrentPlayerIndex = 0
	room.SetPile(nil)
	room.DeclaredRank = nil
	room.LastPlayedByPlayerID = nil
	room.LastPlayedCardsActual = nil
	room.LastPlayerToPlayID = nil
	room.ConsecutiveSkipsCount = 0
	room.WinnerPlayerID = nil
	room.GameLog = []string{env.Narrator.Started(room.Username(room.HostPlayerID))}
	return transition(room, domain.RoomStatusInProgress)
}

func applyPlay(room *domain.Room, action domain.Action, env Env) error {
	if len(action.Cards) < 1 || len(action.Cards) > domain.MaxCardsPerPlay {
		return fmt.Errorf("%w: must play between 1 and %d cards", domain.ErrInvalidArgument, domain.MaxCardsPerPlay)
	}
	if !action.DeclaredRank.Valid() {
		return fmt.Errorf("%w: invalid declared rank %q", domain.ErrInvalidArgument, action.DeclaredRank)
	}
	idx, err := requireTurn(*room, action.PlayerID)
	if err != nil {
		return err
	}

	remaining, err := rules.RemoveCards(room.Players[idx].HandCards, action.Cards)
	if err != nil {
		return err
	}

	freshRound := len(room.PileCards) == 0
	played := append([]domain.Card(nil), action.Cards...)

	room.Players[idx].SetHand(remaining)
	room.SetPile(append(room.PileCards, played...))
	room.LastPlayedByPlayerID = domain.StringPtr(action.PlayerID)
	room.LastPlayedCardsActual = played
	room.DeclaredRank = domain.RankPtr(action.DeclaredRank)
	room.LastPlayerToPlayID = domain.StringPtr(action.PlayerID)
	room.ConsecutiveSkipsCount = 0
	advanceTurn(room)

	if freshRound {
		room.GameLog = []string{}
	}
	room.GameLog = append(room.GameLog, env.Narrator.Played(room.Players[idx].Username, len(played), action.DeclaredRank))
	return detectWinner(room, env)
}

func applySkip(room *domain.Room, action domain.Action, env Env) error {
	idx, err := requireTurn(*room, action.PlayerID)
	if err != nil {
		return err
	}
	if room.PileCardsCount == 0 {
		return fmt.Errorf("%w: cannot skip on empty pile", domain.ErrInvalidState)
	}

	advanceTurn(room)
	room.ConsecutiveSkipsCount++
	room.GameLog = append(room.GameLog, env.Narrator.Skipped(room.Players[idx].Username))

	if room.LastPlayerToPlayID == nil || room.ConsecutiveSkipsCount < len(room.TurnOrderPlayerIDs)-1 {
		return nil
	}
	back := room.TurnIndex(*room.LastPlayerToPlayID)
	if back < 0 {
		return nil
	}
	room.CurrentPlayerIndex = back
	room.ConsecutiveSkipsCount = 0
	room.DeclaredRank = nil
	room.GameLog = append(room.GameLog, env.Narrator.BounceBack(room.Username(*room.LastPlayerToPlayID)))
	return nil
}

func applyCallLie(room *domain.Room, action domain.Action, env Env) error {
	callerIdx := room.PlayerIndex(action.PlayerID)
	if callerIdx < 0 {
		return fmt.Errorf("%w: player %s is not in this room", domain.ErrNotFound, action.PlayerID)
	}
	if !room.HasPendingClaim() {
		return fmt.Errorf("%w: nothing to challenge", domain.ErrInvalidState)
	}
	claimantID := *room.LastPlayedByPlayerID
	if claimantID == action.PlayerID {
		return fmt.Errorf("%w: cannot call lie on self", domain.ErrInvalidArgument)
	}
	claimantIdx := room.PlayerIndex(claimantID)
	if claimantIdx < 0 {
		return fmt.Errorf("%w: nothing to challenge, claimant has left", domain.ErrInvalidState)
	}

	caller := room.Players[callerIdx].Username
	claimant := room.Players[claimantIdx].Username
	pileSize := len(room.PileCards)

	receiverIdx, nextID, line := callerIdx, claimantID, env.Narrator.TruthConfirmed(caller, claimant, pileSize)
	if !rules.IsTruthfulClaim(room.LastPlayedCardsActual, *room.DeclaredRank) {
		receiverIdx, nextID, line = claimantIdx, action.PlayerID, env.Narrator.LieConfirmed(caller, claimant, pileSize)
	}

	receiver := &room.Players[receiverIdx]
	receiver.SetHand(append(append([]domain.Card(nil), receiver.HandCards...), room.PileCards...))
	room.SetPile(nil)
	room.DeclaredRank = nil
	room.LastPlayedByPlayerID = nil
	room.LastPlayedCardsActual = nil
	room.ConsecutiveSkipsCount = 0
	if turn := room.TurnIndex(nextID); turn >= 0 {
		room.CurrentPlayerIndex = turn
	}
	room.GameLog = []string{line}
	return detectWinner(room, env)
}

func applyDiscardQuads(room *domain.Room, action domain.Action, env Env) error {
	idx, err := requireTurn(*room, action.PlayerID)
	if err != nil {
		return err
	}
	remaining, err := rules.RemoveQuad(room.Players[idx].HandCards, action.Rank)
	if err != nil {
		return err
	}
	room.Players[idx].SetHand(remaining)
	room.GameLog = append(room.GameLog, env.Narrator.Discarded(room.Players[idx].Username, action.Rank))
	return detectWinner(room, env)
}

// applyLeave removes the player. A room left with no players is returned
// empty and is expected to be deleted by the caller. The current turn index
// is kept as is unless it falls off the end of the shorter turn order.
func applyLeave(room *domain.Room, action domain.Action, env Env) error {
	idx := room.PlayerIndex(action.PlayerID)
	if idx < 0 {
		return fmt.Errorf("%w: player %s is not in this room", domain.ErrNotFound, action.PlayerID)
	}
	leaving := room.Players[idx]

	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)
	if turn := room.TurnIndex(action.PlayerID); turn >= 0 {
		room.TurnOrderPlayerIDs = append(room.TurnOrderPlayerIDs[:turn], room.TurnOrderPlayerIDs[turn+1:]...)
	}
	room.GameLog = append(room.GameLog, env.Narrator.Left(leaving.Username))

	if len(room.Players) == 0 {
		room.CurrentPlayerIndex = 0
		return nil
	}
	if room.CurrentPlayerIndex >= len(room.TurnOrderPlayerIDs) {
		room.CurrentPlayerIndex %= len(room.TurnOrderPlayerIDs)
	}
	if leaving.IsHost || room.HostPlayerID == leaving.ID {
		room.Players[0].IsHost = true
		room.HostPlayerID = room.Players[0].ID
		room.GameLog = append(room.GameLog, env.Narrator.HostPromoted(room.Players[0].Username))
	}
	return nil
}

func requireTurn(room domain.Room, playerID string) (int, error) {
	if room.CurrentPlayerID() != playerID {
		return -1, fmt.Errorf("%w: it is not %s's turn", domain.ErrForbidden, playerID)
	}
	idx := room.PlayerIndex(playerID)
	if idx < 0 {
		return -1, fmt.Errorf("%w: player %s is not in this room", domain.ErrNotFound, playerID)
	}
	return idx, nil
}

func advanceTurn(room *domain.Room) {
	if len(room.TurnOrderPlayerIDs) == 0 {
		return
	}
	room.CurrentPlayerIndex = (room.CurrentPlayerIndex + 1) % len(room.TurnOrderPlayerIDs)
}

// detectWinner completes the game for the first player, in turn order, holding no cards.
func detectWinner(room *domain.Room, env Env) error {
	if room.Status != domain.RoomStatusInProgress || room.WinnerPlayerID != nil {
		return nil
	}
	for _, id := range room.TurnOrderPlayerIDs {
		player, ok := room.Player(id)
		if !ok || player.CardCount != 0 {
			continue
		}
		if err := transition(room, domain.RoomStatusCompleted); err != nil {
			return err
		}
		room.WinnerPlayerID = domain.StringPtr(id)
		room.GameLog = append(room.GameLog, env.Narrator.Won(player.Username))
		return nil
	}
	return nil
}
