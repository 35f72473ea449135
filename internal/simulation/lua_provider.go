package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/statemachine"
)

const luaEntryPoint = "next_action"

var ErrLuaStrategy = errors.New("lua strategy error")

// LuaProvider asks a script's next_action(state) for each decision. The
// script sees the same fields a remote agent receives and returns a table
// {action=, cards=, declared_rank=, rank=}.
type LuaProvider struct {
	mu    sync.Mutex
	state *lua.LState
	fn    lua.LValue
}

// NewLuaProvider compiles source with only the base, table, string and math libraries loaded.
func NewLuaProvider(source string) (*LuaProvider, error) {
	L := newSandbox()
	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: load script: %v", ErrLuaStrategy, err)
	}
	return bindEntryPoint(L)
}

func LoadLuaProvider(path string) (*LuaProvider, error) {
	L := newSandbox()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: load %s: %v", ErrLuaStrategy, path, err)
	}
	return bindEntryPoint(L)
}

func (p *LuaProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Close()
}

func (p *LuaProvider) NextAction(ctx context.Context, room domain.Room, playerID string) (domain.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	L := p.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(lua.P{Fn: p.fn, NRet: 1, Protect: true}, stateTable(L, room, playerID)); err != nil {
		return domain.Action{}, fmt.Errorf("%w: %v", ErrLuaStrategy, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return domain.Action{}, fmt.Errorf("%w: %s returned %s, want table", ErrLuaStrategy, luaEntryPoint, ret.Type())
	}
	return actionFromTable(tbl, playerID)
}

func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	return L
}

func bindEntryPoint(L *lua.LState) (*LuaProvider, error) {
	fn := L.GetGlobal(luaEntryPoint)
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("%w: script does not define %s(state)", ErrLuaStrategy, luaEntryPoint)
	}
	return &LuaProvider{state: L, fn: fn}, nil
}

func stateTable(L *lua.LState, room domain.Room, playerID string) *lua.LTable {
	state := L.NewTable()
	state.RawSetString("room_id", lua.LString(room.ID))
	state.RawSetString("player_id", lua.LString(playerID))
	state.RawSetString("pile_count", lua.LNumber(room.PileCardsCount))
	if room.DeclaredRank != nil {
		state.RawSetString("declared_rank", lua.LString(*room.DeclaredRank))
	}
	if room.LastPlayedByPlayerID != nil {
		state.RawSetString("last_played_by", lua.LString(*room.LastPlayedByPlayerID))
	}

	hand := L.NewTable()
	if player, ok := room.Player(playerID); ok {
		for _, card := range player.HandCards {
			hand.Append(cardTable(L, card))
		}
	}
	state.RawSetString("hand", hand)

	players := L.NewTable()
	for _, id := range room.TurnOrderPlayerIDs {
		player, ok := room.Player(id)
		if !ok {
			continue
		}
		entry := L.NewTable()
		entry.RawSetString("id", lua.LString(id))
		entry.RawSetString("card_count", lua.LNumber(player.CardCount))
		players.Append(entry)
	}
	state.RawSetString("players", players)

	legal := L.NewTable()
	for _, kind := range statemachine.LegalActions(room, playerID) {
		legal.Append(lua.LString(kind))
	}
	state.RawSetString("legal_actions", legal)
	return state
}

func cardTable(L *lua.LState, card domain.Card) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("rank", lua.LString(card.Rank))
	tbl.RawSetString("suit", lua.LString(card.Suit))
	return tbl
}

func actionFromTable(tbl *lua.LTable, playerID string) (domain.Action, error) {
	kind := domain.ActionKind(lua.LVAsString(tbl.RawGetString("action")))
	switch kind {
	case domain.ActionPlay:
		cards, err := cardsFromTable(tbl.RawGetString("cards"))
		if err != nil {
			return domain.Action{}, err
		}
		declared, err := domain.ParseRank(lua.LVAsString(tbl.RawGetString("declared_rank")))
		if err != nil {
			return domain.Action{}, err
		}
		return domain.NewPlayAction(playerID, cards, declared)
	case domain.ActionDiscardQuads:
		rank, err := domain.ParseRank(lua.LVAsString(tbl.RawGetString("rank")))
		if err != nil {
			return domain.Action{}, err
		}
		return domain.NewDiscardQuadsAction(playerID, rank), nil
	case domain.ActionSkip, domain.ActionCallLie:
		return domain.Action{Kind: kind, PlayerID: playerID}, nil
	default:
		return domain.Action{}, fmt.Errorf("%w: unknown action %q", ErrLuaStrategy, kind)
	}
}

func cardsFromTable(value lua.LValue) ([]domain.Card, error) {
	list, ok := value.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: cards must be a table", ErrLuaStrategy)
	}
	cards := make([]domain.Card, 0, list.Len())
	for i := 1; i <= list.Len(); i++ {
		entry, ok := list.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("%w: card %d must be a table", ErrLuaStrategy, i)
		}
		card := domain.NewCard(
			domain.Rank(lua.LVAsString(entry.RawGetString("rank"))),
			domain.Suit(lua.LVAsString(entry.RawGetString("suit"))),
		)
		if !card.Valid() {
			return nil, fmt.Errorf("%w: invalid card %s", domain.ErrInvalidArgument, card)
		}
		cards = append(cards, card)
	}
	return cards, nil
}
