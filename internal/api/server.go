package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/lyinggame/server/internal/domain"
)

const (
	maxBodyBytes        = 1 << 20
	defaultPingInterval = 15 * time.Second
	writeTimeout        = 5 * time.Second
)

// eventSnapshot marks the first message on a websocket: the room as it stood when the feed opened.
const eventSnapshot domain.ChangeEvent = "SNAPSHOT"

type roomService interface {
	CreateRoom(ctx context.Context, playerID, username string) (domain.Room, error)
	JoinRoom(ctx context.Context, code, playerID, username string) (domain.Room, error)
	StartGame(ctx context.Context, roomID, playerID string) (domain.Room, error)
	PlayCards(ctx context.Context, roomID, playerID string, cards []domain.Card, declared domain.Rank) (domain.Room, error)
	SkipTurn(ctx context.Context, roomID, playerID string) (domain.Room, error)
	CallLie(ctx context.Context, roomID, playerID string) (domain.Room, error)
	DiscardQuads(ctx context.Context, roomID, playerID string, rank domain.Rank) (domain.Room, error)
	LeaveRoom(ctx context.Context, roomID, playerID string) error
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	Subscribe(ctx context.Context, roomID string) (<-chan domain.RoomChange, error)
}

type ServerConfig struct {
	// AllowedOrigins are host patterns accepted for cross-origin websocket upgrades.
	AllowedOrigins []string
	PingInterval   time.Duration
}

type Server struct {
	rooms          roomService
	logger         *zap.Logger
	allowedOrigins []string
	pingInterval   time.Duration
}

type createRoomRequest struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

type joinRoomRequest struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

type playerRequest struct {
	PlayerID string `json:"player_id"`
}

type playCardsRequest struct {
	PlayerID     string        `json:"player_id"`
	Cards        []domain.Card `json:"cards"`
	DeclaredRank string        `json:"declared_rank"`
}

type discardQuadsRequest struct {
	PlayerID string `json:"player_id"`
	Rank     string `json:"rank"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorKind `json:"code"`
}

func NewServer(rooms roomService, cfg ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &Server{
		rooms:          rooms,
		logger:         logger,
		allowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		pingInterval:   ping,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := parseRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, domain.KindNotFound, "route not found")
		return
	}

	switch {
	case route.resource == "healthz" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case route.resource == "healthz":
		methodNotAllowed(w)
	case route.roomID == "" && r.Method == http.MethodPost:
		s.handleCreate(w, r)
	case route.roomID == "join" && route.action == "" && r.Method == http.MethodPost:
		s.handleJoin(w, r)
	case route.roomID == "" || route.roomID == "join" && route.action == "":
		methodNotAllowed(w)
	case route.action == "" && r.Method == http.MethodGet:
		s.handleGet(w, r, route.roomID)
	case route.action == "ws" && r.Method == http.MethodGet:
		s.handleWatch(w, r, route.roomID)
	case r.Method != http.MethodPost:
		methodNotAllowed(w)
	case route.action == "start":
		s.handlePlayerAction(w, r, "start", route.roomID, s.rooms.StartGame)
	case route.action == "skip":
		s.handlePlayerAction(w, r, "skip", route.roomID, s.rooms.SkipTurn)
	case route.action == "call-lie":
		s.handlePlayerAction(w, r, "call-lie", route.roomID, s.rooms.CallLie)
	case route.action == "play":
		s.handlePlay(w, r, route.roomID)
	case route.action == "discard-quads":
		s.handleDiscard(w, r, route.roomID)
	case route.action == "leave":
		s.handleLeave(w, r, route.roomID)
	default:
		writeError(w, http.StatusNotFound, domain.KindNotFound, "route not found")
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	room, err := s.rooms.CreateRoom(r.Context(), req.PlayerID, req.Username)
	if err != nil {
		s.writeServiceError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, room.ViewFor(req.PlayerID))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	room, err := s.rooms.JoinRoom(r.Context(), req.RoomCode, req.PlayerID, req.Username)
	if err != nil {
		s.writeServiceError(w, "join", err)
		return
	}
	writeJSON(w, http.StatusOK, room.ViewFor(req.PlayerID))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, roomID string) {
	room, err := s.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		s.writeServiceError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, viewFor(room, r.URL.Query().Get("player_id")))
}

func (s *Server) handlePlayerAction(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	roomID string,
	apply func(ctx context.Context, roomID, playerID string) (domain.Room, error),
) {
	var req playerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	room, err := apply(r.Context(), roomID, req.PlayerID)
	if err != nil {
		s.writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, room.ViewFor(req.PlayerID))
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request, roomID string) {
	var req playCardsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	declared, err := domain.ParseRank(req.DeclaredRank)
	if err != nil {
		s.writeServiceError(w, "play", err)
		return
	}
	room, err := s.rooms.PlayCards(r.Context(), roomID, req.PlayerID, req.Cards, declared)
	if err != nil {
		s.writeServiceError(w, "play", err)
		return
	}
	writeJSON(w, http.StatusOK, room.ViewFor(req.PlayerID))
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request, roomID string) {
	var req discardQuadsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rank, err := domain.ParseRank(req.Rank)
	if err != nil {
		s.writeServiceError(w, "discard-quads", err)
		return
	}
	room, err := s.rooms.DiscardQuads(r.Context(), roomID, req.PlayerID, rank)
	if err != nil {
		s.writeServiceError(w, "discard-quads", err)
		return
	}
	writeJSON(w, http.StatusOK, room.ViewFor(req.PlayerID))
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, roomID string) {
	var req playerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.rooms.LeaveRoom(r.Context(), roomID, req.PlayerID); err != nil {
		s.writeServiceError(w, "leave", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWatch streams room changes over a websocket. The first message is a snapshot; the
// connection closes normally once the room is deleted.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, roomID string) {
	viewer := r.URL.Query().Get("player_id")
	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		s.writeServiceError(w, "watch", err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx := conn.CloseRead(r.Context())
	changes, err := s.rooms.Subscribe(ctx, roomID)
	if err != nil {
		s.logger.Error("subscribe to room changes", zap.String("room_id", roomID), zap.Error(err))
		conn.Close(websocket.StatusTryAgainLater, "change feed unavailable")
		return
	}

	// Fetched after subscribing so no write between the two is lost.
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "room closed")
		return
	}
	if err := s.send(ctx, conn, domain.RoomChange{Event: eventSnapshot, Room: viewFor(room, viewer)}); err != nil {
		s.logger.Warn("websocket snapshot write failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case change, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "change feed closed")
				return
			}
			change.Room = viewFor(change.Room, viewer)
			if err := s.send(ctx, conn, change); err != nil {
				s.logger.Warn("websocket subscriber fell behind",
					zap.String("room_id", roomID),
					zap.String("player_id", viewer),
					zap.Error(err),
				)
				return
			}
			if change.Event == domain.ChangeDelete {
				conn.Close(websocket.StatusNormalClosure, "room deleted")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, change domain.RoomChange) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, change)
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
	}
	writeError(w, status, kind, err.Error())
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindRoomFull, domain.KindConflict:
		return http.StatusConflict
	case domain.KindStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func viewFor(room domain.Room, playerID string) domain.Room {
	if playerID == "" {
		return room
	}
	return room.ViewFor(playerID)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, domain.KindInvalidArgument, "invalid request body")
		return false
	}
	return true
}

type route struct {
	resource string
	roomID   string
	action   string
}

func parseRoute(path string) (route, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "healthz":
		return route{resource: "healthz"}, true
	case parts[0] != "rooms" || len(parts) > 3:
		return route{}, false
	}
	for _, part := range parts[1:] {
		if part == "" {
			return route{}, false
		}
	}
	out := route{resource: "rooms"}
	if len(parts) > 1 {
		out.roomID = parts[1]
	}
	if len(parts) > 2 {
		out.action = parts[2]
	}
	return out, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, domain.KindInvalidArgument, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: kind})
}
