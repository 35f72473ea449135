package domain

type ChangeEvent string

const (
	ChangeInsert ChangeEvent = "INSERT"
	ChangeUpdate ChangeEvent = "UPDATE"
	ChangeDelete ChangeEvent = "DELETE"
)

// RoomChange carries the full post-write document. For DELETE only Room.ID is guaranteed.
type RoomChange struct {
	Event ChangeEvent `json:"event"`
	Room  Room        `json:"room"`
}
