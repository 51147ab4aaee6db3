package protocol

// Event type tags for server-initiated pushes.
const (
	EventTypePlayerJoined       = "event_player_joined"
	EventTypePlayerLeft         = "event_player_left"
	EventTypePlayerAvatarChange = "event_player_avatar_change"
	EventTypeRoomStart          = "event_room_start"
)

// ServerEvent is a server-initiated push. The session owning the
// target connection assigns the outbound frame id just before
// serialization; the coordinator builds one instance per recipient so
// the assignment never races.
type ServerEvent interface {
	SetID(id uint64)
	EventType() string
}

// PlayerJoinedEvent tells room members a new player joined, the joiner
// included.
type PlayerJoinedEvent struct {
	ID     uint64 `json:"id"`
	Type   string `json:"type"`
	Player Player `json:"player"`
}

func NewPlayerJoinedEvent(p Player) *PlayerJoinedEvent {
	return &PlayerJoinedEvent{Type: EventTypePlayerJoined, Player: p}
}

func (e *PlayerJoinedEvent) SetID(id uint64)   { e.ID = id }
func (e *PlayerJoinedEvent) EventType() string { return e.Type }

// PlayerLeftEvent tells remaining members a player left. NewHost is
// set when the leaver was host and another member got promoted.
type PlayerLeftEvent struct {
	ID      uint64 `json:"id"`
	Type    string `json:"type"`
	Player  ID     `json:"player"`
	NewHost *ID    `json:"newHost,omitempty"`
}

func NewPlayerLeftEvent(player ID, newHost *ID) *PlayerLeftEvent {
	return &PlayerLeftEvent{Type: EventTypePlayerLeft, Player: player, NewHost: newHost}
}

func (e *PlayerLeftEvent) SetID(id uint64)   { e.ID = id }
func (e *PlayerLeftEvent) EventType() string { return e.Type }

// PlayerAvatarChangeEvent carries a cosmetics edit to the other room
// members.
type PlayerAvatarChangeEvent struct {
	ID     uint64 `json:"id"`
	Type   string `json:"type"`
	Player ID     `json:"player"`
	Cosmetics
}

func NewPlayerAvatarChangeEvent(player ID, c Cosmetics) *PlayerAvatarChangeEvent {
	return &PlayerAvatarChangeEvent{Type: EventTypePlayerAvatarChange, Player: player, Cosmetics: c}
}

func (e *PlayerAvatarChangeEvent) SetID(id uint64)   { e.ID = id }
func (e *PlayerAvatarChangeEvent) EventType() string { return e.Type }

// RoomStartEvent announces the transition to the playing phase. The
// broadcast id is the decimal form of the room id. The outbound frame
// id of this event is what the client must acknowledge.
type RoomStartEvent struct {
	ID             uint64         `json:"id"`
	Type           string         `json:"type"`
	ConnectionType ConnectionType `json:"connectionType"`
	BroadcastID    string         `json:"broadcastId"`
}

func NewRoomStartEvent(conn ConnectionType, broadcastID string) *RoomStartEvent {
	return &RoomStartEvent{Type: EventTypeRoomStart, ConnectionType: conn, BroadcastID: broadcastID}
}

func (e *RoomStartEvent) SetID(id uint64)   { e.ID = id }
func (e *RoomStartEvent) EventType() string { return e.Type }
