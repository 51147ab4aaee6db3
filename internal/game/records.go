package game

import (
	"time"

	"matchrelay/internal/protocol"
)

// Peer is the one-way mailbox of a connected session. The coordinator
// pushes events and relay payloads through it; implementations must
// never block the caller.
type Peer interface {
	// SendEvent delivers a server-push event. The instance is owned by
	// the receiving session, which assigns its outbound frame id.
	SendEvent(ev protocol.ServerEvent)
	// SendRelayRaw delivers a pre-serialized relay frame.
	SendRelayRaw(data string)
}

type roomState int

const (
	stateMatchmaking roomState = iota
	statePlaying
)

// playerRecord is the registry entry of a living player. Mutated only
// by the coordinator goroutine.
type playerRecord struct {
	peer   Peer
	player protocol.Player
	room   *protocol.ID
	inGame bool
}

// roomRecord is the registry entry of a room. A room exists exactly
// while it has members.
type roomRecord struct {
	state       roomState
	players     map[protocol.ID]struct{}
	inGameCount int
	// countdown is the pending auto-start, armed while the room is
	// matchmaking with at least the minimum and below the maximum
	// player count.
	countdown *time.Timer
}

// relayPlayerLeft is the in-game variant of the player-left event,
// delivered through the relay mailbox so pre-playing buffering applies
// to it like to any other in-game traffic.
type relayPlayerLeft struct {
	Sender  protocol.ID  `json:"sender"`
	Type    string       `json:"type"`
	NewHost *protocol.ID `json:"newHost"`
}
