// Package protocol defines the JSON wire format spoken between the
// coordination server and its clients: message envelopes, typed
// payloads, server-push events and the base64 ID codec.
//
// Inbound messages carry a client-assigned "id" echoed back as
// "requestId" on the matching response. Every outbound frame carries a
// fresh server-assigned "id" from the per-session counter.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound message type tags.
const (
	MsgLogin        = "login"
	MsgChangeAvatar = "change_avatar"
	MsgRoomCreate   = "room_create"
	MsgRoomJoin     = "room_join"
	MsgRoomLeave    = "room_leave"
	MsgRoomFind     = "room_find"
	MsgRoomStart    = "room_start"
	MsgRoomStartAck = "event_room_start_ack"
	MsgGameEnd      = "game_end"
)

// Result codes carried by typed responses.
const (
	ResultOK             = "ok"
	ResultRoomNotFound   = "room_not_found"
	ResultRoomIsFull     = "room_is_full"
	ResultAlreadyPlaying = "already_playing"
	// ResultNameConflict is produced only by legacy builds that reject
	// duplicate usernames within a room. Declared so the wire enum is
	// complete; the current build never emits it.
	ResultNameConflict = "name_conflict"
)

// ConnectionType selects how in-game traffic is carried after a room
// starts. Only server-side broadcast relaying is implemented.
type ConnectionType string

const ConnServerBroadcast ConnectionType = "server_broadcast"

// Valid reports whether the connection type names a supported mode.
func (c ConnectionType) Valid() bool {
	return c == ConnServerBroadcast
}

// Cosmetics is the client-editable appearance of a player.
type Cosmetics struct {
	Avatar uint32 `json:"avatar"`
	Color  uint64 `json:"color"`
}

// Player is the wire representation of a player. The id and host flag
// are server-assigned and ignored on input.
type Player struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Cosmetics
	IsHost bool `json:"isHost"`
}

// LoginDetails is the client-supplied part of a login request.
type LoginDetails struct {
	Username string `json:"username"`
	Cosmetics
}

// Envelope is the common head of every inbound message outside the
// relay phase. The id is required; its absence is a protocol error.
type Envelope struct {
	ID   *uint64 `json:"id"`
	Type string  `json:"type"`
}

// Typed inbound payloads. Each is decoded from the full frame once the
// envelope identified the message type.

type LoginMessage struct {
	Details LoginDetails `json:"details"`
}

type ChangeAvatarMessage struct {
	Cosmetics
}

type RoomJoinMessage struct {
	InviteID ID `json:"inviteId"`
}

type RoomStartMessage struct {
	ConnectionType ConnectionType `json:"connectionType"`
}

type RoomStartAckMessage struct {
	RequestID uint64 `json:"requestId"`
}

// ParseEnvelope splits an inbound frame into its envelope. A decode
// failure or a missing id is reported to the caller so the session can
// answer with the right error frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("invalid json: %w", err)
	}
	return env, nil
}
