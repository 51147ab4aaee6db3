package game

import (
	"errors"

	"matchrelay/internal/protocol"
)

// ErrClosed is returned by awaiting requests when the coordinator has
// shut down. Sessions treat it as unrecoverable and close.
var ErrClosed = errors.New("coordinator closed")

// request is one unit of work for the coordinator goroutine. Requests
// are applied strictly sequentially; handlers own the registries for
// the duration of one request.
type request interface{ apply(c *Coordinator) }

type registerSessionReq struct {
	id    *protocol.ID
	peer  Peer
	login protocol.LoginDetails
	reply chan protocol.ID
}

type disconnectReq struct {
	id protocol.ID
}

type editCosmeticsReq struct {
	id        protocol.ID
	cosmetics protocol.Cosmetics
}

type createRoomReq struct {
	id    protocol.ID
	reply chan CreateRoomResult
}

// CreateRoomResult is the reply to CreateRoom: the fresh room id and
// the caller's record, now host of the room.
type CreateRoomResult struct {
	RoomID protocol.ID
	Player protocol.Player
}

type findRoomReq struct {
	id    protocol.ID
	reply chan FindRoomResult
}

// FindRoomStatus discriminates FindRoom outcomes. StatusGameIsFull is
// reserved: no code path currently produces it.
type FindRoomStatus int

const (
	FindSuccess FindRoomStatus = iota
	FindGameIsFull
)

// FindRoomResult is the reply to FindRoom. Players is the member list
// after the caller's insertion; JustCreated is set when no open public
// room existed and a new one was made.
type FindRoomResult struct {
	Status      FindRoomStatus
	RoomID      protocol.ID
	Players     []protocol.Player
	JustCreated bool
}

type joinRoomReq struct {
	id     protocol.ID
	roomID protocol.ID
	reply  chan JoinRoomResult
}

// JoinRoomStatus discriminates JoinRoom outcomes.
type JoinRoomStatus int

const (
	JoinSuccess JoinRoomStatus = iota
	JoinRoomNotFound
	JoinRoomIsFull
	JoinAlreadyPlaying
)

// JoinRoomResult is the reply to JoinRoom. Players is populated only
// on success and holds the post-join member list.
type JoinRoomResult struct {
	Status  JoinRoomStatus
	Players []protocol.Player
}

type leaveRoomReq struct {
	id protocol.ID
}

type startRoomReq struct {
	id       protocol.ID
	connType protocol.ConnectionType
}

// startRoomTimerReq is enqueued by a countdown expiring or by a room
// filling up; it targets the room directly instead of resolving a
// player.
type startRoomTimerReq struct {
	roomID protocol.ID
}

type sendRelayMexReq struct {
	senderID protocol.ID
	data     string
}

type gameEndReq struct {
	id    protocol.ID
	reply chan []protocol.Player
}

// inspectReq runs a closure inside the coordinator goroutine. Used by
// tests to observe registry state without racing the run loop.
type inspectReq struct {
	fn   func(c *Coordinator)
	done chan struct{}
}

// RegisterSession registers a new player, or re-registers an existing
// one when id is non-nil, and returns the player's id.
func (c *Coordinator) RegisterSession(id *protocol.ID, peer Peer, login protocol.LoginDetails) (protocol.ID, error) {
	reply := make(chan protocol.ID, 1)
	if err := c.submit(registerSessionReq{id: id, peer: peer, login: login, reply: reply}); err != nil {
		return 0, err
	}
	return await(c, reply)
}

// Disconnect removes the player and leaves its room, if any. Sent by
// sessions as part of teardown; fire-and-forget.
func (c *Coordinator) Disconnect(id protocol.ID) {
	c.post(disconnectReq{id: id})
}

// EditCosmetics updates the player's cosmetics and notifies the other
// room members. Fire-and-forget.
func (c *Coordinator) EditCosmetics(id protocol.ID, cosmetics protocol.Cosmetics) {
	c.post(editCosmeticsReq{id: id, cosmetics: cosmetics})
}

// CreateRoom creates a private room with the caller as sole member and
// host.
func (c *Coordinator) CreateRoom(id protocol.ID) (CreateRoomResult, error) {
	reply := make(chan CreateRoomResult, 1)
	if err := c.submit(createRoomReq{id: id, reply: reply}); err != nil {
		return CreateRoomResult{}, err
	}
	return await(c, reply)
}

// FindRoom joins the caller to an open public room, creating one when
// none has space.
func (c *Coordinator) FindRoom(id protocol.ID) (FindRoomResult, error) {
	reply := make(chan FindRoomResult, 1)
	if err := c.submit(findRoomReq{id: id, reply: reply}); err != nil {
		return FindRoomResult{}, err
	}
	return await(c, reply)
}

// JoinRoom joins the caller to a specific room by invite id.
func (c *Coordinator) JoinRoom(id, roomID protocol.ID) (JoinRoomResult, error) {
	reply := make(chan JoinRoomResult, 1)
	if err := c.submit(joinRoomReq{id: id, roomID: roomID, reply: reply}); err != nil {
		return JoinRoomResult{}, err
	}
	return await(c, reply)
}

// LeaveRoom removes the caller from its current room, if any.
// Fire-and-forget; leaving twice is a no-op.
func (c *Coordinator) LeaveRoom(id protocol.ID) {
	c.post(leaveRoomReq{id: id})
}

// StartRoom transitions the caller's room to the playing phase.
// Fire-and-forget; the outcome is observed through the room-start
// event broadcast.
func (c *Coordinator) StartRoom(id protocol.ID, connType protocol.ConnectionType) {
	c.post(startRoomReq{id: id, connType: connType})
}

// SendRelayMex fans an opaque in-game payload out to the sender's
// co-players. Fire-and-forget.
func (c *Coordinator) SendRelayMex(senderID protocol.ID, data string) {
	c.post(sendRelayMexReq{senderID: senderID, data: data})
}

// GameEnd reports the caller finished its game. Returns the current
// member list, or nil when the caller was not in a running game.
func (c *Coordinator) GameEnd(id protocol.ID) ([]protocol.Player, error) {
	reply := make(chan []protocol.Player, 1)
	if err := c.submit(gameEndReq{id: id, reply: reply}); err != nil {
		return nil, err
	}
	return await(c, reply)
}

func (c *Coordinator) submit(r request) error {
	select {
	case c.requests <- r:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post submits a fire-and-forget request, dropping it when the
// coordinator is gone.
func (c *Coordinator) post(r request) {
	select {
	case c.requests <- r:
	case <-c.done:
	}
}

// await blocks on a reply channel unless the coordinator shuts down
// first. Methods cannot be generic, hence the free function.
func await[T any](c *Coordinator, reply chan T) (T, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		var zero T
		return zero, ErrClosed
	}
}
