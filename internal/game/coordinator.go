// Package game implements the authoritative room/session coordinator.
//
// All mutable state — the player registry, the room registry and the
// public-room indices — is owned by a single goroutine reading a typed
// request inbox. Requests are applied strictly sequentially, so
// handlers can maintain cross-registry invariants without locking.
// Sessions talk to the coordinator through the methods in requests.go
// and receive pushes through their Peer mailbox.
package game

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchrelay/internal/config"
	"matchrelay/internal/protocol"
)

// Coordinator is the single-writer owner of all matchmaking state.
type Coordinator struct {
	cfg *config.ServerConfig
	log *zap.Logger

	requests chan request
	done     chan struct{}
	stop     sync.Once

	// Owned by the run goroutine.
	rng               *rand.Rand
	players           map[protocol.ID]*playerRecord
	rooms             map[protocol.ID]*roomRecord
	pubRooms          map[protocol.ID]struct{}
	pubRoomsAvailable map[protocol.ID]struct{}
}

// New creates a coordinator. Call Start to begin serving requests.
func New(cfg *config.ServerConfig, log *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:               cfg,
		log:               log,
		requests:          make(chan request),
		done:              make(chan struct{}),
		rng:               rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		players:           make(map[protocol.ID]*playerRecord),
		rooms:             make(map[protocol.ID]*roomRecord),
		pubRooms:          make(map[protocol.ID]struct{}),
		pubRoomsAvailable: make(map[protocol.ID]struct{}),
	}
}

// Start launches the run loop.
func (c *Coordinator) Start() {
	go c.run()
}

// Stop shuts the coordinator down. Pending awaiting requests unblock
// with ErrClosed; sessions close transitively.
func (c *Coordinator) Stop() {
	c.stop.Do(func() { close(c.done) })
}

func (c *Coordinator) run() {
	for {
		select {
		case r := <-c.requests:
			r.apply(c)
		case <-c.done:
			return
		}
	}
}

// mustPlayer resolves a player id that a session guarantees to exist.
// A miss means a session sent an id it never got from us; that is a
// bug, not an input error.
func (c *Coordinator) mustPlayer(id protocol.ID) *playerRecord {
	p, ok := c.players[id]
	if !ok {
		panic(fmt.Sprintf("game: unknown player id %d", id))
	}
	return p
}

// allocatePlayerID draws fresh ids until one misses the registry.
func (c *Coordinator) allocatePlayerID() protocol.ID {
	for {
		id := protocol.ID(c.rng.Uint64())
		if _, taken := c.players[id]; !taken {
			return id
		}
	}
}

// allocateRoom draws a fresh room id and inserts a matchmaking room
// with the host as its sole member.
func (c *Coordinator) allocateRoom(host protocol.ID) protocol.ID {
	for {
		id := protocol.ID(c.rng.Uint64())
		if _, taken := c.rooms[id]; taken {
			continue
		}
		c.rooms[id] = &roomRecord{
			state:   stateMatchmaking,
			players: map[protocol.ID]struct{}{host: {}},
		}
		return id
	}
}

// memberList snapshots the wire form of every player in the room.
func (c *Coordinator) memberList(roomID protocol.ID) []protocol.Player {
	r := c.rooms[roomID]
	players := make([]protocol.Player, 0, len(r.players))
	for id := range r.players {
		players = append(players, c.mustPlayer(id).player)
	}
	return players
}

// broadcastEvent pushes one fresh event instance per room member.
// skip, when non-zero-valued via pointer, excludes one member.
func (c *Coordinator) broadcastEvent(roomID protocol.ID, skip *protocol.ID, mk func() protocol.ServerEvent) {
	r, ok := c.rooms[roomID]
	if !ok {
		return
	}
	for id := range r.players {
		if skip != nil && id == *skip {
			continue
		}
		if p, ok := c.players[id]; ok {
			p.peer.SendEvent(mk())
		}
	}
}

// syncAvailability enforces the availability invariant for one room:
// a public room is open to matchmaking iff it is in the matchmaking
// state with a free slot.
func (c *Coordinator) syncAvailability(roomID protocol.ID) {
	r, exists := c.rooms[roomID]
	if !exists {
		delete(c.pubRoomsAvailable, roomID)
		return
	}
	if _, pub := c.pubRooms[roomID]; !pub {
		return
	}
	if r.state == stateMatchmaking && len(r.players) < c.cfg.Server.MaxPlayersPerRoom {
		c.pubRoomsAvailable[roomID] = struct{}{}
	} else {
		delete(c.pubRoomsAvailable, roomID)
	}
}

func (c *Coordinator) cancelCountdown(r *roomRecord) {
	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}
}

// scheduleCountdown arms the auto-start timer. Expiry re-enters the
// coordinator through the request inbox, so the handler runs with the
// same exclusivity as any other request.
func (c *Coordinator) scheduleCountdown(roomID protocol.ID, r *roomRecord) {
	r.countdown = time.AfterFunc(c.cfg.Server.RoomCountdown, func() {
		c.post(startRoomTimerReq{roomID: roomID})
	})
}

// leaveRoomIfAny detaches the player from its room, promoting a new
// host, adjusting the countdown and availability, and notifying the
// remaining members. Safe to call when the player has no room.
func (c *Coordinator) leaveRoomIfAny(playerID protocol.ID) {
	p, ok := c.players[playerID]
	if !ok || p.room == nil {
		return
	}
	roomID := *p.room
	r, ok := c.rooms[roomID]
	if !ok {
		panic(fmt.Sprintf("game: player %d references missing room %d", playerID, roomID))
	}

	delete(r.players, playerID)
	if p.inGame {
		p.inGame = false
		r.inGameCount--
	}
	wasHost := p.player.IsHost
	p.room = nil
	p.player.IsHost = false

	if len(r.players) == 0 {
		c.cancelCountdown(r)
		delete(c.rooms, roomID)
		delete(c.pubRooms, roomID)
		delete(c.pubRoomsAvailable, roomID)
		return
	}

	var newHost *protocol.ID
	if wasHost {
		for id := range r.players {
			h := c.mustPlayer(id)
			h.player.IsHost = true
			hid := id
			newHost = &hid
			break
		}
	}

	if len(r.players) < c.cfg.Server.MinPlayersPerRoom {
		c.cancelCountdown(r)
	}
	c.syncAvailability(roomID)

	// In-game members get the relay variant so it queues behind any
	// buffered game traffic; everyone else gets the typed event.
	raw, err := json.Marshal(relayPlayerLeft{Sender: playerID, Type: "player_left", NewHost: newHost})
	if err != nil {
		panic(fmt.Sprintf("game: encoding player_left relay: %v", err))
	}
	for id := range r.players {
		m, ok := c.players[id]
		if !ok {
			continue
		}
		if m.inGame {
			m.peer.SendRelayRaw(string(raw))
		} else {
			m.peer.SendEvent(protocol.NewPlayerLeftEvent(playerID, newHost))
		}
	}
}

// addToRoom inserts a player into a matchmaking room and performs the
// join side effects: joined broadcast, countdown arming and the
// availability update of a room that filled up. Callers have validated
// the room.
func (c *Coordinator) addToRoom(playerID, roomID protocol.ID) {
	r := c.rooms[roomID]
	p := c.mustPlayer(playerID)

	r.players[playerID] = struct{}{}
	rid := roomID
	p.room = &rid

	joined := p.player
	c.broadcastEvent(roomID, nil, func() protocol.ServerEvent {
		return protocol.NewPlayerJoinedEvent(joined)
	})

	switch n := len(r.players); {
	case n >= c.cfg.Server.MaxPlayersPerRoom:
		// The countdown handle must not outlive a full room, and a
		// full room leaves matchmaking availability. The game itself
		// starts only by host request or countdown expiry.
		c.cancelCountdown(r)
		c.syncAvailability(roomID)
	case n == c.cfg.Server.MinPlayersPerRoom:
		if r.countdown == nil {
			c.scheduleCountdown(roomID, r)
		}
	}
}

// startRoom transitions a room to the playing phase, sweeping out
// stragglers from a previous game and announcing the start to every
// member.
func (c *Coordinator) startRoom(roomID protocol.ID, connType protocol.ConnectionType) {
	r, ok := c.rooms[roomID]
	if !ok {
		return
	}
	c.cancelCountdown(r)
	defer c.syncAvailability(roomID)

	if r.state != stateMatchmaking || len(r.players) < 2 {
		return
	}
	r.state = statePlaying

	if r.inGameCount > 0 {
		var stale []protocol.ID
		for id := range r.players {
			if c.mustPlayer(id).inGame {
				stale = append(stale, id)
			}
		}
		for _, id := range stale {
			c.leaveRoomIfAny(id)
		}
		if r, ok = c.rooms[roomID]; !ok {
			return
		}
	}

	broadcastID := strconv.FormatUint(uint64(roomID), 10)
	for id := range r.players {
		p := c.mustPlayer(id)
		p.peer.SendEvent(protocol.NewRoomStartEvent(connType, broadcastID))
		p.inGame = true
	}
	r.inGameCount = len(r.players)

	c.log.Info("room started",
		zap.String("room", roomID.String()),
		zap.Int("players", len(r.players)))
}

func (r registerSessionReq) apply(c *Coordinator) {
	if r.id != nil {
		p := c.mustPlayer(*r.id)
		if p.room == nil {
			p.player.Username = r.login.Username
			p.player.Cosmetics = r.login.Cosmetics
		}
		r.reply <- *r.id
		return
	}
	id := c.allocatePlayerID()
	c.players[id] = &playerRecord{
		peer: r.peer,
		player: protocol.Player{
			ID:        id,
			Username:  r.login.Username,
			Cosmetics: r.login.Cosmetics,
		},
	}
	c.log.Info("player registered", zap.String("player", id.String()), zap.String("username", r.login.Username))
	r.reply <- id
}

func (r disconnectReq) apply(c *Coordinator) {
	c.leaveRoomIfAny(r.id)
	delete(c.players, r.id)
	c.log.Info("player disconnected", zap.String("player", r.id.String()))
}

func (r editCosmeticsReq) apply(c *Coordinator) {
	p := c.mustPlayer(r.id)
	if p.player.Cosmetics == r.cosmetics {
		return
	}
	p.player.Cosmetics = r.cosmetics
	if p.room == nil {
		return
	}
	skip := r.id
	c.broadcastEvent(*p.room, &skip, func() protocol.ServerEvent {
		return protocol.NewPlayerAvatarChangeEvent(r.id, r.cosmetics)
	})
}

func (r createRoomReq) apply(c *Coordinator) {
	c.leaveRoomIfAny(r.id)
	roomID := c.allocateRoom(r.id)
	p := c.mustPlayer(r.id)
	rid := roomID
	p.room = &rid
	p.player.IsHost = true
	c.log.Info("room created", zap.String("room", roomID.String()), zap.String("host", r.id.String()))
	r.reply <- CreateRoomResult{RoomID: roomID, Player: p.player}
}

func (r findRoomReq) apply(c *Coordinator) {
	c.leaveRoomIfAny(r.id)

	for roomID := range c.pubRoomsAvailable {
		c.addToRoom(r.id, roomID)
		r.reply <- FindRoomResult{
			Status:  FindSuccess,
			RoomID:  roomID,
			Players: c.memberList(roomID),
		}
		return
	}

	roomID := c.allocateRoom(r.id)
	p := c.mustPlayer(r.id)
	rid := roomID
	p.room = &rid
	p.player.IsHost = true
	c.pubRooms[roomID] = struct{}{}
	c.pubRoomsAvailable[roomID] = struct{}{}
	c.log.Info("public room created", zap.String("room", roomID.String()), zap.String("host", r.id.String()))
	r.reply <- FindRoomResult{
		Status:      FindSuccess,
		RoomID:      roomID,
		Players:     []protocol.Player{p.player},
		JustCreated: true,
	}
}

func (r joinRoomReq) apply(c *Coordinator) {
	c.leaveRoomIfAny(r.id)

	room, ok := c.rooms[r.roomID]
	if !ok {
		r.reply <- JoinRoomResult{Status: JoinRoomNotFound}
		return
	}
	if room.state != stateMatchmaking {
		r.reply <- JoinRoomResult{Status: JoinAlreadyPlaying}
		return
	}
	if len(room.players) >= c.cfg.Server.MaxPlayersPerRoom {
		r.reply <- JoinRoomResult{Status: JoinRoomIsFull}
		return
	}

	c.addToRoom(r.id, r.roomID)
	r.reply <- JoinRoomResult{Status: JoinSuccess, Players: c.memberList(r.roomID)}
}

func (r leaveRoomReq) apply(c *Coordinator) {
	c.leaveRoomIfAny(r.id)
}

func (r startRoomReq) apply(c *Coordinator) {
	p, ok := c.players[r.id]
	if !ok || p.room == nil {
		return
	}
	c.startRoom(*p.room, r.connType)
}

func (r startRoomTimerReq) apply(c *Coordinator) {
	c.startRoom(r.roomID, protocol.ConnServerBroadcast)
}

func (r sendRelayMexReq) apply(c *Coordinator) {
	if len(r.data) == 0 || r.data[0] != '{' {
		return
	}
	p := c.mustPlayer(r.senderID)
	if p.room == nil {
		return
	}
	room, ok := c.rooms[*p.room]
	if !ok {
		return
	}
	// The payload's leading brace is replaced by the sender prefix so
	// recipients learn who sent it without a second parse server-side.
	raw := `{"sender":"` + r.senderID.String() + `",` + r.data[1:]
	for id := range room.players {
		if id == r.senderID {
			continue
		}
		if m, ok := c.players[id]; ok && m.inGame {
			m.peer.SendRelayRaw(raw)
		}
	}
}

func (r gameEndReq) apply(c *Coordinator) {
	p := c.mustPlayer(r.id)
	if p.room == nil || !p.inGame {
		r.reply <- nil
		return
	}
	roomID := *p.room
	room := c.rooms[roomID]
	room.state = stateMatchmaking
	p.inGame = false
	room.inGameCount--
	c.syncAvailability(roomID)
	r.reply <- c.memberList(roomID)
}

func (r inspectReq) apply(c *Coordinator) {
	r.fn(c)
	close(r.done)
}
