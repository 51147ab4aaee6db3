// Package session terminates one websocket connection and runs the
// client-side protocol state machine.
//
// Two goroutines serve a connection: a read pump that turns frames
// into inbound messages, and a run loop that owns the session state.
// The run loop is the only writer of data frames; control frames go
// through WriteControl, which gorilla allows concurrently. Coordinator
// pushes arrive through a bounded mailbox so a slow client can never
// stall the coordinator.
package session

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"matchrelay/internal/config"
	"matchrelay/internal/game"
	"matchrelay/internal/protocol"
)

type state int

const (
	statePreLogin state = iota
	stateMatchMaking
	stateLobby
	statePrePlaying
	statePlaying
)

// gameEndPrefix is the reserved control escape inside the playing
// phase. Frames starting with it are parsed as end-of-game reports;
// everything else is relayed without parsing.
var gameEndPrefix = []byte(`{"type":"game_end"`)

// push is one coordinator delivery: either a typed event or a
// pre-serialized relay frame.
type push struct {
	ev  protocol.ServerEvent
	raw string
}

// outFrame is any outbound enveloped frame; the session stamps the
// next outbound id on it just before serialization.
type outFrame interface{ SetID(id uint64) }

// Session runs the protocol for one connected client.
type Session struct {
	conn  *websocket.Conn
	coord *game.Coordinator
	cfg   *config.ServerConfig
	log   *zap.Logger

	// Owned by the run loop.
	state        state
	playerID     protocol.ID
	prePlayingID uint64
	nextSendID   uint64
	relayQueue   []string

	inbound chan []byte
	pushes  chan push

	lastActivity atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an upgraded connection. Call Start to begin serving.
func New(conn *websocket.Conn, coord *game.Coordinator, cfg *config.ServerConfig, log *zap.Logger) *Session {
	return &Session{
		conn:    conn,
		coord:   coord,
		cfg:     cfg,
		log:     log.With(zap.String("conn", uuid.NewString())),
		inbound: make(chan []byte),
		pushes:  make(chan push, cfg.Server.EventQueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the read pump and the run loop.
func (s *Session) Start() {
	s.touch()
	s.conn.SetReadLimit(s.cfg.Server.MaxMessageSize)
	s.conn.SetPingHandler(func(payload string) error {
		s.touch()
		return s.conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(s.cfg.Server.WriteTimeout))
	})
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	go s.readPump()
	go s.run()
}

// close tears the connection down once; the run loop observes done and
// finishes the protocol-level teardown.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) sinceActivity() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// SendEvent implements game.Peer.
func (s *Session) SendEvent(ev protocol.ServerEvent) {
	s.push(push{ev: ev})
}

// SendRelayRaw implements game.Peer.
func (s *Session) SendRelayRaw(data string) {
	s.push(push{raw: data})
}

// push never blocks the coordinator: a session whose mailbox is full
// is a slow consumer and gets closed instead.
func (s *Session) push(p push) {
	select {
	case <-s.done:
	case s.pushes <- p:
	default:
		s.log.Warn("push mailbox overflow, closing session")
		s.close()
	}
}

func (s *Session) readPump() {
	defer s.close()
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.touch()
		select {
		case s.inbound <- data:
		case <-s.done:
			return
		}
	}
}

func (s *Session) run() {
	ticker := time.NewTicker(s.cfg.Server.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.close()
		// Past PreLogin the coordinator holds a record for us; the
		// disconnect is part of teardown, whatever killed the session.
		if s.state != statePreLogin {
			s.coord.Disconnect(s.playerID)
		}
	}()

	for {
		select {
		case data := <-s.inbound:
			s.handleFrame(data)
		case p := <-s.pushes:
			s.handlePush(p)
		case <-ticker.C:
			if s.sinceActivity() > s.cfg.Server.ClientTimeout {
				s.log.Info("client heartbeat timed out")
				return
			}
			s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.Server.WriteTimeout))
		case <-s.done:
			return
		}
	}
}

func (s *Session) allocateID() uint64 {
	id := s.nextSendID
	s.nextSendID++
	return id
}

// send stamps the next outbound id on the frame and writes it,
// returning the id.
func (s *Session) send(f outFrame) uint64 {
	id := s.allocateID()
	f.SetID(id)
	data, err := json.Marshal(f)
	if err != nil {
		s.log.Error("encoding outbound frame", zap.Error(err))
		s.close()
		return id
	}
	s.writeText(data)
	return id
}

func (s *Session) writeText(data []byte) {
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Server.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.close()
	}
}

// handlePush serves one coordinator delivery according to the current
// state.
func (s *Session) handlePush(p push) {
	if p.ev != nil {
		id := s.send(p.ev)
		if p.ev.EventType() == protocol.EventTypeRoomStart {
			s.state = statePrePlaying
			s.prePlayingID = id
			s.relayQueue = s.relayQueue[:0]
		}
		return
	}
	switch s.state {
	case statePrePlaying:
		if len(s.relayQueue) >= s.cfg.Server.RelayQueueMaxSize {
			s.log.Warn("client not acknowledging room start, relay queue full, kicking",
				zap.String("player", s.playerID.String()))
			s.close()
			return
		}
		s.relayQueue = append(s.relayQueue, p.raw)
	case statePlaying:
		s.writeText([]byte(p.raw))
	default:
		// Relay traffic for a session no longer in a game; drop.
	}
}

func (s *Session) handleFrame(data []byte) {
	if s.state == statePlaying {
		if bytes.HasPrefix(data, gameEndPrefix) {
			s.handleGameEnd(data)
			return
		}
		s.coord.SendRelayMex(s.playerID, string(data))
		return
	}

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.send(protocol.ErrorFrom("Invalid Json", ""))
		return
	}
	if env.ID == nil {
		s.send(protocol.ErrorFrom("Id missing", ""))
		return
	}
	id := *env.ID

	switch s.state {
	case statePreLogin:
		s.handlePreLogin(id, env.Type, data)
	case stateMatchMaking:
		s.handleMatchMaking(id, env.Type, data)
	case stateLobby:
		s.handleLobby(id, env.Type, data)
	case statePrePlaying:
		s.handlePrePlaying(id, env.Type, data)
	}
}

func (s *Session) handlePreLogin(id uint64, mtype string, data []byte) {
	if mtype != protocol.MsgLogin {
		s.send(protocol.ErrorFromOrigin(id, "Login Required", ""))
		return
	}
	var m protocol.LoginMessage
	if err := json.Unmarshal(data, &m); err != nil {
		s.send(protocol.ErrorFromOrigin(id, "Invalid Json", err.Error()))
		return
	}
	playerID, err := s.coord.RegisterSession(nil, s, m.Details)
	if err != nil {
		s.close()
		return
	}
	s.playerID = playerID
	s.state = stateMatchMaking
	s.send(&protocol.LoginResponse{
		Response: protocol.OK(id, protocol.TypeLoginResponse),
		PlayerID: playerID,
	})
}

func (s *Session) handleMatchMaking(id uint64, mtype string, data []byte) {
	switch mtype {
	case protocol.MsgLogin:
		var m protocol.LoginMessage
		if err := json.Unmarshal(data, &m); err != nil {
			s.send(protocol.ErrorFromOrigin(id, "Invalid Json", err.Error()))
			return
		}
		playerID := s.playerID
		if _, err := s.coord.RegisterSession(&playerID, s, m.Details); err != nil {
			s.close()
			return
		}
		s.send(&protocol.LoginResponse{
			Response: protocol.OK(id, protocol.TypeLoginResponse),
			PlayerID: s.playerID,
		})

	case protocol.MsgRoomCreate:
		res, err := s.coord.CreateRoom(s.playerID)
		if err != nil {
			s.close()
			return
		}
		s.state = stateLobby
		s.send(&protocol.RoomCreateResponse{
			Response: protocol.OK(id, protocol.TypeRoomCreateResponse),
			Players:  []protocol.Player{res.Player},
			InviteID: res.RoomID,
		})

	case protocol.MsgRoomJoin:
		var m protocol.RoomJoinMessage
		if err := json.Unmarshal(data, &m); err != nil {
			s.send(protocol.ErrorFromOrigin(id, "Invalid Json", err.Error()))
			return
		}
		res, err := s.coord.JoinRoom(s.playerID, m.InviteID)
		if err != nil {
			s.close()
			return
		}
		switch res.Status {
		case game.JoinSuccess:
			s.state = stateLobby
			s.send(&protocol.RoomJoinResponse{
				Response: protocol.OK(id, protocol.TypeRoomJoinResponse),
				Players:  res.Players,
			})
		case game.JoinRoomNotFound:
			s.sendResult(id, protocol.TypeRoomJoinResponse, protocol.ResultRoomNotFound)
		case game.JoinRoomIsFull:
			s.sendResult(id, protocol.TypeRoomJoinResponse, protocol.ResultRoomIsFull)
		case game.JoinAlreadyPlaying:
			s.sendResult(id, protocol.TypeRoomJoinResponse, protocol.ResultAlreadyPlaying)
		}

	case protocol.MsgRoomFind:
		res, err := s.coord.FindRoom(s.playerID)
		if err != nil {
			s.close()
			return
		}
		if res.Status != game.FindSuccess {
			s.sendResult(id, protocol.TypeRoomFindResponse, "game_is_full")
			return
		}
		s.state = stateLobby
		s.send(&protocol.RoomFindResponse{
			Response:    protocol.OK(id, protocol.TypeRoomFindResponse),
			InviteID:    res.RoomID,
			Players:     res.Players,
			JustCreated: res.JustCreated,
		})

	default:
		s.send(protocol.ErrorFromOrigin(id, "Invalid message type", ""))
	}
}

func (s *Session) handleLobby(id uint64, mtype string, data []byte) {
	switch mtype {
	case protocol.MsgChangeAvatar:
		var m protocol.ChangeAvatarMessage
		if err := json.Unmarshal(data, &m); err != nil {
			s.send(protocol.ErrorFromOrigin(id, "Invalid Json", err.Error()))
			return
		}
		s.coord.EditCosmetics(s.playerID, m.Cosmetics)

	case protocol.MsgRoomLeave:
		s.coord.LeaveRoom(s.playerID)
		s.state = stateMatchMaking
		resp := protocol.OK(id, protocol.TypeRoomLeaveResponse)
		s.send(&resp)

	case protocol.MsgRoomStart:
		var m protocol.RoomStartMessage
		if err := json.Unmarshal(data, &m); err != nil || !m.ConnectionType.Valid() {
			s.send(protocol.ErrorFromOrigin(id, "Invalid Json", "unknown connection type"))
			return
		}
		s.coord.StartRoom(s.playerID, m.ConnectionType)

	case protocol.MsgRoomStartAck:
		s.send(protocol.ErrorFromOrigin(id, "Invalid state", "No message to acknowledge"))

	default:
		s.send(protocol.ErrorFromOrigin(id, "Invalid message type", ""))
	}
}

func (s *Session) handlePrePlaying(id uint64, mtype string, data []byte) {
	if mtype != protocol.MsgRoomStartAck {
		s.send(protocol.ErrorFromOrigin(id, "Invalid message type", ""))
		return
	}
	var m protocol.RoomStartAckMessage
	if err := json.Unmarshal(data, &m); err != nil {
		s.send(protocol.ErrorFromOrigin(id, "Invalid Json", err.Error()))
		return
	}
	if m.RequestID != s.prePlayingID {
		s.send(protocol.ErrorFromOrigin(id, "Invalid request_id", ""))
		return
	}
	s.state = statePlaying
	for _, raw := range s.relayQueue {
		s.writeText([]byte(raw))
	}
	s.relayQueue = nil
}

// handleGameEnd serves the reserved end-of-game escape inside the
// playing phase.
func (s *Session) handleGameEnd(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.send(protocol.ErrorFrom("Invalid Json", ""))
		return
	}
	if env.ID == nil {
		s.send(protocol.ErrorFrom("Id missing", ""))
		return
	}
	players, gerr := s.coord.GameEnd(s.playerID)
	if gerr != nil {
		s.close()
		return
	}
	if players == nil {
		s.send(protocol.ErrorFromOrigin(*env.ID, "Invalid state", "No game running"))
		return
	}
	s.state = stateLobby
	s.send(&protocol.GameEndResponse{
		Response: protocol.OK(*env.ID, protocol.TypeGameEndResponse),
		Players:  players,
	})
}

// sendResult answers a request with a bare result-coded response.
func (s *Session) sendResult(requestID uint64, ptype, result string) {
	resp := protocol.Failed(requestID, ptype, result)
	s.send(&resp)
}
