package protocol

// Response type tags.
const (
	TypeLoginResponse      = "login_response"
	TypeRoomCreateResponse = "room_create_response"
	TypeRoomJoinResponse   = "room_join_response"
	TypeRoomFindResponse   = "room_find_response"
	TypeRoomLeaveResponse  = "room_leave_response"
	TypeGameEndResponse    = "game_end_response"
	TypeError              = "error"
)

// Response is the common head of every typed reply to a client
// request. ID is the outbound frame id, RequestID echoes the inbound
// id that triggered the reply.
type Response struct {
	ID        uint64 `json:"id"`
	Type      string `json:"type"`
	RequestID uint64 `json:"requestId"`
	Result    string `json:"result,omitempty"`
}

// SetID assigns the outbound frame id.
func (r *Response) SetID(id uint64) { r.ID = id }

// OK builds a successful response head of the given type.
func OK(requestID uint64, ptype string) Response {
	return Response{Type: ptype, RequestID: requestID, Result: ResultOK}
}

// Failed builds a response head carrying a semantic error code.
func Failed(requestID uint64, ptype, result string) Response {
	return Response{Type: ptype, RequestID: requestID, Result: result}
}

type LoginResponse struct {
	Response
	PlayerID ID `json:"playerId"`
}

type RoomCreateResponse struct {
	Response
	Players  []Player `json:"players"`
	InviteID ID       `json:"inviteId"`
}

type RoomJoinResponse struct {
	Response
	Players []Player `json:"players"`
}

type RoomFindResponse struct {
	Response
	InviteID    ID       `json:"inviteId"`
	Players     []Player `json:"players"`
	JustCreated bool     `json:"justCreated"`
}

type GameEndResponse struct {
	Response
	Players []Player `json:"players"`
}

// ErrorFrame reports a protocol-level error back to the client. The
// origin id is present when the offending message carried one.
type ErrorFrame struct {
	ID           uint64  `json:"id"`
	Type         string  `json:"type"`
	OriginID     *uint64 `json:"originId,omitempty"`
	Error        string  `json:"error"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// SetID assigns the outbound frame id.
func (e *ErrorFrame) SetID(id uint64) { e.ID = id }

// ErrorFrom builds an error frame with no origin, used when the
// offending message could not be attributed to a request id.
func ErrorFrom(text, detail string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, Error: text, ErrorMessage: detail}
}

// ErrorFromOrigin builds an error frame attributed to an inbound id.
func ErrorFromOrigin(originID uint64, text, detail string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, OriginID: &originID, Error: text, ErrorMessage: detail}
}
