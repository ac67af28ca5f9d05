package ws

import "encoding/json"

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Request methods and event names.
const (
	MethodConnect = "connect"
	MethodCommand = "command"

	EventChallenge = "connect.challenge"
	EventReply     = "reply"
)

// Protocol version supported by this server.
const ProtocolVersion = 1

// Frame is the base envelope for all WebSocket messages.
// The Type field discriminates between request, response, and event frames.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	// Error (response only)
	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the standard error format in response frames.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectParams are sent by the client in the initial "connect" request.
// Client.ID becomes the sender identity of every command on the connection.
type ConnectParams struct {
	Protocol int          `json:"protocol"`
	Client   ClientInfo   `json:"client"`
	Auth     *ConnectAuth `json:"auth,omitempty"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// ConnectAuth carries the bot credential in the connect request.
type ConnectAuth struct {
	Token string `json:"token,omitempty"`
}

// HelloOK is the server's response payload after successful authentication.
type HelloOK struct {
	Protocol int        `json:"protocol"`
	Server   ServerInfo `json:"server"`
	Prefix   string     `json:"prefix"`
}

// ServerInfo identifies the server and the connection.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ConnID  string `json:"connId"`
}

// CommandParams carry one command. Either Command (with Args) or Text, a
// prefixed line such as "!execute uptime", must be set.
type CommandParams struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// CommandAck is the response payload for an accepted command frame. Replies
// to the command arrive later as "reply" events carrying the same ID.
type CommandAck struct {
	InvocationID string `json:"invocationId"`
}

// ReplyPayload is the payload of a "reply" event.
type ReplyPayload struct {
	InvocationID string `json:"invocationId,omitempty"`
	Body         string `json:"body"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      &ok,
		Payload: raw,
	}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id, code, message string) Frame {
	ok := false
	return Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: &ErrorShape{Code: code, Message: message},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
		Seq:     seq,
	}, nil
}
