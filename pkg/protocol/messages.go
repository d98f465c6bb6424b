package protocol

import (
	"errors"
	"fmt"
)

// Request actions (client → server).
const (
	ActionCheckUsername   = "check_username"
	ActionRegister        = "register"
	ActionLogin           = "login"
	ActionLoadChat        = "load_chat"
	ActionSendMessage     = "send_message"
	ActionDeleteMessage   = "delete_message"
	ActionDeleteAccount   = "delete_account"
	ActionListUndelivered = "list_undelivered"
	ActionPing            = "ping"
	ActionPingUser        = "ping_user"
)

// Push kinds (server → client, unrequested).
const (
	PushNewMessage  = "new_message"
	PushUserAdded   = "user_added"
	PushUserRemoved = "user_removed"
	PushPresence    = "presence"
)

// Error codes, grouped by range.
const (
	// Protocol errors (1xxx)
	ErrCodeInvalidFormat     = 1000
	ErrCodeUnsupportedAction = 1001

	// Authentication errors (2xxx)
	ErrCodeAuthRequired = 2000

	// Authorization errors (3xxx)
	ErrCodePermissionDenied = 3000

	// Resource errors (4xxx)
	ErrCodeUserNotFound    = 4000
	ErrCodeMessageNotFound = 4001

	// Validation errors (6xxx)
	ErrCodeUsernameTaken      = 6000
	ErrCodePasswordMismatch   = 6001
	ErrCodeInvalidCredentials = 6002
	ErrCodeInvalidUsername    = 6003
	ErrCodeMessageTooLong     = 6004

	// Server errors (9xxx)
	ErrCodeInternalError = 9000
	ErrCodeStoreError    = 9001
)

var ErrMissingField = errors.New("missing or mistyped field")

// ChatMessage is one stored message as it travels on the wire.
type ChatMessage struct {
	ID        int64
	Sender    string
	Recipient string
	Body      string
	Timestamp int64 // unix milliseconds, assigned by the server
	Delivered bool
}

// EncodeValue converts the message to its wire shape.
func (m ChatMessage) EncodeValue() Value {
	return M(map[string]Value{
		"message_id": I(m.ID),
		"sender":     S(m.Sender),
		"recipient":  S(m.Recipient),
		"body":       S(m.Body),
		"timestamp":  I(m.Timestamp),
		"delivered":  B(m.Delivered),
	})
}

// DecodeChatMessage parses a wire map back into a ChatMessage.
func DecodeChatMessage(v Value) (ChatMessage, error) {
	var m ChatMessage
	var ok bool
	if m.ID, ok = v.GetInt("message_id"); !ok {
		return m, fmt.Errorf("%w: message_id", ErrMissingField)
	}
	if m.Sender, ok = v.GetString("sender"); !ok {
		return m, fmt.Errorf("%w: sender", ErrMissingField)
	}
	if m.Recipient, ok = v.GetString("recipient"); !ok {
		return m, fmt.Errorf("%w: recipient", ErrMissingField)
	}
	if m.Body, ok = v.GetString("body"); !ok {
		return m, fmt.Errorf("%w: body", ErrMissingField)
	}
	if m.Timestamp, ok = v.GetInt("timestamp"); !ok {
		return m, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	m.Delivered, _ = v.GetBool("delivered")
	return m, nil
}

// Request types. Each encodes to a map with an "action" discriminator.

type CheckUsernameRequest struct {
	Username string
}

type RegisterRequest struct {
	Username string
	Password string
	Confirm  string
}

type LoginRequest struct {
	Username string
	Password string
}

type LoadChatRequest struct {
	Peer string
}

type SendMessageRequest struct {
	Recipient string
	Body      string
}

type DeleteMessageRequest struct {
	MessageID int64
}

type DeleteAccountRequest struct{}

type ListUndeliveredRequest struct {
	Limit int64
}

type PingRequest struct {
	Username string // target identity
}

type PingUserRequest struct {
	Username string // target identity
	Subject  string // identity the notice is about
	Event    string // PushUserAdded or PushUserRemoved
}

func (r CheckUsernameRequest) EncodeValue() Value {
	return M(map[string]Value{"action": S(ActionCheckUsername), "username": S(r.Username)})
}

func (r RegisterRequest) EncodeValue() Value {
	return M(map[string]Value{
		"action":   S(ActionRegister),
		"username": S(r.Username),
		"password": S(r.Password),
		"confirm":  S(r.Confirm),
	})
}

func (r LoginRequest) EncodeValue() Value {
	return M(map[string]Value{
		"action":   S(ActionLogin),
		"username": S(r.Username),
		"password": S(r.Password),
	})
}

func (r LoadChatRequest) EncodeValue() Value {
	return M(map[string]Value{"action": S(ActionLoadChat), "peer": S(r.Peer)})
}

func (r SendMessageRequest) EncodeValue() Value {
	return M(map[string]Value{
		"action":    S(ActionSendMessage),
		"recipient": S(r.Recipient),
		"body":      S(r.Body),
	})
}

func (r DeleteMessageRequest) EncodeValue() Value {
	return M(map[string]Value{"action": S(ActionDeleteMessage), "message_id": I(r.MessageID)})
}

func (r DeleteAccountRequest) EncodeValue() Value {
	return M(map[string]Value{"action": S(ActionDeleteAccount)})
}

func (r ListUndeliveredRequest) EncodeValue() Value {
	return M(map[string]Value{"action": S(ActionListUndelivered), "limit": I(r.Limit)})
}

func (r PingRequest) EncodeValue() Value {
	return M(map[string]Value{"action": S(ActionPing), "username": S(r.Username)})
}

func (r PingUserRequest) EncodeValue() Value {
	return M(map[string]Value{
		"action":   S(ActionPingUser),
		"username": S(r.Username),
		"subject":  S(r.Subject),
		"event":    S(r.Event),
	})
}

// DecodeRequest parses an inbound wire value into one of the typed request
// structs. The returned value is one of the *Request types above.
func DecodeRequest(v Value) (interface{}, error) {
	action, ok := v.GetString("action")
	if !ok {
		return nil, fmt.Errorf("%w: action", ErrMissingField)
	}

	str := func(key string) (string, error) {
		s, ok := v.GetString(key)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingField, key)
		}
		return s, nil
	}

	switch action {
	case ActionCheckUsername:
		username, err := str("username")
		if err != nil {
			return nil, err
		}
		return CheckUsernameRequest{Username: username}, nil
	case ActionRegister:
		username, err := str("username")
		if err != nil {
			return nil, err
		}
		password, err := str("password")
		if err != nil {
			return nil, err
		}
		confirm, err := str("confirm")
		if err != nil {
			return nil, err
		}
		return RegisterRequest{Username: username, Password: password, Confirm: confirm}, nil
	case ActionLogin:
		username, err := str("username")
		if err != nil {
			return nil, err
		}
		password, err := str("password")
		if err != nil {
			return nil, err
		}
		return LoginRequest{Username: username, Password: password}, nil
	case ActionLoadChat:
		peer, err := str("peer")
		if err != nil {
			return nil, err
		}
		return LoadChatRequest{Peer: peer}, nil
	case ActionSendMessage:
		recipient, err := str("recipient")
		if err != nil {
			return nil, err
		}
		body, err := str("body")
		if err != nil {
			return nil, err
		}
		return SendMessageRequest{Recipient: recipient, Body: body}, nil
	case ActionDeleteMessage:
		id, ok := v.GetInt("message_id")
		if !ok {
			return nil, fmt.Errorf("%w: message_id", ErrMissingField)
		}
		return DeleteMessageRequest{MessageID: id}, nil
	case ActionDeleteAccount:
		return DeleteAccountRequest{}, nil
	case ActionListUndelivered:
		limit, ok := v.GetInt("limit")
		if !ok {
			return nil, fmt.Errorf("%w: limit", ErrMissingField)
		}
		return ListUndeliveredRequest{Limit: limit}, nil
	case ActionPing:
		username, err := str("username")
		if err != nil {
			return nil, err
		}
		return PingRequest{Username: username}, nil
	case ActionPingUser:
		username, err := str("username")
		if err != nil {
			return nil, err
		}
		subject, err := str("subject")
		if err != nil {
			return nil, err
		}
		event, err := str("event")
		if err != nil {
			return nil, err
		}
		return PingUserRequest{Username: username, Subject: subject, Event: event}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// Response is the server's reply to one request. Payload fields are only
// meaningful for the action the response answers.
type Response struct {
	Action    string
	Result    bool
	ErrorCode int64  // 0 on success
	Error     string // human-readable failure reason

	Exists      bool          // check_username
	Users       []string      // register, login
	Undelivered int64         // login
	MessageID   int64         // send_message
	Messages    []ChatMessage // load_chat, list_undelivered
}

// Fail builds a failure response for an action.
func Fail(action string, code int64, reason string) Response {
	return Response{Action: action, ErrorCode: code, Error: reason}
}

func (r Response) EncodeValue() Value {
	fields := map[string]Value{
		"action": S(r.Action),
		"result": B(r.Result),
	}
	if r.ErrorCode != 0 {
		fields["error_code"] = I(r.ErrorCode)
		fields["error"] = S(r.Error)
	}

	switch r.Action {
	case ActionCheckUsername:
		fields["exists"] = B(r.Exists)
	case ActionRegister:
		fields["users"] = StringList(r.Users)
	case ActionLogin:
		fields["users"] = StringList(r.Users)
		fields["n_undelivered"] = I(r.Undelivered)
	case ActionSendMessage:
		fields["message_id"] = I(r.MessageID)
	case ActionLoadChat, ActionListUndelivered:
		list := make([]Value, len(r.Messages))
		for i, m := range r.Messages {
			list[i] = m.EncodeValue()
		}
		fields["messages"] = L(list...)
	}
	return M(fields)
}

// DecodeResponse parses a server reply.
func DecodeResponse(v Value) (Response, error) {
	var r Response
	var ok bool
	if r.Action, ok = v.GetString("action"); !ok {
		return r, fmt.Errorf("%w: action", ErrMissingField)
	}
	if r.Result, ok = v.GetBool("result"); !ok {
		return r, fmt.Errorf("%w: result", ErrMissingField)
	}
	r.ErrorCode, _ = v.GetInt("error_code")
	r.Error, _ = v.GetString("error")
	r.Exists, _ = v.GetBool("exists")
	r.Undelivered, _ = v.GetInt("n_undelivered")
	r.MessageID, _ = v.GetInt("message_id")

	if users, ok := v.GetList("users"); ok {
		r.Users = make([]string, 0, len(users))
		for _, item := range users {
			if item.Kind != KindString {
				return r, fmt.Errorf("%w: users entry", ErrMissingField)
			}
			r.Users = append(r.Users, item.Str)
		}
	}
	if messages, ok := v.GetList("messages"); ok {
		r.Messages = make([]ChatMessage, 0, len(messages))
		for _, item := range messages {
			m, err := DecodeChatMessage(item)
			if err != nil {
				return r, err
			}
			r.Messages = append(r.Messages, m)
		}
	}
	return r, nil
}

// Push is a server-initiated notification delivered to a session that did
// not request it.
type Push struct {
	Kind     string
	Message  *ChatMessage // PushNewMessage
	Username string       // PushUserAdded, PushUserRemoved, PushPresence (originator)
}

func (p Push) EncodeValue() Value {
	fields := map[string]Value{"action": S(p.Kind)}
	switch p.Kind {
	case PushNewMessage:
		if p.Message != nil {
			fields["message"] = p.Message.EncodeValue()
		}
	default:
		fields["username"] = S(p.Username)
	}
	return M(fields)
}

// DecodePush parses a push notification.
func DecodePush(v Value) (Push, error) {
	var p Push
	var ok bool
	if p.Kind, ok = v.GetString("action"); !ok {
		return p, fmt.Errorf("%w: action", ErrMissingField)
	}
	switch p.Kind {
	case PushNewMessage:
		mv, ok := v.GetMap("message")
		if !ok {
			return p, fmt.Errorf("%w: message", ErrMissingField)
		}
		m, err := DecodeChatMessage(mv)
		if err != nil {
			return p, err
		}
		p.Message = &m
	case PushUserAdded, PushUserRemoved, PushPresence:
		if p.Username, ok = v.GetString("username"); !ok {
			return p, fmt.Errorf("%w: username", ErrMissingField)
		}
	default:
		return p, fmt.Errorf("unknown push kind %q", p.Kind)
	}
	return p, nil
}

// IsPush reports whether a decoded inbound value is a push notification
// rather than a response. Push kinds and request actions are disjoint sets.
func IsPush(v Value) bool {
	action, ok := v.GetString("action")
	if !ok {
		return false
	}
	switch action {
	case PushNewMessage, PushUserAdded, PushUserRemoved, PushPresence:
		return true
	default:
		return false
	}
}
