package server

import (
	"errors"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"boltchat/pkg/protocol"
	"boltchat/pkg/store"
)

const maxUsernameLen = 32

// dispatch routes one decoded request to its handler. Malformed requests
// get an error response but keep the connection; only frame and codec
// failures are fatal, and those never reach this point.
func (srv *Server) dispatch(s *Session, v protocol.Value) {
	action, _ := v.GetString("action")
	if action == "" {
		action = "unknown"
	}
	srv.metrics.RecordRequest(action)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler panic on %q from session %d: %v", action, s.ID, r)
			srv.respond(s, protocol.Fail(action, protocol.ErrCodeInternalError, "internal error"))
		}
	}()

	req, err := protocol.DecodeRequest(v)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingField) {
			srv.respond(s, protocol.Fail(action, protocol.ErrCodeInvalidFormat, err.Error()))
		} else {
			srv.respond(s, protocol.Fail(action, protocol.ErrCodeUnsupportedAction, err.Error()))
		}
		return
	}

	switch r := req.(type) {
	case protocol.CheckUsernameRequest:
		srv.respond(s, srv.handleCheckUsername(r))
	case protocol.RegisterRequest:
		srv.respond(s, srv.handleRegister(s, r))
	case protocol.LoginRequest:
		srv.respond(s, srv.handleLogin(s, r))
	default:
		if !s.Authenticated() {
			srv.respond(s, protocol.Fail(action, protocol.ErrCodeAuthRequired, "authentication required"))
			return
		}
		switch r := req.(type) {
		case protocol.LoadChatRequest:
			srv.respond(s, srv.handleLoadChat(s, r))
		case protocol.SendMessageRequest:
			srv.respond(s, srv.handleSendMessage(s, r))
		case protocol.DeleteMessageRequest:
			srv.respond(s, srv.handleDeleteMessage(s, r))
		case protocol.DeleteAccountRequest:
			srv.respond(s, srv.handleDeleteAccount(s))
		case protocol.ListUndeliveredRequest:
			srv.respond(s, srv.handleListUndelivered(s, r))
		case protocol.PingRequest:
			srv.respond(s, srv.handlePing(s, r))
		case protocol.PingUserRequest:
			srv.respond(s, srv.handlePingUser(s, r))
		}
	}
}

// respond enqueues r on the session's outbound queue. Because pushes share
// the same queue, the reply to the request that caused a push always leaves
// before the push does.
func (srv *Server) respond(s *Session, r protocol.Response) {
	if r.ErrorCode != 0 {
		srv.metrics.RecordRequestError(r.Action)
	}
	if err := s.Enqueue(r.EncodeValue()); err != nil {
		srv.debugf("response %s to session %d dropped: %v", r.Action, s.ID, err)
	}
}

func (srv *Server) handleCheckUsername(r protocol.CheckUsernameRequest) protocol.Response {
	exists, err := srv.store.IdentityExists(r.Username)
	if err != nil {
		return srv.storeFail(protocol.ActionCheckUsername, err)
	}
	return protocol.Response{Action: protocol.ActionCheckUsername, Result: true, Exists: exists}
}

func (srv *Server) handleRegister(s *Session, r protocol.RegisterRequest) protocol.Response {
	const action = protocol.ActionRegister
	if s.Authenticated() {
		return protocol.Fail(action, protocol.ErrCodePermissionDenied, "already authenticated")
	}
	if !validUsername(r.Username) {
		return protocol.Fail(action, protocol.ErrCodeInvalidUsername, "username must be 1-32 characters: letters, digits, _ or -")
	}
	if r.Password == "" {
		return protocol.Fail(action, protocol.ErrCodeInvalidCredentials, "password must not be empty")
	}
	if r.Password != r.Confirm {
		return protocol.Fail(action, protocol.ErrCodePasswordMismatch, "password and confirmation differ")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcrypt.DefaultCost)
	if err != nil {
		return protocol.Fail(action, protocol.ErrCodeInternalError, "credential hashing failed")
	}
	if err := srv.store.CreateIdentity(r.Username, string(hash)); err != nil {
		if errors.Is(err, store.ErrIdentityExists) {
			return protocol.Fail(action, protocol.ErrCodeUsernameTaken, "username already registered")
		}
		return srv.storeFail(action, err)
	}

	others, err := srv.otherIdentities(r.Username)
	if err != nil {
		return srv.storeFail(action, err)
	}

	srv.bindSession(s, r.Username)
	srv.broadcast(protocol.Push{Kind: protocol.PushUserAdded, Username: r.Username}, r.Username)
	return protocol.Response{Action: action, Result: true, Users: others}
}

func (srv *Server) handleLogin(s *Session, r protocol.LoginRequest) protocol.Response {
	const action = protocol.ActionLogin
	if s.Authenticated() {
		return protocol.Fail(action, protocol.ErrCodePermissionDenied, "already authenticated")
	}

	hash, err := srv.store.CredentialHash(r.Username)
	if err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			return protocol.Fail(action, protocol.ErrCodeInvalidCredentials, "unknown username or wrong password")
		}
		return srv.storeFail(action, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(r.Password)) != nil {
		return protocol.Fail(action, protocol.ErrCodeInvalidCredentials, "unknown username or wrong password")
	}

	others, err := srv.otherIdentities(r.Username)
	if err != nil {
		return srv.storeFail(action, err)
	}
	undelivered, err := srv.store.CountUndelivered(r.Username)
	if err != nil {
		return srv.storeFail(action, err)
	}

	srv.bindSession(s, r.Username)
	return protocol.Response{Action: action, Result: true, Users: others, Undelivered: undelivered}
}

func (srv *Server) handleLoadChat(s *Session, r protocol.LoadChatRequest) protocol.Response {
	const action = protocol.ActionLoadChat
	exists, err := srv.store.IdentityExists(r.Peer)
	if err != nil {
		return srv.storeFail(action, err)
	}
	if !exists {
		return protocol.Fail(action, protocol.ErrCodeUserNotFound, "no such user")
	}

	me := s.Username()
	messages, err := srv.store.FetchMessages(me, r.Peer)
	if err != nil {
		return srv.storeFail(action, err)
	}

	// Loading the conversation is what counts as receipt: everything
	// addressed to the requester is marked delivered now, not when it was
	// pushed.
	out := make([]protocol.ChatMessage, len(messages))
	for i, m := range messages {
		if m.Recipient == me && !m.Delivered {
			if err := srv.store.MarkDelivered(m.ID); err != nil {
				return srv.storeFail(action, err)
			}
			m.Delivered = true
		}
		out[i] = chatMessage(m)
	}

	s.SetViewing(r.Peer)
	return protocol.Response{Action: action, Result: true, Messages: out}
}

func (srv *Server) handleSendMessage(s *Session, r protocol.SendMessageRequest) protocol.Response {
	const action = protocol.ActionSendMessage
	if len(r.Body) > srv.cfg.MaxMessageLen {
		return protocol.Fail(action, protocol.ErrCodeMessageTooLong, "message exceeds size limit")
	}
	exists, err := srv.store.IdentityExists(r.Recipient)
	if err != nil {
		return srv.storeFail(action, err)
	}
	if !exists {
		return protocol.Fail(action, protocol.ErrCodeUserNotFound, "no such recipient")
	}

	sender := s.Username()
	ts := time.Now().UnixMilli()
	id, err := srv.store.InsertMessage(sender, r.Recipient, r.Body, ts)
	if err != nil {
		return srv.storeFail(action, err)
	}

	msg := protocol.ChatMessage{ID: id, Sender: sender, Recipient: r.Recipient, Body: r.Body, Timestamp: ts}
	srv.pushTo(r.Recipient, protocol.Push{Kind: protocol.PushNewMessage, Message: &msg})
	return protocol.Response{Action: action, Result: true, MessageID: id}
}

func (srv *Server) handleListUndelivered(s *Session, r protocol.ListUndeliveredRequest) protocol.Response {
	const action = protocol.ActionListUndelivered
	if r.Limit <= 0 {
		return protocol.Fail(action, protocol.ErrCodeInvalidFormat, "limit must be positive")
	}

	me := s.Username()
	messages, err := srv.store.FetchUndelivered(me, int(r.Limit))
	if err != nil {
		return srv.storeFail(action, err)
	}
	out := make([]protocol.ChatMessage, len(messages))
	for i, m := range messages {
		if err := srv.store.MarkDelivered(m.ID); err != nil {
			return srv.storeFail(action, err)
		}
		m.Delivered = true
		out[i] = chatMessage(m)
	}
	return protocol.Response{Action: action, Result: true, Messages: out}
}

func (srv *Server) handleDeleteMessage(s *Session, r protocol.DeleteMessageRequest) protocol.Response {
	const action = protocol.ActionDeleteMessage
	err := srv.store.DeleteMessage(r.MessageID, s.Username())
	switch {
	case err == nil:
		return protocol.Response{Action: action, Result: true}
	case errors.Is(err, store.ErrMessageNotFound):
		return protocol.Fail(action, protocol.ErrCodeMessageNotFound, "no such message")
	case errors.Is(err, store.ErrNotSender):
		return protocol.Fail(action, protocol.ErrCodePermissionDenied, "only the sender can delete a message")
	default:
		return srv.storeFail(action, err)
	}
}

func (srv *Server) handleDeleteAccount(s *Session) protocol.Response {
	const action = protocol.ActionDeleteAccount
	name := s.Username()
	if err := srv.store.DeleteIdentity(name); err != nil {
		return srv.storeFail(action, err)
	}

	srv.registry.Unbind(name, s)
	s.Authenticate("")
	s.SetViewing("")
	srv.metrics.RecordOnlineUsers(srv.registry.Count())

	// Everyone still online learns the identity is gone, including any
	// session with the deleted user's conversation on screen.
	srv.broadcast(protocol.Push{Kind: protocol.PushUserRemoved, Username: name})
	return protocol.Response{Action: action, Result: true}
}

func (srv *Server) handlePing(s *Session, r protocol.PingRequest) protocol.Response {
	const action = protocol.ActionPing
	if !srv.pushTo(r.Username, protocol.Push{Kind: protocol.PushPresence, Username: s.Username()}) {
		return protocol.Fail(action, protocol.ErrCodeUserNotFound, "user not online")
	}
	return protocol.Response{Action: action, Result: true}
}

func (srv *Server) handlePingUser(s *Session, r protocol.PingUserRequest) protocol.Response {
	const action = protocol.ActionPingUser
	if r.Event != protocol.PushUserAdded && r.Event != protocol.PushUserRemoved {
		return protocol.Fail(action, protocol.ErrCodeInvalidFormat, "event must be user_added or user_removed")
	}
	if !srv.pushTo(r.Username, protocol.Push{Kind: r.Event, Username: r.Subject}) {
		return protocol.Fail(action, protocol.ErrCodeUserNotFound, "user not online")
	}
	return protocol.Response{Action: action, Result: true}
}

// bindSession authenticates s as username and claims the registry slot,
// evicting any older session for the same identity.
func (srv *Server) bindSession(s *Session, username string) {
	s.Authenticate(username)
	if prev := srv.registry.Bind(username, s); prev != nil {
		srv.debugf("evicting stale session %d for %s", prev.ID, username)
		prev.Close()
	}
	srv.metrics.RecordOnlineUsers(srv.registry.Count())
}

func (srv *Server) otherIdentities(exclude string) ([]string, error) {
	all, err := srv.store.ListIdentities()
	if err != nil {
		return nil, err
	}
	others := make([]string, 0, len(all))
	for _, name := range all {
		if name != exclude {
			others = append(others, name)
		}
	}
	return others, nil
}

func (srv *Server) storeFail(action string, err error) protocol.Response {
	log.Printf("store failure on %s: %v", action, err)
	return protocol.Fail(action, protocol.ErrCodeStoreError, "storage failure")
}

func chatMessage(m store.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Body:      m.Body,
		Timestamp: m.Timestamp,
		Delivered: m.Delivered,
	}
}

func validUsername(name string) bool {
	if len(name) == 0 || len(name) > maxUsernameLen {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
