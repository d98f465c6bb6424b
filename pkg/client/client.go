// Package client implements the connecting side of the chat protocol: a
// framed connection with synchronous request calls and a channel of
// server-initiated pushes.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"boltchat/pkg/protocol"
)

// ErrClosed is returned by calls after the connection is gone.
var ErrClosed = errors.New("client connection closed")

// RequestError is a failure response from the server, as opposed to a
// transport failure.
type RequestError struct {
	Action string
	Code   int64
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Action, e.Code, e.Reason)
}

// Client is a single connection to the server. Request methods are
// synchronous and may be called from one goroutine at a time; pushes
// arrive on Notifications regardless of what the caller is doing.
type Client struct {
	conn   net.Conn
	codec  protocol.Codec
	reader *protocol.FrameReader

	// Timeout bounds how long a request waits for its response.
	Timeout time.Duration

	responses     chan protocol.Value
	notifications chan protocol.Push

	mu      sync.Mutex // serializes request/response pairs
	closing sync.Once
	done    chan struct{}
	readErr error
}

// Dial connects to addr speaking the named codec. The codec must match
// the server's or the first exchange will fail.
func Dial(addr, codecName string) (*Client, error) {
	codec, err := protocol.ByName(codecName)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, codec), nil
}

// New wraps an established connection. Used by Dial and by tests that
// supply their own transport.
func New(conn net.Conn, codec protocol.Codec) *Client {
	c := &Client{
		conn:          conn,
		codec:         codec,
		reader:        protocol.NewFrameReader(codec, protocol.ProtocolVersion),
		Timeout:       10 * time.Second,
		responses:     make(chan protocol.Value, 1),
		notifications: make(chan protocol.Push, 64),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Notifications delivers server pushes. The channel is buffered; if the
// caller stops draining it, further pushes are dropped rather than
// blocking response handling.
func (c *Client) Notifications() <-chan protocol.Push {
	return c.notifications
}

// Close tears the connection down. In-flight calls fail with ErrClosed.
func (c *Client) Close() error {
	c.closing.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.reader.Feed(buf[:n])
			for {
				payload, ferr := c.reader.Next()
				if ferr != nil {
					c.fail(ferr)
					return
				}
				if payload == nil {
					break
				}
				v, derr := c.codec.Decode(payload)
				if derr != nil {
					c.fail(derr)
					return
				}
				c.route(v)
			}
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Client) route(v protocol.Value) {
	if protocol.IsPush(v) {
		p, err := protocol.DecodePush(v)
		if err != nil {
			return
		}
		select {
		case c.notifications <- p:
		default:
		}
		return
	}
	select {
	case c.responses <- v:
	case <-c.done:
	}
}

func (c *Client) fail(err error) {
	c.readErr = err
	c.Close()
}

// do sends one request and waits for the server's reply. Server pushes
// arriving in between are routed to Notifications by the read loop, so the
// value received here is always the response to this request.
func (c *Client) do(req protocol.Value) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return protocol.Response{}, ErrClosed
	default:
	}

	if err := protocol.WriteValue(c.conn, c.codec, protocol.ProtocolVersion, req); err != nil {
		return protocol.Response{}, err
	}

	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()
	select {
	case v := <-c.responses:
		resp, err := protocol.DecodeResponse(v)
		if err != nil {
			return protocol.Response{}, err
		}
		if !resp.Result {
			return resp, &RequestError{Action: resp.Action, Code: resp.ErrorCode, Reason: resp.Error}
		}
		return resp, nil
	case <-c.done:
		if c.readErr != nil {
			return protocol.Response{}, c.readErr
		}
		return protocol.Response{}, ErrClosed
	case <-timer.C:
		return protocol.Response{}, fmt.Errorf("timeout waiting for response")
	}
}

// CheckUsername reports whether username is registered.
func (c *Client) CheckUsername(username string) (bool, error) {
	resp, err := c.do(protocol.CheckUsernameRequest{Username: username}.EncodeValue())
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Register creates an identity and authenticates the connection. Returns
// the other registered usernames.
func (c *Client) Register(username, password, confirm string) ([]string, error) {
	resp, err := c.do(protocol.RegisterRequest{Username: username, Password: password, Confirm: confirm}.EncodeValue())
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Login authenticates the connection. Returns the other registered
// usernames and the count of undelivered messages waiting.
func (c *Client) Login(username, password string) ([]string, int64, error) {
	resp, err := c.do(protocol.LoginRequest{Username: username, Password: password}.EncodeValue())
	if err != nil {
		return nil, 0, err
	}
	return resp.Users, resp.Undelivered, nil
}

// LoadChat returns the conversation with peer, oldest first. Messages
// addressed to this identity are marked delivered by the server.
func (c *Client) LoadChat(peer string) ([]protocol.ChatMessage, error) {
	resp, err := c.do(protocol.LoadChatRequest{Peer: peer}.EncodeValue())
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send relays a message to recipient and returns its id.
func (c *Client) Send(recipient, body string) (int64, error) {
	resp, err := c.do(protocol.SendMessageRequest{Recipient: recipient, Body: body}.EncodeValue())
	if err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

// DeleteMessage removes a message this identity sent.
func (c *Client) DeleteMessage(id int64) error {
	_, err := c.do(protocol.DeleteMessageRequest{MessageID: id}.EncodeValue())
	return err
}

// DeleteAccount removes this identity and all its messages. The
// connection stays open but is no longer authenticated.
func (c *Client) DeleteAccount() error {
	_, err := c.do(protocol.DeleteAccountRequest{}.EncodeValue())
	return err
}

// ListUndelivered fetches up to limit waiting messages and marks them
// delivered.
func (c *Client) ListUndelivered(limit int64) ([]protocol.ChatMessage, error) {
	resp, err := c.do(protocol.ListUndeliveredRequest{Limit: limit}.EncodeValue())
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Ping sends a presence notice to username's session.
func (c *Client) Ping(username string) error {
	_, err := c.do(protocol.PingRequest{Username: username}.EncodeValue())
	return err
}

// PingUser directs the server to push a user_added or user_removed notice
// about subject to username.
func (c *Client) PingUser(username, subject, event string) error {
	_, err := c.do(protocol.PingUserRequest{Username: username, Subject: subject, Event: event}.EncodeValue())
	return err
}
