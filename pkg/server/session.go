package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"boltchat/pkg/protocol"
)

// ErrSessionClosed is returned when enqueueing to a session whose
// connection is gone.
var ErrSessionClosed = errors.New("session closed")

// outboundQueueDepth bounds the per-session write queue. A client that
// cannot drain this many frames is torn down rather than allowed to stall
// the rest of the server.
const outboundQueueDepth = 64

// Session owns one live connection: its frame reader, its negotiated
// codec, and its outbound queue. Direct responses and cross-session pushes
// share the single queue, so a pending reply can never be reordered behind
// a push.
type Session struct {
	ID     uint64
	conn   net.Conn
	codec  protocol.Codec
	reader *protocol.FrameReader

	outbound chan []byte
	done     chan struct{}
	closing  sync.Once

	mu       sync.Mutex
	username string // empty until authenticated
	viewing  string // peer whose conversation was last loaded

	lastActivity atomic.Int64 // unix milliseconds
}

func newSession(id uint64, conn net.Conn, codec protocol.Codec) *Session {
	s := &Session{
		ID:       id,
		conn:     conn,
		codec:    codec,
		reader:   protocol.NewFrameReader(codec, protocol.ProtocolVersion),
		outbound: make(chan []byte, outboundQueueDepth),
		done:     make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Enqueue frames v and appends it to the outbound queue. It never blocks:
// a full queue means the client is too slow and the session is closed
// instead. Used for responses and pushes alike.
func (s *Session) Enqueue(v protocol.Value) error {
	frame, err := protocol.EncodeValue(s.codec, protocol.ProtocolVersion, v)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.Close()
		return ErrSessionClosed
	}
}

// writeLoop drains the outbound queue onto the connection in FIFO order.
// The kernel handles partial writes inside conn.Write; frames are never
// interleaved because there is exactly one writer.
func (s *Session) writeLoop() {
	for {
		select {
		case frame := <-s.outbound:
			if _, err := s.conn.Write(frame); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once and from
// any goroutine; the event loop learns about it through the reader error.
func (s *Session) Close() {
	s.closing.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Authenticate binds the session to an identity.
func (s *Session) Authenticate(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// Username returns the bound identity, or "" while unauthenticated.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Authenticated reports whether the session has logged in or registered.
func (s *Session) Authenticated() bool {
	return s.Username() != ""
}

// SetViewing records which peer's conversation the session has loaded.
func (s *Session) SetViewing(peer string) {
	s.mu.Lock()
	s.viewing = peer
	s.mu.Unlock()
}

// Viewing returns the peer whose conversation is on screen, or "".
func (s *Session) Viewing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing
}

func (s *Session) touch(now int64) {
	s.lastActivity.Store(now)
}

func (s *Session) idleSince() int64 {
	return s.lastActivity.Load()
}

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
