package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boltchat/pkg/protocol"
	"boltchat/pkg/store"
)

// event kinds flowing into the loop goroutine. Everything that touches the
// session table or the registry happens on the loop, so there is exactly
// one mutator context no matter how many connections are live.
type eventKind int

const (
	eventAttach eventKind = iota
	eventRequest
	eventDetach
)

type event struct {
	kind    eventKind
	session *Session
	payload protocol.Value
	err     error
}

// Server accepts connections, runs one reader goroutine per connection,
// and funnels every decoded request into a single dispatch loop.
type Server struct {
	cfg      Config
	store    store.Store
	codec    protocol.Codec
	registry *Registry
	metrics  *Metrics

	promReg *prometheus.Registry

	listener net.Listener
	httpSrv  *http.Server
	httpAddr string

	events   chan event
	done     chan struct{}
	stopping sync.Once
	wg       sync.WaitGroup

	nextID atomic.Uint64

	// sessions is owned by the loop goroutine; nothing else touches it.
	sessions map[uint64]*Session
}

// New builds a server from config. The listener is not bound until Start.
func New(cfg Config, st store.Store) (*Server, error) {
	codec, err := protocol.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	promReg := prometheus.NewRegistry()
	return &Server{
		cfg:      cfg,
		store:    st,
		codec:    codec,
		registry: NewRegistry(),
		metrics:  NewMetrics(promReg),
		promReg:  promReg,
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		sessions: make(map[uint64]*Session),
	}, nil
}

// Start binds the TCP listener (and the HTTP listener, when configured)
// and begins accepting. It returns once both are listening.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", srv.cfg.Addr(), err)
	}
	srv.listener = ln
	log.Printf("listening on %s (codec=%s)", ln.Addr(), srv.codec.Name())

	if srv.cfg.HTTPAddr != "" {
		if err := srv.startHTTP(); err != nil {
			ln.Close()
			return err
		}
	}

	srv.wg.Add(2)
	go srv.acceptLoop()
	go srv.runLoop()
	return nil
}

func (srv *Server) startHTTP() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(srv.promReg, promhttp.HandlerOpts{}))
	if srv.cfg.WebSocketPath != "" {
		mux.HandleFunc(srv.cfg.WebSocketPath, srv.handleWebSocket)
	}

	httpLn, err := net.Listen("tcp", srv.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("bind http %s: %w", srv.cfg.HTTPAddr, err)
	}
	srv.httpSrv = &http.Server{Handler: mux}
	srv.httpAddr = httpLn.Addr().String()
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		if err := srv.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http listener: %v", err)
		}
	}()
	log.Printf("http listening on %s", httpLn.Addr())
	return nil
}

// Addr returns the bound TCP address. Valid only after Start.
func (srv *Server) Addr() string {
	return srv.listener.Addr().String()
}

// HTTPAddr returns the bound HTTP address, or "" when disabled.
func (srv *Server) HTTPAddr() string {
	return srv.httpAddr
}

// Stop shuts everything down and waits for the loop to drain. Safe to
// call more than once.
func (srv *Server) Stop() {
	srv.stopping.Do(func() {
		close(srv.done)
		if srv.listener != nil {
			srv.listener.Close()
		}
		if srv.httpSrv != nil {
			srv.httpSrv.Close()
		}
	})
	srv.wg.Wait()
}

func (srv *Server) acceptLoop() {
	defer srv.wg.Done()
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.done:
				return
			default:
			}
			log.Printf("accept: %v", err)
			return
		}
		srv.Attach(conn)
	}
}

// Attach wraps conn in a session and hands it to the loop. The attach
// event is queued before the reader starts, so the loop always sees the
// session before its first request. Used by both the TCP accept loop and
// the websocket upgrade handler.
func (srv *Server) Attach(conn net.Conn) *Session {
	s := newSession(srv.nextID.Add(1), conn, srv.codec)
	s.touch(time.Now().UnixMilli())
	select {
	case srv.events <- event{kind: eventAttach, session: s}:
	case <-srv.done:
		s.Close()
		return s
	}
	srv.wg.Add(1)
	go srv.readLoop(s)
	return s
}

// readLoop moves bytes from the connection through the frame reader and
// posts each decoded request to the loop. Any read, frame, or codec error
// is fatal to the session and surfaces as a detach event.
func (srv *Server) readLoop(s *Session) {
	defer srv.wg.Done()

	buf := make([]byte, 4096)
	var fatal error

read:
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.reader.Feed(buf[:n])
			for {
				payload, ferr := s.reader.Next()
				if ferr != nil {
					fatal = ferr
					break read
				}
				if payload == nil {
					break
				}
				v, derr := s.codec.Decode(payload)
				if derr != nil {
					srv.metrics.RecordFrameRejected()
					fatal = derr
					break read
				}
				srv.metrics.RecordPayloadSize(len(payload))
				select {
				case srv.events <- event{kind: eventRequest, session: s, payload: v}:
				case <-srv.done:
					break read
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.Closed() {
				fatal = err
			}
			break
		}
	}

	select {
	case srv.events <- event{kind: eventDetach, session: s, err: fatal}:
	case <-srv.done:
		s.Close()
	}
}

// runLoop is the single mutator context: it owns the session table and is
// the only goroutine that binds or unbinds the registry.
func (srv *Server) runLoop() {
	defer srv.wg.Done()

	var ticker *time.Ticker
	var tick <-chan time.Time
	if d := srv.cfg.IdleTimeout(); d > 0 {
		ticker = time.NewTicker(d / 2)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case ev := <-srv.events:
			switch ev.kind {
			case eventAttach:
				srv.sessions[ev.session.ID] = ev.session
				srv.metrics.RecordSessionAccepted()
				srv.metrics.RecordActiveSessions(len(srv.sessions))
				srv.debugf("session %d attached from %s", ev.session.ID, ev.session.RemoteAddr())
			case eventRequest:
				ev.session.touch(time.Now().UnixMilli())
				srv.dispatch(ev.session, ev.payload)
			case eventDetach:
				srv.detach(ev.session, ev.err)
			}
		case now := <-tick:
			srv.sweepIdle(now.UnixMilli())
		case <-srv.done:
			for _, s := range srv.sessions {
				s.Close()
			}
			return
		}
	}
}

// detach finalizes a dead session: drop it from the table, free its
// username, and let everyone else's traffic continue undisturbed.
func (srv *Server) detach(s *Session, cause error) {
	if _, ok := srv.sessions[s.ID]; !ok {
		return
	}
	delete(srv.sessions, s.ID)
	s.Close()

	if name := s.Username(); name != "" {
		srv.registry.Unbind(name, s)
		srv.metrics.RecordOnlineUsers(srv.registry.Count())
	}
	srv.metrics.RecordSessionDisconnected()
	srv.metrics.RecordActiveSessions(len(srv.sessions))

	if cause != nil {
		log.Printf("session %d (%s) closed: %v", s.ID, s.RemoteAddr(), cause)
	} else {
		srv.debugf("session %d closed", s.ID)
	}
}

func (srv *Server) sweepIdle(nowMillis int64) {
	cutoff := nowMillis - srv.cfg.IdleTimeout().Milliseconds()
	for _, s := range srv.sessions {
		if s.idleSince() < cutoff {
			srv.debugf("session %d idle, closing", s.ID)
			s.Close()
		}
	}
}

// pushTo delivers a push to username's live session, if any. A full or
// closed session is not an error at the call site; the detach event will
// clean it up.
func (srv *Server) pushTo(username string, p protocol.Push) bool {
	s, ok := srv.registry.Lookup(username)
	if !ok {
		return false
	}
	if err := s.Enqueue(p.EncodeValue()); err != nil {
		srv.debugf("push %s to %s dropped: %v", p.Kind, username, err)
		return false
	}
	srv.metrics.RecordPush(p.Kind)
	return true
}

// broadcast delivers a push to every authenticated session except the
// listed usernames.
func (srv *Server) broadcast(p protocol.Push, except ...string) {
	skip := make(map[string]bool, len(except))
	for _, name := range except {
		skip[name] = true
	}
	srv.registry.Each(func(username string, s *Session) {
		if skip[username] {
			return
		}
		if err := s.Enqueue(p.EncodeValue()); err != nil {
			srv.debugf("push %s to %s dropped: %v", p.Kind, username, err)
			return
		}
		srv.metrics.RecordPush(p.Kind)
	})
}

func (srv *Server) debugf(format string, args ...interface{}) {
	if srv.cfg.Debug {
		log.Printf("debug: "+format, args...)
	}
}
