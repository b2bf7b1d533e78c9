package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"clob/internal/events"
)

const (
	maxFrameSize       = 4 * 1024
	defaultWorkerCount = 10
	defaultReadTimeout = time.Second
)

var (
	ErrImproperTask       = errors.New("gateway: worker task was not a net.Conn")
	ErrClientDoesNotExist = errors.New("gateway: no session registered for this identity")
)

// session is one connected client's TCP link, identified once it
// authenticates a NewOrder/CancelByHash frame as a given maker.
type session struct {
	id   string
	conn net.Conn
}

// clientMessage pairs a parsed frame with the connection it arrived
// on, the adapted counterpart of internal/net/server.go's
// ClientMessage.
type clientMessage struct {
	conn    net.Conn
	msgType MessageType
	payload []byte
}

// Server is the TCP front door for the Gateway: it accepts
// connections, parses wire frames, and dispatches them to Gateway
// methods, forwarding OrderFilled events back to the session registered
// for each party in the event.
type Server struct {
	address string
	port    int
	gw      *Gateway
	bus     *events.Bus

	pool   WorkerPool
	cancel context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[string]session // keyed by maker identity

	inbox chan clientMessage
}

// NewServer creates a Server fronting gw, forwarding domain events read
// off bus to connected sessions.
func NewServer(address string, port int, gw *Gateway, bus *events.Bus) *Server {
	return &Server{
		address:  address,
		port:     port,
		gw:       gw,
		bus:      bus,
		pool:     NewWorkerPool(defaultWorkerCount),
		sessions: make(map[string]session),
		inbox:    make(chan clientMessage, 1),
	}
}

// Shutdown cancels the server's listener and worker pool.
func (s *Server) Shutdown() {
	log.Info().Msg("gateway: server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections until ctx is cancelled, following the
// tomb.v2 supervision shape of internal/net/server.go's Run.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("gateway: unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("gateway: unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error { return s.dispatchLoop(t) })
	t.Go(func() error { return s.eventForwarder(t) })

	log.Info().Str("address", listener.Addr().String()).Msg("gateway: server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("gateway: error accepting connection")
				continue
			}
			log.Info().Str("remote", conn.RemoteAddr().String()).Msg("gateway: client connected")
			s.pool.AddTask(conn)
		}
	}
}

// dispatchLoop applies each parsed frame in turn, so two frames never
// race each other into the same Gateway call from this server's side
// (the Gateway's own per-Book loops serialise at the Book level
// regardless, but this keeps nonce checks against the same maker from
// two simultaneous connections from racing ahead of each other here).
func (s *Server) dispatchLoop(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case cm := <-s.inbox:
			if err := s.handle(cm); err != nil {
				log.Error().Err(err).Msg("gateway: error handling frame")
				s.writeReport(cm.conn, ErrorReportFor(err))
			}
		}
	}
}

// eventForwarder relays OrderFilled events to the session registered
// for each party named in the event; other event kinds are not sent.
func (s *Server) eventForwarder(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case e := <-s.bus.Events():
			if e.Kind != events.OrderFilled {
				continue
			}
			report := ReportFromEvent(e)
			s.sendTo(e.Maker, report)
			s.sendTo(e.Taker, report)
		}
	}
}

func (s *Server) sendTo(identity string, report Report) {
	if identity == "" {
		return
	}
	s.sessionsMu.Lock()
	sess, ok := s.sessions[identity]
	s.sessionsMu.Unlock()
	if !ok {
		return
	}
	s.writeReport(sess.conn, report)
}

func (s *Server) writeReport(conn net.Conn, report Report) {
	if conn == nil {
		return
	}
	if _, err := conn.Write(report.Serialize()); err != nil {
		log.Error().Err(err).Msg("gateway: failed writing report to client")
	}
}

func (s *Server) handle(cm clientMessage) error {
	switch cm.msgType {
	case NewOrder:
		decoded, err := DecodeNewOrder(cm.payload)
		if err != nil {
			return err
		}
		// No caller identity is known for a TCP frame, so the order's
		// signature must recover to its maker.
		res, err := s.gw.Place(decoded.Order, "", decoded.Sig, decoded.TickSize)
		if err != nil {
			return err
		}
		s.registerSession(decoded.Order.Maker, cm.conn)
		s.writeReport(cm.conn, Report{Type: ExecutionReport, OrderHash: res.Hash, FillBase: res.FilledBase})
		return nil
	case CancelByHash:
		decoded, err := DecodeCancelByHash(cm.payload)
		if err != nil {
			return err
		}
		s.registerSession(decoded.Caller, cm.conn)
		e, err := s.gw.factory.Resolve(decoded.BaseAsset, decoded.QuoteAsset, decoded.TickSize)
		if err != nil {
			return err
		}
		return s.gw.CancelByHash(e, decoded.Hash, decoded.Caller)
	case Heartbeat:
		return nil
	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) registerSession(identity string, conn net.Conn) {
	if identity == "" {
		return
	}
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if _, ok := s.sessions[identity]; !ok {
		s.sessions[identity] = session{id: uuid.New().String(), conn: conn}
	}
}

// handleConnection reads one frame off conn, forwards it to the
// dispatch loop, and resubmits itself as a pending task so the same
// worker moves on to another connection — the adapted shape of
// internal/net/server.go's handleConnection.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperTask
	}

	if err := conn.SetDeadline(time.Now().Add(defaultReadTimeout)); err != nil {
		log.Error().Err(err).Msg("gateway: failed setting connection deadline")
		return nil
	}

	buf := make([]byte, maxFrameSize)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buf)
		if err != nil {
			return nil
		}

		msgType, payload, err := ParseMessageType(buf[:n])
		if err != nil {
			log.Error().Err(err).Msg("gateway: error parsing frame")
			return nil
		}

		s.inbox <- clientMessage{conn: conn, msgType: msgType, payload: append([]byte(nil), payload...)}
		s.pool.AddTask(conn)
	}
	return nil
}
