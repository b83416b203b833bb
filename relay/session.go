package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rtldg/simulcast-mpv/roomid"
	"github.com/rtldg/simulcast-mpv/wire"
)

// State is the per-connection state machine:
//
//	AwaitingHello → HelloSent → AwaitingJoin → Joined → Closing → Closed
type State int

const (
	StateAwaitingHello State = iota
	StateHelloSent
	StateAwaitingJoin
	StateJoined
	StateClosing
	StateClosed
)

const (
	defaultOutboxBuffer  = 32
	handshakeTimeout     = 10 * time.Second
	defaultPingInterval  = 5 * time.Second
	defaultPongWait      = 7 * time.Second
	writeDeadline        = 5 * time.Second
	closeWriteDeadline   = 2 * time.Second
	maxIncomingFrameSize = 9000
)

// Session is one accepted WebSocket connection, running the handshake and
// message loop behind a reader/writer goroutine pair and the explicit
// AwaitingHello..Closed state machine above.
type Session struct {
	conn     *websocket.Conn
	registry *Registry
	repoURL  string
	logger   zerolog.Logger

	state    State
	memberID string
	name     string
	roomID   roomid.ID

	outbox chan wire.Message
}

// NewSession creates a session for an already-upgraded connection. repoURL
// is surfaced in hello for AGPL source-availability compliance.
func NewSession(conn *websocket.Conn, registry *Registry, repoURL string, logger *zerolog.Logger) *Session {
	return &Session{
		conn:     conn,
		registry: registry,
		repoURL:  repoURL,
		memberID: uuid.NewString(),
		logger:   logger.With().Str("component", "session").Logger(),
		outbox:   make(chan wire.Message, defaultOutboxBuffer),
	}
}

// Serve runs the session to completion: handshake, join, message loop,
// teardown. It blocks until the connection closes or ctx is cancelled.
func (s *Session) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.runWriter(ctx)
	}()

	s.runReader(ctx, cancel)

	<-writerDone
	s.closeSocket()
	if s.state == StateJoined || s.state == StateAwaitingJoin {
		s.leaveRoom()
	}
}

func (s *Session) runReader(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	s.state = StateAwaitingHello
	s.send(wire.NewHello(s.memberID, s.repoURL, ""))
	s.state = StateHelloSent
	s.state = StateAwaitingJoin

	s.conn.SetReadLimit(maxIncomingFrameSize)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	})

	if err := s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		s.logger.Error().Err(err).Msg("failed to set handshake read deadline")
		return
	}

	msg, err := s.readOne()
	if err != nil {
		s.logger.Debug().Err(err).Msg("handshake read failed")
		return
	}
	if msg.Type != wire.TypeJoin {
		s.logger.Warn().Str("type", msg.Type).Msg("first frame was not join, protocol error")
		s.state = StateClosing
		return
	}
	if !s.handleJoin(msg.Join) {
		s.state = StateClosing
		return
	}
	s.state = StateJoined

	_ = s.conn.SetReadDeadline(time.Now().Add(defaultPongWait))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m, err := s.readOne()
		if err != nil {
			if !isNormalClose(err) {
				s.logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		if !s.handleJoined(m) {
			return
		}
	}
}

func (s *Session) handleJoin(join *wire.JoinPayload) bool {
	if join.ProtocolVersion != wire.ProtocolVersion {
		s.logger.Warn().Int("version", join.ProtocolVersion).Msg("protocol version mismatch")
		return false
	}
	id, err := roomid.Decode(join.RoomID)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", join.RoomID).Msg("malformed room id")
		return false
	}
	s.roomID = id
	s.name = join.Name

	members := s.registry.Join(id, s.memberID, s.name, s.outbox)
	s.send(wire.NewJoined(members))
	s.registry.Broadcast(id, s.memberID, wire.NewPeerJoined(s.memberID, s.name))

	s.logger = s.logger.With().Str("room", id.String()).Str("member", s.memberID).Logger()
	s.logger.Debug().Msg("joined room")
	return true
}

// handleJoined processes one frame while in the Joined state. Returns
// false if the session should terminate (bye or protocol error).
func (s *Session) handleJoined(m wire.Message) bool {
	m.From = s.memberID // server re-assigns sender identity based on the session, never trusting the client's own value
	switch m.Type {
	case wire.TypeState, wire.TypeSeek, wire.TypePause,
		wire.TypeResumeRequest, wire.TypeResumeReady, wire.TypeChat:
		// The relay performs no semantic interpretation of these beyond
		// routing.
		s.registry.Broadcast(s.roomID, s.memberID, m)
	case wire.TypePing:
		if m.Ping.Target != "" {
			s.registry.SendTo(s.roomID, m.Ping.Target, m)
		}
	case wire.TypePong:
		if m.Pong.Target != "" {
			s.registry.SendTo(s.roomID, m.Pong.Target, m)
		}
	case wire.TypeBye:
		return false
	default:
		// Unknown variants are ignored for forward-compat.
	}
	return true
}

func (s *Session) readOne() (wire.Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return wire.Message{}, err
	}
	m, err := wire.Decode(data)
	if err != nil && !errors.Is(err, wire.ErrUnknownType) {
		return wire.Message{}, err
	}
	return m, nil
}

func (s *Session) send(m wire.Message) {
	select {
	case s.outbox <- m:
	default:
		s.logger.Debug().Str("type", m.Type).Msg("outbox full, dropping own message")
	}
}

func (s *Session) runWriter(ctx context.Context) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.logger.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug().Err(err).Msg("failed to send keepalive ping")
				return
			}
		case m, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.writeMessage(m); err != nil {
				s.logger.Debug().Err(err).Msg("failed to write message")
				return
			}
		}
	}
}

func (s *Session) writeMessage(m wire.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) leaveRoom() {
	s.registry.Leave(s.roomID, s.memberID)
	s.registry.Broadcast(s.roomID, s.memberID, wire.NewPeerLeft(s.memberID, s.name))
	s.state = StateClosed
}

func (s *Session) closeSocket() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(closeWriteDeadline))
	_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = s.conn.Close()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
