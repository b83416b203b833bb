// Package client implements the client adapter side of the protocol:
// session state (session.go), the relay link (this file), the latency
// tracker (latency.go), the resume barrier (barrier.go), and echo
// suppression (echo.go).
//
// link.go pairs a sender and receiver goroutine around a dialed WebSocket
// connection, handling the connect/handshake/reconnect-with-backoff cycle.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rtldg/simulcast-mpv/roomid"
	"github.com/rtldg/simulcast-mpv/wire"
)

const (
	defaultQueueSize  = 64
	handshakeDeadline = 10 * time.Second
	writeDeadline     = 5 * time.Second
	pongWait          = 7 * time.Second
	pingInterval      = 5 * time.Second

	backoffMin    = 500 * time.Millisecond
	backoffMax    = 30 * time.Second
	backoffFactor = 2.0
)

// LinkEvent notifies the client session of connection lifecycle changes.
type LinkEvent struct {
	Connected bool
	MemberID  string
	Members   []wire.Member
}

// Link is one WebSocket connection to the relay, with reconnect-with-backoff
// and a bounded, priority-aware send queue: ping/pong is low priority and
// dropped first on overflow, everything else is high priority.
type Link struct {
	relayURL string
	name     string
	logger   zerolog.Logger

	roomMu sync.Mutex
	roomID roomid.ID

	highCh  chan wire.Message
	lowCh   chan wire.Message
	inbound chan wire.Message
	events  chan LinkEvent

	connMu sync.Mutex
	conn   *websocket.Conn

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

func NewLink(relayURL, name string, roomID roomid.ID, logger *zerolog.Logger) *Link {
	return &Link{
		relayURL: relayURL,
		name:     name,
		roomID:   roomID,
		logger:   logger.With().Str("component", "relay-link").Logger(),
		highCh:   make(chan wire.Message, defaultQueueSize),
		lowCh:    make(chan wire.Message, defaultQueueSize),
		inbound:  make(chan wire.Message, defaultQueueSize),
		events:   make(chan LinkEvent, 4),
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Inbound delivers decoded messages from the relay, excluding the
// hello/joined handshake frames which Run consumes internally.
func (l *Link) Inbound() <-chan wire.Message { return l.inbound }

// Events delivers connect/disconnect notifications.
func (l *Link) Events() <-chan LinkEvent { return l.events }

// SetRoom updates the room to join. If currently connected to a different
// room, the active connection is torn down so Run's reconnect loop rejoins
// under the new room id.
func (l *Link) SetRoom(id roomid.ID) {
	l.roomMu.Lock()
	changed := l.roomID != id
	l.roomID = id
	l.roomMu.Unlock()
	if changed {
		l.closeActive()
	}
}

func (l *Link) currentRoom() roomid.ID {
	l.roomMu.Lock()
	defer l.roomMu.Unlock()
	return l.roomID
}

func (l *Link) closeActive() {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
	}
}

// Send enqueues a message for delivery, prioritizing it into the
// high-priority queue unless it's a ping/pong, and dropping it silently
// if the appropriate queue is full.
func (l *Link) Send(m wire.Message) {
	ch := l.highCh
	if m.Type == wire.TypePing || m.Type == wire.TypePong {
		ch = l.lowCh
	}
	select {
	case ch <- m:
	default:
		l.logger.Debug().Str("type", m.Type).Msg("send queue full, dropping")
	}
}

// Run drives the connect/handshake/serve/reconnect loop until ctx is
// cancelled.
func (l *Link) Run(ctx context.Context) {
	backoff := backoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, memberID, members, err := l.dialAndHandshake(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Debug().Err(err).Dur("backoff", backoff).Msg("relay connect failed")
			if !sleepWithJitter(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffMin

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()

		select {
		case l.events <- LinkEvent{Connected: true, MemberID: memberID, Members: members}:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}

		l.serveConnection(ctx, conn)

		select {
		case l.events <- LinkEvent{Connected: false}:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Link) dialAndHandshake(ctx context.Context) (*websocket.Conn, string, []wire.Member, error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeDeadline)
	defer cancel()

	conn, err := l.dial(dialCtx, l.relayURL)
	if err != nil {
		return nil, "", nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	hello, err := readOne(conn)
	if err != nil {
		_ = conn.Close()
		return nil, "", nil, err
	}
	if hello.Type != wire.TypeHello {
		_ = conn.Close()
		return nil, "", nil, errors.New("client: expected hello")
	}
	if hello.Hello.ProtocolVersion != wire.ProtocolVersion {
		_ = conn.Close()
		return nil, "", nil, errors.New("client: protocol version mismatch")
	}

	join := wire.NewJoin(l.currentRoom().String(), l.name)
	if err := writeOne(conn, join); err != nil {
		_ = conn.Close()
		return nil, "", nil, err
	}

	joined, err := readOne(conn)
	if err != nil {
		_ = conn.Close()
		return nil, "", nil, err
	}
	if joined.Type != wire.TypeJoined {
		_ = conn.Close()
		return nil, "", nil, errors.New("client: expected joined")
	}

	return conn, hello.Hello.MemberID, joined.Joined.Members, nil
}

func (l *Link) serveConnection(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.readLoop(connCtx, conn)
		cancel()
	}()
	go func() {
		defer wg.Done()
		l.writeLoop(connCtx, conn)
		cancel()
	}()
	wg.Wait()

	_ = conn.Close()
	l.connMu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.connMu.Unlock()
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		m, err := readOne(conn)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debug().Err(err).Msg("relay read error")
			}
			return
		}
		select {
		case l.inbound <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Link) writeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		// Drain the high-priority queue before ever considering a
		// low-priority (ping/pong) send, so state/seek/pause never wait
		// behind pings under load.
		select {
		case <-ctx.Done():
			return
		case m := <-l.highCh:
			if err := writeOne(conn, m); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case m := <-l.highCh:
			if err := writeOne(conn, m); err != nil {
				return
			}
		case m := <-l.lowCh:
			if err := writeOne(conn, m); err != nil {
				return
			}
		}
	}
}

func readOne(conn *websocket.Conn) (wire.Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return wire.Message{}, err
	}
	m, err := wire.Decode(data)
	if err != nil && !errors.Is(err, wire.ErrUnknownType) {
		return wire.Message{}, err
	}
	return m, nil
}

func writeOne(conn *websocket.Conn, m wire.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > backoffMax {
		next = backoffMax
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
