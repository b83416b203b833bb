// Package ipc implements the player IPC channel: a newline-delimited JSON
// connection to mpv's --input-ipc-server endpoint (a Unix domain socket or
// a Windows named pipe, selected by build tag in dial_unix.go/
// dial_windows.go so the rest of the package only depends on
// io.ReadWriteCloser).
//
// Requests and replies are multiplexed over one connection via a
// request-ID → reply-future table, fed by a dedicated reader goroutine, so
// callers can issue commands and observe properties concurrently.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rtldg/simulcast-mpv/errs"
)

// Event is one "event"-tagged line from mpv: either a generic named event
// (Event.Event == "seek", "shutdown", ...) or a property-change
// notification (Event.Event == "property-change", ID/Name/Data set).
type Event struct {
	Event string          `json:"event"`
	ID    int             `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID int64           `json:"request_id"`
}

// Client is one connection to mpv's JSON-IPC endpoint.
type Client struct {
	conn   io.ReadWriteCloser
	writer *bufio.Writer
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[int64]chan reply
	nextID  atomic.Int64

	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

// Connect dials the given path (platform pipe/socket) and starts the
// reader goroutine.
func Connect(path string, logger *zerolog.Logger) (*Client, error) {
	conn, err := Dial(path)
	if err != nil {
		return nil, errors.Join(errs.PlayerUnavailable, err)
	}
	c := &Client{
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		logger:  logger.With().Str("component", "mpv-ipc").Logger(),
		pending: make(map[int64]chan reply),
		events:  make(chan Event, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of player events/property-changes. Closed
// when the connection is lost.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection to the player is lost.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) readLoop() {
	defer c.teardown()
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Event     string `json:"event"`
			RequestID *int64 `json:"request_id"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			c.logger.Debug().Err(err).Msg("malformed line from player ipc")
			continue
		}

		if probe.Event != "" {
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				c.logger.Debug().Err(err).Msg("malformed event from player ipc")
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.logger.Warn().Str("event", ev.Event).Msg("event channel full, dropping")
			}
			continue
		}

		var rep reply
		if err := json.Unmarshal(line, &rep); err != nil {
			c.logger.Debug().Err(err).Msg("malformed reply from player ipc")
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[rep.RequestID]
		if ok {
			delete(c.pending, rep.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- rep
		}
	}
}

func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.events)
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
	})
}

// Close closes the underlying connection. Pending requests fail with
// errs.PlayerUnavailable.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(command []any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, errs.PlayerUnavailable
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"command":    command,
		"request_id": id,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	_, werr := c.writer.Write(payload)
	if werr == nil {
		_, werr = c.writer.Write([]byte("\n"))
	}
	if werr == nil {
		werr = c.writer.Flush()
	}
	c.mu.Unlock()
	if werr != nil {
		return nil, errors.Join(errs.PlayerUnavailable, werr)
	}

	rep, ok := <-ch
	if !ok {
		return nil, errs.PlayerUnavailable
	}
	if rep.Error != "success" {
		return nil, errors.New("mpv ipc: " + rep.Error)
	}
	return rep.Data, nil
}

// ObserveProperty subscribes to change notifications for name, delivered
// as property-change Events carrying the given id.
func (c *Client) ObserveProperty(id int, name string) error {
	_, err := c.roundTrip([]any{"observe_property", id, name})
	return err
}

// GetProperty fetches the current value of a property.
func (c *Client) GetProperty(name string) (json.RawMessage, error) {
	return c.roundTrip([]any{"get_property", name})
}

// SetProperty sets a player property to value.
func (c *Client) SetProperty(name string, value any) error {
	_, err := c.roundTrip([]any{"set_property", name, value})
	return err
}

// Command issues an arbitrary mpv input command, e.g.
// Command("seek", 600, "absolute").
func (c *Client) Command(args ...any) (json.RawMessage, error) {
	return c.roundTrip(args)
}
