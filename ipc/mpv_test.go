package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newClientAndFakePlayer wires a Client to one half of a net.Pipe and
// returns the other half as the fake player, without touching a real
// socket/pipe.
func newClientAndFakePlayer(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	clientSide, playerSide := net.Pipe()

	logger := zerolog.Nop()
	c := &Client{
		conn:    clientSide,
		writer:  bufio.NewWriter(clientSide),
		logger:  logger,
		pending: make(map[int64]chan reply),
		events:  make(chan Event, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, playerSide
}

func TestGetPropertySuccess(t *testing.T) {
	c, player := newClientAndFakePlayer(t)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(player)
		require.True(t, scanner.Scan())
		var req map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &req))
		reqID := req["request_id"]
		resp, _ := json.Marshal(map[string]any{
			"error":      "success",
			"data":       42.5,
			"request_id": reqID,
		})
		_, _ = player.Write(append(resp, '\n'))
	}()

	data, err := c.GetProperty("time-pos")
	require.NoError(t, err)
	var v float64
	require.NoError(t, json.Unmarshal(data, &v))
	require.Equal(t, 42.5, v)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fake player never received request")
	}
}

func TestGetPropertyError(t *testing.T) {
	c, player := newClientAndFakePlayer(t)
	defer c.Close()

	go func() {
		scanner := bufio.NewScanner(player)
		require.True(t, scanner.Scan())
		var req map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &req))
		resp, _ := json.Marshal(map[string]any{
			"error":      "property not found",
			"request_id": req["request_id"],
		})
		_, _ = player.Write(append(resp, '\n'))
	}()

	_, err := c.GetProperty("nonexistent")
	require.Error(t, err)
}

func TestEventDelivery(t *testing.T) {
	c, player := newClientAndFakePlayer(t)
	defer c.Close()

	go func() {
		ev, _ := json.Marshal(map[string]any{
			"event": "property-change",
			"id":    2,
			"name":  "pause",
			"data":  true,
		})
		_, _ = player.Write(append(ev, '\n'))
	}()

	select {
	case got := <-c.Events():
		require.Equal(t, "property-change", got.Event)
		require.Equal(t, "pause", got.Name)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPendingFailOnDisconnect(t *testing.T) {
	c, player := newClientAndFakePlayer(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetProperty("time-pos")
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, player.Close())
	require.NoError(t, c.conn.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending request never failed after disconnect")
	}
}
