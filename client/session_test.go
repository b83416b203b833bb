package client

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rtldg/simulcast-mpv/ipc"
	"github.com/rtldg/simulcast-mpv/roomid"
	"github.com/rtldg/simulcast-mpv/wire"
)

// fakePlayer spins up a real unix socket (ipc.Client has no exported
// constructor that accepts an arbitrary io.ReadWriteCloser) and returns a
// connected *ipc.Client plus a scanner/writer pair standing in for mpv.
func fakePlayer(t *testing.T) (*ipc.Client, *bufio.Scanner, net.Conn) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	logger := zerolog.Nop()
	c, err := ipc.Connect(sockPath, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	var playerConn net.Conn
	select {
	case playerConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("fake player never accepted connection")
	}
	return c, bufio.NewScanner(playerConn), playerConn
}

func newTestSession(t *testing.T) (*Session, *ipc.Client, *bufio.Scanner, net.Conn) {
	t.Helper()
	ipcClient, scanner, playerConn := fakePlayer(t)
	logger := zerolog.Nop()
	s := NewSession(ipcClient, "ws://127.0.0.1:0/relay", "abcd1234", "tester", &logger)
	s.connected = true
	s.mediaIdentifier = "some-video.mkv"
	s.roomID = roomid.Derive(s.mediaIdentifier, s.roomSecret)
	return s, ipcClient, scanner, playerConn
}

func readSetProperty(t *testing.T, scanner *bufio.Scanner, player net.Conn) (string, any) {
	t.Helper()
	require.True(t, scanner.Scan())
	var req struct {
		Command   []any `json:"command"`
		RequestID int64 `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &req))
	require.Equal(t, "set_property", req.Command[0])

	resp, _ := json.Marshal(map[string]any{"error": "success", "request_id": req.RequestID})
	_, err := player.Write(append(resp, '\n'))
	require.NoError(t, err)
	return req.Command[1].(string), req.Command[2]
}

func TestOnPeerPauseAppliesAndRecordsEcho(t *testing.T) {
	s, _, scanner, player := newTestSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		name, value := readSetProperty(t, scanner, player)
		require.Equal(t, PropPause, name)
		require.Equal(t, true, value)
	}()

	s.onPeerPause("peer-1", true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected set_property(pause, true) on player ipc")
	}

	require.True(t, s.echo.ShouldSuppressPause(true))
}

func TestOnLocalPauseChangeSuppressedByEcho(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	s.echo.RecordApplied("pause", true, 10)

	s.onLocalPauseChange(true)

	select {
	case m := <-s.link.highCh:
		t.Fatalf("expected no outbound message, got %v", m)
	default:
	}
}

func TestOnLocalPauseChangeBypassesBarrierWhenDisconnected(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	s.connected = false

	s.onLocalPauseChange(false)

	select {
	case m := <-s.link.highCh:
		require.Equal(t, wire.TypePause, m.Type)
		require.False(t, m.Pause.Paused)
	case <-time.After(time.Second):
		t.Fatal("expected pause{false} to be sent directly when disconnected")
	}
}

func TestOnLocalPauseChangeDefersToBarrierWhenConnected(t *testing.T) {
	s, _, scanner, player := newTestSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		name1, val1 := readSetProperty(t, scanner, player)
		require.Equal(t, PropPause, name1)
		require.Equal(t, true, val1)
		name2, val2 := readSetProperty(t, scanner, player)
		require.Equal(t, PropIntent, name2)
		require.Equal(t, string(IntentQueueResume), val2)
	}()

	s.onLocalPauseChange(false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected re-applied pause and queue_resume intent writes")
	}

	select {
	case m := <-s.link.highCh:
		t.Fatalf("expected no direct pause broadcast, got %v", m)
	default:
	}
}

func TestBeginResumeFiresImmediatelyWithNoPeers(t *testing.T) {
	s, _, scanner, player := newTestSession(t)
	s.playback.PositionSeconds = 12.5

	done := make(chan struct{})
	go func() {
		defer close(done)
		name, value := readSetProperty(t, scanner, player)
		require.Equal(t, PropPause, name)
		require.Equal(t, false, value)
	}()

	s.beginResume()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate local unpause with no peers to coordinate with")
	}

	select {
	case m := <-s.link.highCh:
		t.Fatalf("expected no state broadcast with no peers to notify, got %v", m)
	default:
	}
	_, active := s.barrier.InitiatorTag()
	require.False(t, active)
}

func TestBeginResumeWaitsForPeerReady(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	s.peers["peer-1"] = &PeerObservation{MemberID: "peer-1"}

	s.beginResume()

	select {
	case m := <-s.link.highCh:
		require.Equal(t, wire.TypeResumeRequest, m.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a resume_request broadcast")
	}

	tag, active := s.barrier.InitiatorTag()
	require.True(t, active)

	s.onPeerResumeReady("peer-1", tag)

	select {
	case m := <-s.link.highCh:
		require.Equal(t, wire.TypeState, m.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a state broadcast once the only peer is ready")
	}
}

func TestOnPeerGoneClearsLatencyAndUnblocksBarrier(t *testing.T) {
	s, _, scanner, player := newTestSession(t)
	s.members["peer-1"] = "Peer One"
	s.peers["peer-1"] = &PeerObservation{MemberID: "peer-1"}
	s.latency.RecordSample("peer-1", 40)

	_, immediate := s.barrier.BeginAsInitiator([]string{"peer-1"})
	require.False(t, immediate)

	// The departure first updates the party count; peer-1 was the only
	// pending peer, so it also satisfies the barrier vacuously and fires an
	// immediate local unpause.
	done := make(chan struct{})
	go func() {
		defer close(done)
		countName, countValue := readSetProperty(t, scanner, player)
		require.Equal(t, PropPartyCount, countName)
		require.Equal(t, float64(0), countValue)
		name, value := readSetProperty(t, scanner, player)
		require.Equal(t, PropPause, name)
		require.Equal(t, false, value)
	}()

	s.onPeerGone("peer-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate local unpause once the last pending peer left")
	}

	require.Equal(t, defaultRTT, s.latency.RTT("peer-1"))
	require.NotContains(t, s.members, "peer-1")
	require.NotContains(t, s.peers, "peer-1")
}

func TestOnPeerSeekAppliesAndRecordsEcho(t *testing.T) {
	s, _, scanner, player := newTestSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.True(t, scanner.Scan())
		var req struct {
			Command   []any `json:"command"`
			RequestID int64 `json:"request_id"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &req))
		require.Equal(t, "seek", req.Command[0])
		resp, _ := json.Marshal(map[string]any{"error": "success", "request_id": req.RequestID})
		_, _ = player.Write(append(resp, '\n'))

		name, value := readSetProperty(t, scanner, player)
		require.Equal(t, PropPause, name)
		require.Equal(t, false, value)
	}()

	s.onPeerSeek("peer-1", wire.SeekPayload{PositionSeconds: 99, Paused: false})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected seek command and pause property write")
	}

	require.True(t, s.echo.ShouldSuppressSeek(99))
}
