package relay

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtldg/simulcast-mpv/roomid"
	"github.com/rtldg/simulcast-mpv/wire"
)

func newTestRegistry() *Registry {
	logger := zerolog.Nop()
	return NewRegistry(&logger)
}

func TestJoinOrderPreserved(t *testing.T) {
	r := newTestRegistry()
	id := roomid.Derive("movie.mkv", "secret")

	outA := make(chan wire.Message, 4)
	outB := make(chan wire.Message, 4)
	outC := make(chan wire.Message, 4)

	r.Join(id, "a", "Alice", outA)
	r.Join(id, "b", "Bob", outB)
	members := r.Join(id, "c", "Carol", outC)

	require.Len(t, members, 3)
	assert.Equal(t, "a", members[0].ID)
	assert.Equal(t, "b", members[1].ID)
	assert.Equal(t, "c", members[2].ID)
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := newTestRegistry()
	id := roomid.Derive("movie.mkv", "secret")

	outA := make(chan wire.Message, 4)
	outB := make(chan wire.Message, 4)
	r.Join(id, "a", "", outA)
	r.Join(id, "b", "", outB)

	msg := wire.NewPause(true)
	r.Broadcast(id, "a", msg)

	select {
	case got := <-outB:
		assert.Equal(t, msg, got)
	default:
		t.Fatal("expected b to receive broadcast")
	}
	select {
	case <-outA:
		t.Fatal("sender should not receive its own broadcast")
	default:
	}
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	r := newTestRegistry()
	id := roomid.Derive("movie.mkv", "secret")
	out := make(chan wire.Message, 1)
	r.Join(id, "a", "", out)
	assert.Equal(t, 1, r.RoomCount())
	r.Leave(id, "a")
	assert.Equal(t, 0, r.RoomCount())
}

func TestLeaveKeepsRoomWithRemainingMembers(t *testing.T) {
	r := newTestRegistry()
	id := roomid.Derive("movie.mkv", "secret")
	outA := make(chan wire.Message, 1)
	outB := make(chan wire.Message, 1)
	r.Join(id, "a", "", outA)
	r.Join(id, "b", "", outB)
	r.Leave(id, "a")
	assert.Equal(t, 1, r.RoomCount())
	members := r.Members(id)
	require.Len(t, members, 1)
	assert.Equal(t, "b", members[0].ID)
}

func TestSendToRoutesOnlyToTarget(t *testing.T) {
	r := newTestRegistry()
	id := roomid.Derive("movie.mkv", "secret")
	outA := make(chan wire.Message, 1)
	outB := make(chan wire.Message, 1)
	r.Join(id, "a", "", outA)
	r.Join(id, "b", "", outB)

	msg := wire.NewPing("b", "nonce", 1)
	ok := r.SendTo(id, "b", msg)
	assert.True(t, ok)

	select {
	case got := <-outB:
		assert.Equal(t, msg, got)
	default:
		t.Fatal("expected b to receive the targeted ping")
	}
	select {
	case <-outA:
		t.Fatal("a should not receive a message targeted at b")
	default:
	}
}

func TestSendToUnknownTargetFails(t *testing.T) {
	r := newTestRegistry()
	id := roomid.Derive("movie.mkv", "secret")
	out := make(chan wire.Message, 1)
	r.Join(id, "a", "", out)
	ok := r.SendTo(id, "nonexistent", wire.NewPing("nonexistent", "n", 1))
	assert.False(t, ok)
}

func TestBroadcastBestEffortOnFullOutbox(t *testing.T) {
	r := newTestRegistry()
	id := roomid.Derive("movie.mkv", "secret")
	outA := make(chan wire.Message) // unbuffered, never drained -> always full for a non-blocking send
	outB := make(chan wire.Message, 1)
	r.Join(id, "a", "", outA)
	r.Join(id, "b", "", outB)

	r.Broadcast(id, "c-not-a-member", wire.NewPause(true))

	select {
	case <-outB:
	default:
		t.Fatal("b should still receive broadcast even though a's outbox is full")
	}
}
