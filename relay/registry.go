// Package relay implements the relay server side of the protocol: the room
// registry (this file) and the per-connection session state machine
// (session.go). Rooms have no separate join-ACL step, so membership
// storage and message fan-out live in one registry actor.
package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtldg/simulcast-mpv/roomid"
	"github.com/rtldg/simulcast-mpv/wire"
)

// Outbox is how the registry delivers a message to one member's session.
// Session.go supplies a buffered channel; see defaultOutboxBuffer.
type Outbox chan<- wire.Message

// member is the registry's bookkeeping for one connected participant.
type member struct {
	id      string
	name    string
	outbox  Outbox
	dropped bool // marked true on a failed send; later Broadcast/SendTo calls skip the member until it leaves
}

// room is never locked on its own; the Registry's mutex is the single
// writer lock for all rooms.
type room struct {
	id        roomid.ID
	members   []*member // insertion order preserved for deterministic fan-out
	createdAt time.Time
}

// Registry is the process-wide room → members mapping. It is the relay's
// only contended structure; every exported method takes the same mutex.
type Registry struct {
	mu     sync.Mutex
	rooms  map[roomid.ID]*room
	logger zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[roomid.ID]*room),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Join inserts memberID at the tail of the room's member list (creating
// the room if this is the first joiner) and returns a snapshot of the
// member list as it stood immediately after insertion, for the joiner's
// own "joined" reply.
func (r *Registry) Join(id roomid.ID, memberID, name string, outbox Outbox) []wire.Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		rm = &room{id: id, createdAt: time.Now()}
		r.rooms[id] = rm
	}
	rm.members = append(rm.members, &member{id: memberID, name: name, outbox: outbox})

	r.logger.Debug().Str("room", id.String()).Str("member", memberID).Int("count", len(rm.members)).Msg("member joined")
	return snapshot(rm)
}

// Leave removes memberID from its room. If the room becomes empty it is
// destroyed.
func (r *Registry) Leave(id roomid.ID, memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return
	}
	rm.members = removeMember(rm.members, memberID)
	if len(rm.members) == 0 {
		delete(r.rooms, id)
		r.logger.Debug().Str("room", id.String()).Msg("room destroyed, last member left")
		return
	}
	r.logger.Debug().Str("room", id.String()).Str("member", memberID).Int("count", len(rm.members)).Msg("member left")
}

// Broadcast delivers msg to every member of id except fromMemberID.
// Delivery is best-effort per-peer: one failed send does not abort
// delivery to the rest. The failing peer is only flagged as dropped: it
// receives nothing further, but the registry neither removes it from the
// room nor disconnects it; it stays listed until its own session leaves.
func (r *Registry) Broadcast(id roomid.ID, fromMemberID string, msg wire.Message) {
	r.mu.Lock()
	rm, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	targets := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		if m.id != fromMemberID && !m.dropped {
			targets = append(targets, m)
		}
	}
	r.mu.Unlock()

	for _, m := range targets {
		select {
		case m.outbox <- msg:
		default:
			r.mu.Lock()
			m.dropped = true
			r.mu.Unlock()
			r.logger.Debug().Str("room", id.String()).Str("member", m.id).Msg("outbox full, marked for disconnect")
		}
	}
}

// SendTo delivers msg to exactly one member of id (used for ping/pong,
// which are routed per-peer, not fanned out to the room). Returns false if
// the target is not a member of the room or its outbox is full.
func (r *Registry) SendTo(id roomid.ID, toMemberID string, msg wire.Message) bool {
	r.mu.Lock()
	rm, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	var target *member
	for _, m := range rm.members {
		if m.id == toMemberID {
			target = m
			break
		}
	}
	r.mu.Unlock()
	if target == nil || target.dropped {
		return false
	}

	select {
	case target.outbox <- msg:
		return true
	default:
		r.mu.Lock()
		target.dropped = true
		r.mu.Unlock()
		return false
	}
}

// Members returns a snapshot of a room's current membership.
func (r *Registry) Members(id roomid.ID) []wire.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil
	}
	return snapshot(rm)
}

// RoomCount reports how many rooms currently have at least one member.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func snapshot(rm *room) []wire.Member {
	out := make([]wire.Member, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, wire.Member{ID: m.id, Name: m.name})
	}
	return out
}

func removeMember(members []*member, id string) []*member {
	out := members[:0]
	for _, m := range members {
		if m.id != id {
			out = append(out, m)
		}
	}
	return out
}
