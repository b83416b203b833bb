package client

import (
	"sync"
	"time"
)

// resumeGrace is the small buffer added on top of half the max RTT when
// the initiator computes the resume deadline.
const resumeGrace = 50 * time.Millisecond

// resumeCollectTimeout bounds how long the initiator waits for
// resume_ready from every known peer before firing with whoever answered.
const resumeCollectTimeout = 1500 * time.Millisecond

// initiatorState tracks one in-flight resume coordinated by us.
type initiatorState struct {
	tag   int64
	ready map[string]bool // peer ID -> has replied resume_ready
}

// Barrier coordinates a synchronized resume across peers. It plays both
// roles: the initiator collecting resume_ready replies, and the follower
// arming a single scheduled-unpause timer.
type Barrier struct {
	mu sync.Mutex

	initiator *initiatorState

	followerTimer *time.Timer
	followerTag   int64
}

func NewBarrier() *Barrier {
	return &Barrier{}
}

// nextTag is a process-local monotonic counter used to correlate a resume
// round's resume_request/resume_ready messages and to label locally armed
// follower timers.
var tagCounter int64
var tagMu sync.Mutex

func nextTag() int64 {
	tagMu.Lock()
	defer tagMu.Unlock()
	tagCounter++
	return tagCounter
}

// BeginAsInitiator starts a new PendingResume with the given known peers.
// Returns the tag to broadcast in resume_request, and whether the barrier
// is immediately satisfied (zero known peers fires immediately).
func (b *Barrier) BeginAsInitiator(peers []string) (tag int64, immediate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tag = nextTag()
	st := &initiatorState{tag: tag, ready: make(map[string]bool, len(peers))}
	for _, p := range peers {
		st.ready[p] = false
	}
	b.initiator = st
	return tag, len(peers) == 0
}

// HandleResumeReady marks a peer ready for the current initiator-side
// PendingResume if the tag matches. Returns whether every known peer is
// now ready.
func (b *Barrier) HandleResumeReady(tag int64, peerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initiator == nil || b.initiator.tag != tag {
		return false
	}
	if _, known := b.initiator.ready[peerID]; known {
		b.initiator.ready[peerID] = true
	}
	return b.allReadyLocked()
}

// RemovePeer drops a peer from the current initiator-side PendingResume
// on disconnect mid-barrier. Returns whether the remaining set is now
// fully ready.
func (b *Barrier) RemovePeer(peerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initiator == nil {
		return false
	}
	delete(b.initiator.ready, peerID)
	return b.allReadyLocked()
}

func (b *Barrier) allReadyLocked() bool {
	if b.initiator == nil {
		return false
	}
	for _, ready := range b.initiator.ready {
		if !ready {
			return false
		}
	}
	return true
}

// PendingPeers returns the peer IDs still part of the current
// initiator-side PendingResume, ready or not.
func (b *Barrier) PendingPeers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initiator == nil {
		return nil
	}
	out := make([]string, 0, len(b.initiator.ready))
	for p := range b.initiator.ready {
		out = append(out, p)
	}
	return out
}

// InitiatorTag returns the active initiator-side tag, if any.
func (b *Barrier) InitiatorTag() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initiator == nil {
		return 0, false
	}
	return b.initiator.tag, true
}

// AbortInitiator cancels the current initiator-side PendingResume, e.g.
// when a peer paused before the deadline.
func (b *Barrier) AbortInitiator() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initiator = nil
}

// FinishInitiator clears the initiator-side PendingResume after firing.
func (b *Barrier) FinishInitiator() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initiator = nil
}

// ComputeOffset returns max(RTT_i)/2 + resumeGrace across the pending
// peers.
func (b *Barrier) ComputeOffset(latency *LatencyTracker) time.Duration {
	peers := b.PendingPeers()
	return latency.MaxRTT(peers)/2 + resumeGrace
}

// ArmFollower schedules a local unpause at now+delay for the given tag,
// cancelling and replacing any previously-armed timer. fire is invoked on
// its own goroutine when the timer elapses.
func (b *Barrier) ArmFollower(tag int64, delay time.Duration, fire func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.followerTimer != nil {
		b.followerTimer.Stop()
	}
	if delay < 0 {
		delay = 0
	}
	b.followerTag = tag
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		if b.followerTimer == t {
			b.followerTimer = nil
		}
		b.mu.Unlock()
		fire()
	})
	b.followerTimer = t
}

// CancelFollower disarms any pending scheduled unpause: a seek or remote
// pause{true} arriving mid-barrier snaps back instead of firing.
func (b *Barrier) CancelFollower() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.followerTimer != nil {
		b.followerTimer.Stop()
		b.followerTimer = nil
	}
}

// FollowerActive reports whether a scheduled unpause is currently armed.
func (b *Barrier) FollowerActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.followerTimer != nil
}
