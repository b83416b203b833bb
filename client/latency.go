package client

import (
	"sync"
	"time"
)

// defaultRTT is assumed for a peer with no samples yet.
const defaultRTT = 200 * time.Millisecond

// ewmaAlpha is the smoothing factor for RTT samples.
const ewmaAlpha = 0.25

// PingInterval is how often the session pings each known peer.
const PingInterval = 3 * time.Second

// LatencyTracker maintains a smoothed per-peer RTT estimate from ping/pong
// round trips.
type LatencyTracker struct {
	mu    sync.Mutex
	peers map[string]*peerRTT
}

type peerRTT struct {
	smoothedMS float64
	hasSample  bool
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{peers: make(map[string]*peerRTT)}
}

// RecordSample feeds one RTT measurement (milliseconds) for a peer into its
// EWMA, creating the peer's entry if this is the first sample.
func (t *LatencyTracker) RecordSample(memberID string, rttMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[memberID]
	if !ok {
		p = &peerRTT{}
		t.peers[memberID] = p
	}
	if !p.hasSample {
		p.smoothedMS = rttMS
		p.hasSample = true
		return
	}
	p.smoothedMS = ewmaAlpha*rttMS + (1-ewmaAlpha)*p.smoothedMS
}

// RTT returns the smoothed RTT for memberID, or defaultRTT if no sample has
// been recorded yet.
func (t *LatencyTracker) RTT(memberID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[memberID]
	if !ok || !p.hasSample {
		return defaultRTT
	}
	return time.Duration(p.smoothedMS * float64(time.Millisecond))
}

// Forget drops a peer's RTT state, e.g. on PeerGone.
func (t *LatencyTracker) Forget(memberID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, memberID)
}

// MaxRTT returns the largest known RTT among the given peer IDs, or
// defaultRTT if peers is empty or all unknown.
func (t *LatencyTracker) MaxRTT(peers []string) time.Duration {
	max := time.Duration(0)
	for _, p := range peers {
		if rtt := t.RTT(p); rtt > max {
			max = rtt
		}
	}
	if max == 0 {
		return defaultRTT
	}
	return max
}
