package client

import (
	"sync"
	"time"
)

// echoHistorySize is the number of recent remote-applied commands
// remembered for suppression.
const echoHistorySize = 8

// echoWindow bounds how long a remote-applied command suppresses a
// matching local change.
const echoWindow = 250 * time.Millisecond

// seekEchoTolerance is the position-delta tolerance used to match a local
// seek against a recently-applied remote seek.
const seekEchoTolerance = 1.5 // seconds

type appliedCommand struct {
	kind     string // "pause" or "seek"
	paused   bool
	position float64
	at       time.Time
}

// EchoGuard remembers recently remote-applied commands so the session can
// avoid rebroadcasting the player-side change they caused: after any
// pause{true} applied remotely, no matching pause{true} is emitted within
// the suppression window.
type EchoGuard struct {
	mu      sync.Mutex
	history []appliedCommand
}

func NewEchoGuard() *EchoGuard {
	return &EchoGuard{}
}

// RecordApplied marks that a remote command was just applied to the local
// player, so the resulting property-change event should not be rebroadcast.
func (g *EchoGuard) RecordApplied(kind string, paused bool, position float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, appliedCommand{kind: kind, paused: paused, position: position, at: time.Now()})
	if len(g.history) > echoHistorySize {
		g.history = g.history[len(g.history)-echoHistorySize:]
	}
}

// ShouldSuppressPause reports whether a local pause-state change to paused
// matches a recently remote-applied pause within the suppression window.
func (g *EchoGuard) ShouldSuppressPause(paused bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for i := len(g.history) - 1; i >= 0; i-- {
		c := g.history[i]
		if now.Sub(c.at) > echoWindow {
			break
		}
		if c.kind == "pause" && c.paused == paused {
			return true
		}
	}
	return false
}

// ShouldSuppressSeek reports whether a local seek to position matches a
// recently remote-applied seek within tolerance and the suppression window.
func (g *EchoGuard) ShouldSuppressSeek(position float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for i := len(g.history) - 1; i >= 0; i-- {
		c := g.history[i]
		if now.Sub(c.at) > echoWindow {
			break
		}
		if c.kind == "seek" && abs(c.position-position) <= seekEchoTolerance {
			return true
		}
	}
	return false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
