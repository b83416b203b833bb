// Package errs defines the sentinel error kinds shared across the
// adapter and relay, joined with their causes via errors.Join and
// matched with errors.Is.
package errs

import "errors"

var (
	// ConfigError: fatal at startup, printed to stderr, exit 1.
	ConfigError = errors.New("config error")
	// PlayerUnavailable: exit 2 at startup; terminates the client process mid-session.
	PlayerUnavailable = errors.New("player unavailable")
	// RelayUnavailable: triggers the reconnect loop with backoff.
	RelayUnavailable = errors.New("relay unavailable")
	// ProtocolError: relay closes the offending session.
	ProtocolError = errors.New("protocol error")
	// PeerGone: peer removed from PendingResume/PeerObservation.
	PeerGone = errors.New("peer gone")
	// Transient: logged at debug, not surfaced.
	Transient = errors.New("transient error")
)
