package client

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtldg/simulcast-mpv/errs"
	"github.com/rtldg/simulcast-mpv/ipc"
	"github.com/rtldg/simulcast-mpv/roomid"
	"github.com/rtldg/simulcast-mpv/wire"
)

const (
	heartbeatInterval = 500 * time.Millisecond
	seekEchoThreshold  = 1.5 // seconds; local jumps smaller than this are ordinary playback, not a seek
	chatHistorySize    = 50
)

// PeerObservation is the session's view of one other room member.
type PeerObservation struct {
	MemberID string
	Name     string
	LastState wire.PlaybackState
	LastSeen time.Time
}

// ChatEntry is one message in the bounded chat ring.
type ChatEntry struct {
	SenderID string
	Text     string
	At       time.Time
}

// Session owns the IPC channel, the relay link, and all timers as a single
// writer actor. Nothing outside Session touches PlaybackState,
// PendingResume (via Barrier), or the peer map.
type Session struct {
	ipcClient *ipc.Client
	link      *Link
	barrier   *Barrier
	latency   *LatencyTracker
	echo      *EchoGuard
	logger    zerolog.Logger

	roomSecret string

	mu              sync.Mutex
	mediaIdentifier string
	roomID          roomid.ID
	playback        wire.PlaybackState
	memberID        string
	connected       bool
	members         map[string]string // memberID -> name
	peers           map[string]*PeerObservation
	chat            []ChatEntry
	heartbeat       int64
}

// NewSession wires a Session for one player instance. relayURL/name are
// used to build the underlying Link; roomSecret is the shared room code
// mixed into every RoomId derivation.
func NewSession(ipcClient *ipc.Client, relayURL, roomSecret, name string, logger *zerolog.Logger) *Session {
	l := logger.With().Str("component", "client-session").Logger()
	s := &Session{
		ipcClient:  ipcClient,
		barrier:    NewBarrier(),
		latency:    NewLatencyTracker(),
		echo:       NewEchoGuard(),
		logger:     l,
		roomSecret: roomSecret,
		members:    make(map[string]string),
		peers:      make(map[string]*PeerObservation),
	}
	s.link = NewLink(relayURL, name, roomid.ID{}, &l)
	return s
}

// Run drives the session's event loop until ctx is cancelled or the
// player connection is lost: IPC events, relay messages, link events, and
// the heartbeat/ping timers all feed this single select loop. Barrier
// timers (resume collect timeout, scheduled unpause) fire on their own
// goroutines via time.AfterFunc.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.observeProperties(); err != nil {
		return err
	}

	go s.link.Run(ctx)

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()
	pingTicker := time.NewTicker(PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ipcClient.Done():
			return errs.PlayerUnavailable
		case ev, ok := <-s.ipcClient.Events():
			if !ok {
				return errs.PlayerUnavailable
			}
			s.handlePlayerEvent(ev)
		case le := <-s.link.Events():
			s.handleLinkEvent(le)
		case m := <-s.link.Inbound():
			s.handleRelayMessage(m)
		case <-heartbeatTicker.C:
			s.tickHeartbeat()
		case <-pingTicker.C:
			s.tickPing()
		}
	}
}

func (s *Session) observeProperties() error {
	obs := []struct {
		id   int
		name string
	}{
		{obsIDPause, PropPause},
		{obsIDTime, PropTimePos},
		{obsIDPath, PropPath},
		{obsIDFile, PropFilename},
		{obsIDDur, PropDuration},
		{obsIDIntent, PropIntent},
		{obsIDCustomRoomCode, PropCustomRoomCode},
	}
	for _, o := range obs {
		if err := s.ipcClient.ObserveProperty(o.id, o.name); err != nil {
			return err
		}
	}
	return nil
}

// --- player-side events -----------------------------------------------

func (s *Session) handlePlayerEvent(ev ipc.Event) {
	if ev.Event == "shutdown" {
		return
	}
	if ev.Event != "property-change" {
		return
	}
	switch ev.Name {
	case PropPause:
		var paused bool
		if err := json.Unmarshal(ev.Data, &paused); err == nil {
			s.onLocalPauseChange(paused)
		}
	case PropTimePos:
		var pos float64
		if err := json.Unmarshal(ev.Data, &pos); err == nil {
			s.onLocalTimePos(pos)
		}
	case PropPath, PropFilename:
		var ident string
		if err := json.Unmarshal(ev.Data, &ident); err == nil {
			s.onLocalMediaChange(ident)
		}
	case PropDuration:
		var d float64
		if err := json.Unmarshal(ev.Data, &d); err == nil {
			s.mu.Lock()
			s.playback.DurationSeconds = &d
			s.mu.Unlock()
		}
	case PropIntent:
		var raw string
		if err := json.Unmarshal(ev.Data, &raw); err == nil {
			s.onIntent(ParseIntent(raw))
		}
	case PropCustomRoomCode:
		var code string
		if err := json.Unmarshal(ev.Data, &code); err == nil && code != "" {
			s.mu.Lock()
			s.roomSecret = code
			s.mu.Unlock()
			s.recomputeRoom()
		}
	}
}

func (s *Session) onLocalPauseChange(paused bool) {
	if s.echo.ShouldSuppressPause(paused) {
		return
	}
	s.mu.Lock()
	s.playback.Paused = paused
	connected := s.connected
	s.mu.Unlock()

	_, initiating := s.barrier.InitiatorTag()
	barrierActive := s.barrier.FollowerActive() || initiating

	if paused {
		// A local pause cancels any in-flight barrier on either side
		// before announcing the pause.
		if s.barrier.FollowerActive() {
			s.barrier.CancelFollower()
		}
		if _, initiating := s.barrier.InitiatorTag(); initiating {
			s.barrier.AbortInitiator()
		}
		s.link.Send(wire.NewPause(true))
		return
	}

	if !barrierActive && (!connected) {
		// User bypassed the barrier: no relay connection to coordinate
		// through, so just let the local unpause stand.
		s.link.Send(wire.NewPause(false))
		return
	}

	// Connected, or a barrier already in flight: the user's "play" keypress
	// must become a barrier-coordinated resume, not a direct unpause.
	// Undo the local unpause and hand off to the script via the intent
	// property.
	s.mu.Lock()
	s.playback.Paused = true
	s.mu.Unlock()
	s.echo.RecordApplied("pause", true, s.currentPosition())
	if err := s.ipcClient.SetProperty(PropPause, true); err != nil {
		s.logger.Debug().Err(err).Msg("failed to re-apply pause while deferring to barrier")
	}
	if err := s.ipcClient.SetProperty(PropIntent, string(IntentQueueResume)); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write queue_resume intent")
	}
}

func (s *Session) onLocalTimePos(pos float64) {
	s.mu.Lock()
	prev := s.playback.PositionSeconds
	s.playback.PositionSeconds = pos
	s.mu.Unlock()

	delta := pos - prev
	if delta < 0 {
		delta = -delta
	}
	if delta <= seekEchoThreshold {
		return // ordinary playback progress, not a seek
	}
	if s.echo.ShouldSuppressSeek(pos) {
		return
	}

	s.mu.Lock()
	paused := s.playback.Paused
	s.mu.Unlock()
	s.link.Send(wire.NewSeek(pos, paused))

	// A local seek mid-barrier cancels it.
	if s.barrier.FollowerActive() {
		s.barrier.CancelFollower()
		_ = s.ipcClient.SetProperty(PropPause, true)
	}
	if _, initiating := s.barrier.InitiatorTag(); initiating {
		s.barrier.AbortInitiator()
		s.link.Send(wire.NewPause(true))
	}
}

func (s *Session) onLocalMediaChange(identifier string) {
	s.mu.Lock()
	if identifier == s.mediaIdentifier {
		s.mu.Unlock()
		return
	}
	s.mediaIdentifier = identifier
	s.playback.MediaIdentifier = identifier
	s.mu.Unlock()
	s.recomputeRoom()
}

func (s *Session) recomputeRoom() {
	s.mu.Lock()
	identifier := s.mediaIdentifier
	secret := s.roomSecret
	s.mu.Unlock()
	if identifier == "" {
		return
	}
	id := roomid.Derive(identifier, secret)
	s.mu.Lock()
	s.roomID = id
	s.mu.Unlock()
	_ = s.ipcClient.SetProperty(PropRoomHash, id.String())
	s.link.SetRoom(id)
}

func (s *Session) onIntent(intent Intent) {
	switch intent {
	case IntentQueueResume:
		s.beginResume()
	case IntentPrintInfo:
		s.printInfo()
	case IntentIdle:
		// no-op
	}
}

func (s *Session) beginResume() {
	peers := s.knownPeerIDs()
	tag, immediate := s.barrier.BeginAsInitiator(peers)
	if immediate {
		s.fireInitiatorResume(tag)
		return
	}
	s.link.Send(wire.NewResumeRequest(tag))

	time.AfterFunc(resumeCollectTimeout, func() {
		if t, active := s.barrier.InitiatorTag(); active && t == tag {
			s.fireInitiatorResume(tag)
		}
	})
}

func (s *Session) fireInitiatorResume(tag int64) {
	if len(s.barrier.PendingPeers()) == 0 {
		// Every peer dropped out before the deadline: nobody left to
		// coordinate with, so unpause locally right away.
		s.barrier.FinishInitiator()
		s.applyScheduledResume()
		return
	}

	offset := s.barrier.ComputeOffset(s.latency)
	offsetMS := offset.Milliseconds()
	s.barrier.FinishInitiator()

	s.mu.Lock()
	state := s.playback
	state.Paused = false
	s.mu.Unlock()
	s.link.Send(wire.NewState(state, &offsetMS))

	s.barrier.ArmFollower(tag, offset, func() { s.applyScheduledResume() })
}

func (s *Session) applyScheduledResume() {
	s.mu.Lock()
	s.playback.Paused = false
	pos := s.playback.PositionSeconds
	s.mu.Unlock()
	s.echo.RecordApplied("pause", false, pos)
	if err := s.ipcClient.SetProperty(PropPause, false); err != nil {
		s.logger.Debug().Err(err).Msg("failed to apply scheduled resume")
	}
}

func (s *Session) printInfo() {
	_, _ = s.ipcClient.Command("show-text", "simulcast-mpv: connected="+boolStr(s.isConnected()), 3000)
}

// --- relay-side events --------------------------------------------------

func (s *Session) handleLinkEvent(le LinkEvent) {
	if le.Connected {
		s.mu.Lock()
		s.connected = true
		s.memberID = le.MemberID
		s.members = make(map[string]string, len(le.Members))
		for _, m := range le.Members {
			s.members[m.ID] = m.Name
		}
		state := s.playback
		s.mu.Unlock()

		s.link.Send(wire.NewState(state, nil))
		_ = s.ipcClient.SetProperty(PropPartyCount, len(le.Members))
		return
	}

	s.mu.Lock()
	s.connected = false
	s.peers = make(map[string]*PeerObservation)
	s.mu.Unlock()
	s.barrier.AbortInitiator()
	s.barrier.CancelFollower()
}

func (s *Session) handleRelayMessage(m wire.Message) {
	switch m.Type {
	case wire.TypePeerJoined:
		s.mu.Lock()
		s.members[m.PeerJoined.MemberID] = m.PeerJoined.Name
		s.peers[m.PeerJoined.MemberID] = &PeerObservation{MemberID: m.PeerJoined.MemberID, Name: m.PeerJoined.Name, LastSeen: time.Now()}
		count := len(s.members)
		state := s.playback
		s.mu.Unlock()
		_ = s.ipcClient.SetProperty(PropPartyCount, count)
		// The new member has nothing to align to until some existing
		// member re-announces state; idle members otherwise never emit
		// one again on their own.
		s.link.Send(wire.NewState(state, nil))
	case wire.TypePeerLeft:
		s.onPeerGone(m.PeerLeft.MemberID)
	case wire.TypeState:
		s.onPeerState(m.From, *m.State)
	case wire.TypeSeek:
		s.onPeerSeek(m.From, *m.Seek)
	case wire.TypePause:
		s.onPeerPause(m.From, m.Pause.Paused)
	case wire.TypeResumeRequest:
		s.onPeerResumeRequest(m.From, m.ResumeRequest.Tag)
	case wire.TypeResumeReady:
		s.onPeerResumeReady(m.From, m.ResumeReady.Tag)
	case wire.TypePing:
		s.onPeerPing(m.From, *m.Ping)
	case wire.TypePong:
		s.onPeerPong(m.From, *m.Pong)
	case wire.TypeChat:
		s.onPeerChat(m.From, m.Chat.Text)
	}
}

func (s *Session) onPeerGone(peerID string) {
	s.mu.Lock()
	delete(s.members, peerID)
	delete(s.peers, peerID)
	count := len(s.members)
	s.mu.Unlock()
	s.latency.Forget(peerID)
	_ = s.ipcClient.SetProperty(PropPartyCount, count)

	if allReady := s.barrier.RemovePeer(peerID); allReady {
		if tag, active := s.barrier.InitiatorTag(); active {
			s.fireInitiatorResume(tag)
		}
	}
}

func (s *Session) onPeerState(peerID string, state wire.StatePayload) {
	s.recordPeerState(peerID, state.PlaybackState)

	if state.ScheduledOffsetMS != nil && !state.Paused {
		oneWay := s.latency.RTT(peerID) / 2
		delay := time.Duration(*state.ScheduledOffsetMS)*time.Millisecond - oneWay
		s.barrier.ArmFollower(nextTag(), delay, func() { s.applyScheduledResume() })
		return
	}

	// A plain state snapshot (late-joiner catch-up, post-reconnect resend)
	// is applied directly, suppressed like any other remote command.
	s.applyRemoteState(state.PlaybackState)
}

func (s *Session) onPeerSeek(peerID string, seek wire.SeekPayload) {
	s.recordPeerStateField(peerID, seek.PositionSeconds, seek.Paused)
	s.echo.RecordApplied("seek", seek.Paused, seek.PositionSeconds)
	s.echo.RecordApplied("pause", seek.Paused, seek.PositionSeconds)
	if _, err := s.ipcClient.Command("seek", seek.PositionSeconds, "absolute"); err != nil {
		s.logger.Debug().Err(err).Msg("failed to apply remote seek")
	}
	if err := s.ipcClient.SetProperty(PropPause, seek.Paused); err != nil {
		s.logger.Debug().Err(err).Msg("failed to apply remote seek's pause state")
	}
	s.mu.Lock()
	s.playback.PositionSeconds = seek.PositionSeconds
	s.playback.Paused = seek.Paused
	s.mu.Unlock()
}

func (s *Session) onPeerPause(peerID string, paused bool) {
	s.recordPeerPause(peerID, paused)
	s.echo.RecordApplied("pause", paused, s.currentPosition())
	if err := s.ipcClient.SetProperty(PropPause, paused); err != nil {
		s.logger.Debug().Err(err).Msg("failed to apply remote pause")
	}
	s.mu.Lock()
	s.playback.Paused = paused
	s.mu.Unlock()

	if paused {
		if s.barrier.FollowerActive() {
			s.barrier.CancelFollower()
		}
		if _, initiating := s.barrier.InitiatorTag(); initiating {
			s.barrier.AbortInitiator()
		}
	}
}

func (s *Session) onPeerResumeRequest(peerID string, tag int64) {
	s.mu.Lock()
	paused := s.playback.Paused
	s.mu.Unlock()
	if paused {
		s.link.Send(wire.NewResumeReady(tag))
	}
}

func (s *Session) onPeerResumeReady(peerID string, tag int64) {
	if allReady := s.barrier.HandleResumeReady(tag, peerID); allReady {
		s.fireInitiatorResume(tag)
	}
}

func (s *Session) onPeerPing(peerID string, ping wire.PingPayload) {
	s.link.Send(wire.NewPong(peerID, ping.Nonce, ping.SentAtMS))
}

func (s *Session) onPeerPong(peerID string, pong wire.PongPayload) {
	rttMS := float64(nowMillis() - pong.SentAtMS)
	if rttMS < 0 {
		rttMS = 0
	}
	s.latency.RecordSample(peerID, rttMS)
}

func (s *Session) onPeerChat(peerID, text string) {
	s.mu.Lock()
	s.chat = append(s.chat, ChatEntry{SenderID: peerID, Text: text, At: time.Now()})
	if len(s.chat) > chatHistorySize {
		s.chat = s.chat[len(s.chat)-chatHistorySize:]
	}
	s.mu.Unlock()
	_ = s.ipcClient.SetProperty(PropLatestChat, text)
}

func (s *Session) applyRemoteState(state wire.PlaybackState) {
	s.echo.RecordApplied("pause", state.Paused, state.PositionSeconds)
	s.echo.RecordApplied("seek", state.Paused, state.PositionSeconds)
	if _, err := s.ipcClient.Command("seek", state.PositionSeconds, "absolute"); err != nil {
		s.logger.Debug().Err(err).Msg("failed to apply peer state seek")
	}
	if err := s.ipcClient.SetProperty(PropPause, state.Paused); err != nil {
		s.logger.Debug().Err(err).Msg("failed to apply peer state pause")
	}
	s.mu.Lock()
	s.playback.PositionSeconds = state.PositionSeconds
	s.playback.Paused = state.Paused
	s.mu.Unlock()
}

// --- timers --------------------------------------------------------------

func (s *Session) tickHeartbeat() {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	s.mu.Lock()
	s.heartbeat++
	hb := s.heartbeat
	s.mu.Unlock()
	if err := s.ipcClient.SetProperty(PropHeartbeat, hb); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write heartbeat")
	}
}

func (s *Session) tickPing() {
	for _, peerID := range s.knownPeerIDs() {
		nonce := randomNonce()
		s.link.Send(wire.NewPing(peerID, nonce, nowMillis()))
	}
}

// --- small helpers ---------------------------------------------------------

func (s *Session) knownPeerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}

func (s *Session) currentPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback.PositionSeconds
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) recordPeerState(peerID string, state wire.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[peerID]
	if !ok {
		p = &PeerObservation{MemberID: peerID}
		s.peers[peerID] = p
	}
	p.LastState = state
	p.LastSeen = time.Now()
}

func (s *Session) recordPeerStateField(peerID string, position float64, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[peerID]
	if !ok {
		p = &PeerObservation{MemberID: peerID}
		s.peers[peerID] = p
	}
	p.LastState.PositionSeconds = position
	p.LastState.Paused = paused
	p.LastSeen = time.Now()
}

func (s *Session) recordPeerPause(peerID string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[peerID]
	if !ok {
		p = &PeerObservation{MemberID: peerID}
		s.peers[peerID] = p
	}
	p.LastState.Paused = paused
	p.LastSeen = time.Now()
}

// processStart anchors nowMillis so ping timestamps come from the
// monotonic clock rather than wall-clock time.
var processStart = time.Now()

func nowMillis() int64 {
	return time.Since(processStart).Milliseconds()
}

func randomNonce() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
