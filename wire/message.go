// Package wire implements the line-delimited message envelope exchanged
// between the client adapter and the relay over a WebSocket text connection.
//
// Each Message is a closed tagged union: Type names which single payload
// field is populated. An unknown Type makes Decode return ErrUnknownType
// with a zero Message (forward-compat); callers should ignore such a
// message rather than treat it as malformed.
package wire

import (
	"encoding/json"
	"errors"
	"unicode/utf8"
)

// ProtocolVersion is exchanged in hello/join. A mismatch closes the
// connection cleanly (see relay/session.go).
const ProtocolVersion = 1

// Type tags. Stable wire names; do not rename without a protocol version bump.
const (
	TypeHello         = "hello"
	TypeJoin          = "join"
	TypeJoined        = "joined"
	TypePeerJoined    = "peer_joined"
	TypePeerLeft      = "peer_left"
	TypeState         = "state"
	TypeSeek          = "seek"
	TypePause         = "pause"
	TypeResumeRequest = "resume_request"
	TypeResumeReady   = "resume_ready"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeChat          = "chat"
	TypeBye           = "bye"
)

// MaxChatLength bounds chat payload length in runes.
const MaxChatLength = 500

var (
	// ErrMalformed marks a frame that could not be decoded at all (not
	// valid JSON, or missing a required field for its declared Type).
	// Relay sessions drop the connection on this error.
	ErrMalformed = errors.New("wire: malformed frame")
	// ErrUnknownType marks a frame with a Type the decoder doesn't
	// recognize. Forward-compat: callers should ignore, not disconnect.
	ErrUnknownType = errors.New("wire: unknown message type")
	// ErrChatTooLong is returned by NewChat when text exceeds MaxChatLength.
	ErrChatTooLong = errors.New("wire: chat text too long")
)

// Member describes one room participant as seen by peers.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// PlaybackState is a point-in-time snapshot of one participant's player.
type PlaybackState struct {
	Paused          bool     `json:"paused"`
	PositionSeconds float64  `json:"position_seconds"`
	MediaIdentifier string   `json:"media_identifier"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

type HelloPayload struct {
	ProtocolVersion int    `json:"protocol_version"`
	MemberID        string `json:"member_id"`
	RepoURL         string `json:"repo_url,omitempty"`
	Welcome         string `json:"welcome,omitempty"`
}

type JoinPayload struct {
	RoomID          string `json:"room_id"`
	Name            string `json:"name,omitempty"`
	ProtocolVersion int    `json:"protocol_version"`
}

type JoinedPayload struct {
	Members []Member `json:"members"`
}

type PeerJoinedPayload struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name,omitempty"`
}

type PeerLeftPayload struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name,omitempty"`
}

// StatePayload carries the sender's PlaybackState. ScheduledOffsetMS is set
// only on a barrier-driven resume: the receiver applies paused=false at
// local_recv_time + offset minus its estimated one-way latency to the
// sender, not immediately (see Session.onPeerState in client/session.go).
type StatePayload struct {
	PlaybackState
	ScheduledOffsetMS *int64 `json:"scheduled_offset_ms,omitempty"`
}

type SeekPayload struct {
	PositionSeconds float64 `json:"position_seconds"`
	Paused          bool    `json:"paused"`
}

type PausePayload struct {
	Paused bool `json:"paused"`
}

// ResumeRequestPayload announces intent to resume. Tag is an opaque
// monotonic value the initiator uses to correlate resume_ready replies with
// its current round; replies carrying any other tag are ignored.
type ResumeRequestPayload struct {
	Tag int64 `json:"tag"`
}

type ResumeReadyPayload struct {
	Tag int64 `json:"tag"`
}

// PingPayload carries an opaque nonce plus the pinger's send-side monotonic
// timestamp in milliseconds; PongPayload echoes that nonce and that same
// timestamp back to the pinger. Target restricts routing to one peer; the
// relay never broadcasts a ping/pong to the whole room.
type PingPayload struct {
	Target   string `json:"target,omitempty"`
	Nonce    string `json:"nonce"`
	SentAtMS int64  `json:"sent_at_ms"`
}

type PongPayload struct {
	Target   string `json:"target,omitempty"`
	Nonce    string `json:"nonce"`
	SentAtMS int64  `json:"sent_at_ms"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

type ByePayload struct{}

// Message is the wire envelope. Exactly one payload field is non-nil for a
// well-formed, known-type message.
type Message struct {
	Type string `json:"type"`

	// From identifies the sender for broadcast/routed message types. The
	// relay always overwrites this with the sending session's member ID
	// before forwarding; the sender's own value, if any, is ignored.
	From string `json:"from,omitempty"`

	Hello         *HelloPayload         `json:"hello,omitempty"`
	Join          *JoinPayload          `json:"join,omitempty"`
	Joined        *JoinedPayload        `json:"joined,omitempty"`
	PeerJoined    *PeerJoinedPayload    `json:"peer_joined,omitempty"`
	PeerLeft      *PeerLeftPayload      `json:"peer_left,omitempty"`
	State         *StatePayload         `json:"state,omitempty"`
	Seek          *SeekPayload          `json:"seek,omitempty"`
	Pause         *PausePayload         `json:"pause,omitempty"`
	ResumeRequest *ResumeRequestPayload `json:"resume_request,omitempty"`
	ResumeReady   *ResumeReadyPayload   `json:"resume_ready,omitempty"`
	Ping          *PingPayload          `json:"ping,omitempty"`
	Pong          *PongPayload          `json:"pong,omitempty"`
	Chat          *ChatPayload          `json:"chat,omitempty"`
	Bye           *ByePayload           `json:"bye,omitempty"`
}

func NewHello(memberID, repoURL, welcome string) Message {
	return Message{Type: TypeHello, Hello: &HelloPayload{
		ProtocolVersion: ProtocolVersion,
		MemberID:        memberID,
		RepoURL:         repoURL,
		Welcome:         welcome,
	}}
}

func NewJoin(roomID, name string) Message {
	return Message{Type: TypeJoin, Join: &JoinPayload{
		RoomID:          roomID,
		Name:            name,
		ProtocolVersion: ProtocolVersion,
	}}
}

func NewJoined(members []Member) Message {
	return Message{Type: TypeJoined, Joined: &JoinedPayload{Members: members}}
}

func NewPeerJoined(memberID, name string) Message {
	return Message{Type: TypePeerJoined, PeerJoined: &PeerJoinedPayload{MemberID: memberID, Name: name}}
}

func NewPeerLeft(memberID, name string) Message {
	return Message{Type: TypePeerLeft, PeerLeft: &PeerLeftPayload{MemberID: memberID, Name: name}}
}

func NewState(state PlaybackState, scheduledOffsetMS *int64) Message {
	return Message{Type: TypeState, State: &StatePayload{PlaybackState: state, ScheduledOffsetMS: scheduledOffsetMS}}
}

func NewSeek(positionSeconds float64, paused bool) Message {
	return Message{Type: TypeSeek, Seek: &SeekPayload{PositionSeconds: positionSeconds, Paused: paused}}
}

func NewPause(paused bool) Message {
	return Message{Type: TypePause, Pause: &PausePayload{Paused: paused}}
}

func NewResumeRequest(tag int64) Message {
	return Message{Type: TypeResumeRequest, ResumeRequest: &ResumeRequestPayload{Tag: tag}}
}

func NewResumeReady(tag int64) Message {
	return Message{Type: TypeResumeReady, ResumeReady: &ResumeReadyPayload{Tag: tag}}
}

func NewPing(target, nonce string, sentAtMS int64) Message {
	return Message{Type: TypePing, Ping: &PingPayload{Target: target, Nonce: nonce, SentAtMS: sentAtMS}}
}

func NewPong(target, nonce string, sentAtMS int64) Message {
	return Message{Type: TypePong, Pong: &PongPayload{Target: target, Nonce: nonce, SentAtMS: sentAtMS}}
}

func NewChat(text string) (Message, error) {
	if utf8.RuneCountInString(text) > MaxChatLength {
		return Message{}, ErrChatTooLong
	}
	return Message{Type: TypeChat, Chat: &ChatPayload{Text: text}}, nil
}

func NewBye() Message {
	return Message{Type: TypeBye, Bye: &ByePayload{}}
}

// Encode serializes m as a single JSON object, suitable for one WebSocket
// text frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one WebSocket text frame. A syntactically invalid frame, or
// a known Type missing its payload field, returns ErrMalformed. A
// syntactically valid frame with an unrecognized Type returns ErrUnknownType
// alongside the zero Message so callers can choose to ignore it.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errors.Join(ErrMalformed, err)
	}
	if err := validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func validate(m Message) error {
	switch m.Type {
	case TypeHello:
		if m.Hello == nil {
			return ErrMalformed
		}
	case TypeJoin:
		if m.Join == nil {
			return ErrMalformed
		}
	case TypeJoined:
		if m.Joined == nil {
			return ErrMalformed
		}
	case TypePeerJoined:
		if m.PeerJoined == nil {
			return ErrMalformed
		}
	case TypePeerLeft:
		if m.PeerLeft == nil {
			return ErrMalformed
		}
	case TypeState:
		if m.State == nil {
			return ErrMalformed
		}
	case TypeSeek:
		if m.Seek == nil {
			return ErrMalformed
		}
	case TypePause:
		if m.Pause == nil {
			return ErrMalformed
		}
	case TypeResumeRequest:
		if m.ResumeRequest == nil {
			return ErrMalformed
		}
	case TypeResumeReady:
		if m.ResumeReady == nil {
			return ErrMalformed
		}
	case TypePing:
		if m.Ping == nil {
			return ErrMalformed
		}
	case TypePong:
		if m.Pong == nil {
			return ErrMalformed
		}
	case TypeChat:
		if m.Chat == nil {
			return ErrMalformed
		}
		if utf8.RuneCountInString(m.Chat.Text) > MaxChatLength {
			return ErrMalformed
		}
	case TypeBye:
		// no required payload
	default:
		return ErrUnknownType
	}
	return nil
}
