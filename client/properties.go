package client

// Player property names bound over the IPC channel.
const (
	PropPause    = "pause"
	PropTimePos  = "time-pos"
	PropPath     = "path"
	PropFilename = "filename"
	PropDuration = "duration"

	PropHeartbeat      = "user-data/simulcast/heartbeat"
	PropIntent         = "user-data/simulcast/fuckmpv"
	PropRoomHash       = "user-data/simulcast/room_hash"
	PropPartyCount     = "user-data/simulcast/party_count"
	PropCustomRoomCode = "user-data/simulcast/custom_room_code"
	PropLatestChat     = "user-data/simulcast/latest-chat-message"
	PropTextChat       = "user-data/simulcast/text_chat"
	PropInputReader    = "user-data/simulcast/input_reader"
)

// Observer IDs passed to mpv's observe_property, arbitrary but stable.
const (
	obsIDPause = 1
	obsIDTime  = 2
	obsIDPath  = 3
	obsIDDur   = 4
	obsIDFile  = 5
	obsIDIntent = 6
	obsIDCustomRoomCode = 7
)

// Intent values written by the player-side script into PropIntent.
// Unknown strings are tolerated and ignored.
type Intent string

const (
	IntentIdle         Intent = "."
	IntentQueueResume  Intent = "queue_resume"
	IntentPrintInfo    Intent = "print_info"
)

// ParseIntent converts a raw property string into an Intent, defaulting
// unknown values to IntentIdle rather than erroring.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentQueueResume, IntentPrintInfo:
		return Intent(s)
	default:
		return IntentIdle
	}
}
