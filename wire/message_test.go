package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllVariants(t *testing.T) {
	dur := 120.5
	offset := int64(110)
	msgs := []Message{
		NewHello("m1", "https://example.org/src", "welcome"),
		NewJoin("abc123", "alice"),
		NewJoined([]Member{{ID: "m1", Name: "alice"}, {ID: "m2"}}),
		NewPeerJoined("m2", "bob"),
		NewPeerLeft("m2", "bob"),
		NewState(PlaybackState{Paused: true, PositionSeconds: 42, MediaIdentifier: "movie.mkv", DurationSeconds: &dur}, &offset),
		NewSeek(600, false),
		NewPause(true),
		NewResumeRequest(7),
		NewResumeReady(7),
		NewPing("m2", "nonce1", 1000),
		NewPong("m2", "nonce1", 1005),
		NewBye(),
	}
	chat, err := NewChat("hello world")
	require.NoError(t, err)
	msgs = append(msgs, chat)

	for _, m := range msgs {
		b, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestNewChatTooLong(t *testing.T) {
	_, err := NewChat(strings.Repeat("x", MaxChatLength+1))
	require.ErrorIs(t, err, ErrChatTooLong)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMissingPayload(t *testing.T) {
	_, err := Decode([]byte(`{"type":"pause"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnknownTypeIsIgnorable(t *testing.T) {
	_, err := Decode([]byte(`{"type":"future_feature","future_feature":{"x":1}}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeChatTooLongIsMalformed(t *testing.T) {
	longChat := `{"type":"chat","chat":{"text":"` + strings.Repeat("x", MaxChatLength+1) + `"}}`
	_, err := Decode([]byte(longChat))
	require.ErrorIs(t, err, ErrMalformed)
}
