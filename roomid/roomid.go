// Package roomid computes the RoomId the relay uses to scope membership:
// blake3(media_identifier || shared_room_secret), hex-encoded. The relay
// only ever sees this hash, never the media identifier or secret.
package roomid

import (
	"encoding/hex"
	"errors"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// ErrBadLength is returned by Decode when the hex string doesn't decode to
// exactly Size bytes.
var ErrBadLength = errors.New("roomid: wrong length")

// ID is a RoomId: a 32-byte blake3 digest.
type ID [Size]byte

// Derive computes the RoomId for a given media identifier and shared room
// secret. Identical inputs on any two clients yield an identical ID.
func Derive(mediaIdentifier, sharedSecret string) ID {
	h := blake3.New(Size, nil)
	_, _ = h.Write([]byte(mediaIdentifier))
	_, _ = h.Write([]byte(sharedSecret))
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// String renders the RoomId as 64 lowercase hex characters.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Decode parses a hex-encoded RoomId, validating its length.
func Decode(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, err
	}
	if len(b) != Size {
		return ID{}, ErrBadLength
	}
	var id ID
	copy(id[:], b)
	return id, nil
}
