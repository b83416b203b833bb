package roomid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveReproducible(t *testing.T) {
	a := Derive("movie.mkv", "secret1")
	b := Derive("movie.mkv", "secret1")
	assert.Equal(t, a, b)
	assert.Equal(t, a.String(), b.String())
	assert.Len(t, a.String(), Size*2)
}

func TestDeriveDiffersOnInput(t *testing.T) {
	a := Derive("movie.mkv", "secret1")
	b := Derive("other.mkv", "secret1")
	c := Derive("movie.mkv", "secret2")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id := Derive("movie.mkv", "secret1")
	got, err := Decode(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, id.String(), got.String())
}

func TestDecodeBadLength(t *testing.T) {
	_, err := Decode("abcd")
	require.ErrorIs(t, err, ErrBadLength)
}

func TestDecodeBadHex(t *testing.T) {
	_, err := Decode("not-hex-at-all-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	require.Error(t, err)
}
