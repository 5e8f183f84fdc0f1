package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomCode(t *testing.T) {
	_, err := NewRoomCode("  \t ")
	require.ErrorIs(t, err, ErrEmptyRoomCode)

	code, err := NewRoomCode(" Test42 ")
	require.NoError(t, err)
	assert.Equal(t, RoomCode("Test42"), code)
}

func TestTopicCaseFolding(t *testing.T) {
	a, err := NewRoomCode("Room123")
	require.NoError(t, err)
	b, err := NewRoomCode("room123 ")
	require.NoError(t, err)

	assert.Equal(t, Topic("dedsec:room123"), a.Topic())
	assert.Equal(t, a.Topic(), b.Topic())
	assert.NotEqual(t, a, b, "codes stay distinct for key derivation")
	assert.Equal(t, a.Topic().InfoHash(), b.Topic().InfoHash())
	assert.Len(t, a.Topic().InfoHash(), 40)
}
