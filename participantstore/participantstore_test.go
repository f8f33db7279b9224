package participantstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProviderParticipantIDReturnsSeededValue(t *testing.T) {
	s := NewInMemoryStore(map[string]string{
		Key("d", "i", 1): "p1",
	})

	id, err := s.GetProviderParticipantID("d", "i", 1)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}

func TestGetProviderParticipantIDErrorsWhenUnseeded(t *testing.T) {
	s := NewInMemoryStore(nil)
	_, err := s.GetProviderParticipantID("d", "i", 1)
	assert.Error(t, err)
}

func TestSetAddsAfterConstruction(t *testing.T) {
	s := NewInMemoryStore(nil)
	s.SetProviderParticipantID("d", "i", 2, "p2")

	id, err := s.GetProviderParticipantID("d", "i", 2)
	require.NoError(t, err)
	assert.Equal(t, "p2", id)
}
