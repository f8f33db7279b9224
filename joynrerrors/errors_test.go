package joynrerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGbids(t *testing.T) {
	known := []string{"a", "b"}

	tests := []struct {
		name      string
		requested []string
		want      GbidValidation
	}{
		{"empty substitutes default, no error", nil, GbidOK},
		{"duplicate is invalid", []string{"a", "a"}, GbidInvalid},
		{"empty string is invalid", []string{"a", ""}, GbidInvalid},
		{"unknown gbid", []string{"unknown"}, GbidUnknown},
		{"known single gbid", []string{"a"}, GbidOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateGbids(tt.requested, known))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(ErrUnknownGbid))
	require.False(t, IsRetryable(NewDiscoveryError("gcd.add", InvalidGbid, "p1")))
	require.False(t, IsRetryable(ErrShutdown))
	require.False(t, IsRetryable(ErrProviderRuntimeException))

	require.True(t, IsRetryable(fmt.Errorf("dial tcp: connection refused")))
	require.True(t, IsRetryable(fmt.Errorf("wrapped: %w", fmt.Errorf("timeout"))))
}

func TestDiscoveryErrorUnwrap(t *testing.T) {
	de := NewDiscoveryError("gcd.lookup", NoEntryForParticipant, "p42")
	require.ErrorIs(t, de, ErrNoEntryForParticipant)
	require.Contains(t, de.Error(), "p42")
	require.True(t, IsApplicationError(de))
}
