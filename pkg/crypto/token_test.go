package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	s := NewSealer("secret")

	sealed, err := s.Seal("ya29.access-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ya29")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", plain)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	sealed, err := NewSealer("one").Seal("token")
	require.NoError(t, err)

	_, err = NewSealer("two").Open(sealed)
	assert.Error(t, err)
}

func TestOpenPassesThroughLegacyPlaintext(t *testing.T) {
	plain, err := NewSealer("secret").Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", plain)
}

func TestSealEmpty(t *testing.T) {
	sealed, err := NewSealer("secret").Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)
}
