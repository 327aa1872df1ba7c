package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeE164(t *testing.T) {
	got, err := NormalizeE164("06 12345678")
	require.NoError(t, err)
	assert.Equal(t, "+31612345678", got)

	got, err = NormalizeE164("+1 650-253-0000")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", got)
}

func TestNormalizeE164EmptyAndInvalid(t *testing.T) {
	got, err := NormalizeE164("   ")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NormalizeE164("not a number")
	assert.ErrorIs(t, err, ErrInvalidNumber)
}
