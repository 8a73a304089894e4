package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	token, err := Sign("secret", "user-1", "tenant-1", []string{"chat"}, time.Minute)
	require.NoError(t, err)

	claims, err := Parse("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, []string{"chat"}, claims.Scopes)
}

func TestParseRejects(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, err := Sign("secret", "user-1", "tenant-1", nil, time.Minute)
		require.NoError(t, err)

		_, err = Parse("other", token)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("expired", func(t *testing.T) {
		token, err := Sign("secret", "user-1", "tenant-1", nil, -time.Minute)
		require.NoError(t, err)

		_, err = Parse("secret", token)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Parse("secret", "not-a-token")
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})
}

func TestHMACTokenSourceCaches(t *testing.T) {
	src := NewHMACTokenSource("secret", "user-1", "tenant-1", time.Hour)

	first, err := src.Token()
	require.NoError(t, err)
	second, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	claims, err := Parse("secret", first)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}
