package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	s := NewService("test-secret", time.Hour)
	token, err := s.IssueToken(42, "alice")
	require.NoError(t, err)

	userID, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestParseExpiredToken(t *testing.T) {
	s := &Service{secret: []byte("test-secret"), tokenTTL: -time.Minute}
	token, err := s.IssueToken(7, "bob")
	require.NoError(t, err)

	_, err = s.ParseToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseGarbageToken(t *testing.T) {
	s := NewService("test-secret", time.Hour)
	_, err := s.ParseToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-one", time.Hour)
	verifier := NewService("secret-two", time.Hour)
	token, err := issuer.IssueToken(9, "carol")
	require.NoError(t, err)

	_, err = verifier.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
