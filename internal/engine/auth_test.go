package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenValidator_RoundTrip(t *testing.T) {
	tv := NewTokenValidator("test-secret", "simpiller-adherence")

	token, err := tv.Generate("user-1", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := tv.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "simpiller-adherence", claims.Issuer)
}

func TestTokenValidator_WrongSecret(t *testing.T) {
	tv := NewTokenValidator("test-secret", "simpiller-adherence")
	other := NewTokenValidator("other-secret", "simpiller-adherence")

	token, err := tv.Generate("user-1", "admin", time.Hour)
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err)
}

func TestTokenValidator_Expired(t *testing.T) {
	tv := NewTokenValidator("test-secret", "simpiller-adherence")

	token, err := tv.Generate("user-1", "admin", -time.Minute)
	require.NoError(t, err)

	_, err = tv.Validate(token)
	assert.Error(t, err)
}

func TestTokenValidator_WrongIssuer(t *testing.T) {
	issued := NewTokenValidator("test-secret", "someone-else")
	tv := NewTokenValidator("test-secret", "simpiller-adherence")

	token, err := issued.Generate("user-1", "admin", time.Hour)
	require.NoError(t, err)

	_, err = tv.Validate(token)
	assert.Error(t, err)
}

func TestTokenValidator_Garbage(t *testing.T) {
	tv := NewTokenValidator("test-secret", "simpiller-adherence")

	_, err := tv.Validate("not-a-jwt")
	assert.Error(t, err)
}
