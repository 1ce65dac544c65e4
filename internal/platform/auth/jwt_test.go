package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	ts, err := NewHS256Service("secret", "linkcore", time.Hour)
	require.NoError(t, err)

	token, err := ts.Sign("42", RoleAdmin)
	require.NoError(t, err)

	claims, err := ts.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.NotEmpty(t, claims.TokenID)
}

func TestVerifyRejectsExpired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer, err := NewHS256Service("secret", "linkcore", time.Minute, WithClock(func() time.Time { return issued }))
	require.NoError(t, err)
	token, err := signer.Sign("7", RoleUser)
	require.NoError(t, err)

	verifier, err := NewHS256Service("secret", "linkcore", time.Minute, WithClock(func() time.Time { return issued.Add(2 * time.Minute) }))
	require.NoError(t, err)
	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsForeignIssuerAndSecret(t *testing.T) {
	ours, _ := NewHS256Service("secret", "linkcore", time.Hour)
	otherIssuer, _ := NewHS256Service("secret", "someone-else", time.Hour)
	otherSecret, _ := NewHS256Service("other", "linkcore", time.Hour)

	tok1, _ := otherIssuer.Sign("1", RoleUser)
	tok2, _ := otherSecret.Sign("1", RoleUser)

	_, err := ours.Verify(tok1)
	assert.Error(t, err)
	_, err = ours.Verify(tok2)
	assert.Error(t, err)
}

func TestNewHS256ServiceValidatesInput(t *testing.T) {
	_, err := NewHS256Service("", "iss", time.Hour)
	assert.Error(t, err)
	_, err = NewHS256Service("s", "", time.Hour)
	assert.Error(t, err)
	_, err = NewHS256Service("s", "iss", 0)
	assert.Error(t, err)
}
