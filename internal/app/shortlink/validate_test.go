package shortlink

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://example.com",
		"http://example.com/path?q=1#frag",
		"https://sub.example.co.uk:8443/a/b",
		"https://[2001:db8::1]/",
	}
	for _, raw := range valid {
		assert.NoError(t, ValidateURL(raw), raw)
	}

	invalid := []string{
		"",
		"not-a-url",
		"/relative/path",
		"ftp://example.com/file",
		"mailto:someone@example.com",
		"https://",
		" https://example.com",
		"https://example.com/" + strings.Repeat("a", maxURLLength),
	}
	for _, raw := range invalid {
		assert.ErrorIs(t, ValidateURL(raw), ErrInvalidURL, raw)
	}
}

func TestValidateCode(t *testing.T) {
	for _, code := range []string{"abc", "My_Code-2026", strings.Repeat("x", 32)} {
		assert.NoError(t, ValidateCode(code), code)
	}
	for _, code := range []string{"ab", strings.Repeat("x", 33), "has space", "slash/y", "emoji😀", "API", "healthz"} {
		assert.ErrorIs(t, ValidateCode(code), ErrInvalidCode, code)
	}
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := ParseExpiry("2026-03-01T21:00:00+08:00", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(now.Add(time.Hour)))

	_, err = ParseExpiry(now.Format(time.RFC3339), now)
	assert.ErrorIs(t, err, ErrInvalidExpiry, "expiry equal to now is rejected")

	for _, raw := range []string{"", "2026-03-01", "tomorrow", "1700000000"} {
		_, err := ParseExpiry(raw, now)
		assert.ErrorIs(t, err, ErrInvalidExpiry, raw)
	}
}

func TestRandomGenerator(t *testing.T) {
	require.Len(t, alphabet, 64)
	seen := make(map[rune]bool)
	for _, r := range alphabet {
		require.False(t, seen[r], "duplicate %q in alphabet", r)
		seen[r] = true
	}

	var g RandomGenerator
	for i := 0; i < 1000; i++ {
		code := g.Generate()
		require.Len(t, code, CodeLength)
		require.NoError(t, ValidateCode(code), "generated codes must also be valid custom codes")
	}
}

func TestKindAndExpiredAt(t *testing.T) {
	assert.Equal(t, "Expired", Kind(ErrExpired))
	assert.Equal(t, "CodeTaken", Kind(ErrCodeTaken))

	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := ShortLink{ExpiresAt: &exp}
	assert.False(t, l.ExpiredAt(exp))
	assert.True(t, l.ExpiredAt(exp.Add(time.Nanosecond)))
	assert.False(t, ShortLink{}.ExpiredAt(exp.AddDate(100, 0, 0)))
}
