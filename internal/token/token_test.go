package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
)

func newAuthority(t *testing.T, now func() time.Time) *Authority {
	t.Helper()
	a, err := New(Config{
		Secret:      []byte("test-secret"),
		Issuer:      "live-score",
		ObserverTTL: time.Hour,
		Now:         now,
	})
	require.NoError(t, err)
	return a
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := newAuthority(t, func() time.Time { return now })

	tok, err := a.Issue("abc123", RoleObserver, "fan1")
	require.NoError(t, err)

	claims, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "abc123", claims.SessionID)
	assert.Equal(t, RoleObserver, claims.Role)
	assert.Equal(t, "fan1", claims.Identity)
	assert.True(t, now.Add(time.Hour).Equal(claims.ExpiresAt))
	assert.Equal(t, tok, claims.Token)

	padded, err := a.Verify(" " + tok + "\n")
	require.NoError(t, err)
	assert.Equal(t, tok, padded.Token)
}

func TestIssue_SameClaimsYieldDistinctTokens(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := newAuthority(t, func() time.Time { return now })

	t1, err := a.Issue("abc123", RoleObserver, "fan1")
	require.NoError(t, err)
	t2, err := a.Issue("abc123", RoleObserver, "fan1")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}

func TestIssueController_HasNoSession(t *testing.T) {
	a := newAuthority(t, nil)

	tok, err := a.IssueController("U1")
	require.NoError(t, err)

	claims, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleController, claims.Role)
	assert.Equal(t, "U1", claims.Identity)
	assert.Empty(t, claims.SessionID)
}

func TestVerify_Expired(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := newAuthority(t, func() time.Time { return now })

	tok, err := a.Issue("abc123", RoleObserver, "fan1")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken)
}

func TestVerify_Malformed(t *testing.T) {
	a := newAuthority(t, nil)
	other, err := New(Config{Secret: []byte("other-secret"), Issuer: "live-score"})
	require.NoError(t, err)
	foreign, err := other.Issue("abc123", RoleObserver, "fan1")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "fan1",
			Issuer:    "live-score",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		MatchID: "abc123",
		Role:    RoleObserver,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noMatch, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "fan1",
			Issuer:    "live-score",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleObserver,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	cases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not.a.token"},
		{name: "wrong secret", raw: foreign},
		{name: "alg none", raw: unsigned},
		{name: "viewer without match", raw: noMatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Verify(tc.raw)
			assert.ErrorIs(t, err, apperr.ErrMalformedToken)
		})
	}
}

func TestIssue_RejectsUnknownRole(t *testing.T) {
	a := newAuthority(t, nil)
	_, err := a.Issue("abc123", Role("admin"), "x")
	assert.Error(t, err)
}
