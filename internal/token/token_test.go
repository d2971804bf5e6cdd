package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerify(t *testing.T) {
	svc, err := NewService("s3cret")
	require.NoError(t, err)

	tok, err := svc.Issue(KindReservation, 42)
	require.NoError(t, err)

	assert.True(t, svc.Verify(tok, KindReservation, 42))
	assert.False(t, svc.Verify(tok, KindReservation, 43), "other id")
	assert.False(t, svc.Verify(tok, "ticket", 42), "other kind")
	assert.False(t, svc.Verify("", KindReservation, 42))
	assert.False(t, svc.Verify("not-a-token", KindReservation, 42))
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a, _ := NewService("one")
	b, _ := NewService("two")
	tok, err := a.Issue(KindReservation, 1)
	require.NoError(t, err)
	assert.False(t, b.Verify(tok, KindReservation, 1))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	svc, _ := NewService("s3cret")
	tok, err := svc.Issue(KindReservation, 1)
	require.NoError(t, err)
	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	other, _ := svc.Issue(KindReservation, 2)
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]
	assert.False(t, svc.Verify(forged, KindReservation, 2))
}

func TestVerifyExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, _ := NewService("s3cret", WithClock(clock))
	tok, err := svc.Issue(KindReservation, 9)
	require.NoError(t, err)

	now = now.Add(DefaultMaxAge - time.Minute)
	assert.True(t, svc.Verify(tok, KindReservation, 9))

	now = now.Add(2 * time.Minute)
	assert.False(t, svc.Verify(tok, KindReservation, 9))
}

func TestKeyIsDerivedNotRaw(t *testing.T) {
	svc, _ := NewService("s3cret")
	tok, err := svc.Issue(KindReservation, 5)
	require.NoError(t, err)

	// A token signed with the bare secret must not verify.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"kind": KindReservation, "id": "5", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	assert.True(t, svc.Verify(tok, KindReservation, 5))
	assert.False(t, svc.Verify(raw, KindReservation, 5))
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestNewAccessToken(t *testing.T) {
	at, err := NewAccessToken("k", 7, RoleMember, time.Hour)
	require.NoError(t, err)
	parsed, err := jwt.Parse(at.Token, func(*jwt.Token) (interface{}, error) { return []byte("k"), nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "7", claims["sub"])
	assert.Equal(t, RoleMember, claims["role"])
}
