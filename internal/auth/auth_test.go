package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fenggwsx/roomlink/internal/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "s3cret", Issuer: "roomlink", Expiration: time.Hour}
}

func TestVerifier_Accepts_Issued_Token(t *testing.T) {
	req := require.New(t)
	cfg := testJWTConfig()

	token, expiresAt, err := NewToken(cfg, 12, "alice", true)
	req.NoError(err)
	req.WithinDuration(time.Now().Add(time.Hour), expiresAt, time.Minute)

	who, err := NewVerifier(cfg).Verify(context.Background(), "Bearer "+token)

	req.NoError(err)
	req.Equal(uint(12), who.UserID)
	req.Equal("alice", who.Username)
	req.True(who.IsAdmin)
}

func TestVerifier_Rejects_Bad_Tokens(t *testing.T) {
	req := require.New(t)
	cfg := testJWTConfig()
	verifier := NewVerifier(cfg)

	_, err := verifier.Verify(context.Background(), "")
	req.Error(err)

	_, err = verifier.Verify(context.Background(), "not-a-jwt")
	req.Error(err)

	// Signed with another secret
	other := cfg
	other.Secret = "other"
	forged, _, err := NewToken(other, 1, "mallory", true)
	req.NoError(err)
	_, err = verifier.Verify(context.Background(), forged)
	req.Error(err)

	// Expired
	expired := cfg
	expired.Expiration = -time.Minute
	stale, _, err := NewToken(expired, 1, "alice", false)
	req.NoError(err)
	_, err = verifier.Verify(context.Background(), stale)
	req.Error(err)
}

func TestPassword_Hash_And_Compare(t *testing.T) {
	req := require.New(t)
	passwordCost = bcrypt.MinCost
	t.Cleanup(func() { passwordCost = bcrypt.DefaultCost })

	hash, err := HashPassword("correct horse")
	req.NoError(err)
	req.NotEqual("correct horse", hash)

	req.NoError(ComparePassword(hash, "correct horse"))
	req.Error(ComparePassword(hash, "wrong"))

	_, err = HashPassword("")
	req.ErrorIs(err, ErrEmptyPassword)
}
