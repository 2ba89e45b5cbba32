package auth

import (
	"context"
	"strings"

	"github.com/fenggwsx/roomlink/internal/config"
	"github.com/fenggwsx/roomlink/internal/presence"
)

// Verifier checks bearer tokens issued by NewToken.
type Verifier struct {
	cfg config.JWTConfig
}

func NewVerifier(cfg config.JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify implements presence.TokenVerifier.
func (v *Verifier) Verify(_ context.Context, token string) (presence.Identity, error) {
	claims, err := ParseToken(v.cfg, strings.TrimSpace(strings.TrimPrefix(token, "Bearer ")))
	if err != nil {
		return presence.Identity{}, err
	}
	return presence.Identity{UserID: claims.UserID, Username: claims.Username, IsAdmin: claims.IsAdmin}, nil
}
