package identity

import (
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// accessTokenAlgs are the signing algorithms GoTrue issues access tokens with.
var accessTokenAlgs = []jose.SignatureAlgorithm{
	jose.HS256, jose.RS256, jose.ES256, jose.EdDSA,
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is a signed-in session as issued by the token endpoint.
// ExpiresAt is a unix timestamp in seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         User   `json:"user"`
}

func (s *Session) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the session expires before now+margin.
// A session without a known expiry never expires.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(margin).Before(s.Expiry())
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

type accessTokenClaims struct {
	jwt.Claims

	Email string `json:"email"`
}

// complete fills the fields the server may omit from the access token
// claims. The token is not verified: the client only reads its own token.
func (s *Session) complete(now time.Time) {
	var claims accessTokenClaims
	if tok, err := jwt.ParseSigned(s.AccessToken, accessTokenAlgs); err == nil {
		_ = tok.UnsafeClaimsWithoutVerification(&claims)
	}

	if s.ExpiresAt == 0 {
		switch {
		case claims.Expiry != nil:
			s.ExpiresAt = claims.Expiry.Time().Unix()
		case s.ExpiresIn > 0:
			s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
		}
	}
	if s.User.ID == "" {
		s.User.ID = claims.Subject
	}
	if s.User.Email == "" {
		s.User.Email = claims.Email
	}
}
