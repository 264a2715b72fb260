package token

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Signer mints and verifies HS256 tokens with the process-wide secret.
// It holds no mutable state and is safe for concurrent use.
type Signer struct {
	key    []byte
	issuer string
	skew   time.Duration
	now    func() time.Time
}

func NewSigner(secret, issuer string, skew time.Duration) *Signer {
	return &Signer{key: []byte(secret), issuer: issuer, skew: skew, now: time.Now}
}

// Minted is a signed token with its registered times.
type Minted struct {
	Raw       string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Sign builds a token for sub/aud valid for ttl, with extra private claims.
// Every token gets a fresh jti, so identical inputs never produce identical tokens.
func (s *Signer) Sign(sub, aud string, ttl time.Duration, claims map[string]any) (Minted, error) {
	if len(s.key) == 0 {
		return Minted{}, errors.New("signing secret not configured")
	}
	iat := s.now().UTC().Truncate(time.Second)
	m := Minted{ID: uuid.NewString(), IssuedAt: iat, ExpiresAt: iat.Add(ttl)}
	b := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(sub).
		IssuedAt(m.IssuedAt).
		Expiration(m.ExpiresAt).
		JwtID(m.ID)
	if aud != "" {
		b = b.Audience([]string{aud})
	}
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	if err != nil {
		return Minted{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return Minted{}, err
	}
	m.Raw = string(signed)
	return m, nil
}

// Verify checks signature, issuer and expiry (within the clock skew).
func (s *Signer) Verify(raw string) (jwt.Token, error) {
	return jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, s.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
		jwt.WithAcceptableSkew(s.skew),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
}

// Parse checks only the signature. Used where an expired token must still be
// identified (session revocation).
func (s *Signer) Parse(raw string) (jwt.Token, error) {
	return jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, s.key), jwt.WithValidate(false))
}

// IsExpired reports whether a Verify error was caused only by expiry.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired())
}
