package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Mode string

const (
	ModeCookie Mode = "cookie"
	ModeBearer Mode = "bearer"
)

// CookieName is the cookie the backend reads the session token from.
const CookieName = "jwt"

var (
	ErrTokenExpired = errors.New("auth token expired")
	ErrUnknownMode  = errors.New("unknown auth mode")
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCookie:
		return ModeCookie, nil
	case ModeBearer:
		return ModeBearer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Token attaches a credential to outgoing requests. An empty Value makes
// Authorize a no-op.
type Token struct {
	Value string
	Mode  Mode

	now func() time.Time
}

func NewToken(value string, mode Mode) *Token {
	return &Token{Value: strings.TrimSpace(value), Mode: mode, now: time.Now}
}

func (t *Token) Authorize(req *http.Request) error {
	if t == nil || t.Value == "" {
		return nil
	}
	if err := t.checkExpiry(); err != nil {
		return err
	}
	switch t.Mode {
	case ModeBearer:
		req.Header.Set("Authorization", "Bearer "+t.Value)
	case ModeCookie, "":
		req.AddCookie(&http.Cookie{Name: CookieName, Value: t.Value})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, t.Mode)
	}
	return nil
}

// ExpiresAt reports the exp claim of a JWT-shaped token. ok is false for
// opaque tokens and tokens without exp.
func (t *Token) ExpiresAt() (time.Time, bool) {
	if t == nil || strings.Count(t.Value, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.Value, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// checkExpiry runs locally without verifying the signature; the server
// remains the authority.
func (t *Token) checkExpiry() error {
	exp, ok := t.ExpiresAt()
	if !ok {
		return nil
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	if !now().Before(exp) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}
	return nil
}
