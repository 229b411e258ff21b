package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestCookieModeAttachesJWTCookie(t *testing.T) {
	tok := NewToken(signed(t, time.Now().Add(time.Hour)), ModeCookie)
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/sessions", nil)
	if err := tok.Authorize(req); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	c, err := req.Cookie(CookieName)
	if err != nil {
		t.Fatalf("expected %s cookie: %v", CookieName, err)
	}
	if c.Value != tok.Value {
		t.Fatalf("cookie value mismatch")
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatalf("cookie mode must not set Authorization")
	}
}

func TestBearerModeSetsHeader(t *testing.T) {
	tok := NewToken("opaque-token", ModeBearer)
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/sessions", nil)
	if err := tok.Authorize(req); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer opaque-token" {
		t.Fatalf("authorization mismatch: %q", got)
	}
}

func TestExpiredTokenFailsLocally(t *testing.T) {
	tok := NewToken(signed(t, time.Now().Add(-time.Minute)), ModeCookie)
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/sessions", nil)
	err := tok.Authorize(req)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if len(req.Cookies()) != 0 {
		t.Fatalf("expired token must not be attached")
	}
}

func TestEmptyTokenIsNoop(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/sessions", nil)
	if err := NewToken("  ", ModeBearer).Authorize(req); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	var nilTok *Token
	if err := nilTok.Authorize(req); err != nil {
		t.Fatalf("nil token authorize: %v", err)
	}
	if req.Header.Get("Authorization") != "" || len(req.Cookies()) != 0 {
		t.Fatalf("empty token must not attach credentials")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeCookie, "cookie": ModeCookie, " Bearer ": ModeBearer}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("basic"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}
