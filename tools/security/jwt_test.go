package security

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("unit-test-secret")

func TestIssueAndVerify(t *testing.T) {
	opts := DefaultOptions(testSecret)
	token, exp, err := Issue(opts, "doc1", "doctor")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= time.Hour {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := Verify(opts, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "doc1" || claims.Role != "doctor" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions(testSecret)
	good, _, err := Issue(opts, "pat1", "patient")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Issue falls back to the default TTL for TTL<=0, so craft an expired token by hand.
	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "pat1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}

	noExp, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "pat1"},
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign noExp: %v", err)
	}

	noSub, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign noSub: %v", err)
	}

	hs512, _, err := Issue(Options{Secret: testSecret, Alg: "HS512"}, "pat1", "")
	if err != nil {
		t.Fatalf("Issue HS512: %v", err)
	}

	cases := []struct {
		name  string
		opts  Options
		token string
	}{
		{"empty", opts, ""},
		{"garbage", opts, "not-a-jwt"},
		{"wrong secret", DefaultOptions([]byte("other")), good},
		{"expired", opts, expired},
		{"no exp", opts, noExp},
		{"no subject", opts, noSub},
		{"alg mismatch", opts, hs512},
		{"empty secret", Options{}, good},
		{"bad alg option", Options{Secret: testSecret, Alg: "RS256"}, good},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Verify(tc.opts, tc.token); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestVerifyIssuer(t *testing.T) {
	opts := DefaultOptions(testSecret)
	opts.Issuer = "carelink-auth"
	token, _, err := Issue(opts, "doc1", "doctor")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Verify(opts, token); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	other := opts
	other.Issuer = "someone-else"
	if _, err := Verify(other, token); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestIssueEmptySecret(t *testing.T) {
	if _, _, err := Issue(Options{}, "u", ""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("err = %v, want ErrEmptySecret", err)
	}
}
