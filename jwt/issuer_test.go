package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newTestIssuer(t *testing.T, mutate func(*Config)) (*Issuer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		Secret: testSecret,
		TTL:    15 * time.Minute,
		Issuer: "productsapi",
		Now:    clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	issuer, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	return issuer, clock
}

func TestIssueAndValidate(t *testing.T) {
	issuer, clock := newTestIssuer(t, nil)

	token, issued, err := issuer.Issue("alice", "admin", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected compact JWS, got %q", token)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: sub=%q role=%q", claims.Subject, claims.Role)
	}
	if !claims.IssuedAt.Time.Equal(clock.t.Truncate(time.Second)) {
		t.Fatalf("unexpected iat: %v", claims.IssuedAt.Time)
	}
	if !claims.ExpiresAt.Time.Equal(clock.t.Add(time.Hour).Truncate(time.Second)) {
		t.Fatalf("unexpected exp: %v", claims.ExpiresAt.Time)
	}
	if claims.ID == "" || claims.ID != issued.ID {
		t.Fatalf("expected jti to round-trip, got %q want %q", claims.ID, issued.ID)
	}
}

func TestIssueUsesConfiguredTTL(t *testing.T) {
	issuer, clock := newTestIssuer(t, nil)

	_, claims, err := issuer.Issue("alice", "user", 0)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if got := claims.ExpiresAt.Time.Sub(clock.t); got != 15*time.Minute {
		t.Fatalf("expected configured ttl, got %v", got)
	}
}

func TestIssueTokensUniquePerIssuance(t *testing.T) {
	issuer, _ := newTestIssuer(t, nil)

	first, _, err := issuer.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	second, _, err := issuer.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct tokens at identical timestamp")
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	issuer, _ := newTestIssuer(t, nil)
	if _, _, err := issuer.Issue("", "user", time.Minute); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}

func TestValidateExpired(t *testing.T) {
	issuer, clock := newTestIssuer(t, nil)

	token, _, err := issuer.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	clock.t = clock.t.Add(time.Minute)
	_, err = issuer.Validate(token)
	assertReason(t, err, ReasonExpired)
	if !errors.Is(err, ErrExpired) || !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrExpired and ErrTokenInvalid, got %v", err)
	}
}

func TestValidateLeewayExtendsExpiry(t *testing.T) {
	issuer, clock := newTestIssuer(t, func(c *Config) { c.Leeway = 30 * time.Second })

	token, _, err := issuer.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	clock.t = clock.t.Add(time.Minute + 10*time.Second)
	if _, err := issuer.Validate(token); err != nil {
		t.Fatalf("expected token within leeway to validate: %v", err)
	}
}

func TestValidateBadSignature(t *testing.T) {
	issuer, _ := newTestIssuer(t, nil)
	other, _ := newTestIssuer(t, func(c *Config) {
		c.Secret = []byte("ffffffffffffffffffffffffffffffff")
	})

	token, _, err := other.Issue("alice", "admin", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = issuer.Validate(token)
	assertReason(t, err, ReasonBadSignature)
}

func TestValidateTamperedPayload(t *testing.T) {
	issuer, _ := newTestIssuer(t, nil)

	token, _, err := issuer.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	forged, _, err := issuer.Issue("mallory", "admin", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = issuer.Validate(spliced)
	assertReason(t, err, ReasonBadSignature)
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	issuer, clock := newTestIssuer(t, nil)

	claims := Claims{Role: "admin", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "productsapi",
		IssuedAt:  gjwt.NewNumericDate(clock.t),
		ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Minute)),
	}}

	hs512, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	_, err = issuer.Validate(hs512)
	assertReason(t, err, ReasonBadSignature)

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	_, err = issuer.Validate(none)
	assertReason(t, err, ReasonBadSignature)
}

func TestValidateMalformed(t *testing.T) {
	issuer, _ := newTestIssuer(t, nil)

	for _, input := range []string{"", "not.a.jwt", "a.b", "eyJhbGciOiJIUzI1NiJ9.!!!.sig"} {
		_, err := issuer.Validate(input)
		assertReason(t, err, ReasonMalformed)
	}
}

func TestValidateRequiresExpiry(t *testing.T) {
	issuer, clock := newTestIssuer(t, nil)

	claims := Claims{Role: "user", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:  "alice",
		Issuer:   "productsapi",
		IssuedAt: gjwt.NewNumericDate(clock.t),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	_, err = issuer.Validate(token)
	assertReason(t, err, ReasonMalformed)
}

func TestValidateIssuerAudienceAndKeyID(t *testing.T) {
	issuer, _ := newTestIssuer(t, func(c *Config) {
		c.Audience = "webshop"
		c.KeyID = "k1"
	})

	token, _, err := issuer.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := issuer.Validate(token); err != nil {
		t.Fatalf("expected token to validate: %v", err)
	}

	otherIssuer, _ := newTestIssuer(t, func(c *Config) {
		c.Issuer = "someone-else"
		c.Audience = "webshop"
		c.KeyID = "k1"
	})
	foreign, _, err := otherIssuer.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := issuer.Validate(foreign); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected foreign issuer to be rejected, got %v", err)
	}

	otherKID, _ := newTestIssuer(t, func(c *Config) {
		c.Audience = "webshop"
		c.KeyID = "k2"
	})
	wrongKID, _, err := otherKID.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	_, err = issuer.Validate(wrongKID)
	assertReason(t, err, ReasonBadSignature)
}

func TestValidateFutureIATBoundedByLeeway(t *testing.T) {
	issuer, clock := newTestIssuer(t, func(c *Config) { c.Leeway = time.Minute })

	sign := func(iat time.Duration) string {
		t.Helper()
		claims := Claims{Role: "user", RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "productsapi",
			IssuedAt:  gjwt.NewNumericDate(clock.t.Add(iat)),
			ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Hour)),
		}}
		token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return token
	}

	if _, err := issuer.Validate(sign(30 * time.Second)); err != nil {
		t.Fatalf("expected iat within leeway to validate: %v", err)
	}
	_, err := issuer.Validate(sign(5 * time.Minute))
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected iat beyond leeway to be rejected, got %v", err)
	}
	assertReason(t, err, ReasonMalformed)
}

func TestNewIssuerValidation(t *testing.T) {
	cases := []Config{
		{Secret: []byte("short")},
		{Secret: testSecret, TTL: -time.Second},
		{Secret: testSecret, Leeway: 5 * time.Minute},
	}
	for _, cfg := range cases {
		if _, err := NewIssuer(cfg); err == nil {
			t.Fatalf("expected config %+v to be rejected", cfg)
		}
	}
}

func TestNewIssuerCopiesSecret(t *testing.T) {
	secret := append([]byte(nil), testSecret...)
	issuer, err := NewIssuer(Config{Secret: secret, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}

	token, _, err := issuer.Issue("alice", "user", 0)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	for i := range secret {
		secret[i] = 0
	}
	if _, err := issuer.Validate(token); err != nil {
		t.Fatalf("expected issuer to keep its own copy of the secret: %v", err)
	}
}

func assertReason(t *testing.T, err error, want Reason) {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	if ve.Reason != want {
		t.Fatalf("expected reason %s, got %s (%v)", want, ve.Reason, ve.Err)
	}
}
