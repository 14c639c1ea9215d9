package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the smallest HS256 signing secret NewIssuer accepts.
const MinSecretLength = 32

var (
	// ErrTokenInvalid matches every *ValidationError.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrBadSignature matches validation failures caused by the signature.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrExpired matches validation failures caused by exp <= now.
	ErrExpired = errors.New("token expired")
	// ErrMalformed matches tokens that do not decode into a usable claim set.
	ErrMalformed = errors.New("token malformed")
)

// Reason classifies why a token was rejected.
type Reason uint8

const (
	// ReasonMalformed covers undecodable tokens and unusable claims.
	ReasonMalformed Reason = iota + 1
	// ReasonBadSignature covers signature mismatches and unexpected algorithms.
	ReasonBadSignature
	// ReasonExpired covers tokens past their exp claim.
	ReasonExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonBadSignature:
		return "bad_signature"
	case ReasonExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ValidationError is returned by [Issuer.Validate].
type ValidationError struct {
	Reason Reason
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "invalid token: " + e.Reason.String()
	}
	return "invalid token: " + e.Reason.String() + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is matches ErrTokenInvalid and the sentinel for the error's Reason.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrTokenInvalid:
		return true
	case ErrBadSignature:
		return e.Reason == ReasonBadSignature
	case ErrExpired:
		return e.Reason == ReasonExpired
	case ErrMalformed:
		return e.Reason == ReasonMalformed
	}
	return false
}

// Config configures an [Issuer]. The secret is read once at construction.
type Config struct {
	Secret   []byte
	TTL      time.Duration
	Issuer   string
	Audience string
	// Leeway also bounds how far in the future iat may be.
	Leeway time.Duration
	KeyID  string
	Now    func() time.Time
}

// Claims is the session assertion carried by a token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and validates HS256 session tokens.
//
// Issuer is immutable after construction and safe for concurrent use.
type Issuer struct {
	config Config
	secret []byte
	now    func() time.Time
}

// NewIssuer validates cfg and copies the signing secret.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("hs256 secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = nil

	return &Issuer{config: cfg, secret: secret, now: now}, nil
}

// Issue signs a token asserting subject and role for ttl. A non-positive ttl
// falls back to the configured TTL.
func (i *Issuer) Issue(subject, role string, ttl time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("token subject required")
	}
	if ttl <= 0 {
		ttl = i.config.TTL
	}
	if ttl <= 0 {
		return "", nil, errors.New("token ttl required")
	}

	now := i.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
			Issuer:    i.config.Issuer,
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if i.config.KeyID != "" {
		token.Header["kid"] = i.config.KeyID
	}

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Validate verifies the signature and time claims of tokenStr.
// Failures are always a *ValidationError.
func (i *Issuer) Validate(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if i.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != i.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, &ValidationError{Reason: classify(err), Err: err}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &ValidationError{Reason: ReasonMalformed, Err: jwt.ErrTokenInvalidClaims}
	}
	if claims.Subject == "" {
		return nil, &ValidationError{Reason: ReasonMalformed, Err: errors.New("missing subject")}
	}

	return claims, nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	default:
		return ReasonMalformed
	}
}
