package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltLength is the size of the random per-credential salt.
	SaltLength = 16
	// DigestLength is the size of the Argon2id output stored in a credential.
	DigestLength = 32
	// CredentialLength is the size of an untagged credential blob (salt ‖ digest).
	CredentialLength = SaltLength + DigestLength

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1

	// Upper bounds for parameters read back from an inline-params blob.
	maxMemoryKB uint32 = 1024 * 1024
	maxTimeCost uint32 = 64
)

var (
	// ErrMalformedCredential reports a stored credential that cannot be decoded.
	// Verify never returns it; it degrades to a failed verification.
	ErrMalformedCredential = errors.New("malformed credential blob")
	// ErrEntropyUnavailable reports that the system random source could not supply a salt.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")
)

// Params are the Argon2id cost parameters a credential is derived under.
type Params struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	KeyLength   uint32
}

// AtLeast reports whether p is no weaker than other in every cost dimension.
func (p Params) AtLeast(other Params) bool {
	return p.Memory >= other.Memory &&
		p.Time >= other.Time &&
		p.Parallelism >= other.Parallelism &&
		p.KeyLength == other.KeyLength
}

// Baseline is the parameter set every new credential is hashed with.
// It is also parameter version 1, the version untagged blobs are read under.
var Baseline = Params{
	Memory:      64 * 1024,
	Time:        4,
	Parallelism: 8,
	KeyLength:   DigestLength,
}

// Stored blob layouts:
//
//	48 bytes  salt ‖ digest, read under Baseline
//	49 bytes  version ‖ salt ‖ digest, version registered in versions
//	58 bytes  inlineParamsTag ‖ memory(4, BE) ‖ time(4, BE) ‖ parallelism(1) ‖ salt ‖ digest
const (
	baselineVersion byte = 1
	inlineParamsTag byte = 0

	inlineParamsLength     = 9
	taggedCredentialLength = 1 + CredentialLength
	inlineCredentialLength = 1 + inlineParamsLength + CredentialLength
)

// versions maps a blob version tag to the parameters it was written under.
var versions = map[byte]Params{
	baselineVersion: Baseline,
}

// Credential is a salt followed by the Argon2id digest of a password.
type Credential [CredentialLength]byte

// Salt returns the salt half of the credential.
func (c Credential) Salt() []byte {
	return c[:SaltLength]
}

// Digest returns the digest half of the credential.
func (c Credential) Digest() []byte {
	return c[SaltLength:]
}

// String returns the standard base64 storage form of the credential.
func (c Credential) String() string {
	return base64.StdEncoding.EncodeToString(c[:])
}

// Argon2 hashes and verifies passwords with fixed Argon2id parameters.
//
// Argon2 holds no mutable state and is safe for concurrent use. Each call
// allocates its own KDF working memory.
type Argon2 struct {
	params Params
	// version is the tag written in front of new blobs. baselineVersion
	// writes the untagged form; inlineParamsTag embeds params in the blob.
	version byte
	rand    io.Reader
}

// NewArgon2 returns a hasher using the [Baseline] parameters.
func NewArgon2() *Argon2 {
	return &Argon2{params: Baseline, version: baselineVersion, rand: rand.Reader}
}

// NewArgon2WithParams returns a hasher with the given parameters. Parameters
// matching a registered version are written under that version's tag; any
// others are embedded in the blob, so every hasher can verify what this one
// writes.
func NewArgon2WithParams(p Params) (*Argon2, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	version := inlineParamsTag
	for tag, registered := range versions {
		if registered == p {
			version = tag
			break
		}
	}
	return &Argon2{params: p, version: version, rand: rand.Reader}, nil
}

// Params returns the parameters new credentials are hashed with.
func (a *Argon2) Params() Params {
	return a.params
}

// Hash derives a credential from password with a fresh random salt.
//
// Password bytes are used exactly as given (no Unicode normalization). The only
// failure is an unreadable random source, reported as [ErrEntropyUnavailable].
func (a *Argon2) Hash(password string) (Credential, error) {
	var c Credential
	if _, err := io.ReadFull(a.rand, c[:SaltLength]); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	digest := derive(password, c.Salt(), a.params)
	copy(c[SaltLength:], digest)

	return c, nil
}

// HashString is Hash followed by [Argon2.Encode].
func (a *Argon2) HashString(password string) (string, error) {
	c, err := a.Hash(password)
	if err != nil {
		return "", err
	}
	return a.Encode(c), nil
}

// Encode returns the base64 storage form of c, tagged with this hasher's
// parameter version. Baseline credentials are stored untagged.
func (a *Argon2) Encode(c Credential) string {
	switch a.version {
	case baselineVersion:
		return c.String()
	case inlineParamsTag:
		raw := make([]byte, 0, inlineCredentialLength)
		raw = append(raw, inlineParamsTag)
		raw = binary.BigEndian.AppendUint32(raw, a.params.Memory)
		raw = binary.BigEndian.AppendUint32(raw, a.params.Time)
		raw = append(raw, a.params.Parallelism)
		raw = append(raw, c[:]...)
		return base64.StdEncoding.EncodeToString(raw)
	default:
		raw := make([]byte, 0, taggedCredentialLength)
		raw = append(raw, a.version)
		raw = append(raw, c[:]...)
		return base64.StdEncoding.EncodeToString(raw)
	}
}

// Verify reports whether password matches the stored base64 credential.
// Malformed input yields false.
func (a *Argon2) Verify(password string, stored string) bool {
	salt, digest, params, err := decodeCredential(stored)
	if err != nil {
		return false
	}
	return verifyDigest(password, salt, digest, params)
}

// VerifyCredential is Verify over an already decoded credential.
func (a *Argon2) VerifyCredential(password string, c Credential) bool {
	return verifyDigest(password, c.Salt(), c.Digest(), a.params)
}

// NeedsRehash reports whether stored was written under parameters strictly
// weaker than the ones this hasher uses for new credentials. Blobs written
// under stronger or incomparable parameters report false, so a rehash never
// lowers the cost of a stored credential. Malformed input reports false.
func (a *Argon2) NeedsRehash(stored string) bool {
	_, _, params, err := decodeCredential(stored)
	if err != nil {
		return false
	}
	return params != a.params && a.params.AtLeast(params)
}

// ParseCredential decodes the base64 storage form of an untagged credential.
// Tagged blobs are rejected; use [Argon2.Verify] for those.
func ParseCredential(stored string) (Credential, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil || len(raw) != CredentialLength {
		return Credential{}, ErrMalformedCredential
	}
	var c Credential
	copy(c[:], raw)
	return c, nil
}

func decodeCredential(stored string) (salt, digest []byte, params Params, err error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, nil, Params{}, ErrMalformedCredential
	}

	switch len(raw) {
	case CredentialLength:
		params = versions[baselineVersion]
	case taggedCredentialLength:
		p, ok := versions[raw[0]]
		if !ok {
			return nil, nil, Params{}, ErrMalformedCredential
		}
		params = p
		raw = raw[1:]
	case inlineCredentialLength:
		if raw[0] != inlineParamsTag {
			return nil, nil, Params{}, ErrMalformedCredential
		}
		params = Params{
			Memory:      binary.BigEndian.Uint32(raw[1:5]),
			Time:        binary.BigEndian.Uint32(raw[5:9]),
			Parallelism: raw[9],
			KeyLength:   DigestLength,
		}
		if validateParams(params) != nil || params.Memory > maxMemoryKB || params.Time > maxTimeCost {
			return nil, nil, Params{}, ErrMalformedCredential
		}
		raw = raw[1+inlineParamsLength:]
	default:
		return nil, nil, Params{}, ErrMalformedCredential
	}

	return raw[:SaltLength], raw[SaltLength:], params, nil
}

func verifyDigest(password string, salt, digest []byte, params Params) bool {
	computed := derive(password, salt, params)
	return subtle.ConstantTimeCompare(computed, digest) == 1
}

func derive(password string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)
}

func validateParams(p Params) error {
	if p.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if p.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if p.KeyLength != DigestLength {
		return errors.New("password key length must be 32")
	}
	return nil
}
