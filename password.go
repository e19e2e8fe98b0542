package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
)

// MinPasswordLength is counted in characters, not bytes.
const MinPasswordLength = 8

// PasswordSpecialCharacters is the set accepted by the special character rule.
const PasswordSpecialCharacters = "!@#$%^&*()-_=+{};:,<.>"

// PasswordHashParams are the argon2id cost parameters.
type PasswordHashParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultPasswordHashParams returns the production cost parameters.
func DefaultPasswordHashParams() PasswordHashParams {
	return PasswordHashParams{
		Memory:      DefaultArgonMemoryKiB,
		Iterations:  DefaultArgonIterations,
		Parallelism: DefaultArgonParallelism,
		SaltLength:  DefaultArgonSaltLength,
		KeyLength:   DefaultArgonKeyLength,
	}
}

// PasswordViolation names one failed strength rule.
type PasswordViolation string

const (
	ViolationTooShort  PasswordViolation = "too_short"
	ViolationUppercase PasswordViolation = "missing_uppercase"
	ViolationLowercase PasswordViolation = "missing_lowercase"
	ViolationDigit     PasswordViolation = "missing_digit"
	ViolationSpecial   PasswordViolation = "missing_special"
)

// Message returns the user facing text for the violation.
func (v PasswordViolation) Message() string {
	switch v {
	case ViolationTooShort:
		return fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)
	case ViolationUppercase:
		return "Password must contain uppercase letters"
	case ViolationLowercase:
		return "Password must contain lowercase letters"
	case ViolationDigit:
		return "Password must contain numbers"
	case ViolationSpecial:
		return "Password must contain special characters"
	}
	return string(v)
}

// ValidatePasswordStrength returns every violated rule, or nil when the
// password is acceptable.
func ValidatePasswordStrength(password string) []PasswordViolation {
	var violations []PasswordViolation

	if utf8.RuneCountInString(password) < MinPasswordLength {
		violations = append(violations, ViolationTooShort)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(PasswordSpecialCharacters, r):
			special = true
		}
	}

	if !upper {
		violations = append(violations, ViolationUppercase)
	}
	if !lower {
		violations = append(violations, ViolationLowercase)
	}
	if !digit {
		violations = append(violations, ViolationDigit)
	}
	if !special {
		violations = append(violations, ViolationSpecial)
	}

	return violations
}

// WeakPasswordError wraps ErrWeakPassword with the violation list.
func WeakPasswordError(violations []PasswordViolation) error {
	messages := make([]string, 0, len(violations))
	for _, v := range violations {
		messages = append(messages, v.Message())
	}
	return ErrWeakPassword.Clone().WithMetadata(map[string]any{
		"violations": messages,
	})
}

// PasswordHasher hashes passwords as argon2id over an HMAC-SHA256 of the
// password keyed with the server pepper.
type PasswordHasher struct {
	pepper []byte
	params PasswordHashParams
	legacy string
	random io.Reader
}

// PasswordHasherOption configures a PasswordHasher
type PasswordHasherOption func(*PasswordHasher)

// WithHashParams overrides the argon2id cost parameters.
func WithHashParams(params PasswordHashParams) PasswordHasherOption {
	return func(h *PasswordHasher) {
		h.params = params
	}
}

// WithLegacyPasswordStrategy enables verification of hashes created before
// peppered argon2id. Only LegacyPasswordStrategyBcrypt is supported.
func WithLegacyPasswordStrategy(strategy string) PasswordHasherOption {
	return func(h *PasswordHasher) {
		h.legacy = strategy
	}
}

// NewPasswordHasher fails when pepper is empty.
func NewPasswordHasher(pepper string, opts ...PasswordHasherOption) (*PasswordHasher, error) {
	if pepper == "" {
		return nil, ErrMissingSecret
	}

	h := &PasswordHasher{
		pepper: []byte(pepper),
		params: DefaultPasswordHashParams(),
		legacy: LegacyPasswordStrategyNone,
		random: rand.Reader,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.params.SaltLength == 0 {
		h.params.SaltLength = DefaultArgonSaltLength
	}
	if h.params.KeyLength == 0 {
		h.params.KeyLength = DefaultArgonKeyLength
	}

	return h, nil
}

// NewPasswordHasherFromConfig builds a hasher from cfg.
func NewPasswordHasherFromConfig(cfg Config) (*PasswordHasher, error) {
	return NewPasswordHasher(
		cfg.GetPasswordPepper(),
		WithHashParams(cfg.GetPasswordHashParams()),
		WithLegacyPasswordStrategy(cfg.GetLegacyPasswordStrategy()),
	)
}

func (h *PasswordHasher) peppered(password string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	return []byte(hex.EncodeToString(mac.Sum(nil)))
}

// HashPassword returns a PHC encoded argon2id hash:
// $argon2id$v=19$m=65536,t=4,p=3$<salt>$<hash>
func (h *PasswordHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate password salt")
	}

	key := argon2.IDKey(h.peppered(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches storedHash. A mismatch is
// (false, nil); an undecodable hash is ErrMalformedPasswordHash.
func (h *PasswordHasher) VerifyPassword(password, storedHash string) (bool, error) {
	if isBcryptHash(storedHash) {
		if h.legacy != LegacyPasswordStrategyBcrypt {
			return false, ErrMalformedPasswordHash
		}
		return verifyBcrypt(password, storedHash)
	}

	decoded, err := decodeArgonHash(storedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey(h.peppered(password), decoded.salt, decoded.params.Iterations, decoded.params.Memory, decoded.params.Parallelism, uint32(len(decoded.key)))

	return subtle.ConstantTimeCompare(decoded.key, candidate) == 1, nil
}

// ComparePasswordAndHash returns ErrInvalidPassword on mismatch.
func (h *PasswordHasher) ComparePasswordAndHash(password, hash string) error {
	ok, err := h.VerifyPassword(password, hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidPassword
	}
	return nil
}

// NeedsRehash reports whether storedHash was produced by the legacy strategy
// or with cost parameters other than the current ones.
func (h *PasswordHasher) NeedsRehash(storedHash string) bool {
	if isBcryptHash(storedHash) {
		return true
	}
	decoded, err := decodeArgonHash(storedHash)
	if err != nil {
		return true
	}
	p := decoded.params
	return p.Memory != h.params.Memory ||
		p.Iterations != h.params.Iterations ||
		p.Parallelism != h.params.Parallelism ||
		uint32(len(decoded.key)) != h.params.KeyLength
}

type argonHash struct {
	params PasswordHashParams
	salt   []byte
	key    []byte
}

func decodeArgonHash(encoded string) (*argonHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, ErrMalformedPasswordHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, ErrMalformedPasswordHash
	}

	out := &argonHash{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &out.params.Memory, &out.params.Iterations, &out.params.Parallelism); err != nil {
		return nil, ErrMalformedPasswordHash
	}
	if out.params.Memory == 0 || out.params.Iterations == 0 || out.params.Parallelism == 0 {
		return nil, ErrMalformedPasswordHash
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) == 0 {
		return nil, ErrMalformedPasswordHash
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.key) == 0 {
		return nil, ErrMalformedPasswordHash
	}

	out.params.SaltLength = uint32(len(out.salt))
	out.params.KeyLength = uint32(len(out.key))

	return out, nil
}
