package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm family used for both keys.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Kind distinguishes access tokens from refresh tokens. It is carried in the
// typ claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrInvalidToken wraps every parse and validation failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSameKeys is returned when access and refresh share key material.
	ErrSameKeys = errors.New("access and refresh keys must differ")
	// ErrNoSigningKey is returned by Sign on a verify-only manager.
	ErrNoSigningKey = errors.New("no signing key configured")
)

// Keys is one key pair. HS256 uses PrivateKey as the shared secret and
// ignores PublicKey. Ed25519 keys may be raw or PEM encoded.
type Keys struct {
	PrivateKey []byte
	PublicKey  []byte
}

// Config holds signer settings.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	Access        Keys
	Refresh       Keys
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	Now           func() time.Time
}

// Claims is the payload of both token kinds. RegisteredClaims.ID is the jti.
type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	SID   string `json:"sid"`
	Typ   Kind   `json:"typ"`
	jwt.RegisteredClaims
}

type keyPair struct {
	sign   any
	verify any
}

// Manager signs and verifies access and refresh tokens with independent keys.
//
// Manager is immutable after NewManager and safe for concurrent use.
type Manager struct {
	config  Config
	method  jwt.SigningMethod
	access  keyPair
	refresh keyPair
}

// NewManager validates cfg and decodes its keys.
//
// A manager built with public keys only can Parse but not Sign.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{config: cfg}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		m.method = jwt.SigningMethodHS256
		if len(cfg.Access.PrivateKey) == 0 || len(cfg.Refresh.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires access and refresh secrets")
		}
		if bytes.Equal(cfg.Access.PrivateKey, cfg.Refresh.PrivateKey) {
			return nil, ErrSameKeys
		}
		m.access = keyPair{sign: cfg.Access.PrivateKey, verify: cfg.Access.PrivateKey}
		m.refresh = keyPair{sign: cfg.Refresh.PrivateKey, verify: cfg.Refresh.PrivateKey}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if m.access, err = edPair("access", cfg.Access); err != nil {
			return nil, err
		}
		if m.refresh, err = edPair("refresh", cfg.Refresh); err != nil {
			return nil, err
		}
		if m.access.verify.(ed25519.PublicKey).Equal(m.refresh.verify) {
			return nil, ErrSameKeys
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return m, nil
}

// TTL returns the lifetime of tokens of kind k.
func (j *Manager) TTL(k Kind) time.Duration {
	if k == KindRefresh {
		return j.config.RefreshTTL
	}
	return j.config.AccessTTL
}

// Sign issues a token of kind k and returns it with its expiry.
//
// Every token carries a fresh jti, so two tokens minted for the same session
// in the same second still differ.
func (j *Manager) Sign(k Kind, uid, email, sid string) (string, time.Time, error) {
	keys, err := j.keys(k)
	if err != nil {
		return "", time.Time{}, err
	}
	if keys.sign == nil {
		return "", time.Time{}, ErrNoSigningKey
	}

	now := j.config.Now()
	exp := now.Add(j.TTL(k))
	claims := Claims{
		UID:   uid,
		Email: email,
		SID:   sid,
		Typ:   k,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	signed, err := jwt.NewWithClaims(j.method, claims).SignedString(keys.sign)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", k, err)
	}
	return signed, exp.Truncate(time.Second), nil
}

// Parse verifies raw as a token of kind k.
//
// Errors wrap ErrInvalidToken and the underlying jwt error, so callers can
// test for jwt.ErrTokenExpired.
func (j *Manager) Parse(k Kind, raw string) (*Claims, error) {
	keys, err := j.keys(k)
	if err != nil {
		return nil, err
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != j.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return keys.verify, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrTokenInvalidClaims)
	}
	if claims.Typ != k {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, k, claims.Typ)
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, fmt.Errorf("%w: missing uid or sid", ErrInvalidToken)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalidToken)
	}
	return claims, nil
}

func (j *Manager) keys(k Kind) (keyPair, error) {
	switch k {
	case KindAccess:
		return j.access, nil
	case KindRefresh:
		return j.refresh, nil
	default:
		return keyPair{}, fmt.Errorf("unknown token kind %q", string(k))
	}
}

func edPair(name string, k Keys) (keyPair, error) {
	var pair keyPair
	if len(k.PrivateKey) > 0 {
		priv, err := parseEdPrivateKey(k.PrivateKey)
		if err != nil {
			return keyPair{}, fmt.Errorf("%s: %w", name, err)
		}
		pair.sign = priv
		pair.verify = priv.Public().(ed25519.PublicKey)
	}
	if len(k.PublicKey) > 0 {
		pub, err := parseEdPublicKey(k.PublicKey)
		if err != nil {
			return keyPair{}, fmt.Errorf("%s: %w", name, err)
		}
		if pair.verify != nil && !pub.Equal(pair.verify) {
			return keyPair{}, fmt.Errorf("%s: public key does not match private key", name)
		}
		pair.verify = pub
	}
	if pair.verify == nil {
		return keyPair{}, fmt.Errorf("%s: ed25519 requires a private or public key", name)
	}
	return pair, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
