package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kestrelhq/authcore/internal"
	"github.com/kestrelhq/authcore/jwt"
	"github.com/kestrelhq/authcore/token"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired is returned for correctly signed tokens past their expiry.
	ErrExpired = errors.New("token expired")
	// ErrRevoked is returned for validly signed tokens with no live record.
	ErrRevoked = errors.New("token revoked")
	// ErrDigestMismatch is returned when a refresh token does not match the
	// session's stored digest.
	ErrDigestMismatch = errors.New("refresh digest mismatch")
)

// Signer signs and verifies session tokens. *jwt.Manager implements it.
type Signer interface {
	Sign(k jwt.Kind, uid, email, sid string) (string, time.Time, error)
	Parse(k jwt.Kind, raw string) (*jwt.Claims, error)
}

// Digester hashes refresh tokens. *password.RefreshDigester implements it.
type Digester interface {
	Digest(token string) (string, error)
	Compare(digest, token string) bool
}

// Pair is an access and refresh token minted for one session.
type Pair struct {
	SessionID        string
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Principal is the identity behind an authenticated token.
type Principal struct {
	UserID    string
	Email     string
	SessionID string
	Kind      jwt.Kind
	Token     string
	ExpiresAt time.Time
}

// Config holds session settings.
type Config struct {
	// RevokeOnRotate revokes the presented session when it is rotated, so
	// an old refresh token cannot be redeemed twice.
	RevokeOnRotate bool
	Now            func() time.Time
}

// Manager drives the session lifecycle on a token store.
type Manager struct {
	store    token.Store
	signer   Signer
	digester Digester
	config   Config

	rotations singleflight.Group
}

// NewManager returns a manager.
func NewManager(store token.Store, signer Signer, digester Digester, cfg Config) (*Manager, error) {
	if store == nil || signer == nil || digester == nil {
		return nil, errors.New("session: store, signer and digester are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{store: store, signer: signer, digester: digester, config: cfg}, nil
}

// IssuePair signs a token pair for sessionID without persisting it.
func (m *Manager) IssuePair(userID, email, sessionID string) (Pair, error) {
	access, accessExp, err := m.signer.Sign(jwt.KindAccess, userID, email, sessionID)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := m.signer.Sign(jwt.KindRefresh, userID, email, sessionID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		SessionID:        sessionID,
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Persist stores the access token, the refresh token and the refresh digest
// of pair in one write.
func (m *Manager) Persist(ctx context.Context, userID string, pair Pair) error {
	digest, err := m.digester.Digest(pair.Refresh)
	if err != nil {
		return fmt.Errorf("digest refresh token: %w", err)
	}
	now := m.config.Now()
	return m.store.Create(ctx,
		token.NewRecord(userID, token.Access{Raw: pair.Access}, pair.SessionID, now, pair.AccessExpiresAt),
		token.NewRecord(userID, token.Refresh{Raw: pair.Refresh}, pair.SessionID, now, pair.RefreshExpiresAt),
		token.NewRecord(userID, token.HashedRefresh{Digest: digest}, pair.SessionID, now, pair.RefreshExpiresAt),
	)
}

// Start opens a new session for the user.
func (m *Manager) Start(ctx context.Context, userID, email string) (Pair, error) {
	pair, err := m.IssuePair(userID, email, internal.NewSessionID())
	if err != nil {
		return Pair{}, err
	}
	if err := m.Persist(ctx, userID, pair); err != nil {
		return Pair{}, err
	}
	return pair, nil
}

// Rotate replaces the session p was authenticated with by a new one.
//
// The new session is persisted before the old one is revoked, so a failed
// rotation leaves the presented session usable for a retry. With
// RevokeOnRotate only the caller that revokes the old session keeps its new
// pair; a loser's pair is revoked again. Concurrent rotations of one session
// in this process share the winner's result.
func (m *Manager) Rotate(ctx context.Context, p Principal) (Pair, error) {
	if p.Kind != jwt.KindRefresh {
		return Pair{}, fmt.Errorf("%w: rotation needs a refresh token", ErrInvalidToken)
	}
	if !m.config.RevokeOnRotate {
		return m.Start(ctx, p.UserID, p.Email)
	}

	v, err, _ := m.rotations.Do(p.SessionID, func() (any, error) {
		next, err := m.Start(ctx, p.UserID, p.Email)
		if err != nil {
			return Pair{}, err
		}
		n, err := m.store.DeleteBySession(ctx, p.SessionID)
		if err == nil && n > 0 {
			return next, nil
		}
		if err == nil {
			err = ErrRevoked
		}
		if _, cerr := m.store.DeleteBySession(ctx, next.SessionID); cerr != nil {
			return Pair{}, errors.Join(err, fmt.Errorf("discard rotated session: %w", cerr))
		}
		return Pair{}, err
	})
	if err != nil {
		return Pair{}, err
	}
	return v.(Pair), nil
}

// RevokeSession removes every record of the session.
func (m *Manager) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	return m.store.DeleteBySession(ctx, sessionID)
}

// RevokeAllForUser removes every record of the user, sessions and pending
// codes alike.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return m.store.DeleteByUser(ctx, userID)
}

// FindLive returns the newest live record matching c.
func (m *Manager) FindLive(ctx context.Context, c token.Criteria) (token.Record, error) {
	return m.store.Find(ctx, c)
}

// Authenticate verifies raw as a token of kind k and confirms it is still
// live in the store.
func (m *Manager) Authenticate(ctx context.Context, raw string, k jwt.Kind) (Principal, error) {
	claims, err := m.signer.Parse(k, raw)
	if err != nil {
		if jwt.IsExpired(err) {
			return Principal{}, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	typ := token.TypeAccess
	if k == jwt.KindRefresh {
		typ = token.TypeRefresh
	}
	rec, err := m.store.Find(ctx, token.Criteria{Type: typ, Value: raw})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return Principal{}, ErrRevoked
		}
		return Principal{}, err
	}
	if rec.SessionID != claims.SID || rec.UserID != claims.UID {
		return Principal{}, ErrRevoked
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return Principal{
		UserID:    claims.UID,
		Email:     claims.Email,
		SessionID: claims.SID,
		Kind:      k,
		Token:     raw,
		ExpiresAt: exp,
	}, nil
}

// VerifyRefreshDigest checks raw against the session's stored refresh digest.
func (m *Manager) VerifyRefreshDigest(ctx context.Context, sessionID, raw string) error {
	rec, err := m.store.Find(ctx, token.Criteria{SessionID: sessionID, Type: token.TypeHashedRefresh})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return ErrRevoked
		}
		return err
	}
	if !m.digester.Compare(rec.Value, raw) {
		return ErrDigestMismatch
	}
	return nil
}
