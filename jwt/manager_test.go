package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, clock *testClock) (*Manager, ed25519.PrivateKey, ed25519.PrivateKey) {
	t.Helper()
	_, accessPriv := newEdKeys(t)
	_, refreshPriv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: MethodEd25519,
		Access:        Keys{PrivateKey: accessPriv},
		Refresh:       Keys{PrivateKey: refreshPriv},
		Issuer:        "authcore",
		Audience:      "api",
		Leeway:        30 * time.Second,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, accessPriv, refreshPriv
}

func TestSignAndParseRoundTrip(t *testing.T) {
	clock := &testClock{now: time.Now()}
	m, _, _ := newTestManager(t, clock)

	raw, exp, err := m.Sign(KindAccess, "u1", "a@example.com", "s1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if want := clock.now.Add(15 * time.Minute).Truncate(time.Second); !exp.Equal(want) {
		t.Fatalf("exp = %v, want %v", exp, want)
	}
	claims, err := m.Parse(KindAccess, raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UID != "u1" || claims.SID != "s1" || claims.Email != "a@example.com" || claims.Typ != KindAccess {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
}

func TestTokensAreUnique(t *testing.T) {
	m, _, _ := newTestManager(t, &testClock{now: time.Now()})
	a, _, _ := m.Sign(KindRefresh, "u1", "", "s1")
	b, _, _ := m.Sign(KindRefresh, "u1", "", "s1")
	if a == b {
		t.Fatal("two tokens for the same session must differ")
	}
}

func TestParseRejectsOtherKind(t *testing.T) {
	m, _, _ := newTestManager(t, &testClock{now: time.Now()})

	access, _, _ := m.Sign(KindAccess, "u1", "", "s1")
	if _, err := m.Parse(KindRefresh, access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token parsed as refresh: %v", err)
	}
	refresh, _, _ := m.Sign(KindRefresh, "u1", "", "s1")
	if _, err := m.Parse(KindAccess, refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token parsed as access: %v", err)
	}
}

func TestParseRejectsForgedTyp(t *testing.T) {
	clock := &testClock{now: time.Now()}
	m, _, refreshPriv := newTestManager(t, clock)

	// Signed with the refresh key but claiming to be an access token.
	claims := Claims{UID: "u1", SID: "s1", Typ: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	forged, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(refreshPriv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(KindAccess, forged); err == nil {
		t.Fatal("expected refresh-key token to fail access verification")
	}
}

func TestParseExpiryAndLeeway(t *testing.T) {
	clock := &testClock{now: time.Now()}
	m, _, _ := newTestManager(t, clock)
	raw, _, _ := m.Sign(KindAccess, "u1", "", "s1")

	clock.now = clock.now.Add(15*time.Minute + 10*time.Second)
	if _, err := m.Parse(KindAccess, raw); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	clock.now = clock.now.Add(time.Minute)
	_, err := m.Parse(KindAccess, raw)
	if !errors.Is(err, ErrInvalidToken) || !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	clock := &testClock{now: time.Now()}
	m, _, _ := newTestManager(t, clock)

	claims := Claims{UID: "u1", SID: "s1", Typ: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(KindAccess, token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseIssuerAndAudience(t *testing.T) {
	clock := &testClock{now: time.Now()}
	m, accessPriv, _ := newTestManager(t, clock)

	base := func() Claims {
		return Claims{UID: "u1", SID: "s1", Typ: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    "authcore",
			Audience:  gjwt.ClaimStrings{"api"},
			IssuedAt:  gjwt.NewNumericDate(clock.now),
			ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
		}}
	}

	wrongIssuer := base()
	wrongIssuer.Issuer = "other"
	wrongAudience := base()
	wrongAudience.Audience = gjwt.ClaimStrings{"other-api"}
	noExpiry := base()
	noExpiry.ExpiresAt = nil

	for name, c := range map[string]Claims{"issuer": wrongIssuer, "audience": wrongAudience, "exp": noExpiry} {
		raw, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(accessPriv)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := m.Parse(KindAccess, raw); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}

	good, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, base()).SignedString(accessPriv)
	if _, err := m.Parse(KindAccess, good); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}
}

func TestNewManagerRejectsSharedKeys(t *testing.T) {
	_, priv := newEdKeys(t)
	_, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		Access:        Keys{PrivateKey: priv},
		Refresh:       Keys{PrivateKey: priv},
	})
	if !errors.Is(err, ErrSameKeys) {
		t.Fatalf("expected ErrSameKeys, got %v", err)
	}

	_, err = NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		Access:        Keys{PrivateKey: []byte("same-secret")},
		Refresh:       Keys{PrivateKey: []byte("same-secret")},
	})
	if !errors.Is(err, ErrSameKeys) {
		t.Fatalf("expected ErrSameKeys for hs256, got %v", err)
	}
}

func TestVerifyOnlyManager(t *testing.T) {
	clock := &testClock{now: time.Now()}
	signer, accessPriv, refreshPriv := newTestManager(t, clock)

	verifier, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: MethodEd25519,
		Access:        Keys{PublicKey: accessPriv.Public().(ed25519.PublicKey)},
		Refresh:       Keys{PublicKey: refreshPriv.Public().(ed25519.PublicKey)},
		Issuer:        "authcore",
		Audience:      "api",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	raw, _, _ := signer.Sign(KindAccess, "u1", "", "s1")
	if _, err := verifier.Parse(KindAccess, raw); err != nil {
		t.Fatalf("verify-only parse: %v", err)
	}
	if _, _, err := verifier.Sign(KindAccess, "u1", "", "s1"); !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("expected ErrNoSigningKey, got %v", err)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		Access:        Keys{PrivateKey: []byte("access-secret-access-secret")},
		Refresh:       Keys{PrivateKey: []byte("refresh-secret-refresh-secret")},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	raw, _, err := m.Sign(KindRefresh, "u1", "", "s1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(KindRefresh, raw); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := m.Parse(KindAccess, raw); err == nil {
		t.Fatal("refresh token verified with access secret")
	}
}
