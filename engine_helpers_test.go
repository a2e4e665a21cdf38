package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelhq/authcore/password"
	"github.com/kestrelhq/authcore/permission"
)

const testPepper = "test-pepper"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*User
	next    int
	linkErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*User{}}
}

func (s *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", email, ErrUserNotFound)
}

func (s *memUsers) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return &Error{Kind: KindDuplicate, Message: MsgEmailExists}
		}
	}
	if u.ID == "" {
		s.next++
		u.ID = fmt.Sprintf("u%d", s.next)
	}
	cp := *u
	s.byID[u.ID] = &cp
	return nil
}

func (s *memUsers) UpdatePassword(_ context.Context, userID, hash, salt string) error {
	return s.update(userID, func(u *User) {
		u.Password = hash
		u.Salt = salt
	})
}

func (s *memUsers) LinkSocial(_ context.Context, userID string, p Provider, socialID string) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	return s.update(userID, func(u *User) {
		switch p {
		case ProviderGoogle:
			u.GoogleID = socialID
		case ProviderFacebook:
			u.FacebookID = socialID
		}
	})
}

func (s *memUsers) SetActive(_ context.Context, userID string, active bool) error {
	return s.update(userID, func(u *User) { u.Active = active })
}

func (s *memUsers) update(userID string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return fmt.Errorf("user %q: %w", userID, ErrUserNotFound)
	}
	fn(u)
	return nil
}

func (s *memUsers) get(id string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.byID[id]
}

type memGrants struct {
	roles  map[string][]permission.RoleGrant
	direct map[string][]permission.PermissionGrant
}

func (g *memGrants) RoleGrants(_ context.Context, userID string) ([]permission.RoleGrant, error) {
	return g.roles[userID], nil
}

func (g *memGrants) PermissionGrants(_ context.Context, userID string) ([]permission.PermissionGrant, error) {
	return g.direct[userID], nil
}

type captureMailer struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (m *captureMailer) Send(_ context.Context, mail Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return m.err
}

func (m *captureMailer) last(t *testing.T, kind MailKind) Mail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s mail sent", kind)
	return Mail{}
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	engine *Engine
	users  *memUsers
	grants *memGrants
	mailer *captureMailer
	clock  *testClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	hasher *password.Argon2
}

func testConfig(t *testing.T) Config {
	t.Helper()
	_, accessPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate access key: %v", err)
	}
	_, refreshPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate refresh key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.AccessPrivateKey = accessPriv
	cfg.JWT.RefreshPrivateKey = refreshPriv
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password.Pepper = testPepper
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Links.BaseURL = "https://app.example.test/"
	return cfg
}

func newTestEnv(t *testing.T, configure ...func(*Config, *Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		users:  newMemUsers(),
		grants: &memGrants{roles: map[string][]permission.RoleGrant{}, direct: map[string][]permission.PermissionGrant{}},
		mailer: &captureMailer{},
		clock:  newTestClock(),
		mr:     mr,
		rdb:    rdb,
	}

	cfg := testConfig(t)
	b := New().
		WithRedis(rdb).
		WithUserStore(env.users).
		WithGrantStore(env.grants).
		WithMailer(env.mailer).
		WithClock(env.clock.Now)
	for _, fn := range configure {
		fn(&cfg, b)
	}
	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine

	hasher, err := password.NewArgon2(password.Config{
		Pepper:      cfg.Password.Pepper,
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	env.hasher = hasher
	return env
}

// addUser stores an active user. An empty pw leaves the account without a
// password.
func (env *testEnv) addUser(t *testing.T, email, pw string, twoFactor bool) *User {
	t.Helper()
	u := &User{Name: "Test User", Email: email, Active: true, TwoFactor: twoFactor}
	if pw != "" {
		salt, err := env.hasher.NewSalt()
		if err != nil {
			t.Fatalf("new salt: %v", err)
		}
		hash, err := env.hasher.Hash(pw, salt)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		u.Password, u.Salt = hash, salt
	}
	if err := env.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (env *testEnv) login(t *testing.T, email, pw string) *TokenResponse {
	t.Helper()
	res, err := env.engine.Login(context.Background(), Credentials{Email: email, Password: pw})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Tokens == nil {
		t.Fatalf("login returned message %q, want tokens", res.Message)
	}
	return res.Tokens
}

// linkToken extracts the trailing token from a mailed link.
func linkToken(t *testing.T, link string) string {
	t.Helper()
	i := strings.LastIndex(link, "/")
	if i < 0 || i == len(link)-1 {
		t.Fatalf("malformed link %q", link)
	}
	return link[i+1:]
}

func requireKind(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s/%s error, got nil", kind, message)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Kind != kind || (message != "" && e.Message != message) {
		t.Fatalf("got %s/%s, want %s/%s (%v)", e.Kind, e.Message, kind, message, err)
	}
}
