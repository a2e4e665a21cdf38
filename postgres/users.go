package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/kestrelhq/authcore"
)

const userColumns = `id, name, email, password, salt, active, two_factor, google_id, facebook_id, language`

// UserStore is an authcore.UserStore backed by the users table.
type UserStore struct {
	pool Pool
}

var _ authcore.UserStore = (*UserStore)(nil)

// NewUserStore returns a store on pool.
func NewUserStore(pool Pool) *UserStore {
	return &UserStore{pool: pool}
}

// FindByEmail looks a user up by email, ignoring case.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*authcore.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(authcore.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "find by email").Wrap(err)
	}
	return u, nil
}

// FindByID looks a user up by id.
func (s *UserStore) FindByID(ctx context.Context, id string) (*authcore.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(authcore.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "find by id").Wrap(err)
	}
	return u, nil
}

// Create inserts u, assigning a ULID when u.ID is empty.
func (s *UserStore) Create(ctx context.Context, u *authcore.User) error {
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Name, u.Email, u.Password, u.Salt, u.Active, u.TwoFactor, u.GoogleID, u.FacebookID, u.Language)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_EXISTS").With("email", u.Email).Wrap(authcore.ErrEmailExists)
		}
		return oops.Code("USER_CREATE_FAILED").With("id", u.ID).Wrap(err)
	}
	return nil
}

// UpdatePassword stores a new hash and salt.
func (s *UserStore) UpdatePassword(ctx context.Context, userID, hash, salt string) error {
	return s.update(ctx, "update password", userID,
		`UPDATE users SET password = $2, salt = $3, updated_at = now() WHERE id = $1`, hash, salt)
}

// LinkSocial records the user's id at provider p.
func (s *UserStore) LinkSocial(ctx context.Context, userID string, p authcore.Provider, socialID string) error {
	switch p {
	case authcore.ProviderGoogle:
		return s.update(ctx, "link google", userID,
			`UPDATE users SET google_id = $2, updated_at = now() WHERE id = $1`, socialID)
	case authcore.ProviderFacebook:
		return s.update(ctx, "link facebook", userID,
			`UPDATE users SET facebook_id = $2, updated_at = now() WHERE id = $1`, socialID)
	default:
		return oops.Code("UNKNOWN_PROVIDER").With("provider", string(p)).Errorf("unknown social provider %q", p)
	}
}

// SetActive toggles whether the user may sign in.
func (s *UserStore) SetActive(ctx context.Context, userID string, active bool) error {
	return s.update(ctx, "set active", userID,
		`UPDATE users SET active = $2, updated_at = now() WHERE id = $1`, active)
}

func (s *UserStore) update(ctx context.Context, op, userID, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, append([]any{userID}, args...)...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", op).With("id", userID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", userID).Wrap(authcore.ErrUserNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*authcore.User, error) {
	var u authcore.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.Salt, &u.Active, &u.TwoFactor,
		&u.GoogleID, &u.FacebookID, &u.Language); err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
