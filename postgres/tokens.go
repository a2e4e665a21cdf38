package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/kestrelhq/authcore/token"
)

const tokenColumns = `id, user_id, type, value, session_id, expires_at, created_at, deleted_at`

// TokenStore is a token.Store backed by the tokens table.
type TokenStore struct {
	pool Pool
	now  func() time.Time
}

var _ token.Store = (*TokenStore)(nil)

// NewTokenStore returns a store on pool. A nil now uses time.Now.
func NewTokenStore(pool Pool, now func() time.Time) *TokenStore {
	if now == nil {
		now = time.Now
	}
	return &TokenStore{pool: pool, now: now}
}

// Create inserts records in one transaction. Per-user types first revoke the
// user's previous live record of the same type.
func (s *TokenStore) Create(ctx context.Context, records ...token.Record) (err error) {
	if err := token.Validate(records...); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").With("operation", "create tokens").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.now()
	for _, r := range records {
		if r.Type.PerUser() {
			if _, err = tx.Exec(ctx,
				`UPDATE tokens SET deleted_at = $1 WHERE user_id = $2 AND type = $3 AND deleted_at IS NULL`,
				now, r.UserID, string(r.Type)); err != nil {
				return oops.Code("TOKEN_SUPERSEDE_FAILED").With("user_id", r.UserID).With("type", string(r.Type)).Wrap(err)
			}
		}
		if _, err = tx.Exec(ctx,
			`INSERT INTO tokens (id, user_id, type, value, session_id, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.UserID, string(r.Type), r.Value, r.SessionID, nullTime(r.ExpiresAt), r.CreatedAt); err != nil {
			return oops.Code("TOKEN_CREATE_FAILED").With("id", r.ID).Wrap(err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").With("operation", "create tokens").Wrap(err)
	}
	return nil
}

// Find returns the newest live record matching c.
func (s *TokenStore) Find(ctx context.Context, c token.Criteria) (token.Record, error) {
	if err := token.ValidateCriteria(c); err != nil {
		return token.Record{}, err
	}

	where, args := criteriaClause(c)
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT 1`,
		args...)

	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return token.Record{}, token.ErrNotFound
	}
	if err != nil {
		return token.Record{}, oops.Code("TOKEN_FIND_FAILED").Wrap(err)
	}
	return r, nil
}

// Delete revokes the record with id. Only the call that flips deleted_at
// reports true.
func (s *TokenStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tokens SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		s.now(), id)
	if err != nil {
		return false, oops.Code("TOKEN_DELETE_FAILED").With("id", id).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteBySession revokes every live record of the session.
func (s *TokenStore) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, token.ErrInvalidCriteria
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tokens SET deleted_at = $1 WHERE session_id = $2 AND deleted_at IS NULL`,
		s.now(), sessionID)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_FAILED").With("session_id", sessionID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByUser revokes every live record of the user.
func (s *TokenStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, token.ErrInvalidCriteria
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tokens SET deleted_at = $1 WHERE user_id = $2 AND deleted_at IS NULL`,
		s.now(), userID)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func criteriaClause(c token.Criteria) (string, []any) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	add := func(col, v string) {
		args = append(args, v)
		conds = append(conds, col+" = $"+strconv.Itoa(len(args)))
	}
	if c.UserID != "" {
		add("user_id", c.UserID)
	}
	if c.Type != "" {
		add("type", string(c.Type))
	}
	if c.Value != "" {
		add("value", c.Value)
	}
	if c.SessionID != "" {
		add("session_id", c.SessionID)
	}
	return strings.Join(conds, " AND "), args
}

func scanRecord(row pgx.Row) (token.Record, error) {
	var (
		r         token.Record
		typ       string
		expiresAt *time.Time
	)
	if err := row.Scan(&r.ID, &r.UserID, &typ, &r.Value, &r.SessionID, &expiresAt, &r.CreatedAt, &r.DeletedAt); err != nil {
		return token.Record{}, err
	}
	r.Type = token.Type(typ)
	if expiresAt != nil {
		r.ExpiresAt = *expiresAt
	}
	return r, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
