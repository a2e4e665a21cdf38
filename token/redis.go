package token

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kestrelhq/authcore/internal"
	"github.com/redis/go-redis/v9"
)

const (
	recordVersionV1 byte = 1
	maxTxRetries         = 8
)

// RedisOptions configures a [RedisStore].
type RedisOptions struct {
	Prefix string
	// RetentionGrace keeps records readable past ExpiresAt so callers can
	// still tell "expired" from "never existed".
	RetentionGrace time.Duration
	Now            func() time.Time
}

// RedisStore keeps token records in Redis.
//
// Layout under the prefix:
//
//	rec:<id>                 encoded record, TTL = ExpiresAt + grace
//	val:<type>:<digest>      record id, for value lookups (not for OTPs)
//	sess:<sessionID>         set of record ids
//	user:<userID>            set of record ids
//	slot:<userID>:<type>     set of record ids for per-user types
//
// Index sets carry no TTL; members whose record has aged out are skipped
// and pruned on read. Revocation removes records physically.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
	now    func() time.Time
}

// NewRedisStore returns a store on client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = "at"
	}
	if opts.RetentionGrace <= 0 {
		opts.RetentionGrace = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisStore{
		redis:  client,
		prefix: opts.Prefix,
		grace:  opts.RetentionGrace,
		now:    opts.Now,
	}
}

// Create writes records in one MULTI/EXEC. Per-user types supersede the
// previous record of the same user and type; those slots are WATCHed so a
// concurrent issue retries instead of leaving two live codes.
func (s *RedisStore) Create(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := Validate(records...); err != nil {
		return err
	}

	encoded := make([][]byte, len(records))
	for i := range records {
		data, err := encodeRecord(records[i])
		if err != nil {
			return err
		}
		encoded[i] = data
	}

	slots := s.slotKeys(records)
	if len(slots) == 0 {
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueWrites(ctx, pipe, records, encoded)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var stale []Record
			for _, slot := range slots {
				ids, err := tx.SMembers(ctx, slot).Result()
				if err != nil {
					return err
				}
				existing, err := s.load(ctx, tx, ids)
				if err != nil {
					return err
				}
				stale = append(stale, existing...)
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, r := range stale {
					s.queueRemoval(ctx, pipe, r)
				}
				pipe.Del(ctx, slots...)
				s.queueWrites(ctx, pipe, records, encoded)
				return nil
			})
			return err
		}, slots...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: create contention", ErrUnavailable)
}

// Find returns the newest live record matching c.
func (s *RedisStore) Find(ctx context.Context, c Criteria) (Record, error) {
	if err := c.validate(); err != nil {
		return Record{}, err
	}
	if c.Type.OTP() && c.UserID == "" && c.SessionID == "" {
		return Record{}, fmt.Errorf("%w: otp lookups need a user", ErrInvalidCriteria)
	}

	ids, err := s.candidates(ctx, c)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return Record{}, ErrNotFound
	}

	records, err := s.load(ctx, s.redis, ids)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var (
		best  Record
		found bool
	)
	for _, r := range records {
		if !c.Matches(r) {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) || (r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best = r
			found = true
		}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return best, nil
}

// Delete removes one record and its index entries.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	key := s.recKey(id)

	for i := 0; i < maxTxRetries; i++ {
		var deleted bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := s.load(ctx, tx, []string{id})
			if err != nil {
				return err
			}
			if len(existing) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.queueRemoval(ctx, pipe, existing[0])
				return nil
			})
			if err == nil {
				deleted = true
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return deleted, nil
	}

	return false, fmt.Errorf("%w: delete contention", ErrUnavailable)
}

// DeleteBySession removes every record of a session. The session index is
// WATCHed and dropped in the same transaction, so of two racing callers only
// one reports a non-zero count.
func (s *RedisStore) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, ErrInvalidCriteria
	}
	return s.deleteIndexed(ctx, s.sessKey(sessionID))
}

// DeleteByUser removes every record of a user.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidCriteria
	}
	return s.deleteIndexed(ctx, s.userKey(userID))
}

func (s *RedisStore) deleteIndexed(ctx context.Context, indexKey string) (int, error) {
	for i := 0; i < maxTxRetries; i++ {
		var count int
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.SMembers(ctx, indexKey).Result()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}
			existing, err := s.load(ctx, tx, ids)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, r := range existing {
					s.queueRemoval(ctx, pipe, r)
				}
				pipe.Del(ctx, indexKey)
				return nil
			})
			if err == nil {
				count = len(existing)
			}
			return err
		}, indexKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return count, nil
	}

	return 0, fmt.Errorf("%w: delete contention", ErrUnavailable)
}

func (s *RedisStore) candidates(ctx context.Context, c Criteria) ([]string, error) {
	switch {
	case c.Value != "" && !c.Type.OTP():
		types := []Type{c.Type}
		if c.Type == "" {
			types = valueIndexedTypes()
		}
		keys := make([]string, len(types))
		for i, t := range types {
			keys[i] = s.valKey(t, c.Value)
		}
		vals, err := s.redis.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, 1)
		for _, v := range vals {
			if id, ok := v.(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	case c.UserID != "" && c.Type.PerUser():
		return s.redis.SMembers(ctx, s.slotKey(c.UserID, c.Type)).Result()
	case c.SessionID != "":
		return s.redis.SMembers(ctx, s.sessKey(c.SessionID)).Result()
	case c.UserID != "":
		return s.redis.SMembers(ctx, s.userKey(c.UserID)).Result()
	default:
		return nil, ErrInvalidCriteria
	}
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// load reads records by id, skipping ids whose record is gone.
func (s *RedisStore) load(ctx context.Context, client multiGetter, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recKey(id)
	}

	vals, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) queueWrites(ctx context.Context, pipe redis.Pipeliner, records []Record, encoded [][]byte) {
	now := s.now()
	for i, r := range records {
		ttl := s.grace
		if !r.ExpiresAt.IsZero() {
			ttl = r.ExpiresAt.Sub(now) + s.grace
			if ttl < s.grace {
				ttl = s.grace
			}
		}

		pipe.Set(ctx, s.recKey(r.ID), encoded[i], ttl)
		if !r.Type.OTP() {
			pipe.Set(ctx, s.valKey(r.Type, r.Value), r.ID, ttl)
		}
		pipe.SAdd(ctx, s.userKey(r.UserID), r.ID)
		if r.SessionID != "" {
			pipe.SAdd(ctx, s.sessKey(r.SessionID), r.ID)
		}
		if r.Type.PerUser() {
			pipe.SAdd(ctx, s.slotKey(r.UserID, r.Type), r.ID)
		}
	}
}

func (s *RedisStore) queueRemoval(ctx context.Context, pipe redis.Pipeliner, r Record) {
	pipe.Del(ctx, s.recKey(r.ID))
	if !r.Type.OTP() {
		pipe.Del(ctx, s.valKey(r.Type, r.Value))
	}
	pipe.SRem(ctx, s.userKey(r.UserID), r.ID)
	if r.SessionID != "" {
		pipe.SRem(ctx, s.sessKey(r.SessionID), r.ID)
	}
	if r.Type.PerUser() {
		pipe.SRem(ctx, s.slotKey(r.UserID, r.Type), r.ID)
	}
}

func (s *RedisStore) slotKeys(records []Record) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range records {
		if !r.Type.PerUser() {
			continue
		}
		k := s.slotKey(r.UserID, r.Type)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueIndexedTypes() []Type {
	out := make([]Type, 0, len(Types))
	for _, t := range Types {
		if !t.OTP() {
			out = append(out, t)
		}
	}
	return out
}

func (s *RedisStore) recKey(id string) string {
	return s.prefix + ":rec:" + id
}

func (s *RedisStore) valKey(t Type, value string) string {
	return s.prefix + ":val:" + string(t) + ":" + internal.Digest(value)
}

func (s *RedisStore) sessKey(sessionID string) string {
	return s.prefix + ":sess:" + sessionID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

func (s *RedisStore) slotKey(userID string, t Type) string {
	return s.prefix + ":slot:" + userID + ":" + string(t)
}

func encodeRecord(r Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersionV1)

	for _, field := range []string{r.ID, r.UserID, string(r.Type), r.Value, r.SessionID} {
		if len(field) > 65535 {
			return nil, fmt.Errorf("%w: field too long", ErrInvalidRecord)
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	for _, ts := range []time.Time{r.CreatedAt, r.ExpiresAt} {
		var v int64
		if !ts.IsZero() {
			v = ts.UnixNano()
		}
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Record{}, err
	}
	if version != recordVersionV1 {
		return Record{}, errors.New("invalid token record version")
	}

	fields := make([]string, 5)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return Record{}, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return Record{}, err
		}
		fields[i] = string(raw)
	}

	var created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return Record{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return Record{}, err
	}

	r := Record{
		ID:        fields[0],
		UserID:    fields[1],
		Type:      Type(fields[2]),
		Value:     fields[3],
		SessionID: fields[4],
	}
	if created != 0 {
		r.CreatedAt = time.Unix(0, created).UTC()
	}
	if expires != 0 {
		r.ExpiresAt = time.Unix(0, expires).UTC()
	}
	return r, nil
}
