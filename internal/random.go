package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const linkTokenSize = 32

// NewSessionID mints the id that groups an access/refresh/hashed-refresh triple.
func NewSessionID() string {
	return uuid.NewString()
}

// NewRecordID returns a time-ordered id for a token record.
func NewRecordID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// NewOTP returns a zero-padded numeric code of the given width.
func NewOTP(digits int) (string, error) {
	if digits <= 0 || digits > 10 {
		return "", errors.New("otp digits must be between 1 and 10")
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}

// NewLinkToken returns an opaque hex token for mailed links.
func NewLinkToken() (string, error) {
	raw := make([]byte, linkTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Digest is the hex SHA-256 of v. Used to key indexes without storing raw
// token values in key names.
func Digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
