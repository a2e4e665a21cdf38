package password

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinDigestCost is the lowest bcrypt cost accepted for refresh digests.
const MinDigestCost = 10

// RefreshDigester produces the irreversible copy of a refresh token that is
// stored next to the raw token and checked on logout.
type RefreshDigester struct {
	cost int
}

// NewRefreshDigester returns a digester with the given bcrypt cost.
func NewRefreshDigester(cost int) (*RefreshDigester, error) {
	if cost < MinDigestCost || cost > bcrypt.MaxCost {
		return nil, errors.New("refresh digest cost out of range")
	}
	return &RefreshDigester{cost: cost}, nil
}

// Digest hashes token. Tokens are SHA-256 pre-hashed because bcrypt only
// reads the first 72 bytes of its input.
func (d *RefreshDigester) Digest(token string) (string, error) {
	out, err := bcrypt.GenerateFromPassword(prehash(token), d.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare reports whether token produced digest.
func (d *RefreshDigester) Compare(digest, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(token)) == nil
}

func prehash(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}
