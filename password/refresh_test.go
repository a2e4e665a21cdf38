package password

import (
	"strings"
	"testing"
)

func TestRefreshDigestRoundTrip(t *testing.T) {
	d, err := NewRefreshDigester(MinDigestCost)
	if err != nil {
		t.Fatalf("NewRefreshDigester error: %v", err)
	}

	// Longer than bcrypt's 72-byte window, like a real JWT.
	token := "eyJhbGciOiJFZERTQSJ9." + strings.Repeat("a", 120) + ".sig"
	digest, err := d.Digest(token)
	if err != nil {
		t.Fatalf("Digest error: %v", err)
	}
	if strings.Contains(digest, token) {
		t.Fatal("digest must not contain the raw token")
	}
	if !d.Compare(digest, token) {
		t.Fatal("expected digest to match token")
	}

	tampered := token[:100] + "b" + token[101:]
	if d.Compare(digest, tampered) {
		t.Fatal("expected a change past byte 72 to be detected")
	}
}

func TestNewRefreshDigesterRejectsLowCost(t *testing.T) {
	if _, err := NewRefreshDigester(4); err == nil {
		t.Fatal("expected low cost to be rejected")
	}
}
