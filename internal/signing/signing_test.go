package signing

import (
	"strconv"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	secret := []byte("topsecret")
	s := NewSigner(secret)
	subject := Subject("doc-1", "signer-1")
	sig := s.Sign(subject, 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate(subject, "1700000000", sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate("doc-1:signer-2", "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong subject")
	}
	if s.Validate(subject, "42", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if s.Validate(subject, "not-a-number", sig) {
		t.Fatalf("expected validation to fail for malformed expiry")
	}
}

func TestValidateFresh(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewSigner([]byte("k")).WithClock(func() time.Time { return now })
	future := now.Add(time.Hour).Unix()
	past := now.Add(-time.Hour).Unix()

	if !s.ValidateFresh("x", strconv.FormatInt(future, 10), s.Sign("x", future)) {
		t.Fatalf("expected fresh token to validate")
	}
	if s.ValidateFresh("x", strconv.FormatInt(past, 10), s.Sign("x", past)) {
		t.Fatalf("expected expired token to fail")
	}
}

func TestDigest(t *testing.T) {
	s := NewSigner([]byte("k"))
	a := s.Digest("doc-1", []byte("content"))
	if a != s.Digest("doc-1", []byte("content")) {
		t.Fatalf("expected digest to be stable")
	}
	if a == s.Digest("doc-2", []byte("content")) {
		t.Fatalf("expected digest to depend on subject")
	}
	if a == NewSigner([]byte("other")).Digest("doc-1", []byte("content")) {
		t.Fatalf("expected digest to depend on secret")
	}
}
