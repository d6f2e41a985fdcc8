package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T, now *time.Time) *Codec {
	t.Helper()
	c, err := NewCodec("test-secret", 900*time.Second, 30*24*time.Hour, WithClock(func() time.Time {
		return *now
	}))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestIssueAndVerifyAccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, &now)

	raw, expiresAt, err := codec.Issue(KindAccess, "42", "user")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(900 * time.Second)) {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	cred, err := codec.Verify(raw, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if cred.SubjectID != "42" || cred.Role != "user" || cred.Kind != KindAccess {
		t.Fatalf("unexpected credential: %+v", cred)
	}

	// Advance past the TTL; the same raw value must now fail as expired.
	now = now.Add(901 * time.Second)
	if _, err := codec.Verify(raw, KindAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyWrongKind(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, &now)

	raw, _, err := codec.Issue(KindRefresh, "42", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(raw, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, &now)

	raw, _, err := codec.Issue(KindAccess, "42", "user")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := raw[:len(raw)-2] + "xx"
	if _, err := codec.Verify(tampered, KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := codec.Verify("not-a-token", KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for garbage, got %v", err)
	}

	other, err := NewCodec("other-secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, err := other.Verify(raw, KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for foreign secret, got %v", err)
	}
}

func TestRefreshCarriesNoRole(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, &now)

	raw, _, err := codec.Issue(KindRefresh, "42", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cred, err := codec.Verify(raw, KindRefresh)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if cred.Role != "" {
		t.Fatalf("refresh credential should not carry a role, got %q", cred.Role)
	}
}

func TestDigest(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, &now)

	raw1, _, _ := codec.Issue(KindRefresh, "42", "")
	raw2, _, _ := codec.Issue(KindRefresh, "42", "")

	if codec.Digest(raw1) != codec.Digest(raw1) {
		t.Fatal("digest is not deterministic")
	}
	if codec.Digest(raw1) == codec.Digest(raw2) {
		t.Fatal("distinct credentials produced the same digest")
	}
	if strings.Contains(codec.Digest(raw1), ".") {
		t.Fatal("digest leaks token structure")
	}
	if len(codec.Digest(raw1)) != 64 {
		t.Fatalf("unexpected digest length: %d", len(codec.Digest(raw1)))
	}
}
