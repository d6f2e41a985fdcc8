package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mahainsight.org/internal/account"
	"mahainsight.org/internal/token"
)

type fixture struct {
	now      time.Time
	codec    *token.Codec
	store    *MemoryStore
	accounts *account.MemoryStore
	svc      *Service
	acct     *account.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		store:    NewMemoryStore(),
		accounts: account.NewMemoryStore(),
	}
	clock := func() time.Time { return f.now }

	codec, err := token.NewCodec("test-secret", 15*time.Minute, 30*24*time.Hour, token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	f.codec = codec

	digest, err := account.HashPassword("hunter2sufficient")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	f.acct = &account.Account{Email: "dina@example.com", PasswordDigest: digest, FullName: "Dina P", Role: account.RoleUser}
	if err := f.accounts.Create(context.Background(), f.acct); err != nil {
		t.Fatalf("create account: %v", err)
	}

	svc, err := NewService(codec, f.store, f.accounts, WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func TestLoginAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, f.acct.ID, f.acct.Role)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both credentials")
	}

	id, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.SubjectID != f.acct.ID || id.Role != account.RoleUser {
		t.Fatalf("unexpected identity: %+v", id)
	}

	// Past the access TTL the same credential is rejected.
	f.now = f.now.Add(15*time.Minute + time.Second)
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestLoginWithPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.LoginWithPassword(ctx, "dina@example.com", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for bad password, got %v", err)
	}
	if _, _, err := f.svc.LoginWithPassword(ctx, "nobody@example.com", "hunter2sufficient"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown email, got %v", err)
	}

	pair, acct, err := f.svc.LoginWithPassword(ctx, "Dina@Example.com", "hunter2sufficient")
	if err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
	if acct.ID != f.acct.ID {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if pair.RefreshToken == "" {
		t.Fatal("expected refresh credential")
	}

	stored, err := f.accounts.Find(ctx, f.acct.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(f.now) {
		t.Fatalf("expected last login recorded at %v, got %v", f.now, stored.LastLoginAt)
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, f.acct.ID, f.acct.Role)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh credential")
	}

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked on reuse, got %v", err)
	}

	// The successor keeps the chain alive.
	if _, err := f.svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("successor Refresh: %v", err)
	}
}

func TestConcurrentRefreshExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, f.acct.ID, f.acct.Role)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		revoked   int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSessionRevoked):
				revoked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", successes)
	}
	if revoked != callers-1 {
		t.Fatalf("expected %d revoked failures, got %d", callers-1, revoked)
	}
}

func TestLogoutThenRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, f.acct.ID, f.acct.Role)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.svc.Logout(ctx, pair.RefreshToken)
	// Idempotent: a second logout of the same credential is fine.
	f.svc.Logout(ctx, pair.RefreshToken)

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after logout, got %v", err)
	}
}

func TestLogoutEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.svc.Login(ctx, f.acct.ID, f.acct.Role)
	second, _ := f.svc.Login(ctx, f.acct.ID, f.acct.Role)

	if err := f.svc.LogoutEverywhere(ctx, f.acct.ID); err != nil {
		t.Fatalf("LogoutEverywhere: %v", err)
	}

	for _, raw := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := f.svc.Refresh(ctx, raw); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.Status(ctx, "", "")
	if err != nil || st != StatusUnauthenticated {
		t.Fatalf("empty cookies: got %v, %v", st, err)
	}

	pair, err := f.svc.Login(ctx, f.acct.ID, f.acct.Role)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	st, err = f.svc.Status(ctx, pair.AccessToken, pair.RefreshToken)
	if err != nil || st != StatusAuthenticated {
		t.Fatalf("fresh pair: got %v, %v", st, err)
	}

	// Expired access but live refresh: the caller should silently rotate.
	f.now = f.now.Add(16 * time.Minute)
	st, err = f.svc.Status(ctx, pair.AccessToken, pair.RefreshToken)
	if err != nil || st != StatusNeedsRefresh {
		t.Fatalf("stale access: got %v, %v", st, err)
	}

	f.svc.Logout(ctx, pair.RefreshToken)
	st, err = f.svc.Status(ctx, pair.AccessToken, pair.RefreshToken)
	if err != nil || st != StatusUnauthenticated {
		t.Fatalf("after logout: got %v, %v", st, err)
	}
}

func TestGarbageCollect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, f.acct.ID, f.acct.Role)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Not yet past expiry + retention.
	n, err := f.svc.GarbageCollect(ctx, 72*time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("premature collection: n=%d err=%v", n, err)
	}

	f.now = f.now.Add(30*24*time.Hour + 73*time.Hour)
	n, err = f.svc.GarbageCollect(ctx, 72*time.Hour)
	if err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 collected record, got %d", n)
	}
	_ = pair
}

// flakyStore fails each operation once with a transient error before
// delegating, exercising the single bounded retry.
type flakyStore struct {
	RevocationStore
	mu     sync.Mutex
	failed map[string]bool
}

func (fs *flakyStore) failOnce(op string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.failed[op] {
		return nil
	}
	fs.failed[op] = true
	return fmt.Errorf("%w: connection reset", ErrStoreUnavailable)
}

func (fs *flakyStore) Record(ctx context.Context, rec *RevocationRecord) error {
	if err := fs.failOnce("record"); err != nil {
		return err
	}
	return fs.RevocationStore.Record(ctx, rec)
}

func (fs *flakyStore) Rotate(ctx context.Context, oldHash string, next *RevocationRecord, now time.Time) error {
	if err := fs.failOnce("rotate"); err != nil {
		return err
	}
	return fs.RevocationStore.Rotate(ctx, oldHash, next, now)
}

func TestTransientStoreFailureIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flaky := &flakyStore{RevocationStore: f.store, failed: make(map[string]bool)}
	clock := func() time.Time { return f.now }
	svc, err := NewService(f.codec, flaky, f.accounts, WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	pair, err := svc.Login(ctx, f.acct.ID, f.acct.Role)
	if err != nil {
		t.Fatalf("Login should survive one transient failure: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh should survive one transient failure: %v", err)
	}
}
