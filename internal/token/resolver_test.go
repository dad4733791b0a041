package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/booking-scheduler/internal/secrets"
)

const testSecret = "unit-test-secret"

type refresherStub struct {
	response Response
	err      error
	calls    int
	lastSeen string
}

func (r *refresherStub) Refresh(ctx context.Context, refreshToken string) (Response, error) {
	r.calls++
	r.lastSeen = refreshToken
	if r.err != nil {
		return Response{}, r.err
	}
	return r.response, nil
}

func encryptedState(t *testing.T, access, refresh string, expiresAt time.Time) ConnectionSecretState {
	t.Helper()
	accessEnc, err := secrets.Encrypt(access, testSecret)
	if err != nil {
		t.Fatalf("failed to encrypt access token: %v", err)
	}
	refreshEnc, err := secrets.Encrypt(refresh, testSecret)
	if err != nil {
		t.Fatalf("failed to encrypt refresh token: %v", err)
	}
	return ConnectionSecretState{
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		AccessTokenExpiresAt:  expiresAt,
	}
}

func TestResolveAccessToken_SkipsRefreshWhenFresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	state := encryptedState(t, "access-1", "refresh-1", now.Add(10*time.Minute))
	refresher := &refresherStub{}

	resolution, err := ResolveAccessToken(context.Background(), ResolveInput{
		Connection:       state,
		EncryptionSecret: testSecret,
		Now:              now,
	}, refresher)
	if err != nil {
		t.Fatalf("ResolveAccessToken returned error: %v", err)
	}

	if resolution.Refreshed {
		t.Fatal("expected no refresh for a fresh token")
	}
	if refresher.calls != 0 {
		t.Fatalf("expected refresher untouched, got %d calls", refresher.calls)
	}
	if resolution.AccessToken != "access-1" || resolution.RefreshToken != "refresh-1" {
		t.Fatalf("expected original tokens back, got %+v", resolution)
	}
	if !resolution.AccessTokenExpiresAt.Equal(state.AccessTokenExpiresAt) {
		t.Fatal("expected expiry to pass through unchanged")
	}
}

func TestResolveAccessToken_RefreshesWithinSkew(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expiresAt time.Time
	}{
		{name: "already expired", expiresAt: now.Add(-time.Minute)},
		{name: "expires exactly at the skew bound", expiresAt: now.Add(ExpirySkew)},
		{name: "expires inside the skew", expiresAt: now.Add(30 * time.Second)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			state := encryptedState(t, "stale-access", "refresh-1", tc.expiresAt)
			refresher := &refresherStub{response: Response{
				AccessToken:      "fresh-access",
				ExpiresInSeconds: 3600,
			}}

			resolution, err := ResolveAccessToken(context.Background(), ResolveInput{
				Connection:       state,
				EncryptionSecret: testSecret,
				Now:              now,
			}, refresher)
			if err != nil {
				t.Fatalf("ResolveAccessToken returned error: %v", err)
			}

			if !resolution.Refreshed {
				t.Fatal("expected a refresh")
			}
			if refresher.calls != 1 {
				t.Fatalf("expected exactly one refresh call, got %d", refresher.calls)
			}
			if refresher.lastSeen != "refresh-1" {
				t.Fatalf("expected decrypted refresh token passed through, got %q", refresher.lastSeen)
			}
			if resolution.AccessToken != "fresh-access" {
				t.Fatalf("expected refreshed access token, got %q", resolution.AccessToken)
			}
			want := now.Add(time.Hour)
			if !resolution.AccessTokenExpiresAt.Equal(want) {
				t.Fatalf("expected expiry %v, got %v", want, resolution.AccessTokenExpiresAt)
			}
		})
	}
}

func TestResolveAccessToken_RetainsRefreshTokenWithoutRotation(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	state := encryptedState(t, "stale", "original-refresh", now)

	refresher := &refresherStub{response: Response{AccessToken: "fresh", ExpiresInSeconds: 600}}

	resolution, err := ResolveAccessToken(context.Background(), ResolveInput{
		Connection:       state,
		EncryptionSecret: testSecret,
		Now:              now,
	}, refresher)
	if err != nil {
		t.Fatalf("ResolveAccessToken returned error: %v", err)
	}
	if resolution.RefreshToken != "original-refresh" {
		t.Fatalf("expected original refresh token retained, got %q", resolution.RefreshToken)
	}
}

func TestResolveAccessToken_AdoptsRotatedRefreshToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	state := encryptedState(t, "stale", "original-refresh", now)

	refresher := &refresherStub{response: Response{
		AccessToken:      "fresh",
		ExpiresInSeconds: 600,
		RefreshToken:     "rotated-refresh",
	}}

	resolution, err := ResolveAccessToken(context.Background(), ResolveInput{
		Connection:       state,
		EncryptionSecret: testSecret,
		Now:              now,
	}, refresher)
	if err != nil {
		t.Fatalf("ResolveAccessToken returned error: %v", err)
	}
	if resolution.RefreshToken != "rotated-refresh" {
		t.Fatalf("expected rotated refresh token, got %q", resolution.RefreshToken)
	}
}

func TestResolveAccessToken_PropagatesRefreshFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	state := encryptedState(t, "stale", "refresh", now)

	boom := errors.New("provider rejected the grant")
	refresher := &refresherStub{err: boom}

	_, err := ResolveAccessToken(context.Background(), ResolveInput{
		Connection:       state,
		EncryptionSecret: testSecret,
		Now:              now,
	}, refresher)
	if !errors.Is(err, boom) {
		t.Fatalf("expected refresh failure to propagate unwrapped, got %v", err)
	}
}

func TestResolveAccessToken_WrongSecretIsFatal(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	state := encryptedState(t, "access", "refresh", now.Add(time.Hour))
	refresher := &refresherStub{}

	_, err := ResolveAccessToken(context.Background(), ResolveInput{
		Connection:       state,
		EncryptionSecret: "another-secret",
		Now:              now,
	}, refresher)
	if !secrets.IsDecryptionError(err) {
		t.Fatalf("expected DecryptionError, got %v", err)
	}
	if refresher.calls != 0 {
		t.Fatal("decryption failure must not reach the refresher")
	}
}

func TestCachedResolver_ServesFromCacheUntilExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	state := encryptedState(t, "stale", "refresh", now)

	refresher := &refresherStub{response: Response{AccessToken: "fresh", ExpiresInSeconds: 3600}}
	cache := NewCachedResolver(time.Minute, func() time.Time { return now })

	input := ResolveInput{Connection: state, EncryptionSecret: testSecret, Now: now}

	first, err := cache.Resolve(context.Background(), "conn-1", input, refresher)
	if err != nil {
		t.Fatalf("first Resolve returned error: %v", err)
	}
	if !first.Refreshed {
		t.Fatal("expected the first resolution to refresh")
	}

	second, err := cache.Resolve(context.Background(), "conn-1", input, refresher)
	if err != nil {
		t.Fatalf("second Resolve returned error: %v", err)
	}
	if second.Refreshed {
		t.Fatal("expected the second resolution to come from cache")
	}
	if second.AccessToken != "fresh" {
		t.Fatalf("expected cached access token, got %q", second.AccessToken)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one refresh in total, got %d", refresher.calls)
	}
}

func TestCachedResolver_InvalidateForcesResolution(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	state := encryptedState(t, "stale", "refresh", now)

	refresher := &refresherStub{response: Response{AccessToken: "fresh", ExpiresInSeconds: 3600}}
	cache := NewCachedResolver(time.Minute, func() time.Time { return now })

	input := ResolveInput{Connection: state, EncryptionSecret: testSecret, Now: now}

	if _, err := cache.Resolve(context.Background(), "conn-1", input, refresher); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	cache.Invalidate("conn-1")
	if _, err := cache.Resolve(context.Background(), "conn-1", input, refresher); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if refresher.calls != 2 {
		t.Fatalf("expected invalidation to force a second refresh, got %d calls", refresher.calls)
	}
}
