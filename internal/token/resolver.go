package token

import (
	"context"
	"fmt"
	"time"

	"github.com/example/booking-scheduler/internal/secrets"
)

// ExpirySkew is how close to expiry an access token may get before it is
// treated as already expired and refreshed.
const ExpirySkew = 60 * time.Second

// ConnectionSecretState is the encrypted-at-rest token material stored for
// one calendar connection. Plaintext tokens never touch persistence.
type ConnectionSecretState struct {
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	AccessTokenExpiresAt  time.Time
}

// Response is what a provider returns from a refresh call. RefreshToken is
// empty when the provider chose not to rotate it.
type Response struct {
	AccessToken      string
	ExpiresInSeconds int
	RefreshToken     string
}

// Refresher is the provider-specific refresh capability. One resolution
// algorithm is shared across providers; only this adapter differs.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Response, error)
}

// RefresherFunc adapts a plain function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (Response, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Response, error) {
	return f(ctx, refreshToken)
}

// ResolveInput carries everything a single resolution needs. Now is injected
// so callers control the clock.
type ResolveInput struct {
	Connection       ConnectionSecretState
	EncryptionSecret string
	Now              time.Time
}

// Resolution is the normalized outcome of a token resolution.
type Resolution struct {
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
	Refreshed            bool
}

// ResolveAccessToken decrypts the stored tokens and, when the access token
// is within ExpirySkew of expiring, performs exactly one refresh call.
//
// Decryption failures surface as secrets.DecryptionError and are fatal for
// the attempt. Refresh failures propagate to the caller unwrapped: retrying
// a failed refresh is orchestration policy, not resolution policy. When the
// provider does not rotate the refresh token, the original one is retained.
func ResolveAccessToken(ctx context.Context, in ResolveInput, refresher Refresher) (Resolution, error) {
	accessToken, err := secrets.Decrypt(in.Connection.AccessTokenEncrypted, in.EncryptionSecret)
	if err != nil {
		return Resolution{}, err
	}
	refreshToken, err := secrets.Decrypt(in.Connection.RefreshTokenEncrypted, in.EncryptionSecret)
	if err != nil {
		return Resolution{}, err
	}

	expiresAt := in.Connection.AccessTokenExpiresAt
	if expiresAt.After(in.Now.Add(ExpirySkew)) {
		return Resolution{
			AccessToken:          accessToken,
			RefreshToken:         refreshToken,
			AccessTokenExpiresAt: expiresAt,
			Refreshed:            false,
		}, nil
	}

	if refresher == nil {
		return Resolution{}, fmt.Errorf("token: access token expired and no refresher configured")
	}

	response, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return Resolution{}, err
	}

	rotated := response.RefreshToken
	if rotated == "" {
		rotated = refreshToken
	}

	return Resolution{
		AccessToken:          response.AccessToken,
		RefreshToken:         rotated,
		AccessTokenExpiresAt: in.Now.Add(time.Duration(response.ExpiresInSeconds) * time.Second),
		Refreshed:            true,
	}, nil
}
