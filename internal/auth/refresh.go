package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"billfold-backend/internal/shared/metrics"
	"billfold-backend/internal/shared/telemetry"
)

// ErrReauthRequired means the stored credential cannot be renewed and the
// user has to run the login flow again.
var ErrReauthRequired = errors.New("re-authentication required")

// Credential is an access credential for the hosting service. Invalid marks
// a credential whose renewal failed; it is a tagged state rather than an
// error so callers can tell "re-authenticate" apart from a request-local
// failure.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Invalid      bool
}

// FreshFor reports whether the access token is still valid beyond margin.
func (c Credential) FreshFor(margin time.Duration) bool {
	if c.Invalid || c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || time.Until(c.Expiry) > margin
}

// RefreshFunc performs the network renewal against the identity provider.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

const refreshMargin = 60 * time.Second

// RefreshCoordinator deduplicates concurrent credential renewals so that at
// most one refresh call per identity is in flight; late callers join it and
// observe the same result.
type RefreshCoordinator struct {
	refresh RefreshFunc
	margin  time.Duration
	group   singleflight.Group
}

// NewRefreshCoordinator builds a coordinator around the given renewal call.
func NewRefreshCoordinator(refresh RefreshFunc) *RefreshCoordinator {
	return &RefreshCoordinator{refresh: refresh, margin: refreshMargin}
}

// EnsureFresh returns cred unchanged while it is valid beyond the safety
// margin, otherwise renews it. A renewal failure comes back as a Credential
// with Invalid set and a nil error.
func (r *RefreshCoordinator) EnsureFresh(ctx context.Context, identity string, cred Credential) (Credential, error) {
	if cred.Invalid {
		return cred, nil
	}
	if cred.FreshFor(r.margin) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return Credential{Invalid: true}, nil
	}

	// singleflight drops the key once the shared call completes, so the next
	// expiry starts a new renewal.
	v, err, _ := r.group.Do(identity, func() (any, error) {
		metrics.IncTokenRefresh()
		renewed, err := r.refresh(ctx, cred.RefreshToken)
		if err != nil {
			metrics.IncTokenRefreshFailed()
			telemetry.Warn("token.refresh.failed", map[string]any{
				"identity": identity,
				"err":      err.Error(),
			})
			return Credential{RefreshToken: cred.RefreshToken, Invalid: true}, nil
		}
		if renewed.RefreshToken == "" {
			renewed.RefreshToken = cred.RefreshToken
		}
		return renewed, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// GoogleRefreshFunc renews an access token through the provider's token
// endpoint using the oauth2 machinery.
func GoogleRefreshFunc(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (Credential, error) {
		source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := source.Token()
		if err != nil {
			return Credential{}, err
		}
		return Credential{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		}, nil
	}
}

// CredentialCache holds the latest known credential per identity, seeded at
// login and updated after every renewal.
type CredentialCache struct {
	mu    sync.Mutex
	creds map[string]Credential
}

// NewCredentialCache creates an empty cache.
func NewCredentialCache() *CredentialCache {
	return &CredentialCache{creds: make(map[string]Credential)}
}

// Put stores the credential for an identity.
func (c *CredentialCache) Put(identity string, cred Credential) {
	c.mu.Lock()
	c.creds[identity] = cred
	c.mu.Unlock()
}

// Get returns the credential for an identity, if one is known.
func (c *CredentialCache) Get(identity string) (Credential, bool) {
	c.mu.Lock()
	cred, ok := c.creds[identity]
	c.mu.Unlock()
	return cred, ok
}
