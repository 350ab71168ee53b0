// Package refresher runs provider API calls with a stored access token and
// recovers from an expired one.
//
// A call is attempted with the stored token. On a 401 the refresh token is
// exchanged for a new access token, which is saved before the call is retried
// exactly once. A token already past its expiry is refreshed before the first
// attempt, and that refresh is the only one the call gets. Concurrent
// refreshes for the same user and integration share one grant.
package refresher

import (
	"context"
	"net/http"
	"time"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/tokenstore"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

const (
	// DefaultExpirySkew treats tokens this close to expiry as expired.
	DefaultExpirySkew = 60 * time.Second

	// Used when a refresh response carries no expires_in.
	defaultLifetime = time.Hour

	// Bounds a shared refresh, which outlives the caller that started it.
	refreshTimeout = 30 * time.Second
)

// ErrUnauthorized lets API wrappers report a rejected token when the
// provider client does not expose an HTTP status.
var ErrUnauthorized = errors.NewC("refresher: access token rejected", codes.Unauthenticated)

// Store is the subset of tokenstore.Store the refresher uses.
type Store interface {
	Get(ctx context.Context, userID string) *tokenstore.TokenSet
	Save(ctx context.Context, userID string, ts tokenstore.TokenSet) (tokenstore.SaveResult, error)
	Delete(ctx context.Context, userID string) (tokenstore.DeleteResult, error)
	Key(userID string) tokenstore.Key
}

// Grant runs the refresh grant. *providers.Provider implements it.
type Grant interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithEventBus publishes token.refreshed and token.revoked.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(r *Refresher) {
		r.bus = bus
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		r.now = now
	}
}

// WithExpirySkew overrides DefaultExpirySkew.
func WithExpirySkew(skew time.Duration) Option {
	return func(r *Refresher) {
		r.skew = skew
	}
}

// WithInvalidGrant overrides how a dead refresh token is recognized. The
// default is providers.IsInvalidGrant.
func WithInvalidGrant(fn func(error) bool) Option {
	return func(r *Refresher) {
		r.isInvalidGrant = fn
	}
}

// Refresher serves one integration.
type Refresher struct {
	store          Store
	grant          Grant
	bus            eventbus.EventBus
	now            func() time.Time
	skew           time.Duration
	isInvalidGrant func(error) bool

	group singleflight.Group
}

// New returns a refresher that reads and writes tokens in store and refreshes
// them with grant.
func New(store Store, grant Grant, opts ...Option) *Refresher {
	r := &Refresher{
		store:          store,
		grant:          grant,
		now:            time.Now,
		skew:           DefaultExpirySkew,
		isInvalidGrant: providers.IsInvalidGrant,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Token returns a usable token for userID, refreshing it first when it has
// expired.
func (r *Refresher) Token(ctx context.Context, userID string) (*tokenstore.TokenSet, *Failure) {
	ts := r.store.Get(ctx, userID)
	if ts == nil {
		return nil, authRequired(nil)
	}
	if ts.IsExpired(r.now(), r.skew) && ts.HasRefreshToken() {
		logging.Infow(ctx, "refresher: token expired, refreshing before use", "user_id", userID)
		return r.refresh(ctx, userID, ts)
	}
	return ts, nil
}

// Call runs fn with the user's access token, refreshing and retrying once when
// the provider rejects it. Call never returns an error. Failures are reported
// in the Result.
func Call[T any](ctx context.Context, r *Refresher, userID string, fn func(ctx context.Context, accessToken string) (T, error)) Result[T] {
	ts := r.store.Get(ctx, userID)
	if ts == nil {
		return failed[T](authRequired(nil))
	}

	refreshed := false
	if ts.IsExpired(r.now(), r.skew) && ts.HasRefreshToken() {
		logging.Infow(ctx, "refresher: token expired, refreshing before use", "user_id", userID)
		next, f := r.refresh(ctx, userID, ts)
		if f != nil {
			return failed[T](f)
		}
		ts, refreshed = next, true
	}

	v, err := fn(ctx, ts.AccessToken)
	if err == nil {
		return success(v)
	}
	if !IsUnauthorized(err) {
		return failed[T](providerError(err))
	}
	if refreshed {
		logging.Warnw(ctx, "refresher: fresh token rejected, not refreshing again", "user_id", userID)
		return failed[T](authRequired(err))
	}
	if !ts.HasRefreshToken() {
		logging.Infow(ctx, "refresher: token rejected and no refresh token stored", "user_id", userID)
		return failed[T](authRequired(err))
	}

	logging.Infow(ctx, "refresher: token rejected, refreshing", "user_id", userID)
	next, f := r.refresh(ctx, userID, ts)
	if f != nil {
		return failed[T](f)
	}

	v, err = fn(ctx, next.AccessToken)
	if err == nil {
		return success(v)
	}
	if IsUnauthorized(err) {
		return failed[T](authRequired(err))
	}
	return failed[T](providerError(err))
}

type refreshOutcome struct {
	ts      *tokenstore.TokenSet
	failure *Failure
}

// refresh exchanges ts's refresh token. Callers refreshing the same user at
// the same time wait for a single grant, which is not canceled with the
// context of the caller that started it.
func (r *Refresher) refresh(ctx context.Context, userID string, ts *tokenstore.TokenSet) (*tokenstore.TokenSet, *Failure) {
	key := r.store.Key(userID)
	v, _, _ := r.group.Do(key.UserID+"\x00"+key.Resource+"\x00"+key.ClientType, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return r.doRefresh(shared, userID, ts), nil
	})
	out := v.(refreshOutcome)
	return out.ts, out.failure
}

func (r *Refresher) doRefresh(ctx context.Context, userID string, ts *tokenstore.TokenSet) refreshOutcome {
	key := r.store.Key(userID)

	// Another caller may have finished a refresh after ts was read.
	current := r.store.Get(ctx, userID)
	if current == nil {
		return refreshOutcome{failure: authRequired(nil)}
	}
	if current.AccessToken != ts.AccessToken && !current.IsExpired(r.now(), r.skew) {
		logging.Debugw(ctx, "refresher: using token refreshed by another caller", "user_id", userID)
		return refreshOutcome{ts: current}
	}

	tok, err := r.grant.Refresh(ctx, ts.RefreshToken)
	if err != nil {
		if r.isInvalidGrant(err) {
			logging.Warnw(ctx, "refresher: refresh token revoked, deleting stored token",
				"user_id", userID, "resource", key.Resource)
			if _, derr := r.store.Delete(ctx, userID); derr != nil {
				logging.Errorw(ctx, "refresher: failed to delete revoked token", "error", derr, "user_id", userID)
			}
			eventbus.Publish(r.bus, eventbus.TopicTokenRevoked, eventbus.TokenEvent(key))
			return refreshOutcome{failure: authRequired(err)}
		}
		if errors.Is(err, providers.ErrNotConfigured) {
			return refreshOutcome{failure: &Failure{Code: CodeConfigError, Message: "Integration is not configured.", Err: err}}
		}
		logging.Errorw(ctx, "refresher: refresh failed", "error", err, "user_id", userID, "resource", key.Resource)
		return refreshOutcome{failure: &Failure{Code: CodeRefreshFailed, Message: "Could not refresh access, please try again.", Err: err}}
	}

	next := tokenstore.FromOAuth2(tok)
	if next.RefreshToken == "" {
		next.RefreshToken = ts.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = ts.Scope
	}
	if next.TokenType == "" {
		next.TokenType = ts.TokenType
	}
	if next.ExpiresAt.IsZero() {
		next.ExpiresAt = r.now().Add(defaultLifetime).UTC()
	}
	next.AppEmail = ts.AppEmail

	// The retry goes ahead with the new token even if it could not be stored.
	if _, err := r.store.Save(ctx, userID, next); err != nil {
		logging.Errorw(ctx, "refresher: failed to save refreshed token", "error", err, "user_id", userID)
	}
	eventbus.Publish(r.bus, eventbus.TopicTokenRefreshed, eventbus.TokenEvent(key))
	return refreshOutcome{ts: &next}
}

// IsUnauthorized reports whether err is a provider rejecting the access
// token.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusUnauthorized
	}
	return errors.HTTPStatusCode(err) == http.StatusUnauthorized
}

func authRequired(err error) *Failure {
	return &Failure{
		Code:    CodeAuthRequired,
		Message: errors.PublicMessage(tokenstore.ErrAuthRequired),
		Err:     err,
	}
}

func providerError(err error) *Failure {
	return &Failure{Code: CodeProviderError, Message: err.Error(), Err: err}
}
