package refresher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/eventbus/membus"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/refresher"
	"github.com/rush86999/atomagent/storage/memstore"
	"github.com/rush86999/atomagent/tokencipher"
	"github.com/rush86999/atomagent/tokenstore"
	"github.com/rush86999/atomagent/tokenstore/localbackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func testContext(t *testing.T) context.Context {
	return logging.With(t.Context(), logging.NewNopLogger())
}

func newStore() *tokenstore.Store {
	cipher := tokencipher.New(tokencipher.Options{Key: "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="})
	return tokenstore.New(localbackend.New(memstore.New()), cipher, providers.ResourceGmail, tokenstore.WithClock(clock))
}

func seed(t *testing.T, ctx context.Context, s *tokenstore.Store, access, refresh string, expiresAt time.Time) {
	t.Helper()
	_, err := s.Save(ctx, "user-1", tokenstore.TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		Scope:        "mail.read",
		TokenType:    "Bearer",
		AppEmail:     "someone@example.com",
	})
	require.NoError(t, err)
}

type fakeGrant struct {
	mu      sync.Mutex
	seen    []string
	token   *oauth2.Token
	err     error
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *fakeGrant) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	g.mu.Lock()
	g.seen = append(g.seen, refreshToken)
	g.mu.Unlock()
	if g.started != nil {
		g.once.Do(func() { close(g.started) })
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.token, nil
}

func (g *fakeGrant) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func newGrant() *fakeGrant {
	return &fakeGrant{token: &oauth2.Token{
		AccessToken: "new-access",
		TokenType:   "Bearer",
		Expiry:      now.Add(time.Hour),
	}}
}

func unauthorized() error {
	return errors.Wrap(&providers.HTTPError{StatusCode: http.StatusUnauthorized}, 0).
		WithHTTPStatusCode(http.StatusUnauthorized)
}

// api accepts only the valid token and records what it was called with.
type api struct {
	mu    sync.Mutex
	valid string
	seen  []string
}

func (a *api) call(ctx context.Context, accessToken string) (string, error) {
	a.mu.Lock()
	a.seen = append(a.seen, accessToken)
	a.mu.Unlock()
	if accessToken != a.valid {
		return "", unauthorized()
	}
	return "events", nil
}

func TestCallWithValidToken(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "good", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "good"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.True(t, res.OK, "%v", res.Err())
	assert.Equal(t, "events", res.Value)
	assert.Nil(t, res.Failure)
	assert.Zero(t, grant.calls())
}

func TestCallWithoutToken(t *testing.T) {
	ctx := testContext(t)
	a := &api{valid: "good"}
	res := refresher.Call(ctx, refresher.New(newStore(), newGrant()), "user-1", a.call)

	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeAuthRequired, res.Failure.Code)
	assert.Equal(t, "Please reconnect your account.", res.Failure.Message)
	assert.Empty(t, a.seen)
}

func TestRefreshAndRetry(t *testing.T) {
	ctx := testContext(t)
	bus := membus.New(ctx)
	refreshed := make(chan eventbus.TokenEvent, 1)
	bus.Subscribe(eventbus.TopicTokenRefreshed, func(ctx context.Context, msg *eventbus.Message) error {
		refreshed <- msg.Data.(eventbus.TokenEvent)
		return nil
	})

	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock), refresher.WithEventBus(bus))

	a := &api{valid: "new-access"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.True(t, res.OK, "%v", res.Err())
	assert.Equal(t, []string{"old", "new-access"}, a.seen)
	assert.Equal(t, []string{"refresh-1"}, grant.seen)

	stored := store.Get(ctx, "user-1")
	require.NotNil(t, stored)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken, "refresh token is kept when none is returned")
	assert.Equal(t, "someone@example.com", stored.AppEmail)
	assert.Equal(t, "mail.read", stored.Scope)
	assert.True(t, stored.ExpiresAt.Equal(now.Add(time.Hour)))

	require.NoError(t, bus.Wait(ctx))
	select {
	case ev := <-refreshed:
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, providers.ResourceGmail, ev.Resource)
	default:
		t.Fatal("token.refreshed was not published")
	}
}

func TestRefreshStoresRotatedRefreshToken(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	grant.token.RefreshToken = "refresh-2"
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "new-access"}
	require.True(t, refresher.Call(ctx, r, "user-1", a.call).OK)
	assert.Equal(t, "refresh-2", store.Get(ctx, "user-1").RefreshToken)
}

func TestRefreshWithoutExpiryGetsDefaultLifetime(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := &fakeGrant{token: &oauth2.Token{AccessToken: "new-access"}}
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "new-access"}
	require.True(t, refresher.Call(ctx, r, "user-1", a.call).OK)
	stored := store.Get(ctx, "user-1")
	require.NotNil(t, stored)
	assert.True(t, stored.ExpiresAt.After(now))
	assert.Equal(t, "Bearer", stored.TokenType)
}

func TestRetryHappensOnce(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "never"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeAuthRequired, res.Failure.Code)
	assert.Equal(t, 1, grant.calls())
	assert.Equal(t, []string{"old", "new-access"}, a.seen)
}

func TestUnauthorizedWithoutRefreshToken(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "", now.Add(time.Hour))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "new-access"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeAuthRequired, res.Failure.Code)
	assert.Zero(t, grant.calls())
	assert.NotNil(t, store.Get(ctx, "user-1"), "token is not deleted without a refresh attempt")
}

func TestInvalidGrantDeletesToken(t *testing.T) {
	ctx := testContext(t)
	bus := membus.New(ctx)
	revoked := make(chan eventbus.TokenEvent, 1)
	bus.Subscribe(eventbus.TopicTokenRevoked, func(ctx context.Context, msg *eventbus.Message) error {
		revoked <- msg.Data.(eventbus.TokenEvent)
		return nil
	})

	store := newStore()
	seed(t, ctx, store, "old", "dead", now.Add(time.Hour))
	grant := &fakeGrant{err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}}
	r := refresher.New(store, grant, refresher.WithClock(clock), refresher.WithEventBus(bus))

	a := &api{valid: "new-access"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeAuthRequired, res.Failure.Code)
	assert.Nil(t, store.Get(ctx, "user-1"))
	assert.Equal(t, []string{"old"}, a.seen)

	require.NoError(t, bus.Wait(ctx))
	select {
	case ev := <-revoked:
		assert.Equal(t, "user-1", ev.UserID)
	default:
		t.Fatal("token.revoked was not published")
	}
}

func TestInvalidGrantFromTokenEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	}))
	defer srv.Close()

	p := providers.Gmail(providers.Credentials{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost/cb"})
	p.OAuth2.Endpoint = oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}

	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "dead", now.Add(time.Hour))
	r := refresher.New(store, p, refresher.WithClock(clock))

	a := &api{valid: "new-access"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeAuthRequired, res.Failure.Code)
	assert.Nil(t, store.Get(ctx, "user-1"))
}

func TestRefreshFailureKeepsToken(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := &fakeGrant{err: errors.Mark(providers.ErrRefresh, 0).Append("connection reset")}
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "new-access"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeRefreshFailed, res.Failure.Code)
	assert.ErrorIs(t, res.Err(), providers.ErrRefresh)

	stored := store.Get(ctx, "user-1")
	require.NotNil(t, stored)
	assert.Equal(t, "old", stored.AccessToken)
}

func TestRefreshNotConfigured(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	r := refresher.New(store, providers.Gmail(providers.Credentials{}), refresher.WithClock(clock))

	a := &api{valid: "new-access"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeConfigError, res.Failure.Code)
}

func TestProviderErrorIsNotRefreshed(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	res := refresher.Call(ctx, r, "user-1", func(ctx context.Context, accessToken string) (string, error) {
		return "", &googleapi.Error{Code: http.StatusForbidden, Message: "insufficient permissions"}
	})
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeProviderError, res.Failure.Code)
	assert.Contains(t, res.Failure.Message, "insufficient permissions")
	assert.Zero(t, grant.calls())
}

func TestExpiredTokenIsRefreshedFirst(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(30*time.Second))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "new-access"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.True(t, res.OK, "%v", res.Err())
	assert.Equal(t, []string{"new-access"}, a.seen)
	assert.Equal(t, 1, grant.calls())
}

func TestExpiredTokenRefreshCountsAsTheOnlyRefresh(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(-time.Minute))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	a := &api{valid: "never"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	require.False(t, res.OK)
	assert.Equal(t, refresher.CodeAuthRequired, res.Failure.Code)
	assert.Equal(t, 1, grant.calls())
	assert.Equal(t, []string{"new-access"}, a.seen)
}

func TestExpiredTokenWithoutRefreshTokenIsStillTried(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "", now.Add(-time.Minute))
	r := refresher.New(store, newGrant(), refresher.WithClock(clock))

	a := &api{valid: "old"}
	res := refresher.Call(ctx, r, "user-1", a.call)
	assert.True(t, res.OK)
}

func TestUsesTokenRefreshedByAnotherCaller(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	var seen []string
	res := refresher.Call(ctx, r, "user-1", func(ctx context.Context, accessToken string) (string, error) {
		seen = append(seen, accessToken)
		if accessToken == "old" {
			seed(t, ctx, store, "other-access", "refresh-1", now.Add(time.Hour))
			return "", unauthorized()
		}
		return "ok", nil
	})
	require.True(t, res.OK, "%v", res.Err())
	assert.Equal(t, []string{"old", "other-access"}, seen)
	assert.Zero(t, grant.calls())
}

func TestConcurrentCallsShareOneRefresh(t *testing.T) {
	const callers = 8

	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	grant.release = make(chan struct{})
	r := refresher.New(store, grant, refresher.WithClock(clock))

	var rejected sync.WaitGroup
	rejected.Add(callers)
	call := func(ctx context.Context, accessToken string) (string, error) {
		if accessToken == "old" {
			rejected.Done()
			return "", unauthorized()
		}
		return "ok", nil
	}

	results := make(chan refresher.Result[string], callers)
	for range callers {
		go func() {
			results <- refresher.Call(ctx, r, "user-1", call)
		}()
	}

	rejected.Wait()
	close(grant.release)

	for range callers {
		res := <-results
		assert.True(t, res.OK, "%v", res.Err())
	}
	assert.Equal(t, 1, grant.calls())
}

func TestRefreshOutlivesCanceledCaller(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	seed(t, ctx, store, "old", "refresh-1", now.Add(time.Hour))
	grant := newGrant()
	grant.release = make(chan struct{})
	grant.started = make(chan struct{})
	r := refresher.New(store, grant, refresher.WithClock(clock))

	call := func(ctx context.Context, accessToken string) (string, error) {
		if accessToken == "old" {
			return "", unauthorized()
		}
		return "ok", nil
	}

	leaderCtx, cancel := context.WithCancel(ctx)
	leader := make(chan refresher.Result[string], 1)
	go func() {
		leader <- refresher.Call(leaderCtx, r, "user-1", call)
	}()
	<-grant.started

	follower := make(chan refresher.Result[string], 1)
	go func() {
		follower <- refresher.Call(ctx, r, "user-1", call)
	}()

	cancel()
	close(grant.release)

	res := <-follower
	assert.True(t, res.OK, "%v", res.Err())
	res = <-leader
	assert.True(t, res.OK, "%v", res.Err())

	stored := store.Get(ctx, "user-1")
	require.NotNil(t, stored)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, 1, grant.calls())
}

func TestToken(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	grant := newGrant()
	r := refresher.New(store, grant, refresher.WithClock(clock))

	_, f := r.Token(ctx, "user-1")
	require.NotNil(t, f)
	assert.Equal(t, refresher.CodeAuthRequired, f.Code)

	seed(t, ctx, store, "old", "refresh-1", now.Add(-time.Minute))
	ts, f := r.Token(ctx, "user-1")
	require.Nil(t, f)
	assert.Equal(t, "new-access", ts.AccessToken)
	assert.Equal(t, 1, grant.calls())
}

func TestIsUnauthorized(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"sentinel", errors.Mark(refresher.ErrUnauthorized, 0), true},
		{"googleapi 401", &googleapi.Error{Code: http.StatusUnauthorized}, true},
		{"googleapi 403", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"wrapped googleapi", errors.Wrap(&googleapi.Error{Code: http.StatusUnauthorized}, 0), true},
		{"rest 401", unauthorized(), true},
		{"rest 500", errors.Wrap(&providers.HTTPError{StatusCode: 500}, 0).WithHTTPStatusCode(500), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, refresher.IsUnauthorized(tt.err))
		})
	}
}
