// Package skills calls provider APIs on a user's behalf. Every call goes
// through a refresher, so an expired access token is refreshed and the call
// retried once before a failure is reported.
package skills

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/refresher"
)

// DefaultLimit bounds list calls when the caller passes zero.
const DefaultLimit = 10

type skill struct {
	refresher *refresher.Refresher
	provider  *providers.Provider
}

// run calls fn with an HTTP client that carries the user's access token.
func run[T any](ctx context.Context, s skill, userID, op string, fn func(ctx context.Context, client *http.Client) (T, error)) refresher.Result[T] {
	res := refresher.Call(ctx, s.refresher, userID, func(ctx context.Context, accessToken string) (T, error) {
		return fn(ctx, s.provider.Client(ctx, accessToken))
	})
	if !res.OK {
		logging.Warnw(ctx, "skills: call failed",
			"op", op, "provider", s.provider.Name, "user_id", userID, "code", res.Failure.Code, "error", res.Failure.Err)
	}
	return res
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func endpoint(base, path string, q url.Values) string {
	if len(q) == 0 {
		return base + path
	}
	return base + path + "?" + q.Encode()
}
