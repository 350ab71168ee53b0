package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rush86999/atomagent/errors"
	"google.golang.org/grpc/codes"
)

const maxErrorBody = 4 << 10

// HTTPError is a non-2xx answer from a provider REST API. errors.HTTPStatusCode
// reports its status, which is how callers spot a 401.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("providers: api responded %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

// GetJSON issues a GET with client and decodes a JSON body into out.
func GetJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.WrapPrefix(err, "providers: request failed", 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.Wrap(&HTTPError{StatusCode: resp.StatusCode, Body: string(body)}, 0).
			WithCode(statusCode(resp.StatusCode)).
			WithHTTPStatusCode(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapPrefix(err, "providers: decoding response", 0)
	}
	return nil
}

func statusCode(status int) codes.Code {
	switch status {
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Unavailable
	}
}
