// Package hasura is a small GraphQL-over-HTTP client for a Hasura backend.
package hasura

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/logging"
	"google.golang.org/grpc/codes"
)

// AdminSecretHeader carries the admin secret on every request.
const AdminSecretHeader = "X-Hasura-Admin-Secret"

var (
	// ErrNotConfigured is returned before any request when the URL or secret
	// is missing.
	ErrNotConfigured = errors.NewC("hasura: endpoint or admin secret not configured", codes.FailedPrecondition)

	// ErrGraphQL is returned when the response lists errors. The message
	// aggregates every reported error.
	ErrGraphQL = errors.NewC("hasura: request returned errors", codes.Internal)

	// ErrTransport is returned when the backend could not be reached or did
	// not answer with a GraphQL response.
	ErrTransport = errors.NewC("hasura: transport failure", codes.Unavailable)
)

// Options configure a Client.
type Options struct {
	URL         string
	AdminSecret string
	Timeout     time.Duration

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client posts GraphQL operations to a single endpoint.
type Client struct {
	url         string
	adminSecret string
	http        *http.Client
}

// New returns a client. It never fails, an unconfigured client returns
// ErrNotConfigured from Do.
func New(o Options) *Client {
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	return &Client{url: o.URL, adminSecret: o.AdminSecret, http: hc}
}

// Configured reports whether both the URL and admin secret are present.
func (c *Client) Configured() bool {
	return c.url != "" && c.adminSecret != ""
}

// Validate returns ErrNotConfigured when Configured is false.
func (c *Client) Validate() error {
	if !c.Configured() {
		return errors.Mark(ErrNotConfigured, 0)
	}
	return nil
}

type request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// GraphQLError is one entry of a response's errors array.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
		Path string `json:"path"`
	} `json:"extensions"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Do executes operation with variables and decodes the data member into out.
// out may be nil when the caller only cares about success.
func (c *Client) Do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	if err := c.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(request{Query: query, Variables: variables, OperationName: operation})
	if err != nil {
		return errors.WrapPrefix(err, "hasura: encoding request", 0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Mark(ErrTransport, 0).Append(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AdminSecretHeader, c.adminSecret)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Mark(ErrTransport, 0).Append(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Mark(ErrTransport, 0).Append(err.Error())
	}
	logging.Debugw(ctx, "hasura: request finished",
		"operation", operation, "status", resp.StatusCode, "duration", time.Since(start).String())

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return errors.Mark(ErrTransport, 0).Append(fmt.Sprintf("status %d, undecodable body", resp.StatusCode))
	}
	if len(r.Errors) > 0 {
		return errors.Mark(ErrGraphQL, 0).Append(joinMessages(r.Errors))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Mark(ErrTransport, 0).Append(fmt.Sprintf("status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return errors.Mark(ErrGraphQL, 0).Append("response has no data")
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return errors.Mark(ErrGraphQL, 0).Append("unexpected data shape: " + err.Error())
	}
	return nil
}

func joinMessages(errs []GraphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
