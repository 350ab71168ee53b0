// Package hasurabackend stores tokens in a Hasura table through GraphQL.
//
// The table needs a unique constraint over (userId, resource, clientType);
// saves are insert_<table>_one mutations that update in place on conflict.
package hasurabackend

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/hasura"
	"github.com/rush86999/atomagent/tokenstore"
)

const (
	DefaultTable      = "Calendar_Integration"
	DefaultConstraint = "Calendar_Integration_userId_resource_clientType_key"
	DefaultUserIDType = "uuid"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Client executes GraphQL operations. *hasura.Client satisfies it.
type Client interface {
	Do(ctx context.Context, operation, query string, variables map[string]any, out any) error
	Validate() error
}

// Option configures the backend.
type Option func(*Backend)

// WithTable sets the table name.
func WithTable(table string) Option {
	return func(b *Backend) {
		b.table = table
	}
}

// WithConstraint sets the unique constraint used for on_conflict.
func WithConstraint(constraint string) Option {
	return func(b *Backend) {
		b.constraint = constraint
	}
}

// WithUserIDType sets the GraphQL type of the userId column, e.g. "String".
func WithUserIDType(t string) Option {
	return func(b *Backend) {
		b.userIDType = t
	}
}

// Backend implements tokenstore.Backend.
type Backend struct {
	client     Client
	table      string
	constraint string
	userIDType string
}

var _ tokenstore.Backend = (*Backend)(nil)

// New returns a backend that talks to client.
func New(client Client, opts ...Option) *Backend {
	b := &Backend{
		client:     client,
		table:      DefaultTable,
		constraint: DefaultConstraint,
		userIDType: DefaultUserIDType,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Validate checks the client configuration and the names that are
// interpolated into queries.
func (b *Backend) Validate() error {
	if b.client == nil {
		return errors.Mark(tokenstore.ErrConfig, 0).Append("hasura client is nil")
	}
	if err := b.client.Validate(); err != nil {
		return translate(err)
	}
	for _, name := range []string{b.table, b.constraint, b.userIDType} {
		if !identifier.MatchString(name) {
			return errors.Mark(tokenstore.ErrConfig, 0).Append(fmt.Sprintf("invalid graphql identifier %q", name))
		}
	}
	return nil
}

type row struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Resource     string     `json:"resource"`
	ClientType   string     `json:"clientType"`
	Token        string     `json:"token"`
	RefreshToken *string    `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	Scope        *string    `json:"scope"`
	TokenType    *string    `json:"tokenType"`
	AppEmail     *string    `json:"appEmail"`
	Enabled      bool       `json:"enabled"`
	UpdatedAt    *time.Time `json:"updatedAt"`
}

func (r row) stored() *tokenstore.StoredToken {
	st := &tokenstore.StoredToken{
		ID:                 r.ID,
		UserID:             r.UserID,
		Resource:           r.Resource,
		ClientType:         r.ClientType,
		AccessTokenCipher:  r.Token,
		RefreshTokenCipher: r.RefreshToken,
		Scope:              deref(r.Scope),
		TokenType:          deref(r.TokenType),
		AppEmail:           deref(r.AppEmail),
		Enabled:            r.Enabled,
	}
	if r.ExpiresAt != nil {
		st.ExpiresAt = r.ExpiresAt.UTC()
	}
	if r.UpdatedAt != nil {
		st.UpdatedAt = r.UpdatedAt.UTC()
	}
	return st
}

const rowFields = `id userId resource clientType token refreshToken expiresAt scope tokenType appEmail enabled updatedAt`

// Upsert inserts the row or updates the existing row for the same key.
func (b *Backend) Upsert(ctx context.Context, st tokenstore.StoredToken) (tokenstore.SaveResult, error) {
	if err := b.Validate(); err != nil {
		return tokenstore.SaveResult{}, err
	}

	field := "insert_" + b.table + "_one"
	query := fmt.Sprintf(`mutation UpsertToken($object: %[1]s_insert_input!) {
  %[2]s(object: $object, on_conflict: {constraint: %[3]s, update_columns: [token, refreshToken, expiresAt, scope, tokenType, appEmail, enabled, updatedAt]}) {
    id
    userId
  }
}`, b.table, field, b.constraint)

	object := map[string]any{
		"userId":       st.UserID,
		"resource":     st.Resource,
		"clientType":   st.ClientType,
		"token":        st.AccessTokenCipher,
		"refreshToken": st.RefreshTokenCipher,
		"expiresAt":    st.ExpiresAt.UTC().Format(time.RFC3339),
		"scope":        st.Scope,
		"tokenType":    st.TokenType,
		"enabled":      st.Enabled,
		"updatedAt":    st.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if st.AppEmail != "" {
		object["appEmail"] = st.AppEmail
	}

	var out map[string]*struct {
		ID     string `json:"id"`
		UserID string `json:"userId"`
	}
	if err := b.client.Do(ctx, "UpsertToken", query, map[string]any{"object": object}, &out); err != nil {
		return tokenstore.SaveResult{}, translate(err)
	}
	res := out[field]
	if res == nil || res.ID == "" {
		return tokenstore.SaveResult{}, errors.Mark(tokenstore.ErrBackend, 0).Append(field + " returned no row")
	}
	return tokenstore.SaveResult{ID: res.ID, UserID: res.UserID}, nil
}

// Fetch returns the row for key, or nil when there is none.
func (b *Backend) Fetch(ctx context.Context, key tokenstore.Key) (*tokenstore.StoredToken, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`query GetToken($userId: %[1]s!, $resource: String!, $clientType: String!) {
  %[2]s(where: {userId: {_eq: $userId}, resource: {_eq: $resource}, clientType: {_eq: $clientType}}, limit: 1) {
    %[3]s
  }
}`, b.userIDType, b.table, rowFields)

	var out map[string][]row
	if err := b.client.Do(ctx, "GetToken", query, keyVariables(key), &out); err != nil {
		return nil, translate(err)
	}
	rows, ok := out[b.table]
	if !ok {
		return nil, errors.Mark(tokenstore.ErrBackend, 0).Append(b.table + " missing from response")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].stored(), nil
}

// Delete removes the row for key.
func (b *Backend) Delete(ctx context.Context, key tokenstore.Key) (tokenstore.DeleteResult, error) {
	if err := b.Validate(); err != nil {
		return tokenstore.DeleteResult{}, err
	}

	field := "delete_" + b.table
	query := fmt.Sprintf(`mutation DeleteToken($userId: %[1]s!, $resource: String!, $clientType: String!) {
  %[2]s(where: {userId: {_eq: $userId}, resource: {_eq: $resource}, clientType: {_eq: $clientType}}) {
    affected_rows
  }
}`, b.userIDType, field)

	var out map[string]*struct {
		AffectedRows *int `json:"affected_rows"`
	}
	if err := b.client.Do(ctx, "DeleteToken", query, keyVariables(key), &out); err != nil {
		return tokenstore.DeleteResult{}, translate(err)
	}
	res := out[field]
	if res == nil || res.AffectedRows == nil {
		return tokenstore.DeleteResult{}, errors.Mark(tokenstore.ErrBackend, 0).Append(field + " returned no affected_rows")
	}
	return tokenstore.DeleteResult{AffectedRows: *res.AffectedRows}, nil
}

func keyVariables(key tokenstore.Key) map[string]any {
	return map[string]any{
		"userId":     key.UserID,
		"resource":   key.Resource,
		"clientType": key.ClientType,
	}
}

// translate maps hasura client errors onto store error kinds.
func translate(err error) error {
	switch {
	case errors.Is(err, hasura.ErrNotConfigured):
		return errors.Mark(tokenstore.ErrConfig, 1).Append(err.Error())
	case errors.Is(err, hasura.ErrTransport):
		return errors.Mark(tokenstore.ErrNetwork, 1).Append(err.Error())
	default:
		return errors.Mark(tokenstore.ErrBackend, 1).Append(err.Error())
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
