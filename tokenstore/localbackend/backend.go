// Package localbackend stores tokens in a storage.Store, for development and
// single node deployments that do not run Hasura.
package localbackend

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/storage"
	"github.com/rush86999/atomagent/tokenstore"
)

type record struct {
	Key          string    `json:"key"`
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Resource     string    `json:"resource"`
	ClientType   string    `json:"clientType"`
	Token        string    `json:"token"`
	RefreshToken *string   `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	AppEmail     string    `json:"appEmail,omitempty"`
	Enabled      bool      `json:"enabled"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (r record) PK() string { return r.Key }

func (record) Name() string { return "stored_tokens" }

// Backend implements tokenstore.Backend over a storage.Store.
type Backend struct {
	store storage.Store

	// Serializes read-modify-write in Upsert so the row id is stable.
	mu sync.Mutex
}

var _ tokenstore.Backend = (*Backend)(nil)

// New returns a backend writing to store.
func New(store storage.Store) *Backend {
	return &Backend{store: store}
}

// Validate reports a missing store.
func (b *Backend) Validate() error {
	if b.store == nil {
		return errors.Mark(tokenstore.ErrConfig, 0).Append("local backend has no store")
	}
	return nil
}

// Close closes the underlying store.
func (b *Backend) Close() error {
	return b.store.Close()
}

// Upsert writes st, keeping the id of an existing row with the same key.
func (b *Backend) Upsert(ctx context.Context, st tokenstore.StoredToken) (tokenstore.SaveResult, error) {
	key := st.Key()
	pk := primaryKey(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	var existing record
	switch err := b.store.Read(ctx, pk, &existing); {
	case err == nil:
		id = existing.ID
	case !errors.Is(err, storage.ErrNotFound):
		return tokenstore.SaveResult{}, errors.Mark(tokenstore.ErrBackend, 0).Append(err.Error())
	}

	r := record{
		Key:          pk,
		ID:           id,
		UserID:       st.UserID,
		Resource:     st.Resource,
		ClientType:   st.ClientType,
		Token:        st.AccessTokenCipher,
		RefreshToken: st.RefreshTokenCipher,
		ExpiresAt:    st.ExpiresAt.UTC(),
		Scope:        st.Scope,
		TokenType:    st.TokenType,
		AppEmail:     st.AppEmail,
		Enabled:      st.Enabled,
		UpdatedAt:    st.UpdatedAt.UTC(),
	}
	if err := b.store.Upsert(ctx, r); err != nil {
		return tokenstore.SaveResult{}, errors.Mark(tokenstore.ErrBackend, 0).Append(err.Error())
	}
	return tokenstore.SaveResult{ID: id, UserID: st.UserID}, nil
}

// Fetch returns the row for key, or nil when there is none.
func (b *Backend) Fetch(ctx context.Context, key tokenstore.Key) (*tokenstore.StoredToken, error) {
	var r record
	if err := b.store.Read(ctx, primaryKey(key), &r); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Mark(tokenstore.ErrBackend, 0).Append(err.Error())
	}
	return &tokenstore.StoredToken{
		ID:                 r.ID,
		UserID:             r.UserID,
		Resource:           r.Resource,
		ClientType:         r.ClientType,
		AccessTokenCipher:  r.Token,
		RefreshTokenCipher: r.RefreshToken,
		ExpiresAt:          r.ExpiresAt,
		Scope:              r.Scope,
		TokenType:          r.TokenType,
		AppEmail:           r.AppEmail,
		Enabled:            r.Enabled,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}

// Delete removes the row for key.
func (b *Backend) Delete(ctx context.Context, key tokenstore.Key) (tokenstore.DeleteResult, error) {
	err := b.store.Delete(ctx, record{Key: primaryKey(key)})
	switch {
	case err == nil:
		return tokenstore.DeleteResult{AffectedRows: 1}, nil
	case errors.Is(err, storage.ErrNotFound):
		return tokenstore.DeleteResult{AffectedRows: 0}, nil
	default:
		return tokenstore.DeleteResult{}, errors.Mark(tokenstore.ErrBackend, 0).Append(err.Error())
	}
}

func primaryKey(key tokenstore.Key) string {
	return strings.Join([]string{
		url.QueryEscape(key.UserID),
		url.QueryEscape(key.Resource),
		url.QueryEscape(key.ClientType),
	}, ":")
}
