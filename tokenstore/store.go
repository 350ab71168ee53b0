// Package tokenstore persists OAuth tokens per (user, resource, clientType).
//
// Tokens are encrypted with a tokencipher.Cipher before they are handed to a
// Backend and decrypted after they are read. Save and Delete return errors so
// callers notice failed writes. Get never does: any failure reads as "no
// token" and is logged.
package tokenstore

import (
	"context"
	"time"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/tokencipher"
)

// DefaultClientType is used when no client type is configured.
const DefaultClientType = "atom_agent"

// Backend persists encrypted rows. Implementations upsert on Key and must
// return nil, nil from Fetch when no row exists. Errors should be marked with
// ErrConfig, ErrBackend or ErrNetwork.
type Backend interface {
	Upsert(ctx context.Context, row StoredToken) (SaveResult, error)
	Fetch(ctx context.Context, key Key) (*StoredToken, error)
	Delete(ctx context.Context, key Key) (DeleteResult, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClientType overrides DefaultClientType.
func WithClientType(clientType string) Option {
	return func(s *Store) {
		s.clientType = clientType
	}
}

// WithEventBus publishes eventbus.TopicTokenSaved after every save.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store reads and writes the tokens of one integration.
type Store struct {
	backend    Backend
	cipher     tokencipher.Cipher
	resource   string
	clientType string
	bus        eventbus.EventBus
	now        func() time.Time
}

// New returns a store for resource.
func New(backend Backend, cipher tokencipher.Cipher, resource string, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		cipher:     cipher,
		resource:   resource,
		clientType: DefaultClientType,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resource returns the integration discriminator this store writes.
func (s *Store) Resource() string { return s.resource }

// ClientType returns the consuming application discriminator.
func (s *Store) ClientType() string { return s.clientType }

// Key returns the row key for userID.
func (s *Store) Key(userID string) Key {
	return Key{UserID: userID, Resource: s.resource, ClientType: s.clientType}
}

// Validate reports missing configuration without touching the network.
func (s *Store) Validate() error {
	if s.backend == nil || s.cipher == nil {
		return errors.Mark(ErrConfig, 0).Append("store is missing a backend or cipher")
	}
	if v, ok := s.backend.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return errors.Mark(ErrConfig, 0).Append(err.Error())
		}
	}
	if err := tokencipher.Validate(s.cipher); err != nil {
		return errors.Mark(ErrConfig, 0).Append(err.Error())
	}
	return nil
}

// Save encrypts ts and upserts it for userID. A second save for the same user
// replaces the first.
func (s *Store) Save(ctx context.Context, userID string, ts TokenSet) (SaveResult, error) {
	if err := s.Validate(); err != nil {
		return SaveResult{}, err
	}
	if userID == "" {
		return SaveResult{}, errors.Mark(ErrInvalidTokenSet, 0).Append("user id is empty")
	}
	if err := ts.Validate(); err != nil {
		return SaveResult{}, err
	}

	access, ok := s.cipher.Encrypt(ctx, ts.AccessToken)
	if !ok || access == "" {
		return SaveResult{}, errors.Mark(ErrEncryption, 0).Append("access token")
	}
	var refresh *string
	if ts.HasRefreshToken() {
		enc, ok := s.cipher.Encrypt(ctx, ts.RefreshToken)
		if !ok || enc == "" {
			return SaveResult{}, errors.Mark(ErrEncryption, 0).Append("refresh token")
		}
		refresh = &enc
	}

	key := s.Key(userID)
	res, err := s.backend.Upsert(ctx, StoredToken{
		UserID:             key.UserID,
		Resource:           key.Resource,
		ClientType:         key.ClientType,
		AccessTokenCipher:  access,
		RefreshTokenCipher: refresh,
		ExpiresAt:          ts.ExpiresAt.UTC(),
		Scope:              ts.Scope,
		TokenType:          ts.TokenType,
		AppEmail:           ts.AppEmail,
		Enabled:            true,
		UpdatedAt:          s.now().UTC(),
	})
	if err != nil {
		return SaveResult{}, classify(err)
	}

	logging.Infow(ctx, "tokenstore: saved token",
		"user_id", userID, "resource", s.resource, "has_refresh_token", refresh != nil)
	eventbus.Publish(s.bus, eventbus.TopicTokenSaved, eventbus.TokenEvent(key))
	return res, nil
}

// Get returns the decrypted token for userID, or nil when there is no usable
// token. A refresh token that fails to decrypt is dropped and the access token
// is still returned.
func (s *Store) Get(ctx context.Context, userID string) *TokenSet {
	if err := s.Validate(); err != nil {
		logging.Errorw(ctx, "tokenstore: get skipped", "error", err, "resource", s.resource)
		return nil
	}

	row, err := s.backend.Fetch(ctx, s.Key(userID))
	if err != nil {
		logging.Errorw(ctx, "tokenstore: fetch failed",
			"error", err, "user_id", userID, "resource", s.resource)
		return nil
	}
	if row == nil || !row.Enabled || row.AccessTokenCipher == "" {
		return nil
	}

	access, ok := s.cipher.Decrypt(ctx, row.AccessTokenCipher)
	if !ok || access == "" {
		logging.Errorw(ctx, "tokenstore: access token could not be decrypted",
			"user_id", userID, "resource", s.resource)
		return nil
	}

	ts := &TokenSet{
		AccessToken: access,
		ExpiresAt:   row.ExpiresAt,
		Scope:       row.Scope,
		TokenType:   row.TokenType,
		AppEmail:    row.AppEmail,
	}
	if row.RefreshTokenCipher != nil {
		if refresh, ok := s.cipher.Decrypt(ctx, *row.RefreshTokenCipher); ok {
			ts.RefreshToken = refresh
		} else {
			logging.Warnw(ctx, "tokenstore: refresh token could not be decrypted, returning access token only",
				"user_id", userID, "resource", s.resource)
		}
	}
	return ts
}

// Delete removes the token for userID. Deleting a missing token is not an
// error and reports zero affected rows.
func (s *Store) Delete(ctx context.Context, userID string) (DeleteResult, error) {
	if err := s.Validate(); err != nil {
		return DeleteResult{}, err
	}
	res, err := s.backend.Delete(ctx, s.Key(userID))
	if err != nil {
		return DeleteResult{}, classify(err)
	}
	logging.Infow(ctx, "tokenstore: deleted token",
		"user_id", userID, "resource", s.resource, "affected_rows", res.AffectedRows)
	return res, nil
}
