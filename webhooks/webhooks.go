// Package webhooks keeps users' Zapier webhook URLs. A webhook URL is a
// bearer secret, so it is stored through the token store and encrypted at
// rest like an access token.
package webhooks

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/tokencipher"
	"github.com/rush86999/atomagent/tokenstore"
	"google.golang.org/grpc/codes"
)

// ResourcePrefix is followed by the zap name in the resource column.
const ResourcePrefix = "atom_zapier_webhook:"

// NeverExpires is the expiry written for webhook rows.
var NeverExpires = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// ErrInvalidWebhook is returned for an empty zap name or a URL that is not
// absolute http(s).
var ErrInvalidWebhook = errors.NewC("webhooks: invalid webhook", codes.InvalidArgument)

// Store saves one webhook URL per (user, zap name).
type Store struct {
	backend tokenstore.Backend
	cipher  tokencipher.Cipher
	opts    []tokenstore.Option
}

// New returns a webhook store. opts are applied to the token store of every
// zap.
func New(backend tokenstore.Backend, cipher tokencipher.Cipher, opts ...tokenstore.Option) *Store {
	return &Store{backend: backend, cipher: cipher, opts: opts}
}

func (s *Store) tokens(zapName string) *tokenstore.Store {
	return tokenstore.New(s.backend, s.cipher, ResourcePrefix+zapName, s.opts...)
}

// Save stores webhookURL for the user's zap, replacing any previous URL.
func (s *Store) Save(ctx context.Context, userID, zapName, webhookURL string) (tokenstore.SaveResult, error) {
	zapName = strings.TrimSpace(zapName)
	if zapName == "" {
		return tokenstore.SaveResult{}, errors.Mark(ErrInvalidWebhook, 0).Append("zap name is empty")
	}
	u, err := url.Parse(webhookURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return tokenstore.SaveResult{}, errors.Mark(ErrInvalidWebhook, 0).Append("url must be an absolute http(s) URL")
	}
	return s.tokens(zapName).Save(ctx, userID, tokenstore.TokenSet{
		AccessToken: webhookURL,
		ExpiresAt:   NeverExpires,
		TokenType:   "webhook",
	})
}

// Get returns the stored URL, or "" when there is none or it cannot be
// decrypted.
func (s *Store) Get(ctx context.Context, userID, zapName string) string {
	zapName = strings.TrimSpace(zapName)
	if zapName == "" {
		return ""
	}
	ts := s.tokens(zapName).Get(ctx, userID)
	if ts == nil {
		return ""
	}
	return ts.AccessToken
}

// Delete removes the user's zap webhook. Deleting a missing one reports zero
// affected rows.
func (s *Store) Delete(ctx context.Context, userID, zapName string) (tokenstore.DeleteResult, error) {
	zapName = strings.TrimSpace(zapName)
	if zapName == "" {
		return tokenstore.DeleteResult{}, errors.Mark(ErrInvalidWebhook, 0).Append("zap name is empty")
	}
	return s.tokens(zapName).Delete(ctx, userID)
}
