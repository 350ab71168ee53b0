package tokenstore

import (
	"time"

	"github.com/rush86999/atomagent/errors"
	"golang.org/x/oauth2"
)

// TokenSet is the decrypted credential handed to callers.
type TokenSet struct {
	AccessToken string

	// RefreshToken is empty when the provider did not issue one, or when it
	// could not be decrypted.
	RefreshToken string

	ExpiresAt time.Time
	Scope     string
	TokenType string

	// AppEmail is the external account's address, for display.
	AppEmail string
}

// HasRefreshToken reports whether a refresh can be attempted.
func (ts TokenSet) HasRefreshToken() bool {
	return ts.RefreshToken != ""
}

// IsExpired reports whether the access token expires within skew of now.
func (ts TokenSet) IsExpired(now time.Time, skew time.Duration) bool {
	if ts.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(ts.ExpiresAt)
}

// Validate checks the fields a save requires.
func (ts TokenSet) Validate() error {
	if ts.AccessToken == "" {
		return errors.Mark(ErrInvalidTokenSet, 0).Append("access token is empty")
	}
	if ts.ExpiresAt.IsZero() {
		return errors.Mark(ErrInvalidTokenSet, 0).Append("expiry is not set")
	}
	return nil
}

// OAuth2 converts the set into an oauth2.Token.
func (ts TokenSet) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
		Expiry:       ts.ExpiresAt,
	}
}

// FromOAuth2 converts a token from a code exchange or refresh grant. The scope
// is read from the raw token response when the provider returned one.
func FromOAuth2(t *oauth2.Token) TokenSet {
	ts := TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.Expiry.UTC(),
	}
	if scope, ok := t.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// Key identifies one stored row.
type Key struct {
	UserID     string
	Resource   string
	ClientType string
}

// StoredToken is the persisted, encrypted form of a TokenSet.
type StoredToken struct {
	ID                 string
	UserID             string
	Resource           string
	ClientType         string
	AccessTokenCipher  string
	RefreshTokenCipher *string
	ExpiresAt          time.Time
	Scope              string
	TokenType          string
	AppEmail           string
	Enabled            bool
	UpdatedAt          time.Time
}

// Key returns the row's identity.
func (st StoredToken) Key() Key {
	return Key{UserID: st.UserID, Resource: st.Resource, ClientType: st.ClientType}
}

// SaveResult is returned by a successful save.
type SaveResult struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// DeleteResult is returned by a delete. AffectedRows is zero when nothing was
// stored.
type DeleteResult struct {
	AffectedRows int `json:"affectedRows"`
}
