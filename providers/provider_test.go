package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rush86999/atomagent/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testCreds = Credentials{
	ClientID:     "client-id",
	ClientSecret: "client-secret",
	RedirectURL:  "http://localhost:8000/api/atom/auth/calendar/callback",
}

func tokenServer(t *testing.T, status int, body map[string]any, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pointAt(p *Provider, srv *httptest.Server, style oauth2.AuthStyle) *Provider {
	p.OAuth2.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: style,
	}
	return p
}

func TestDescriptors(t *testing.T) {
	tests := []struct {
		p        *Provider
		name     string
		resource string
		tokenURL string
		base     string
	}{
		{GoogleCalendar(testCreds), "calendar", ResourceGoogleCalendar, "https://oauth2.googleapis.com/token", ""},
		{Gmail(testCreds), "gmail", ResourceGmail, "https://oauth2.googleapis.com/token", ""},
		{MSGraph(testCreds), "msgraph", ResourceMSGraph, "https://login.microsoftonline.com/common/oauth2/v2.0/token", DefaultGraphBaseURL},
		{Zoom(testCreds), "zoom", ResourceZoom, "https://zoom.us/oauth/token", DefaultZoomBaseURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.p.Name)
			assert.Equal(t, tt.resource, tt.p.Resource)
			assert.Equal(t, tt.tokenURL, tt.p.OAuth2.Endpoint.TokenURL)
			assert.Equal(t, tt.base, tt.p.APIBaseURL)
			assert.NotNil(t, tt.p.Email)
			assert.NoError(t, tt.p.Validate())
		})
	}
}

func TestCredentialOverrides(t *testing.T) {
	creds := testCreds
	creds.Tenant = "contoso"
	creds.Scopes = []string{"User.Read"}
	creds.APIBaseURL = "http://graph.local/v1.0/"

	p := MSGraph(creds)
	assert.Equal(t, []string{"User.Read"}, p.OAuth2.Scopes)
	assert.Equal(t, "http://graph.local/v1.0", p.APIBaseURL)
	assert.Contains(t, p.OAuth2.Endpoint.TokenURL, "/contoso/")
}

func TestValidate(t *testing.T) {
	err := Zoom(Credentials{ClientID: "id"}).Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "clientSecret, redirectUrl")

	_, err = Zoom(Credentials{}).Exchange(t.Context(), "code")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = Zoom(Credentials{}).Refresh(t.Context(), "refresh")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAuthCodeURL(t *testing.T) {
	u, err := url.Parse(Gmail(testCreds).AuthCodeURL("signed-state"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "signed-state", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), "gmail.readonly")

	u, err = url.Parse(Zoom(testCreds).AuthCodeURL("s"))
	require.NoError(t, err)
	assert.Equal(t, "zoom.us", u.Host)
	assert.Empty(t, u.Query().Get("access_type"))
}

func TestExchange(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "access",
		"refresh_token": "refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "Calendars.Read",
	}, func(r *http.Request) {
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
	})
	p := pointAt(MSGraph(testCreds), srv, oauth2.AuthStyleInParams)

	tok, err := p.Exchange(t.Context(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.False(t, tok.Expiry.IsZero())
}

func TestExchangeFailure(t *testing.T) {
	srv := tokenServer(t, http.StatusBadRequest, map[string]any{"error": "invalid_grant"}, nil)
	p := pointAt(GoogleCalendar(testCreds), srv, oauth2.AuthStyleInParams)

	_, err := p.Exchange(t.Context(), "stale")
	assert.ErrorIs(t, err, ErrExchange)
}

func TestRefreshKeepsRefreshToken(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, map[string]any{
		"access_token": "new-access",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}, func(r *http.Request) {
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
	})
	p := pointAt(Gmail(testCreds), srv, oauth2.AuthStyleInParams)

	tok, err := p.Refresh(t.Context(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "old-refresh", tok.RefreshToken)
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
	}, func(r *http.Request) {
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok, "zoom sends client credentials in the header")
		assert.Equal(t, "client-id", id)
		assert.Equal(t, "client-secret", secret)
	})
	p := pointAt(Zoom(testCreds), srv, oauth2.AuthStyleInHeader)

	tok, err := p.Refresh(t.Context(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
}

func TestRefreshInvalidGrant(t *testing.T) {
	srv := tokenServer(t, http.StatusBadRequest, map[string]any{
		"error":             "invalid_grant",
		"error_description": "Token has been expired or revoked.",
	}, nil)
	p := pointAt(Gmail(testCreds), srv, oauth2.AuthStyleInParams)

	_, err := p.Refresh(t.Context(), "dead")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefresh)
	assert.True(t, IsInvalidGrant(err))
}

func TestRefreshOtherFailure(t *testing.T) {
	srv := tokenServer(t, http.StatusInternalServerError, map[string]any{"error": "server_error"}, nil)
	p := pointAt(Gmail(testCreds), srv, oauth2.AuthStyleInParams)

	_, err := p.Refresh(t.Context(), "alive")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefresh)
	assert.False(t, IsInvalidGrant(err))
}

func TestIsInvalidGrant(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid_grant"), false},
		{"code", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, true},
		{"aad", &oauth2.RetrieveError{ErrorCode: "invalid_request", ErrorDescription: "AADSTS70008: The refresh token has expired"}, true},
		{"body only", &oauth2.RetrieveError{Body: []byte(`{"reason":"invalid_grant"}`)}, true},
		{"wrapped", errors.Wrap(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}, 0), true},
		{"other", &oauth2.RetrieveError{ErrorCode: "invalid_client"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInvalidGrant(tt.err))
		})
	}
}

func apiServer(t *testing.T, path string, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAccountEmail(t *testing.T) {
	tests := []struct {
		name string
		new  func(Credentials) *Provider
		path string
		body string
		want string
	}{
		{"graph mail", MSGraph, "/me", `{"mail":"a@contoso.com","userPrincipalName":"a@contoso.onmicrosoft.com"}`, "a@contoso.com"},
		{"graph upn", MSGraph, "/me", `{"mail":null,"userPrincipalName":"a@contoso.onmicrosoft.com"}`, "a@contoso.onmicrosoft.com"},
		{"zoom", Zoom, "/users/me", `{"id":"z1","email":"z@example.com"}`, "z@example.com"},
		{"google", Gmail, "/oauth2/v2/userinfo", `{"id":"1","email":"g@example.com"}`, "g@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := apiServer(t, tt.path, http.StatusOK, tt.body)
			creds := testCreds
			creds.APIBaseURL = srv.URL
			got, err := tt.new(creds).AccountEmail(t.Context(), "access")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetJSONUnauthorized(t *testing.T) {
	srv := apiServer(t, "/me", http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken"}}`)

	var out GraphUser
	err := GetJSON(context.Background(), MSGraph(testCreds).Client(t.Context(), "access"), srv.URL+"/me", &out)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, errors.HTTPStatusCode(err))

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Contains(t, httpErr.Body, "InvalidAuthenticationToken")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(GoogleCalendar(testCreds), Zoom(testCreds))
	assert.Equal(t, []string{"calendar", "zoom"}, r.Names())

	p, err := r.Get("zoom")
	require.NoError(t, err)
	assert.Equal(t, ResourceZoom, p.Resource)

	_, err = r.Get("hubspot")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
