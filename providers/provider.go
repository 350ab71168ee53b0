// Package providers describes the OAuth2 integrations the broker connects:
// where their endpoints are, which scopes they need, how their API is reached
// and how a dead refresh token is reported.
//
// A Provider is a plain descriptor. The same tokenstore.Store and
// refresher.Refresher code serves every integration.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/logging"
	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
)

// Resource discriminators written to the token table.
const (
	ResourceGoogleCalendar = "google_atom_calendar"
	ResourceGmail          = "atom_gmail"
	ResourceMSGraph        = "atom_msgraph"
	ResourceZoom           = "atom_zoom"
)

var (
	// ErrNotConfigured is returned when client credentials are missing.
	ErrNotConfigured = errors.NewC("providers: client credentials not configured", codes.FailedPrecondition)

	// ErrExchange is returned when an authorization code could not be
	// exchanged.
	ErrExchange = errors.NewC("providers: token exchange failed", codes.Unauthenticated)

	// ErrRefresh is returned when a refresh grant fails.
	ErrRefresh = errors.NewC("providers: token refresh failed", codes.Unavailable)

	// ErrUnknownProvider is returned by Registry lookups.
	ErrUnknownProvider = errors.NewC("providers: unknown integration", codes.NotFound)
)

// Credentials are the OAuth client settings of one integration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes replace the provider defaults when set.
	Scopes []string

	// Tenant is the Microsoft directory, "common" when empty.
	Tenant string

	// APIBaseURL overrides the provider's REST base URL.
	APIBaseURL string
}

// EmailFunc looks up the external account's email with an authorized client.
type EmailFunc func(ctx context.Context, client *http.Client, apiBaseURL string) (string, error)

// Provider describes one integration.
type Provider struct {
	// Name is the integration's path segment, e.g. "gmail".
	Name string

	// Resource is the token table discriminator.
	Resource string

	OAuth2      *oauth2.Config
	APIBaseURL  string
	AuthOptions []oauth2.AuthCodeOption

	// Email is optional.
	Email EmailFunc

	// HTTPClient is used for token endpoint calls. nil uses
	// http.DefaultClient.
	HTTPClient *http.Client
}

func newProvider(name, resource string, creds Credentials, endpoint oauth2.Endpoint, scopes []string, apiBaseURL string) *Provider {
	if len(creds.Scopes) > 0 {
		scopes = creds.Scopes
	}
	if creds.APIBaseURL != "" {
		apiBaseURL = creds.APIBaseURL
	}
	return &Provider{
		Name:     name,
		Resource: resource,
		OAuth2: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		APIBaseURL: strings.TrimSuffix(apiBaseURL, "/"),
	}
}

// Validate checks the client credentials.
func (p *Provider) Validate() error {
	var missing []string
	if p.OAuth2.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if p.OAuth2.ClientSecret == "" {
		missing = append(missing, "clientSecret")
	}
	if p.OAuth2.RedirectURL == "" {
		missing = append(missing, "redirectUrl")
	}
	if len(missing) > 0 {
		return errors.Mark(ErrNotConfigured, 0).Append(p.Name + " " + strings.Join(missing, ", "))
	}
	return nil
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.OAuth2.AuthCodeURL(state, p.AuthOptions...)
}

// Exchange trades an authorization code for a token.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logging.Infow(ctx, "providers: starting token exchange", "provider", p.Name)
	tok, err := p.OAuth2.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, errors.Mark(ErrExchange, 0).Append(err.Error())
	}
	return tok, nil
}

// Refresh runs the refresh grant. The returned token keeps refreshToken when
// the provider did not rotate it. An invalid_grant response still satisfies
// IsInvalidGrant after wrapping.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	src := p.OAuth2.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		e := errors.Mark(ErrRefresh, 0)
		e.Err = fmt.Errorf("%w: %w", e.Err, err)
		return nil, e
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// Client returns an HTTP client that sends accessToken as a bearer token.
func (p *Provider) Client(ctx context.Context, accessToken string) *http.Client {
	return oauth2.NewClient(p.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// AccountEmail looks up the connected account's email. Providers without an
// email lookup return "".
func (p *Provider) AccountEmail(ctx context.Context, accessToken string) (string, error) {
	if p.Email == nil {
		return "", nil
	}
	return p.Email(ctx, p.Client(ctx, accessToken), p.APIBaseURL)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	if p.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
}

// IsInvalidGrant reports whether err means the refresh token is permanently
// unusable and the user has to authorize again.
func IsInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	// Microsoft reports expired refresh tokens with AADSTS70008 and Zoom
	// sometimes omits the code field.
	desc := re.ErrorDescription + " " + string(re.Body)
	return strings.Contains(desc, "invalid_grant") || strings.Contains(desc, "AADSTS70008")
}

// Registry looks providers up by Name.
type Registry struct {
	byName map[string]*Provider
	order  []string
}

// NewRegistry indexes providers by name.
func NewRegistry(ps ...*Provider) *Registry {
	r := &Registry{byName: map[string]*Provider{}}
	for _, p := range ps {
		if _, ok := r.byName[p.Name]; !ok {
			r.order = append(r.order, p.Name)
		}
		r.byName[p.Name] = p
	}
	return r
}

// Get returns the provider called name.
func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, errors.Mark(ErrUnknownProvider, 0).Append(name)
	}
	return p, nil
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
