package providers

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// DefaultZoomBaseURL is the Zoom REST v2 endpoint.
const DefaultZoomBaseURL = "https://api.zoom.us/v2"

// ZoomEndpoint is Zoom's OAuth endpoint. Zoom wants client credentials in the
// Authorization header.
var ZoomEndpoint = oauth2.Endpoint{
	AuthURL:   "https://zoom.us/oauth/authorize",
	TokenURL:  "https://zoom.us/oauth/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// Zoom returns the Zoom integration. Scopes are configured on the Zoom app,
// so none are requested by default.
func Zoom(creds Credentials) *Provider {
	p := newProvider("zoom", ResourceZoom, creds, ZoomEndpoint, nil, DefaultZoomBaseURL)
	p.Email = zoomEmail
	return p
}

// ZoomUser is the subset of /users/me the broker reads.
type ZoomUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func zoomEmail(ctx context.Context, client *http.Client, apiBaseURL string) (string, error) {
	var me ZoomUser
	if err := GetJSON(ctx, client, apiBaseURL+"/users/me", &me); err != nil {
		return "", err
	}
	return me.Email, nil
}
