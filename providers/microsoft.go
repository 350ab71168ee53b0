package providers

import (
	"context"
	"net/http"

	"golang.org/x/oauth2/microsoft"
)

// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// MSGraph returns the Microsoft Graph integration. offline_access is what
// makes the identity platform issue refresh tokens.
func MSGraph(creds Credentials) *Provider {
	tenant := creds.Tenant
	if tenant == "" {
		tenant = "common"
	}
	p := newProvider("msgraph", ResourceMSGraph, creds, microsoft.AzureADEndpoint(tenant), []string{
		"offline_access",
		"User.Read",
		"Calendars.ReadWrite",
		"Mail.Read",
	}, DefaultGraphBaseURL)
	p.Email = graphEmail
	return p
}

// GraphUser is the subset of /me the broker reads.
type GraphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Email prefers the mailbox address and falls back to the sign-in name.
func (u GraphUser) Email() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

func graphEmail(ctx context.Context, client *http.Client, apiBaseURL string) (string, error) {
	var me GraphUser
	if err := GetJSON(ctx, client, apiBaseURL+"/me", &me); err != nil {
		return "", err
	}
	return me.Email(), nil
}
