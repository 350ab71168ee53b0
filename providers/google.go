package providers

import (
	"context"
	"net/http"

	"github.com/rush86999/atomagent/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	oauth2v2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleCalendar returns the Google Calendar integration.
func GoogleCalendar(creds Credentials) *Provider {
	p := newProvider("calendar", ResourceGoogleCalendar, creds, google.Endpoint, []string{
		calendar.CalendarReadonlyScope,
		calendar.CalendarEventsScope,
		oauth2v2.UserinfoEmailScope,
	}, "")
	return withGoogleDefaults(p)
}

// Gmail returns the Gmail integration.
func Gmail(creds Credentials) *Provider {
	p := newProvider("gmail", ResourceGmail, creds, google.Endpoint, []string{
		gmail.GmailReadonlyScope,
		gmail.GmailSendScope,
		oauth2v2.UserinfoEmailScope,
	}, "")
	return withGoogleDefaults(p)
}

// Google only issues a refresh token for offline access, and only on consent.
func withGoogleDefaults(p *Provider) *Provider {
	p.AuthOptions = []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	p.Email = googleEmail
	return p
}

// GoogleClientOptions returns the options for google.golang.org/api services
// built on client. An empty apiBaseURL keeps the library default.
func GoogleClientOptions(client *http.Client, apiBaseURL string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if apiBaseURL != "" {
		opts = append(opts, option.WithEndpoint(apiBaseURL+"/"))
	}
	return opts
}

func googleEmail(ctx context.Context, client *http.Client, apiBaseURL string) (string, error) {
	svc, err := oauth2v2.NewService(ctx, GoogleClientOptions(client, apiBaseURL)...)
	if err != nil {
		return "", errors.WrapPrefix(err, "providers: google userinfo client", 0)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", errors.WrapPrefix(err, "providers: google userinfo", 0)
	}
	return info.Email, nil
}
