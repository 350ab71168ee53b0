package skills

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/logging"
	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/refresher"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// Message details are fetched with at most this many requests in flight.
const gmailFetchConcurrency = 5

// Event is a calendar entry.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay"`
	HTMLLink    string    `json:"htmlLink,omitempty"`
	MeetingURL  string    `json:"conferenceUrl,omitempty"`
}

// Calendar reads the user's primary Google calendar.
type Calendar struct {
	skill
	now func() time.Time
}

// NewCalendar returns a Google Calendar skill.
func NewCalendar(r *refresher.Refresher, p *providers.Provider) *Calendar {
	return &Calendar{skill: skill{refresher: r, provider: p}, now: time.Now}
}

// ListUpcomingEvents returns up to limit events starting from now, in start
// order. Recurring events are expanded.
func (c *Calendar) ListUpcomingEvents(ctx context.Context, userID string, limit int) refresher.Result[[]Event] {
	limit = limitOrDefault(limit)
	return run(ctx, c.skill, userID, "calendar.list_upcoming_events", func(ctx context.Context, client *http.Client) ([]Event, error) {
		svc, err := calendar.NewService(ctx, providers.GoogleClientOptions(client, c.provider.APIBaseURL)...)
		if err != nil {
			return nil, errors.WrapPrefix(err, "skills: calendar client", 0)
		}
		resp, err := svc.Events.List("primary").
			TimeMin(c.now().UTC().Format(time.RFC3339)).
			MaxResults(int64(limit)).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).
			Do()
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		events := make([]Event, 0, len(resp.Items))
		for _, item := range resp.Items {
			events = append(events, convertEvent(item))
		}
		return events, nil
	})
}

func convertEvent(item *calendar.Event) Event {
	e := Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		HTMLLink:    item.HtmlLink,
		MeetingURL:  item.HangoutLink,
	}
	e.Start, e.AllDay = eventTime(item.Start)
	e.End, _ = eventTime(item.End)
	return e
}

// eventTime reads a timed or all-day boundary.
func eventTime(t *calendar.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		v, _ := time.Parse(time.RFC3339, t.DateTime)
		return v, false
	}
	v, _ := time.Parse(time.DateOnly, t.Date)
	return v, true
}

// Email is a message summary.
type Email struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId,omitempty"`
	From      string    `json:"sender"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Gmail searches the user's mailbox.
type Gmail struct {
	skill
}

// NewGmail returns a Gmail skill.
func NewGmail(r *refresher.Refresher, p *providers.Provider) *Gmail {
	return &Gmail{skill: skill{refresher: r, provider: p}}
}

// SearchMessages runs a Gmail search query and returns up to limit message
// summaries in the order Gmail ranked them. Messages whose details cannot be
// read are left out.
func (g *Gmail) SearchMessages(ctx context.Context, userID, query string, limit int) refresher.Result[[]Email] {
	limit = limitOrDefault(limit)
	return run(ctx, g.skill, userID, "gmail.search_messages", func(ctx context.Context, client *http.Client) ([]Email, error) {
		svc, err := gmail.NewService(ctx, providers.GoogleClientOptions(client, g.provider.APIBaseURL)...)
		if err != nil {
			return nil, errors.WrapPrefix(err, "skills: gmail client", 0)
		}
		list, err := svc.Users.Messages.List("me").Q(query).MaxResults(int64(limit)).Context(ctx).Do()
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}

		found := make([]*Email, len(list.Messages))
		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(gmailFetchConcurrency)
		for i, m := range list.Messages {
			if m.Id == "" {
				continue
			}
			eg.Go(func() error {
				msg, err := svc.Users.Messages.Get("me", m.Id).
					Format("metadata").
					MetadataHeaders("Subject", "From", "Date").
					Context(ctx).
					Do()
				if err != nil {
					if refresher.IsUnauthorized(err) {
						return errors.Wrap(err, 0)
					}
					logging.Warnw(ctx, "skills: skipping unreadable message", "message_id", m.Id, "error", err)
					return nil
				}
				e := convertMessage(msg)
				found[i] = &e
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}

		emails := make([]Email, 0, len(found))
		for _, e := range found {
			if e != nil {
				emails = append(emails, *e)
			}
		}
		return emails, nil
	})
}

func convertMessage(msg *gmail.Message) Email {
	e := Email{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Subject:  "No Subject",
		Read:     !slices.Contains(msg.LabelIds, "UNREAD"),
	}
	var date string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				e.Subject = h.Value
			case "from":
				e.From = h.Value
			case "date":
				date = h.Value
			}
		}
	}
	switch {
	case msg.InternalDate > 0:
		e.Timestamp = time.UnixMilli(msg.InternalDate).UTC()
	case date != "":
		if t, err := time.Parse(time.RFC1123Z, date); err == nil {
			e.Timestamp = t.UTC()
		}
	}
	return e
}
