package skills

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/refresher"
)

// GraphDateTime is Graph's zoned timestamp.
type GraphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// GraphEvent is an Outlook calendar entry.
type GraphEvent struct {
	ID              string        `json:"id"`
	Subject         string        `json:"subject"`
	Start           GraphDateTime `json:"start"`
	End             GraphDateTime `json:"end"`
	WebLink         string        `json:"webLink,omitempty"`
	IsOnlineMeeting bool          `json:"isOnlineMeeting"`
	OnlineMeeting   *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting,omitempty"`
}

// Graph calls Microsoft Graph.
type Graph struct {
	skill
}

// NewGraph returns a Microsoft Graph skill.
func NewGraph(r *refresher.Refresher, p *providers.Provider) *Graph {
	return &Graph{skill: skill{refresher: r, provider: p}}
}

// GetMe returns the signed-in account.
func (g *Graph) GetMe(ctx context.Context, userID string) refresher.Result[providers.GraphUser] {
	return run(ctx, g.skill, userID, "graph.get_me", func(ctx context.Context, client *http.Client) (providers.GraphUser, error) {
		var me providers.GraphUser
		err := providers.GetJSON(ctx, client, endpoint(g.provider.APIBaseURL, "/me", nil), &me)
		return me, err
	})
}

// ListCalendarEvents returns up to limit events of the default calendar,
// ordered by start.
func (g *Graph) ListCalendarEvents(ctx context.Context, userID string, limit int) refresher.Result[[]GraphEvent] {
	q := url.Values{
		"$top":     {strconv.Itoa(limitOrDefault(limit))},
		"$orderby": {"start/dateTime"},
		"$select":  {"id,subject,start,end,webLink,isOnlineMeeting,onlineMeeting"},
	}
	return run(ctx, g.skill, userID, "graph.list_calendar_events", func(ctx context.Context, client *http.Client) ([]GraphEvent, error) {
		var page struct {
			Value []GraphEvent `json:"value"`
		}
		if err := providers.GetJSON(ctx, client, endpoint(g.provider.APIBaseURL, "/me/events", q), &page); err != nil {
			return nil, err
		}
		if page.Value == nil {
			page.Value = []GraphEvent{}
		}
		return page.Value, nil
	})
}
