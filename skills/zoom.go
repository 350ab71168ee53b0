package skills

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rush86999/atomagent/providers"
	"github.com/rush86999/atomagent/refresher"
)

// ZoomMeeting is an entry of /users/me/meetings.
type ZoomMeeting struct {
	ID        int64  `json:"id"`
	UUID      string `json:"uuid"`
	Topic     string `json:"topic"`
	Type      int    `json:"type"`
	StartTime string `json:"start_time,omitempty"`
	Duration  int    `json:"duration"`
	Timezone  string `json:"timezone,omitempty"`
	JoinURL   string `json:"join_url"`
	Agenda    string `json:"agenda,omitempty"`
}

// ZoomMeetingList is one page of meetings.
type ZoomMeetingList struct {
	Meetings      []ZoomMeeting `json:"meetings"`
	PageCount     int           `json:"page_count"`
	PageNumber    int           `json:"page_number"`
	PageSize      int           `json:"page_size"`
	TotalRecords  int           `json:"total_records"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

// ZoomListOptions selects a page of meetings. Zero values mean upcoming
// meetings, 30 per page.
type ZoomListOptions struct {
	Type          string
	PageSize      int
	NextPageToken string
}

// Zoom calls the Zoom REST API.
type Zoom struct {
	skill
}

// NewZoom returns a Zoom skill.
func NewZoom(r *refresher.Refresher, p *providers.Provider) *Zoom {
	return &Zoom{skill: skill{refresher: r, provider: p}}
}

// ListMeetings lists the user's meetings.
func (z *Zoom) ListMeetings(ctx context.Context, userID string, opts ZoomListOptions) refresher.Result[ZoomMeetingList] {
	if opts.Type == "" {
		opts.Type = "upcoming"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 30
	}
	q := url.Values{
		"type":      {opts.Type},
		"page_size": {strconv.Itoa(opts.PageSize)},
	}
	if opts.NextPageToken != "" {
		q.Set("next_page_token", opts.NextPageToken)
	}
	return run(ctx, z.skill, userID, "zoom.list_meetings", func(ctx context.Context, client *http.Client) (ZoomMeetingList, error) {
		var out ZoomMeetingList
		err := providers.GetJSON(ctx, client, endpoint(z.provider.APIBaseURL, "/users/me/meetings", q), &out)
		return out, err
	})
}
