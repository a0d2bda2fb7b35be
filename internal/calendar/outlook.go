package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// OutlookCalendar is a read-only calendar provider backed by the Microsoft
// Graph REST API. It is the usual reconciliation source.
type OutlookCalendar struct {
	httpClient *http.Client
	baseURL    string
	calendarID string
	loc        *time.Location
	logger     zerolog.Logger
}

// graphDateTime is Graph's split timestamp representation: a zone-less
// dateTime string plus the timezone it is expressed in.
type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID          string        `json:"id"`
	Subject     string        `json:"subject"`
	BodyPreview string        `json:"bodyPreview"`
	IsAllDay    bool          `json:"isAllDay"`
	IsCancelled bool          `json:"isCancelled"`
	Start       graphDateTime `json:"start"`
	End         graphDateTime `json:"end"`
}

type graphEventPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphCalendarPage struct {
	Value []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// NewOutlookCalendar creates an Outlook provider over an authenticated HTTP
// client and resolves calendarName to a Graph calendar ID.
func NewOutlookCalendar(ctx context.Context, httpClient *http.Client, calendarName string, loc *time.Location, logger zerolog.Logger) (*OutlookCalendar, error) {
	c := &OutlookCalendar{
		httpClient: httpClient,
		baseURL:    graphBaseURL,
		loc:        loc,
		logger:     logger.With().Str("provider", "outlook").Logger(),
	}

	id, err := c.findCalendarID(ctx, calendarName)
	if err != nil {
		return nil, err
	}
	c.calendarID = id
	return c, nil
}

func (c *OutlookCalendar) Name() string { return "outlook" }

func (c *OutlookCalendar) findCalendarID(ctx context.Context, name string) (string, error) {
	next := c.baseURL + "/me/calendars?$select=id,name"
	for next != "" {
		var page graphCalendarPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return "", fmt.Errorf("list calendars: %w", err)
		}
		for _, cal := range page.Value {
			if cal.Name == name {
				return cal.ID, nil
			}
		}
		next = page.NextLink
	}
	return "", fmt.Errorf("no such Outlook calendar: %s", name)
}

// Events returns all non-all-day events intersecting the window. The
// calendarView endpoint expands recurring events server-side; pages are
// followed until @odata.nextLink runs out.
func (c *OutlookCalendar) Events(ctx context.Context, start, end time.Time) ([]Event, error) {
	query := url.Values{}
	query.Set("startDateTime", start.Format(time.RFC3339))
	query.Set("endDateTime", end.Format(time.RFC3339))
	query.Set("$select", "id,subject,bodyPreview,isAllDay,isCancelled,start,end")
	query.Set("$top", "100")
	first := fmt.Sprintf("%s/me/calendars/%s/calendarView?%s", c.baseURL, c.calendarID, query.Encode())

	var events []Event
	err := withRetry(ctx, c.logger, "list", func() error {
		events = events[:0]
		next := first
		for next != "" {
			var page graphEventPage
			if err := c.getJSON(ctx, next, &page); err != nil {
				return err
			}
			for _, item := range page.Value {
				if item.IsAllDay || item.IsCancelled {
					continue
				}
				ev, err := c.eventFromGraph(item)
				if err != nil {
					c.logger.Warn().Err(err).Str("id", item.ID).Msg("skipping unparsable event")
					continue
				}
				events = append(events, ev)
			}
			next = page.NextLink
		}
		return nil
	})
	if err != nil {
		return nil, &FetchError{Provider: c.Name(), Start: start, End: end, Err: err}
	}

	c.logger.Debug().Int("count", len(events)).Msg("fetched events from Outlook calendar")
	return events, nil
}

func (c *OutlookCalendar) Fingerprint(ev Event) string { return Fingerprint(ev) }

// graphTimeLayout accepts Graph's seven-digit fractional seconds and their
// absence.
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

func (c *OutlookCalendar) eventFromGraph(item graphEvent) (Event, error) {
	start, err := parseGraphTime(item.Start, c.loc)
	if err != nil {
		return Event{}, fmt.Errorf("parse start time: %w", err)
	}
	end, err := parseGraphTime(item.End, c.loc)
	if err != nil {
		return Event{}, fmt.Errorf("parse end time: %w", err)
	}

	return Event{
		ProviderID: item.ID,
		Subject:    item.Subject,
		Body:       item.BodyPreview,
		Start:      start.In(c.loc),
		End:        end.In(c.loc),
	}, nil
}

func parseGraphTime(dt graphDateTime, fallback *time.Location) (time.Time, error) {
	loc := resolveLocation(dt.TimeZone, fallback)
	return time.ParseInLocation(graphTimeLayout, dt.DateTime, loc)
}

// getJSON performs one Graph GET and decodes the response, classifying
// failures into the retry taxonomy. The Prefer header asks Graph to render
// timestamps in the provider's configured timezone.
func (c *OutlookCalendar) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf("outlook.timezone=%q", c.loc.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: graph returned HTTP 401", ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return transientAfter(fmt.Errorf("graph returned HTTP %d", resp.StatusCode), retryAfter(resp.Header))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph returned HTTP %d: %s", resp.StatusCode, body)
	}
}
