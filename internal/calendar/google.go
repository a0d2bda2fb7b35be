package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleCalendar is a calendar provider backed by the Google Calendar API.
// It is the usual reconciliation target.
type GoogleCalendar struct {
	service    *gcal.Service
	calendarID string
	loc        *time.Location
	logger     zerolog.Logger
}

// NewGoogleCalendar creates a Google Calendar provider over an authenticated
// HTTP client and resolves calendarName to a calendar ID. The name "primary"
// selects the account's primary calendar.
func NewGoogleCalendar(ctx context.Context, httpClient *http.Client, calendarName string, loc *time.Location, logger zerolog.Logger) (*GoogleCalendar, error) {
	service, err := gcal.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	c := &GoogleCalendar{
		service: service,
		loc:     loc,
		logger:  logger.With().Str("provider", "google").Logger(),
	}

	c.calendarID, err = c.findCalendarID(ctx, calendarName)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GoogleCalendar) Name() string { return "google" }

// findCalendarID walks the paginated calendar list looking for a calendar
// whose summary (or per-user override) matches name.
func (c *GoogleCalendar) findCalendarID(ctx context.Context, name string) (string, error) {
	pageToken := ""
	for {
		list, err := c.service.CalendarList.List().PageToken(pageToken).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("list calendars: %w", classifyGoogleError(err))
		}
		for _, entry := range list.Items {
			if entry.Summary == name || entry.SummaryOverride == name ||
				(name == "primary" && entry.Primary) {
				return entry.Id, nil
			}
		}
		pageToken = list.NextPageToken
		if pageToken == "" {
			return "", fmt.Errorf("no such Google calendar: %s", name)
		}
	}
}

// Events returns all non-all-day events intersecting the window, with all
// result pages drained. Timestamps are normalized into the provider's
// configured timezone.
func (c *GoogleCalendar) Events(ctx context.Context, start, end time.Time) ([]Event, error) {
	var events []Event

	err := withRetry(ctx, c.logger, "list", func() error {
		events = events[:0]
		call := c.service.Events.List(c.calendarID).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			TimeZone(c.loc.String()).
			SingleEvents(true). // expand recurring events
			Context(ctx)

		err := call.Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				if item.Status == "cancelled" {
					continue
				}
				// All-day events carry a Date instead of a DateTime and are
				// excluded from reconciliation entirely.
				if item.Start == nil || item.End == nil || item.Start.Date != "" {
					continue
				}
				ev, err := c.eventFromItem(item)
				if err != nil {
					c.logger.Warn().Err(err).Str("id", item.Id).Msg("skipping unparsable event")
					continue
				}
				events = append(events, ev)
			}
			return nil
		})
		if err != nil {
			return classifyGoogleError(err)
		}
		return nil
	})
	if err != nil {
		return nil, &FetchError{Provider: c.Name(), Start: start, End: end, Err: err}
	}

	c.logger.Debug().Int("count", len(events)).Msg("fetched events from Google calendar")
	return events, nil
}

// Fingerprint implements the shared identity contract over the normalized
// event fields.
func (c *GoogleCalendar) Fingerprint(ev Event) string { return Fingerprint(ev) }

// Create inserts a new event, preserving the local-time semantics of the
// given timestamps. An empty body is omitted rather than sent as an empty
// description.
func (c *GoogleCalendar) Create(ctx context.Context, ev Event) (Event, error) {
	item := &gcal.Event{
		Summary: ev.Subject,
		Start:   &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	if ev.Body != "" {
		item.Description = ev.Body
	}

	var created *gcal.Event
	err := withRetry(ctx, c.logger, "insert", func() error {
		out, err := c.service.Events.Insert(c.calendarID, item).
			SendUpdates("none"). // disable notifications
			Context(ctx).
			Do()
		if err != nil {
			return classifyGoogleError(err)
		}
		created = out
		return nil
	})
	if err != nil {
		return Event{}, &CreateError{Provider: c.Name(), Subject: ev.Subject, Err: err}
	}

	c.logger.Debug().
		Str("subject", ev.Subject).
		Time("start", ev.Start).
		Str("link", created.HtmlLink).
		Msg("event created")

	out := ev
	out.ProviderID = created.Id
	return out, nil
}

// Delete removes the event addressed by its provider ID. An event the
// provider has already removed (404/410) counts as deleted.
func (c *GoogleCalendar) Delete(ctx context.Context, ev Event) error {
	err := withRetry(ctx, c.logger, "delete", func() error {
		err := c.service.Events.Delete(c.calendarID, ev.ProviderID).
			SendUpdates("none").
			Context(ctx).
			Do()
		if err == nil || googleErrorCode(err) == http.StatusNotFound || googleErrorCode(err) == http.StatusGone {
			return nil
		}
		return classifyGoogleError(err)
	})
	if err != nil {
		return &DeleteError{Provider: c.Name(), Subject: ev.Subject, Err: err}
	}

	c.logger.Debug().
		Str("subject", ev.Subject).
		Time("start", ev.Start).
		Msg("event deleted")
	return nil
}

func (c *GoogleCalendar) eventFromItem(item *gcal.Event) (Event, error) {
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return Event{}, fmt.Errorf("parse start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return Event{}, fmt.Errorf("parse end time: %w", err)
	}

	return Event{
		ProviderID: item.Id,
		Subject:    item.Summary,
		Body:       item.Description,
		Start:      start.In(c.loc),
		End:        end.In(c.loc),
	}, nil
}

func googleErrorCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// classifyGoogleError sorts an API error into the retry taxonomy: 401 and
// invalid-credential responses are fatal auth failures, rate limits and
// server errors are transient, everything else surfaces as-is.
func classifyGoogleError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		// Transport-level failure; worth another attempt.
		return transient(err)
	}

	switch {
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case gerr.Code == http.StatusForbidden && isRateLimited(gerr):
		return transientAfter(err, retryAfter(gerr.Header))
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return transientAfter(err, retryAfter(gerr.Header))
	}
	return err
}

func isRateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

// retryAfter parses a Retry-After header expressed in seconds; zero means no
// suggestion.
func retryAfter(header http.Header) time.Duration {
	secs, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
