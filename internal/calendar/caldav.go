package calendar

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"
)

// CalDAVCalendar is a read-only calendar provider over the CalDAV protocol
// (e.g. iCloud or a self-hosted Radicale/Nextcloud). It serves as an
// alternative reconciliation source for accounts without a Graph API.
type CalDAVCalendar struct {
	httpClient   *http.Client
	serverURL    string
	username     string
	password     string
	calendarPath string
	loc          *time.Location
	logger       zerolog.Logger
}

// NewCalDAVCalendar creates a CalDAV provider. calendarPath is the collection
// path on the server, e.g. "/user/calendars/work/".
func NewCalDAVCalendar(serverURL, username, password, calendarPath string, loc *time.Location, logger zerolog.Logger) *CalDAVCalendar {
	return &CalDAVCalendar{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		serverURL:    strings.TrimSuffix(serverURL, "/"),
		username:     username,
		password:     password,
		calendarPath: calendarPath,
		loc:          loc,
		logger:       logger.With().Str("provider", "caldav").Logger(),
	}
}

func (c *CalDAVCalendar) Name() string { return "caldav" }

func (c *CalDAVCalendar) request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	req.Header.Set("Depth", "1")
	return c.httpClient.Do(req)
}

// Events issues a calendar-query REPORT for the window and decodes every
// returned VEVENT, expanding recurrence rules into concrete occurrences.
func (c *CalDAVCalendar) Events(ctx context.Context, start, end time.Time) ([]Event, error) {
	query := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`,
		start.UTC().Format("20060102T150405Z"), end.UTC().Format("20060102T150405Z"))

	var events []Event
	err := withRetry(ctx, c.logger, "report", func() error {
		resp, err := c.request(ctx, "REPORT", c.calendarPath, strings.NewReader(query))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return transient(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMultiStatus:
		case resp.StatusCode == http.StatusUnauthorized:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("%w: caldav server returned HTTP 401", ErrAuth)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return transientAfter(fmt.Errorf("caldav server returned HTTP %d", resp.StatusCode), retryAfter(resp.Header))
		default:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("caldav server returned HTTP %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return transient(err)
		}

		events, err = c.parseReport(body, start, end)
		return err
	})
	if err != nil {
		return nil, &FetchError{Provider: c.Name(), Start: start, End: end, Err: err}
	}

	c.logger.Debug().Int("count", len(events)).Msg("fetched events from CalDAV calendar")
	return events, nil
}

func (c *CalDAVCalendar) Fingerprint(ev Event) string { return Fingerprint(ev) }

// parseReport extracts the calendar-data payloads from a multistatus REPORT
// response and converts each contained VEVENT.
func (c *CalDAVCalendar) parseReport(body []byte, start, end time.Time) ([]Event, error) {
	objects, err := parseMultistatus(body)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, data := range objects {
		cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
		if err != nil {
			c.logger.Warn().Err(err).Msg("skipping unparsable iCalendar object")
			continue
		}
		for _, icalEvent := range cal.Events() {
			evs, err := c.expandEvent(icalEvent, start, end)
			if err != nil {
				c.logger.Warn().Err(err).Msg("skipping unconvertible event")
				continue
			}
			events = append(events, evs...)
		}
	}
	return events, nil
}

// expandEvent converts one VEVENT into zero or more Events. All-day events
// (DATE-valued DTSTART) are excluded; recurring events are expanded to the
// occurrences inside the window.
func (c *CalDAVCalendar) expandEvent(icalEvent ical.Event, windowStart, windowEnd time.Time) ([]Event, error) {
	dtstart := icalEvent.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("event has no DTSTART")
	}
	if dtstart.ValueType() == ical.ValueDate {
		// All-day event.
		return nil, nil
	}

	start, err := icalEvent.DateTimeStart(c.loc)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	end, err := icalEvent.DateTimeEnd(c.loc)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	base := Event{
		Start: start.In(c.loc),
		End:   end.In(c.loc),
	}
	if uid := icalEvent.Props.Get(ical.PropUID); uid != nil {
		base.ProviderID = uid.Value
	}
	if summary := icalEvent.Props.Get(ical.PropSummary); summary != nil {
		base.Subject = summary.Value
	}
	if desc := icalEvent.Props.Get(ical.PropDescription); desc != nil {
		base.Body = desc.Value
	}

	var set *rrule.Set
	set, err = icalEvent.RecurrenceSet(c.loc)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence rule: %w", err)
	}
	if set == nil {
		return []Event{base}, nil
	}

	// Recurring event: materialize each occurrence in the window, keeping
	// the base event's duration.
	duration := base.End.Sub(base.Start)
	var events []Event
	for _, occStart := range set.Between(windowStart, windowEnd, true) {
		occ := base
		occ.Start = occStart.In(c.loc)
		occ.End = occ.Start.Add(duration)
		occ.ProviderID = fmt.Sprintf("%s/%s", base.ProviderID, occ.Start.Format("20060102T150405"))
		events = append(events, occ)
	}
	return events, nil
}

// parseMultistatus pulls the calendar-data text out of a CalDAV multistatus
// response.
func parseMultistatus(body []byte) ([]string, error) {
	type calendarData struct {
		Data string `xml:",chardata"`
	}
	type response struct {
		CalendarData calendarData `xml:"propstat>prop>calendar-data"`
	}
	type multistatus struct {
		Responses []response `xml:"response"`
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("parse multistatus response: %w", err)
	}

	var objects []string
	for _, resp := range ms.Responses {
		if resp.CalendarData.Data != "" {
			objects = append(objects, resp.CalendarData.Data)
		}
	}
	return objects, nil
}
