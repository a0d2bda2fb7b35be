package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func icsObject(lines ...string) string {
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func multistatusBody(objects ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">`)
	for i, obj := range objects {
		fmt.Fprintf(&b, `<D:response><D:href>/test/calendars/work/%d.ics</D:href>`, i)
		b.WriteString(`<D:propstat><D:prop><D:getetag>"etag"</D:getetag><C:calendar-data>`)
		b.WriteString(obj)
		b.WriteString(`</C:calendar-data></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`)
	}
	b.WriteString(`</D:multistatus>`)
	return b.String()
}

func newTestCalDAVCalendar(srv *httptest.Server) *CalDAVCalendar {
	c := NewCalDAVCalendar(srv.URL, "user", "secret", "/test/calendars/work/", time.UTC, zerolog.Nop())
	c.httpClient = srv.Client()
	return c
}

func caldavWindow() (time.Time, time.Time) {
	return time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)
}

func TestCalDAVEvents_ParsesReport(t *testing.T) {
	var gotMethod, gotDepth, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotDepth = r.Header.Get("Depth")
		user, pass, _ := r.BasicAuth()
		gotAuth = user + ":" + pass

		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, multistatusBody(icsObject(
			"BEGIN:VEVENT",
			"UID:meeting-1",
			"SUMMARY:Architecture Review",
			"DESCRIPTION:Bring diagrams",
			"DTSTART:20240311T140000Z",
			"DTEND:20240311T150000Z",
			"END:VEVENT",
		)))
	}))
	defer srv.Close()

	start, end := caldavWindow()
	events, err := newTestCalDAVCalendar(srv).Events(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Events() returned an error: %v", err)
	}

	if gotMethod != "REPORT" {
		t.Errorf("Expected a REPORT request, got %s", gotMethod)
	}
	if gotDepth != "1" {
		t.Errorf("Expected Depth: 1, got %q", gotDepth)
	}
	if gotAuth != "user:secret" {
		t.Errorf("Expected basic auth credentials, got %q", gotAuth)
	}

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.ProviderID != "meeting-1" {
		t.Errorf("Expected UID as provider ID, got %q", ev.ProviderID)
	}
	if ev.Subject != "Architecture Review" {
		t.Errorf("Expected subject 'Architecture Review', got %q", ev.Subject)
	}
	if ev.Body != "Bring diagrams" {
		t.Errorf("Expected the description as body, got %q", ev.Body)
	}
	wantStart := time.Date(2024, 3, 11, 14, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) {
		t.Errorf("Expected start %v, got %v", wantStart, ev.Start)
	}
}

func TestCalDAVEvents_ExcludesAllDayEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, multistatusBody(
			icsObject(
				"BEGIN:VEVENT",
				"UID:allday-1",
				"SUMMARY:Public Holiday",
				"DTSTART;VALUE=DATE:20240311",
				"DTEND;VALUE=DATE:20240312",
				"END:VEVENT",
			),
			icsObject(
				"BEGIN:VEVENT",
				"UID:timed-1",
				"SUMMARY:Standup",
				"DTSTART:20240311T090000Z",
				"DTEND:20240311T091500Z",
				"END:VEVENT",
			),
		))
	}))
	defer srv.Close()

	start, end := caldavWindow()
	events, err := newTestCalDAVCalendar(srv).Events(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Events() returned an error: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected only the timed event, got %d events", len(events))
	}
	if events[0].ProviderID != "timed-1" {
		t.Errorf("Expected 'timed-1' to survive, got %q", events[0].ProviderID)
	}
}

func TestCalDAVEvents_ExpandsRecurringEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, multistatusBody(icsObject(
			"BEGIN:VEVENT",
			"UID:daily-1",
			"SUMMARY:Daily Standup",
			"DTSTART:20240311T090000Z",
			"DTEND:20240311T091500Z",
			"RRULE:FREQ=DAILY;COUNT=3",
			"END:VEVENT",
		)))
	}))
	defer srv.Close()

	start, end := caldavWindow()
	events, err := newTestCalDAVCalendar(srv).Events(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Events() returned an error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("Expected 3 occurrences, got %d", len(events))
	}
	for i, ev := range events {
		wantStart := time.Date(2024, 3, 11+i, 9, 0, 0, 0, time.UTC)
		if !ev.Start.Equal(wantStart) {
			t.Errorf("Occurrence %d: expected start %v, got %v", i, wantStart, ev.Start)
		}
		if got := ev.End.Sub(ev.Start); got != 15*time.Minute {
			t.Errorf("Occurrence %d: expected the base duration, got %v", i, got)
		}
		if ev.Subject != "Daily Standup" {
			t.Errorf("Occurrence %d: expected the base subject, got %q", i, ev.Subject)
		}
	}

	// Occurrences must stay distinguishable for later deletes.
	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.ProviderID] {
			t.Errorf("Duplicate occurrence ID %q", ev.ProviderID)
		}
		seen[ev.ProviderID] = true
	}
}

func TestCalDAVEvents_UnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	start, end := caldavWindow()
	_, err := newTestCalDAVCalendar(srv).Events(context.Background(), start, end)
	if !IsAuthError(err) {
		t.Fatalf("Expected an auth error for HTTP 401, got %v", err)
	}
}

func TestParseMultistatus_EmptyResponse(t *testing.T) {
	body := `<?xml version="1.0"?><D:multistatus xmlns:D="DAV:"></D:multistatus>`
	objects, err := parseMultistatus([]byte(body))
	if err != nil {
		t.Fatalf("parseMultistatus returned an error: %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("Expected no objects, got %d", len(objects))
	}
}

func TestParseMultistatus_Malformed(t *testing.T) {
	if _, err := parseMultistatus([]byte("this is not xml")); err == nil {
		t.Error("Expected an error for a malformed response")
	}
}
