package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func newTestGoogleCalendar(t *testing.T, srv *httptest.Server) *GoogleCalendar {
	t.Helper()
	service, err := gcal.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("Failed to create calendar service: %v", err)
	}
	return &GoogleCalendar{
		service:    service,
		calendarID: "cal-1",
		loc:        time.UTC,
		logger:     zerolog.Nop(),
	}
}

func TestGoogleEvents_FiltersCancelledAndAllDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&gcal.Events{Items: []*gcal.Event{
			{
				Id:      "ev-1",
				Summary: "Cancelled Meeting",
				Status:  "cancelled",
			},
			{
				Id:      "ev-2",
				Summary: "Vacation",
				Start:   &gcal.EventDateTime{Date: "2024-03-11"},
				End:     &gcal.EventDateTime{Date: "2024-03-12"},
			},
			{
				Id:      "ev-3",
				Summary: "Real Meeting",
				Start:   &gcal.EventDateTime{DateTime: "2024-03-11T10:00:00Z"},
				End:     &gcal.EventDateTime{DateTime: "2024-03-11T11:00:00Z"},
			},
		}})
	}))
	defer srv.Close()

	events, err := newTestGoogleCalendar(t, srv).Events(context.Background(),
		time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Events() returned an error: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected only the real meeting, got %d events", len(events))
	}
	if events[0].Subject != "Real Meeting" {
		t.Errorf("Expected 'Real Meeting', got %q", events[0].Subject)
	}
	wantStart := time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)
	if !events[0].Start.Equal(wantStart) {
		t.Errorf("Expected start %v, got %v", wantStart, events[0].Start)
	}
}

func TestGoogleEvents_FollowsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := &gcal.Events{}
		if r.URL.Query().Get("pageToken") == "page-2" {
			page.Items = []*gcal.Event{{
				Id:      "ev-2",
				Summary: "Second",
				Start:   &gcal.EventDateTime{DateTime: "2024-03-11T14:00:00Z"},
				End:     &gcal.EventDateTime{DateTime: "2024-03-11T15:00:00Z"},
			}}
		} else {
			page.Items = []*gcal.Event{{
				Id:      "ev-1",
				Summary: "First",
				Start:   &gcal.EventDateTime{DateTime: "2024-03-11T09:00:00Z"},
				End:     &gcal.EventDateTime{DateTime: "2024-03-11T10:00:00Z"},
			}}
			page.NextPageToken = "page-2"
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	events, err := newTestGoogleCalendar(t, srv).Events(context.Background(),
		time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Events() returned an error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events across 2 pages, got %d", len(events))
	}
}

func TestGoogleCreate_OmitsEmptyBody(t *testing.T) {
	var inserted gcal.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&inserted); err != nil {
			t.Errorf("Failed to decode insert payload: %v", err)
		}
		inserted.Id = "created-1"
		json.NewEncoder(w).Encode(&inserted)
	}))
	defer srv.Close()

	c := newTestGoogleCalendar(t, srv)
	created, err := c.Create(context.Background(), Event{
		Subject: "No Notes",
		Start:   time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 3, 11, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Create() returned an error: %v", err)
	}

	if inserted.Description != "" {
		t.Errorf("Expected an empty body to be omitted, got %q", inserted.Description)
	}
	if inserted.Summary != "No Notes" {
		t.Errorf("Expected the subject to be sent, got %q", inserted.Summary)
	}
	if created.ProviderID != "created-1" {
		t.Errorf("Expected the assigned event ID, got %q", created.ProviderID)
	}
}

func TestGoogleDelete_MissingEventIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 404, "message": "Not Found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestGoogleCalendar(t, srv).Delete(context.Background(), Event{ProviderID: "gone-1"})
	if err != nil {
		t.Errorf("Delete() of an already removed event should succeed, got: %v", err)
	}
}

func TestClassifyGoogleError(t *testing.T) {
	if err := classifyGoogleError(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("Context errors must pass through, got %v", err)
	}

	unauthorized := &googleapi.Error{Code: http.StatusUnauthorized}
	if err := classifyGoogleError(unauthorized); !IsAuthError(err) {
		t.Errorf("HTTP 401 should classify as an auth error, got %v", err)
	}

	rateLimited := &googleapi.Error{
		Code:   http.StatusForbidden,
		Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}},
	}
	var tr *transientError
	if err := classifyGoogleError(rateLimited); !errors.As(err, &tr) {
		t.Errorf("Rate-limited 403 should classify as transient, got %v", err)
	}

	serverErr := &googleapi.Error{Code: http.StatusBadGateway}
	if err := classifyGoogleError(serverErr); !errors.As(err, &tr) {
		t.Errorf("HTTP 502 should classify as transient, got %v", err)
	}

	forbidden := &googleapi.Error{Code: http.StatusForbidden}
	if err := classifyGoogleError(forbidden); errors.As(err, &tr) || IsAuthError(err) {
		t.Errorf("A plain 403 should surface as-is, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if got := retryAfter(h); got != 0 {
		t.Errorf("Expected 0 for a missing header, got %v", got)
	}

	h.Set("Retry-After", "30")
	if got := retryAfter(h); got != 30*time.Second {
		t.Errorf("Expected 30s, got %v", got)
	}

	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if got := retryAfter(h); got != 0 {
		t.Errorf("Expected 0 for an HTTP-date header, got %v", got)
	}
}
