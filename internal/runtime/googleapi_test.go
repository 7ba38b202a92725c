package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/sendersweep/internal/mail"
)

func newGmailServer(t *testing.T, handler http.HandlerFunc) *googleClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := gmail.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewGoogleAPIClient(svc)
}

func TestGmailListCarriesQueryIntoToken(t *testing.T) {
	since := time.Unix(1714550400, 0)
	var calls int
	client := newGmailServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.HasSuffix(r.URL.Path, "/users/ops@example.com/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("q"); got != "after:1714550400" {
			t.Errorf("q=%q", got)
		}
		if got := q.Get("maxResults"); got != "25" {
			t.Errorf("maxResults=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch q.Get("pageToken") {
		case "":
			_, _ = w.Write([]byte(`{"messages":[{"id":"m1"},{"id":"m2"}],"nextPageToken":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"messages":[{"id":"m3"}]}`))
		default:
			t.Errorf("unexpected page token %q", q.Get("pageToken"))
		}
	})

	first, err := client.List(context.Background(), mail.Query{Mailbox: "ops@example.com", Since: since, PageSize: 25})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "m1" || first.Next == "" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, err := client.ListNext(context.Background(), first.Next)
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "m3" || second.Next != "" {
		t.Fatalf("unexpected second page %+v", second)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestGmailListNextRejectsMalformedToken(t *testing.T) {
	client := newGmailServer(t, func(http.ResponseWriter, *http.Request) {
		t.Errorf("no request expected")
	})
	if _, err := client.ListNext(context.Background(), "garbage"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGmailGetDetailUsesMetadata(t *testing.T) {
	client := newGmailServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/ops@example.com/messages/m1") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("format") != "metadata" {
			t.Errorf("format=%q", q.Get("format"))
		}
		if hs := q["metadataHeaders"]; len(hs) != len(detailHeaders) {
			t.Errorf("metadataHeaders=%v", hs)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "m1",
			"internalDate": "1714557600000",
			"payload": {"headers": [
				{"name": "From", "value": "Spam <bad@spam.com>"},
				{"name": "Subject", "value": "Win big"},
				{"name": "Date", "value": "Wed, 01 May 2024 10:00:00 +0000"}
			]}
		}`))
	})
	d, err := client.GetDetail(context.Background(), "ops@example.com", "m1")
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if d.ID != "m1" || d.Subject != "Win big" || d.From != "bad@spam.com" {
		t.Fatalf("unexpected detail %+v", d.Summary)
	}
	if !d.Sent.Equal(time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("sent=%v", d.Sent)
	}
	if !d.Received.Equal(time.UnixMilli(1714557600000)) {
		t.Fatalf("received=%v", d.Received)
	}
	if len(d.Headers) != 3 {
		t.Fatalf("headers=%+v", d.Headers)
	}
}

func TestGmailRateLimitForbiddenIsTransient(t *testing.T) {
	client := newGmailServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Rate Limit Exceeded","errors":[{"reason":"userRateLimitExceeded","message":"Rate Limit Exceeded"}]}}`))
	})
	_, err := client.List(context.Background(), mail.Query{Mailbox: "me", PageSize: 10})
	re, ok := mail.AsTransient(err)
	if !ok {
		t.Fatalf("expected transient, got %v", err)
	}
	if re.Status != http.StatusTooManyRequests || re.RetryAfter != 3*time.Second || re.Code != "userRateLimitExceeded" {
		t.Fatalf("unexpected remote error %+v", re)
	}
}

func TestGmailDeleteDeniedIsPermanent(t *testing.T) {
	var method string
	client := newGmailServer(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Insufficient Permission","errors":[{"reason":"insufficientPermissions"}]}}`))
	})
	err := client.Delete(context.Background(), "ops@example.com", "m1")
	if method != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", method)
	}
	var re *mail.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Transient() || re.Status != http.StatusForbidden {
		t.Fatalf("unexpected remote error %+v", re)
	}
}

func TestGmailDeleteOK(t *testing.T) {
	client := newGmailServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.Delete(context.Background(), "ops@example.com", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestScopeFor(t *testing.T) {
	if ScopeFor(false) != ScopeReadonly || ScopeFor(true) != ScopeDelete {
		t.Fatalf("scope selection inverted")
	}
}
