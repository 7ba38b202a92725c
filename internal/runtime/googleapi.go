// internal/runtime/googleapi.go: adapts *gmail.Service to mail.Client
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	netmail "net/mail"
	"net/url"
	"strconv"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/joshsymonds/sendersweep/internal/mail"
)

// detailHeaders are requested with format=metadata; nothing else is needed
// for matching and reporting.
var detailHeaders = []string{"From", "Sender", "Return-Path", "Subject", "Date"}

type googleClient struct {
	svc *gmail.Service
	now func() time.Time
}

func NewGoogleAPIClient(svc *gmail.Service) *googleClient {
	return &googleClient{svc: svc, now: time.Now}
}

// GmailQuery renders the server-side received-date lower bound.
func GmailQuery(since time.Time) string {
	return fmt.Sprintf("after:%d", since.Unix())
}

func (g *googleClient) List(ctx context.Context, q mail.Query) (mail.Page, error) {
	return g.list(ctx, q.Mailbox, GmailQuery(q.Since), int64(q.PageSize), "")
}

// ListNext resumes a listing. Gmail page tokens are only valid together with
// the original query, so the continuation token carries both.
func (g *googleClient) ListNext(ctx context.Context, token mail.ContinuationToken) (mail.Page, error) {
	vals, err := url.ParseQuery(string(token))
	if err != nil || vals.Get("page") == "" {
		return mail.Page{}, fmt.Errorf("list next page: malformed continuation token")
	}
	maxResults, err := strconv.ParseInt(vals.Get("max"), 10, 64)
	if err != nil {
		return mail.Page{}, fmt.Errorf("list next page: malformed continuation token: %w", err)
	}
	return g.list(ctx, vals.Get("mailbox"), vals.Get("q"), maxResults, vals.Get("page"))
}

func (g *googleClient) list(ctx context.Context, mailbox, q string, maxResults int64, pageToken string) (mail.Page, error) {
	call := g.svc.Users.Messages.List(mailbox).Q(q).MaxResults(maxResults)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return mail.Page{}, g.remoteError("list messages", err)
	}
	page := mail.Page{Items: make([]mail.Summary, 0, len(res.Messages))}
	for _, m := range res.Messages {
		page.Items = append(page.Items, mail.Summary{ID: mail.MessageID(m.Id)})
	}
	if res.NextPageToken != "" {
		next := url.Values{}
		next.Set("mailbox", mailbox)
		next.Set("q", q)
		next.Set("max", strconv.FormatInt(maxResults, 10))
		next.Set("page", res.NextPageToken)
		page.Next = mail.ContinuationToken(next.Encode())
	}
	return page, nil
}

func (g *googleClient) GetDetail(ctx context.Context, mailbox string, id mail.MessageID) (mail.Detail, error) {
	msg, err := g.svc.Users.Messages.Get(mailbox, string(id)).
		Format("metadata").
		MetadataHeaders(detailHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return mail.Detail{}, g.remoteError("get message", err)
	}
	d := mail.Detail{Summary: mail.Summary{ID: id}}
	if msg.InternalDate > 0 {
		d.Received = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return d, nil
	}
	for _, h := range msg.Payload.Headers {
		d.Headers = append(d.Headers, mail.Header{Name: h.Name, Value: h.Value})
	}
	if v := d.Values("Subject"); len(v) > 0 {
		d.Subject = v[0]
	}
	if v := d.Values("From"); len(v) > 0 {
		d.From = envelopeAddress(v[0])
	}
	if v := d.Values("Date"); len(v) > 0 {
		if sent, parseErr := netmail.ParseDate(v[0]); parseErr == nil {
			d.Sent = sent
		}
	}
	return d, nil
}

func (g *googleClient) Delete(ctx context.Context, mailbox string, id mail.MessageID) error {
	if err := g.svc.Users.Messages.Delete(mailbox, string(id)).Context(ctx).Do(); err != nil {
		return g.remoteError("delete message", err)
	}
	return nil
}

// remoteError maps googleapi failures onto mail.RemoteError. Gmail reports
// quota exhaustion as 403 rateLimitExceeded; that is throttling, not a denial.
func (g *googleClient) remoteError(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	re := &mail.RemoteError{
		Provider: "gmail",
		Op:       op,
		Status:   gerr.Code,
		Message:  gerr.Message,
		Err:      err,
	}
	if gerr.Header != nil {
		re.RetryAfter = mail.ParseRetryAfter(gerr.Header.Get("Retry-After"), g.now())
	}
	for _, item := range gerr.Errors {
		if re.Code == "" {
			re.Code = item.Reason
		}
		if gerr.Code == http.StatusForbidden && (item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded") {
			re.Status = http.StatusTooManyRequests
		}
	}
	return re
}

func envelopeAddress(from string) string {
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return from
	}
	return addr.Address
}

var _ mail.Client = (*googleClient)(nil)
