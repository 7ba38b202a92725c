// internal/runtime/graph.go: Microsoft Graph mailbox adapter
package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/joshsymonds/sendersweep/internal/mail"
)

const (
	GraphBaseURL = "https://graph.microsoft.com/v1.0"

	graphListSelect   = "id,subject,sentDateTime,receivedDateTime,from"
	graphDetailSelect = "id,subject,sentDateTime,receivedDateTime,from,internetMessageHeaders"
	maxErrorBody      = 64 << 10
)

// GraphClient implements mail.Client against /users/{mailbox}/messages.
type GraphClient struct {
	http    *http.Client
	baseURL string
	now     func() time.Time
}

// NewGraphClient wraps an already authenticated HTTP client.
func NewGraphClient(httpClient *http.Client, baseURL string) *GraphClient {
	if baseURL == "" {
		baseURL = GraphBaseURL
	}
	return &GraphClient{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// GraphFilter renders the server-side received-date lower bound.
func GraphFilter(since time.Time) string {
	return "receivedDateTime ge " + since.UTC().Format(time.RFC3339)
}

func (g *GraphClient) messagesURL(mailbox string) string {
	return g.baseURL + "/users/" + url.PathEscape(mailbox) + "/messages"
}

func (g *GraphClient) List(ctx context.Context, q mail.Query) (mail.Page, error) {
	params := url.Values{}
	params.Set("$filter", GraphFilter(q.Since))
	params.Set("$select", graphListSelect)
	params.Set("$top", fmt.Sprintf("%d", q.PageSize))
	return g.page(ctx, "list messages", g.messagesURL(q.Mailbox)+"?"+params.Encode())
}

// ListNext follows @odata.nextLink verbatim; it already carries filter, select and skip token.
func (g *GraphClient) ListNext(ctx context.Context, token mail.ContinuationToken) (mail.Page, error) {
	if token == "" {
		return mail.Page{}, fmt.Errorf("list next page: empty continuation token")
	}
	return g.page(ctx, "list next page", string(token))
}

func (g *GraphClient) page(ctx context.Context, op, rawURL string) (mail.Page, error) {
	var resp struct {
		Value    []graphMessage `json:"value"`
		NextLink string         `json:"@odata.nextLink"`
	}
	if err := g.do(ctx, op, http.MethodGet, rawURL, &resp); err != nil {
		return mail.Page{}, err
	}
	items := make([]mail.Summary, 0, len(resp.Value))
	for i := range resp.Value {
		items = append(items, resp.Value[i].summary())
	}
	return mail.Page{Items: items, Next: mail.ContinuationToken(resp.NextLink)}, nil
}

func (g *GraphClient) GetDetail(ctx context.Context, mailbox string, id mail.MessageID) (mail.Detail, error) {
	params := url.Values{}
	params.Set("$select", graphDetailSelect)
	rawURL := g.messagesURL(mailbox) + "/" + url.PathEscape(string(id)) + "?" + params.Encode()

	var msg graphMessage
	if err := g.do(ctx, "get message", http.MethodGet, rawURL, &msg); err != nil {
		return mail.Detail{}, err
	}
	d := mail.Detail{Summary: msg.summary()}
	for _, h := range msg.Headers {
		d.Headers = append(d.Headers, mail.Header{Name: h.Name, Value: h.Value})
	}
	return d, nil
}

func (g *GraphClient) Delete(ctx context.Context, mailbox string, id mail.MessageID) error {
	rawURL := g.messagesURL(mailbox) + "/" + url.PathEscape(string(id))
	return g.do(ctx, "delete message", http.MethodDelete, rawURL, nil)
}

func (g *GraphClient) do(ctx context.Context, op, method, rawURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return g.remoteError(op, resp)
	}
	if result == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (g *GraphClient) remoteError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	re := &mail.RemoteError{
		Provider:   "graph",
		Op:         op,
		Status:     resp.StatusCode,
		RetryAfter: mail.ParseRetryAfter(resp.Header.Get("Retry-After"), g.now()),
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		re.Code = envelope.Error.Code
		re.Message = envelope.Error.Message
	} else {
		re.Message = strings.TrimSpace(string(body))
	}
	return re
}

// Graph API types

type graphMessage struct {
	ID               string        `json:"id"`
	Subject          string        `json:"subject"`
	SentDateTime     string        `json:"sentDateTime"`
	ReceivedDateTime string        `json:"receivedDateTime"`
	From             *graphSender  `json:"from"`
	Headers          []graphHeader `json:"internetMessageHeaders"`
}

type graphSender struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (m *graphMessage) summary() mail.Summary {
	s := mail.Summary{
		ID:      mail.MessageID(m.ID),
		Subject: m.Subject,
	}
	s.Sent, _ = time.Parse(time.RFC3339, m.SentDateTime)
	s.Received, _ = time.Parse(time.RFC3339, m.ReceivedDateTime)
	if m.From != nil {
		s.From = m.From.EmailAddress.Address
	}
	return s
}

var _ mail.Client = (*GraphClient)(nil)
