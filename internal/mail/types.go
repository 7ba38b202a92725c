// internal/mail/types.go
package mail

import (
	"strings"
	"time"
)

type MessageID string

// ContinuationToken is an opaque, server-issued cursor. Callers never parse it.
type ContinuationToken string

type Header struct {
	Name  string
	Value string
}

// Summary is what a list call returns for one message.
type Summary struct {
	ID       MessageID
	Sent     time.Time
	Received time.Time
	Subject  string
	From     string // envelope sender address
}

// Detail is a Summary enriched with the raw internet headers.
type Detail struct {
	Summary
	Headers []Header
}

// Values returns the values of every header named name, compared
// case-insensitively, in the order the server returned them.
func (d Detail) Values(name string) []string {
	var out []string
	for _, h := range d.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Query is the initial list request. Since is the server-side lower bound on
// the received timestamp; everything else is matched client side.
type Query struct {
	Mailbox  string
	Since    time.Time
	PageSize int
}

type Page struct {
	Items []Summary
	Next  ContinuationToken // empty on the last page
}
