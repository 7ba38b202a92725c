package sweep

import (
	"strings"

	"github.com/joshsymonds/sendersweep/internal/mail"
)

// senderHeaders are the only headers inspected for sender identity.
var senderHeaders = []string{"From", "Sender", "Return-Path"}

func isSenderHeader(name string) bool {
	for _, h := range senderHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// MatchSender reports whether any From, Sender or Return-Path header of d
// contains sender, ignoring case. The first matching header in server order
// wins and its raw value is returned. The envelope sender is not consulted.
func MatchSender(d mail.Detail, sender string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(sender))
	if needle == "" {
		return "", false
	}
	for _, h := range d.Headers {
		if !isSenderHeader(h.Name) {
			continue
		}
		if strings.Contains(strings.ToLower(h.Value), needle) {
			return h.Value, true
		}
	}
	return "", false
}
