// Package audit persists one row per matched message to an append-only CSV file.
package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Columns is the fixed header row. Order matches Record.row.
var Columns = []string{"mailbox_id", "message_id", "sent_timestamp", "subject", "matched_sender", "deleted"}

// Record describes the final outcome of one matched message.
type Record struct {
	Mailbox       string
	MessageID     string
	Sent          time.Time
	Subject       string
	MatchedSender string
	Deleted       bool
}

func (r Record) row() []string {
	sent := ""
	if !r.Sent.IsZero() {
		sent = r.Sent.UTC().Format(time.RFC3339)
	}
	return []string{r.Mailbox, r.MessageID, sent, r.Subject, r.MatchedSender, strconv.FormatBool(r.Deleted)}
}

// Sink is an open audit file. Every Append reaches the OS before it returns.
type Sink struct {
	path string
	f    *os.File
	w    *csv.Writer
	rows int
}

// Open creates path with a header row, or appends to it when it already
// holds data. Reopening never rewrites the header.
func Open(path string) (*Sink, error) {
	clean := filepath.Clean(strings.TrimSpace(path))
	if clean == "" || clean == "." {
		return nil, errors.New("audit path must not be empty")
	}
	f, err := os.OpenFile(clean, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open audit file %s: %w", clean, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat audit file %s: %w", clean, err)
	}
	s := &Sink{path: clean, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.write(Columns); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write audit header: %w", err)
		}
	}
	return s, nil
}

// Append writes and flushes a single record.
func (s *Sink) Append(rec Record) error {
	if err := s.write(rec.row()); err != nil {
		return fmt.Errorf("append audit record %s: %w", rec.MessageID, err)
	}
	s.rows++
	return nil
}

func (s *Sink) write(fields []string) error {
	if err := s.w.Write(fields); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.f.Sync()
}

// Rows reports how many records this Sink appended.
func (s *Sink) Rows() int { return s.rows }

// Path returns the cleaned file path.
func (s *Sink) Path() string { return s.path }

// Close flushes and releases the file. It is safe to call more than once.
func (s *Sink) Close() error {
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.f.Close()
	s.f = nil
	if flushErr != nil {
		return fmt.Errorf("flush audit file: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close audit file: %w", closeErr)
	}
	return nil
}
