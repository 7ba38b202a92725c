package sweep

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Summary is the outcome of one run. Counters satisfy
// Scanned >= Matched >= Deleted+DeleteFailed.
type Summary struct {
	Mailbox      string    `json:"mailbox"`
	Sender       string    `json:"sender"`
	Since        time.Time `json:"since"`
	Delete       bool      `json:"delete"`
	Pages        int       `json:"pages"`
	Scanned      int       `json:"scanned"`
	Matched      int       `json:"matched"`
	Deleted      int       `json:"deleted"`
	DeleteFailed int       `json:"delete_failed"`
	Skipped      int       `json:"skipped"`
	Aborted      bool      `json:"aborted"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// PrintSummary writes the end-of-run summary line block.
func PrintSummary(sum Summary, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	status := "complete"
	if sum.Aborted {
		status = "ABORTED"
	}
	fmt.Fprintf(&builder, "sendersweep %s: %s, sender %q\n", status, sum.Mailbox, sum.Sender)
	fmt.Fprintf(&builder, "  scanned %d message(s) across %d page(s), matched %d\n", sum.Scanned, sum.Pages, sum.Matched)
	if sum.Delete {
		fmt.Fprintf(&builder, "  deleted %d, delete failures %d\n", sum.Deleted, sum.DeleteFailed)
	}
	if sum.Skipped > 0 {
		fmt.Fprintf(&builder, "  skipped %d message(s) after detail fetch failures\n", sum.Skipped)
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// WriteJSON serializes the summary to path, replacing any previous file.
func WriteJSON(sum Summary, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if !filepath.IsAbs(clean) && strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	f, err := os.OpenFile(clean, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", clean, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(sum); encodeErr != nil {
		return fmt.Errorf("encode summary: %w", encodeErr)
	}
	return nil
}
