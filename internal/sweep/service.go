// internal/sweep/service.go
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/sendersweep/internal/audit"
	"github.com/joshsymonds/sendersweep/internal/mail"
	"github.com/joshsymonds/sendersweep/internal/rate"
	"github.com/joshsymonds/sendersweep/internal/retry"
)

const (
	DefaultPageSize  = 50
	DefaultItemPause = 200 * time.Millisecond
)

// ErrScanAborted wraps every failure that stops a scan before the last page.
// Audit rows written before the abort stay valid.
var ErrScanAborted = errors.New("scan aborted")

// Spec describes one cleanup run against one mailbox.
type Spec struct {
	Mailbox         string
	Sender          string
	Since           time.Time // server-side lower bound on received time
	PageSize        int
	Delete          bool
	SkipFailedItems bool // log and skip items whose detail fetch fails instead of aborting
}

// Recorder receives one record per matched message.
type Recorder interface {
	Append(rec audit.Record) error
}

// Service drives the list, enrich, filter, delete and record loop.
type Service struct {
	Client   mail.Client
	Exec     *retry.Executor
	Limiter  rate.Limiter // consulted before every remote call
	Pause    rate.Limiter // consulted after every item
	Recorder Recorder     // optional
	Log      *slog.Logger
	Out      io.Writer // human progress lines
	Clock    func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(client mail.Client, exec *retry.Executor, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if exec == nil {
		exec = retry.NewExecutor(retry.DefaultMaxRetries, retry.DefaultBaseDelay, logger)
	}
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	return &Service{
		Client:  client,
		Exec:    exec,
		Limiter: limiter,
		Pause:   rate.Pause(DefaultItemPause),
		Log:     logger,
		Out:     os.Stdout,
		Clock:   time.Now,
	}
}

// Run scans the whole result set exactly once, in server order. The returned
// Summary is populated even when the run aborts.
func (s *Service) Run(ctx context.Context, spec Spec) (Summary, error) {
	if spec.Mailbox == "" {
		return Summary{}, errors.New("mailbox must not be empty")
	}
	if spec.Sender == "" {
		return Summary{}, errors.New("sender must not be empty")
	}
	if spec.PageSize <= 0 {
		spec.PageSize = DefaultPageSize
	}

	sum := Summary{
		Mailbox:   spec.Mailbox,
		Sender:    spec.Sender,
		Since:     spec.Since,
		Delete:    spec.Delete,
		StartedAt: s.Clock(),
	}
	s.Log.InfoContext(ctx, "starting scan",
		slog.String("mailbox", spec.Mailbox),
		slog.String("sender", spec.Sender),
		slog.Time("since", spec.Since),
		slog.Int("page_size", spec.PageSize),
		slog.Bool("delete", spec.Delete),
	)

	page, err := s.firstPage(ctx, spec)
	for {
		if err != nil {
			return s.abort(ctx, sum, err)
		}
		sum.Pages++
		for _, item := range page.Items {
			if itemErr := s.processItem(ctx, spec, item, &sum); itemErr != nil {
				return s.abort(ctx, sum, itemErr)
			}
		}
		if page.Next == "" {
			break
		}
		fmt.Fprintf(s.Out, "page %d done: %d scanned, %d matched so far\n", sum.Pages, sum.Scanned, sum.Matched)
		s.Log.InfoContext(ctx, "page complete",
			slog.Int("page", sum.Pages),
			slog.Int("scanned", sum.Scanned),
			slog.Int("matched", sum.Matched),
		)
		page, err = s.nextPage(ctx, page.Next)
	}

	sum.FinishedAt = s.Clock()
	s.Log.InfoContext(ctx, "scan complete",
		slog.Int("pages", sum.Pages),
		slog.Int("scanned", sum.Scanned),
		slog.Int("matched", sum.Matched),
		slog.Int("deleted", sum.Deleted),
		slog.Int("delete_failed", sum.DeleteFailed),
		slog.Int("skipped", sum.Skipped),
	)
	if printErr := PrintSummary(sum, s.Out); printErr != nil {
		return sum, printErr
	}
	return sum, nil
}

func (s *Service) abort(ctx context.Context, sum Summary, err error) (Summary, error) {
	sum.Aborted = true
	sum.FinishedAt = s.Clock()
	s.Log.ErrorContext(ctx, "scan aborted",
		slog.Int("pages", sum.Pages),
		slog.Int("scanned", sum.Scanned),
		slog.Int("matched", sum.Matched),
		slog.Any("error", err),
	)
	return sum, fmt.Errorf("%w: %w", ErrScanAborted, err)
}

func (s *Service) firstPage(ctx context.Context, spec Spec) (mail.Page, error) {
	q := mail.Query{Mailbox: spec.Mailbox, Since: spec.Since, PageSize: spec.PageSize}
	page, err := retry.Do(ctx, s.Exec, "list messages", func(ctx context.Context) (mail.Page, error) {
		if err := s.wait(ctx, "rate limit list"); err != nil {
			return mail.Page{}, err
		}
		return s.Client.List(ctx, q)
	})
	if err != nil {
		return mail.Page{}, fmt.Errorf("list messages: %w", err)
	}
	return page, nil
}

func (s *Service) nextPage(ctx context.Context, token mail.ContinuationToken) (mail.Page, error) {
	page, err := retry.Do(ctx, s.Exec, "list next page", func(ctx context.Context) (mail.Page, error) {
		if err := s.wait(ctx, "rate limit list"); err != nil {
			return mail.Page{}, err
		}
		return s.Client.ListNext(ctx, token)
	})
	if err != nil {
		return mail.Page{}, fmt.Errorf("list next page: %w", err)
	}
	return page, nil
}

func (s *Service) fetchDetail(ctx context.Context, mailbox string, id mail.MessageID) (mail.Detail, error) {
	return retry.Do(ctx, s.Exec, "get detail", func(ctx context.Context) (mail.Detail, error) {
		if err := s.wait(ctx, "rate limit detail"); err != nil {
			return mail.Detail{}, err
		}
		return s.Client.GetDetail(ctx, mailbox, id)
	})
}

func (s *Service) deleteMessage(ctx context.Context, mailbox string, id mail.MessageID) error {
	return s.Exec.Run(ctx, "delete message", func(ctx context.Context) error {
		if err := s.wait(ctx, "rate limit delete"); err != nil {
			return err
		}
		return s.Client.Delete(ctx, mailbox, id)
	})
}

// processItem returns an error only when the whole scan must stop.
func (s *Service) processItem(ctx context.Context, spec Spec, item mail.Summary, sum *Summary) error {
	sum.Scanned++

	detail, err := s.fetchDetail(ctx, spec.Mailbox, item.ID)
	if err != nil {
		if ctx.Err() != nil || !spec.SkipFailedItems {
			return fmt.Errorf("get detail %s: %w", item.ID, err)
		}
		sum.Skipped++
		s.Log.ErrorContext(ctx, "partial failure: skipping message",
			slog.String("stage", "detail"),
			slog.String("message_id", string(item.ID)),
			slog.Any("error", err),
		)
		return s.pause(ctx)
	}

	matched, ok := MatchSender(detail, spec.Sender)
	if !ok {
		s.Log.DebugContext(ctx, "no sender match", slog.String("message_id", string(item.ID)))
		return s.pause(ctx)
	}

	sum.Matched++
	fmt.Fprintf(s.Out, "[%d] %s | %s | %s\n", sum.Matched, formatTime(timestampOf(detail)), detail.Subject, matched)

	deleted := false
	var deleteErr error
	if spec.Delete {
		deleteErr = s.deleteMessage(ctx, spec.Mailbox, item.ID)
		if deleteErr == nil {
			deleted = true
			sum.Deleted++
		} else {
			sum.DeleteFailed++
			fmt.Fprintf(s.Out, "    delete failed: %v\n", deleteErr)
			s.Log.ErrorContext(ctx, "partial failure: delete failed",
				slog.String("stage", "delete"),
				slog.String("message_id", string(item.ID)),
				slog.Any("error", deleteErr),
			)
		}
	}

	if err := s.record(spec, item.ID, detail, matched, deleted); err != nil {
		return err
	}
	if deleteErr != nil && ctx.Err() != nil {
		return fmt.Errorf("delete %s: %w", item.ID, deleteErr)
	}
	return s.pause(ctx)
}

func (s *Service) record(spec Spec, id mail.MessageID, detail mail.Detail, matched string, deleted bool) error {
	if s.Recorder == nil {
		return nil
	}
	rec := audit.Record{
		Mailbox:       spec.Mailbox,
		MessageID:     string(id),
		Sent:          timestampOf(detail),
		Subject:       detail.Subject,
		MatchedSender: matched,
		Deleted:       deleted,
	}
	if err := s.Recorder.Append(rec); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

func (s *Service) wait(ctx context.Context, operation string) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (s *Service) pause(ctx context.Context) error {
	if s.Pause == nil {
		return nil
	}
	if err := s.Pause.Wait(ctx); err != nil {
		return fmt.Errorf("item pause: %w", err)
	}
	return nil
}

// timestampOf prefers the sent time and falls back to the received time.
func timestampOf(d mail.Detail) time.Time {
	if !d.Sent.IsZero() {
		return d.Sent
	}
	return d.Received
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
