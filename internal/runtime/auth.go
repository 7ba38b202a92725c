// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/sendersweep/internal/config"
	"github.com/joshsymonds/sendersweep/internal/mail"
)

const (
	graphScope       = "https://graph.microsoft.com/.default"
	graphTokenURLFmt = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	httpTimeout      = 60 * time.Second
)

type Scope int

const (
	ScopeReadonly Scope = iota
	ScopeDelete
)

// ScopeFor picks the narrowest scope that still allows the requested run.
func ScopeFor(deleteEnabled bool) Scope {
	if deleteEnabled {
		return ScopeDelete
	}
	return ScopeReadonly
}

// NewClient opens an authenticated session for the configured provider.
func NewClient(ctx context.Context, cfg config.Config) (mail.Client, error) {
	switch cfg.Provider {
	case config.ProviderGraph:
		httpClient := NewGraphHTTPClient(ctx, cfg.GraphTenantID, cfg.GraphClientID, cfg.GraphClientSecret)
		return NewGraphClient(httpClient, cfg.GraphBaseURL), nil
	case config.ProviderGmail:
		return NewGmailClient(ctx, cfg.GmailCredentialsFile, cfg.Mailbox, ScopeFor(cfg.Delete))
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewGraphHTTPClient returns an HTTP client that attaches app-only tokens
// obtained with the client-credentials grant. Tokens are refreshed on expiry.
func NewGraphHTTPClient(ctx context.Context, tenantID, clientID, secret string) *http.Client {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     fmt.Sprintf(graphTokenURLFmt, tenantID),
		Scopes:       []string{graphScope},
	}
	base := &http.Client{Timeout: httpTimeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = httpTimeout
	return client
}

// NewGmailClient authenticates a service account with domain-wide delegation
// and impersonates mailbox.
func NewGmailClient(ctx context.Context, credentialsFile, mailbox string, scope Scope) (mail.Client, error) {
	data, err := os.ReadFile(credentialsFile) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	var scopeURL string
	switch scope {
	case ScopeReadonly:
		scopeURL = gmail.GmailReadonlyScope
	case ScopeDelete:
		// permanent delete is only granted by the full mail scope
		scopeURL = gmail.MailGoogleComScope
	default:
		return nil, fmt.Errorf("unknown scope %d", scope)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, scopeURL)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	jwtCfg.Subject = mailbox

	base := &http.Client{Timeout: httpTimeout}
	httpClient := jwtCfg.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc), nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewLogger builds the process logger. format is "text" or "json".
func NewLogger(format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
