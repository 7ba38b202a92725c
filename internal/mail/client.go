package mail

import "context"

// Client is the narrow mail-hosting surface required by sendersweep.
// The authenticated session lives inside the implementation.
type Client interface {
	List(ctx context.Context, q Query) (Page, error)
	ListNext(ctx context.Context, token ContinuationToken) (Page, error)
	GetDetail(ctx context.Context, mailbox string, id MessageID) (Detail, error)
	Delete(ctx context.Context, mailbox string, id MessageID) error
}
