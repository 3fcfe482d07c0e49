package mailbox_test

import (
	"context"
	"errors"
	"testing"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/mailbox/mailboxtest"
)

type countingOpener struct {
	opens int
	err   error
}

func (o *countingOpener) Open(_ context.Context, userID int64) (mailbox.Client, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return mailboxtest.New("user@example.com"), nil
}

func TestAccountCacheReusesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	opener := &countingOpener{}
	cache := mailbox.NewAccountCache(opener, 4)

	first, err := cache.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, _ := cache.Get(ctx, 1)
	if first != second || opener.opens != 1 {
		t.Fatalf("expected cached client, opens=%d", opener.opens)
	}

	cache.Invalidate(1)
	third, _ := cache.Get(ctx, 1)
	if third == first || opener.opens != 2 {
		t.Fatalf("expected a fresh client after invalidate, opens=%d", opener.opens)
	}
}

func TestAccountCacheDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	opener := &countingOpener{err: mailbox.ErrNotConnected}
	cache := mailbox.NewAccountCache(opener, 4)

	if _, err := cache.Get(ctx, 7); !errors.Is(err, mailbox.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	opener.err = nil
	if _, err := cache.Get(ctx, 7); err != nil {
		t.Fatalf("retry after error: %v", err)
	}
	if opener.opens != 2 {
		t.Errorf("opens = %d", opener.opens)
	}
}
