// Package mailboxtest provides an in-memory mailbox.Client for tests.
package mailboxtest

import (
	"context"
	"strings"
	"sync"

	"mailpilot/internal/mailbox"
)

type Reply struct {
	MessageID string
	Body      string
}

// Fake serves Inbox and Sent from memory and records replies.
type Fake struct {
	OwnerAddr string
	Inbox     []mailbox.Message
	Sent      []mailbox.Message
	Directory map[string]mailbox.DirectoryEntry

	FetchErr error
	SentErr  error
	SendErr  error

	mu      sync.Mutex
	Replies []Reply
	Lookups []string
}

func New(owner string) *Fake {
	return &Fake{OwnerAddr: strings.ToLower(owner), Directory: map[string]mailbox.DirectoryEntry{}}
}

func (f *Fake) Owner() string { return f.OwnerAddr }

func (f *Fake) FetchInbox(_ context.Context, w mailbox.Window, max int) ([]mailbox.Message, error) {
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return filter(f.Inbox, w, max), nil
}

func (f *Fake) FetchSent(_ context.Context, w mailbox.Window, max int) ([]mailbox.Message, error) {
	if f.SentErr != nil {
		return nil, f.SentErr
	}
	return filter(f.Sent, w, max), nil
}

func (f *Fake) GetMessage(_ context.Context, messageID string) (*mailbox.Message, error) {
	want := mailbox.NormalizeMessageID(messageID)
	for _, list := range [][]mailbox.Message{f.Inbox, f.Sent} {
		for i := range list {
			if mailbox.NormalizeMessageID(list[i].ID) == want {
				m := list[i]
				return &m, nil
			}
		}
	}
	return nil, mailbox.ErrItemNotFound
}

func (f *Fake) SendReply(ctx context.Context, messageID, body string) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	if _, err := f.GetMessage(ctx, messageID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Replies = append(f.Replies, Reply{MessageID: messageID, Body: body})
	return nil
}

func (f *Fake) ResolveDirectory(_ context.Context, email string) (*mailbox.DirectoryEntry, bool) {
	f.mu.Lock()
	f.Lookups = append(f.Lookups, email)
	f.mu.Unlock()
	e, ok := f.Directory[strings.ToLower(email)]
	if !ok {
		return nil, false
	}
	return &e, true
}

func filter(msgs []mailbox.Message, w mailbox.Window, max int) []mailbox.Message {
	var out []mailbox.Message
	for _, m := range msgs {
		if !w.Contains(m.ReceivedAt) {
			continue
		}
		out = append(out, m)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
