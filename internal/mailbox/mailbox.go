// Package mailbox 定义邮箱能力接口及 Gmail 实现
package mailbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailpilot/internal/model"
)

// ErrItemNotFound means the message can no longer be resolved by its stable id.
var ErrItemNotFound = errors.New("mailbox item not found")

// ErrNotConnected 用户尚未授权邮箱
var ErrNotConnected = errors.New("mailbox not connected")

type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DisplayName 优先返回名称，其次邮箱
func (a Address) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Email != "" {
		return a.Email
	}
	return "Unknown"
}

// Message is a provider-neutral mail item. ID is the RFC 822 Message-ID and
// is the durable key; Item is the provider handle and may expire.
type Message struct {
	ID         string        `json:"message_id"`
	InReplyTo  string        `json:"in_reply_to,omitempty"`
	Subject    string        `json:"subject"`
	From       Address       `json:"from"`
	To         []Address     `json:"to"`
	Cc         []Address     `json:"cc"`
	Body       string        `json:"body"`
	ReceivedAt time.Time     `json:"received_at"`
	SentAt     time.Time     `json:"sent_at"`
	Item       model.ItemRef `json:"item"`
}

// Window is the half-open range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

type DirectoryEntry struct {
	Name           string `json:"name"`
	JobTitle       string `json:"job_title"`
	Department     string `json:"department"`
	OfficeLocation string `json:"office_location"`
	ManagerName    string `json:"manager_name"`
}

// Client is the mailbox capability the pipeline consumes.
type Client interface {
	// Owner 返回已认证邮箱地址（小写）
	Owner() string
	FetchInbox(ctx context.Context, w Window, max int) ([]Message, error)
	FetchSent(ctx context.Context, w Window, max int) ([]Message, error)
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	SendReply(ctx context.Context, messageID, body string) error
	ResolveDirectory(ctx context.Context, email string) (*DirectoryEntry, bool)
}

// NormalizeMessageID 去掉尖括号与空白，便于跨来源比较
func NormalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// AddressedTo reports whether any of the addresses is owner.
func AddressedTo(addrs []Address, owner string) bool {
	for _, a := range addrs {
		if strings.EqualFold(a.Email, owner) {
			return true
		}
	}
	return false
}

// Emails 返回地址列表中的邮箱
func Emails(addrs []Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Email != "" {
			out = append(out, a.Email)
		}
	}
	return out
}
