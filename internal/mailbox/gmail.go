package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"
)

const (
	gmailUser     = "me"
	listPageSize  = 100
	directoryMask = "names,organizations,locations,relations"
)

// GmailClient implements Client over the Gmail and People APIs.
type GmailClient struct {
	gmail  *gmail.Service
	people *people.Service
	owner  string
	logger *zap.Logger
}

// NewGmailClient 通过 profile 接口确定邮箱所有者
func NewGmailClient(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*GmailClient, error) {
	gsvc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	psvc, err := people.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("people service: %w", err)
	}
	profile, err := gsvc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail profile: %w", err)
	}
	return &GmailClient{
		gmail:  gsvc,
		people: psvc,
		owner:  strings.ToLower(profile.EmailAddress),
		logger: logger,
	}, nil
}

func (c *GmailClient) Owner() string { return c.owner }

// FetchInbox returns inbox messages addressed to the owner, newest first.
func (c *GmailClient) FetchInbox(ctx context.Context, w Window, max int) ([]Message, error) {
	return c.fetch(ctx, "in:inbox", w, max, func(m *Message) bool {
		return AddressedTo(m.To, c.owner)
	})
}

func (c *GmailClient) FetchSent(ctx context.Context, w Window, max int) ([]Message, error) {
	return c.fetch(ctx, "in:sent", w, max, nil)
}

func (c *GmailClient) fetch(ctx context.Context, label string, w Window, max int, keep func(*Message) bool) ([]Message, error) {
	query := fmt.Sprintf("%s after:%d before:%d", label, w.Start.Unix(), w.End.Unix()+1)
	var (
		out       []Message
		pageToken string
	)
	for {
		call := c.gmail.Users.Messages.List(gmailUser).Q(query).MaxResults(listPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, ref := range resp.Messages {
			msg, err := c.load(ctx, ref.Id)
			if err != nil {
				return nil, err
			}
			if !w.Contains(msg.ReceivedAt) || (keep != nil && !keep(msg)) {
				continue
			}
			out = append(out, *msg)
			if max > 0 && len(out) >= max {
				return out, nil
			}
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// GetMessage resolves a message by its RFC 822 Message-ID.
func (c *GmailClient) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	resp, err := c.gmail.Users.Messages.List(gmailUser).
		Q("rfc822msgid:" + NormalizeMessageID(messageID)).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, ErrItemNotFound
	}
	return c.load(ctx, resp.Messages[0].Id)
}

// SendReply replies to everyone on the original message except the owner,
// threaded under the original.
func (c *GmailClient) SendReply(ctx context.Context, messageID, body string) error {
	orig, err := c.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	raw := c.buildReply(orig, body)
	_, err = c.gmail.Users.Messages.Send(gmailUser, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: orig.Item.ChangeKey,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (c *GmailClient) buildReply(orig *Message, body string) []byte {
	subject := orig.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	seen := map[string]bool{c.owner: true}
	var to, cc []string
	add := func(list *[]string, a Address) {
		e := strings.ToLower(a.Email)
		if e == "" || seen[e] {
			return
		}
		seen[e] = true
		*list = append(*list, formatAddress(a))
	}
	add(&to, orig.From)
	for _, a := range orig.To {
		add(&cc, a)
	}
	for _, a := range orig.Cc {
		add(&cc, a)
	}

	ref := "<" + NormalizeMessageID(orig.ID) + ">"
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.owner)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "In-Reply-To: %s\r\n", ref)
	fmt.Fprintf(&b, "References: %s\r\n", ref)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// ResolveDirectory 查询组织目录，失败或无结果时返回 false
func (c *GmailClient) ResolveDirectory(ctx context.Context, email string) (*DirectoryEntry, bool) {
	resp, err := c.people.People.SearchDirectoryPeople().
		Query(email).
		ReadMask(directoryMask).
		Sources("DIRECTORY_SOURCE_TYPE_DOMAIN_PROFILE").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		c.logger.Debug("directory lookup failed", zap.String("email", email), zap.Error(err))
		return nil, false
	}
	if len(resp.People) == 0 {
		return nil, false
	}

	p := resp.People[0]
	var entry DirectoryEntry
	if len(p.Names) > 0 {
		entry.Name = p.Names[0].DisplayName
	}
	if len(p.Organizations) > 0 {
		entry.JobTitle = p.Organizations[0].Title
		entry.Department = p.Organizations[0].Department
	}
	if len(p.Locations) > 0 {
		entry.OfficeLocation = p.Locations[0].Value
	}
	for _, r := range p.Relations {
		if strings.EqualFold(r.Type, "manager") {
			entry.ManagerName = r.Person
			break
		}
	}
	return &entry, true
}

func (c *GmailClient) load(ctx context.Context, id string) (*Message, error) {
	m, err := c.gmail.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return convertMessage(m), nil
}

func convertMessage(m *gmail.Message) *Message {
	headers := map[string]string{}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			headers[strings.ToLower(h.Name)] = h.Value
		}
	}

	msg := &Message{
		ID:         headers["message-id"],
		InReplyTo:  headers["in-reply-to"],
		Subject:    decodeHeader(headers["subject"]),
		From:       firstAddress(headers["from"]),
		To:         parseAddresses(headers["to"]),
		Cc:         parseAddresses(headers["cc"]),
		ReceivedAt: time.UnixMilli(m.InternalDate).UTC(),
		Body:       extractBody(m.Payload),
	}
	if msg.ID == "" {
		msg.ID = "gmail:" + m.Id
	}
	msg.SentAt = msg.ReceivedAt
	if d, err := mail.ParseDate(headers["date"]); err == nil {
		msg.SentAt = d.UTC()
	}
	msg.Item.ID = m.Id
	msg.Item.ChangeKey = m.ThreadId
	return msg
}

// extractBody 优先 text/plain，其次去标签的 text/html
func extractBody(p *gmail.MessagePart) string {
	if p == nil {
		return ""
	}
	if text := findPart(p, "text/plain"); text != "" {
		return text
	}
	if h := findPart(p, "text/html"); h != "" {
		return htmlText(h)
	}
	return ""
}

// 块级元素换行，行内元素不断句
var blockTags = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Blockquote: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
}

// htmlText 提取可见文本，丢弃 script/style/head 内容
func htmlText(src string) string {
	var (
		b    strings.Builder
		skip int
	)
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidyLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Script || a == atom.Style || a == atom.Head:
				if tt == html.StartTagToken {
					skip++
				}
			case blockTags[a]:
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Script || a == atom.Style || a == atom.Head:
				if skip > 0 {
					skip--
				}
			case blockTags[a]:
				b.WriteByte('\n')
			}
		}
	}
}

func tidyLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func findPart(p *gmail.MessagePart, mimeType string) string {
	if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		return decodeBase64URL(p.Body.Data)
	}
	for _, child := range p.Parts {
		if s := findPart(child, mimeType); s != "" {
			return s
		}
	}
	return ""
}

func decodeBase64URL(s string) string {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return string(b)
	}
	return ""
}

var wordDecoder = new(mime.WordDecoder)

func decodeHeader(v string) string {
	if d, err := wordDecoder.DecodeHeader(v); err == nil {
		return d
	}
	return v
}

func parseAddresses(v string) []Address {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	list, err := mail.ParseAddressList(v)
	if err != nil {
		// 解析失败时按逗号粗分
		var out []Address
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, Address{Email: strings.ToLower(strings.Trim(part, "<>"))})
			}
		}
		return out
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}

func firstAddress(v string) Address {
	if list := parseAddresses(v); len(list) > 0 {
		return list[0]
	}
	return Address{}
}

func formatAddress(a Address) string {
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}
