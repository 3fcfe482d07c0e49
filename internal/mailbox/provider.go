package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	"mailpilot/internal/model"
)

// Opener builds a connected Client for one user.
type Opener interface {
	Open(ctx context.Context, userID int64) (Client, error)
}

// UserStore 读取用户保存的 OAuth token
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// OAuthProvider connects Gmail accounts with the user's stored OAuth token.
type OAuthProvider struct {
	cfg    *oauth2.Config
	users  UserStore
	logger *zap.Logger
}

func NewOAuthProvider(credentialsJSON []byte, redirectURL string, users UserStore, logger *zap.Logger) (*OAuthProvider, error) {
	cfg, err := google.ConfigFromJSON(credentialsJSON,
		gmail.GmailModifyScope,
		gmail.GmailSendScope,
		people.DirectoryReadonlyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse oauth credentials: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return &OAuthProvider{cfg: cfg, users: users, logger: logger}, nil
}

// AuthURL 返回授权页地址，state 原样回传
func (p *OAuthProvider) AuthURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token serialized for storage.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange oauth code: %w", err)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *OAuthProvider) Open(ctx context.Context, userID int64) (Client, error) {
	u, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	if u.MailboxToken == "" {
		return nil, ErrNotConnected
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(u.MailboxToken), &tok); err != nil {
		return nil, errors.Join(ErrNotConnected, fmt.Errorf("decode token: %w", err))
	}

	// token 刷新不能绑定在单次请求的 ctx 上，客户端会被缓存复用
	httpClient := oauth2.NewClient(context.Background(), p.cfg.TokenSource(context.Background(), &tok))
	client, err := NewGmailClient(ctx, p.logger, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	return client, nil
}
