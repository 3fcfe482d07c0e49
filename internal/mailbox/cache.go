package mailbox

import (
	"context"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 256

// AccountCache keeps one connected Client per user for the lifetime of the
// process that owns it. Concurrent first requests for the same user share a
// single Open call.
type AccountCache struct {
	opener  Opener
	clients *lru.Cache[int64, Client]
	group   singleflight.Group
}

func NewAccountCache(opener Opener, size int) *AccountCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	clients, _ := lru.New[int64, Client](size)
	return &AccountCache{opener: opener, clients: clients}
}

func (c *AccountCache) Get(ctx context.Context, userID int64) (Client, error) {
	if cl, ok := c.clients.Get(userID); ok {
		return cl, nil
	}
	v, err, _ := c.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		cl, err := c.opener.Open(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.clients.Add(userID, cl)
		return cl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

// Invalidate drops the cached client; call it on logout or token change.
func (c *AccountCache) Invalidate(userID int64) {
	c.clients.Remove(userID)
	c.group.Forget(strconv.FormatInt(userID, 10))
}

// Put 预置客户端，供单用户部署与测试使用
func (c *AccountCache) Put(userID int64, cl Client) {
	c.clients.Add(userID, cl)
}
