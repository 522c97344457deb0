package token

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/metrics"
)

// DefaultTTL 令牌有效期
const DefaultTTL = time.Hour

// Token is a bearer credential for one account.
type Token struct {
	Value    string
	IssuedAt time.Time
	// RemoteUserID 远端 API 路径中使用的用户 ID
	RemoteUserID int64
	// WallTimes 账号允许申请的 walltime 选项（小时）
	WallTimes []string
}

// AllowsWallTime reports whether the account may request walltime w.
// An account without options accepts any walltime.
func (t *Token) AllowsWallTime(w string) bool {
	if len(t.WallTimes) == 0 {
		return true
	}
	for _, opt := range t.WallTimes {
		if opt == w {
			return true
		}
	}
	return false
}

// Authenticator fetches a fresh token from the remote identity endpoint.
type Authenticator interface {
	Authenticate(ctx context.Context, account *model.AccountProfile) (*Token, error)
}

// Cache keeps one token per account and fetches lazily on expiry.
type Cache struct {
	auth    Authenticator
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	mu     sync.RWMutex
	tokens map[string]*Token
	group  singleflight.Group
}

type Option func(*Cache)

// WithClock 测试中注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(auth Authenticator, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		auth:   auth,
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]*Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) valid(t *Token) bool {
	return t != nil && c.now().Sub(t.IssuedAt) < c.ttl
}

// Get returns the cached token for account, fetching a new one when none is
// cached or the cached one is older than the TTL. Concurrent callers for the
// same account share a single fetch; one caller giving up does not cancel
// the fetch for the others.
func (c *Cache) Get(ctx context.Context, account *model.AccountProfile) (*Token, error) {
	key := account.Key()

	c.mu.RLock()
	t := c.tokens[key]
	c.mu.RUnlock()
	if c.valid(t) {
		return t, nil
	}

	// 共享的获取不随单个调用方取消；调用方只停止等待
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// 等待期间可能已被其他调用刷新
		c.mu.RLock()
		t := c.tokens[key]
		c.mu.RUnlock()
		if c.valid(t) {
			return t, nil
		}

		fresh, err := c.auth.Authenticate(fetchCtx, account)
		c.metrics.TokenFetch(err == nil)
		if err != nil {
			logger.FromContext(fetchCtx).WithField("account", account.ConnectionName).
				Warnf("token fetch failed: %v", err)
			return nil, hpcerr.Authentication("get token", err)
		}
		fresh.IssuedAt = c.now()

		c.mu.Lock()
		c.tokens[key] = fresh
		c.mu.Unlock()
		return fresh, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached token for account.
func (c *Cache) Invalidate(account *model.AccountProfile) {
	c.mu.Lock()
	delete(c.tokens, account.Key())
	c.mu.Unlock()
}
