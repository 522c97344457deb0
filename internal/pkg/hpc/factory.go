package hpc

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
)

// BuildFunc creates the service bundle for an account.
type BuildFunc func(ctx context.Context, account *model.AccountProfile) (*Bundle, error)

// UploaderFunc optionally replaces the HTTP upload client, e.g. with an
// object storage backend.
type UploaderFunc func(account *model.AccountProfile, c *Client) (DataUploadService, error)

// HTTPBuilder returns a BuildFunc that checks reachability and then wires
// the HTTP clients of the account's endpoint.
func HTTPBuilder(httpClient *http.Client, uploader UploaderFunc) BuildFunc {
	return func(ctx context.Context, account *model.AccountProfile) (*Bundle, error) {
		c := NewClient(account.BaseURL(), httpClient)
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}

		var upload DataUploadService = NewUploadClient(c)
		if uploader != nil {
			u, err := uploader(account, c)
			if err != nil {
				return nil, err
			}
			upload = u
		}

		return &Bundle{
			Upload:  upload,
			Jobs:    NewJobQueueClient(c),
			Results: NewResultClient(c),
		}, nil
	}
}

// Factory caches one Bundle per account.
type Factory struct {
	build BuildFunc

	mu      sync.RWMutex
	bundles map[string]*Bundle
	group   singleflight.Group
}

func NewFactory(build BuildFunc) *Factory {
	return &Factory{
		build:   build,
		bundles: make(map[string]*Bundle),
	}
}

// Get returns the cached bundle or builds it. Concurrent callers for one
// account share a single construction, which outlives any one caller's
// cancellation. Failures are not cached.
func (f *Factory) Get(ctx context.Context, account *model.AccountProfile) (*Bundle, error) {
	key := account.Key()

	f.mu.RLock()
	b, ok := f.bundles[key]
	f.mu.RUnlock()
	if ok {
		return b, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (interface{}, error) {
		f.mu.RLock()
		b, ok := f.bundles[key]
		f.mu.RUnlock()
		if ok {
			return b, nil
		}

		b, err := f.build(buildCtx, account)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.bundles[key] = b
		f.mu.Unlock()
		logger.FromContext(buildCtx).WithField("account", account.ConnectionName).Info("remote services connected")
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached bundle, e.g. after credentials change.
func (f *Factory) Invalidate(account *model.AccountProfile) {
	f.mu.Lock()
	delete(f.bundles, account.Key())
	f.mu.Unlock()
}
