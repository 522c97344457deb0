package hpc

import (
	"context"
	"net/http"
	"net/url"

	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

type ResultClient struct {
	*Client
}

func NewResultClient(c *Client) *ResultClient {
	return &ResultClient{Client: c}
}

func (c *ResultClient) ListResultFiles(ctx context.Context, tok *token.Token) ([]FileMeta, error) {
	var files []FileMeta
	if err := c.doJSON(ctx, http.MethodGet, c.userPath(tok, "/results/algorithm"), tok, nil, &files); err != nil {
		return nil, classify("list results", err, nil)
	}
	return files, nil
}

func (c *ResultClient) ListErrorFiles(ctx context.Context, tok *token.Token) ([]FileMeta, error) {
	var files []FileMeta
	if err := c.doJSON(ctx, http.MethodGet, c.userPath(tok, "/results/error"), tok, nil, &files); err != nil {
		return nil, classify("list error results", err, nil)
	}
	return files, nil
}

func (c *ResultClient) Download(ctx context.Context, tok *token.Token, name string, isError bool) ([]byte, error) {
	dir := "/results/algorithm/"
	if isError {
		dir = "/results/error/"
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.userPath(tok, dir+url.PathEscape(name)), tok, nil)
	if err != nil {
		return nil, classify("download result", err, nil)
	}
	data, err := c.send(req)
	if err != nil {
		return nil, classify("download result", err, nil)
	}
	return data, nil
}
