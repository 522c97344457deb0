package hpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

const apiPrefix = "/ccd-api"

// Client is the shared HTTP plumbing of the remote services.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) userPath(tok *token.Token, suffix string) string {
	return c.baseURL + apiPrefix + "/" + strconv.FormatInt(tok.RemoteUserID, 10) + suffix
}

// Ping checks that the endpoint answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+apiPrefix+"/", nil)
	if err != nil {
		return hpcerr.Connection("ping", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return hpcerr.Connection("ping", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return hpcerr.Connection("ping", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.code, e.body)
}

// classify maps a transport or HTTP failure to an error kind.
// rejectKind is used for 4xx answers other than 401/403.
func classify(op string, err error, rejectKind func(string, error) error) error {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
			return hpcerr.Authentication(op, err)
		case se.code >= 400 && se.code < 500 && rejectKind != nil:
			return rejectKind(op, err)
		}
	}
	return hpcerr.Connection(op, err)
}

func (c *Client) newRequest(ctx context.Context, method, url string, tok *token.Token, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if tok != nil {
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}

// doJSON sends in as JSON (when non-nil) and decodes the answer into out.
func (c *Client) doJSON(ctx context.Context, method, url string, tok *token.Token, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, url, tok, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := c.send(req)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
