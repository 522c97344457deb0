package hpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

// ProgressReader reports the share of total bytes read so far.
type ProgressReader struct {
	r        io.Reader
	total    int64
	read     int64
	last     int
	progress ProgressFunc
	mu       sync.Mutex
}

func NewProgressReader(r io.Reader, total int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, last: -1, progress: progress}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.Add(int64(n))
	return n, err
}

// Add records n more bytes without reading them.
func (p *ProgressReader) Add(n int64) {
	if p.progress == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.read += n
	pct := 100
	if p.total > 0 && p.read < p.total {
		pct = int(p.read * 100 / p.total)
	}
	if pct != p.last {
		p.last = pct
		p.progress(pct)
	}
}

type UploadClient struct {
	*Client
}

func NewUploadClient(c *Client) *UploadClient {
	return &UploadClient{Client: c}
}

// Upload streams the file as multipart form data.
func (c *UploadClient) Upload(ctx context.Context, tok *token.Token, kind FileKind, path string, progress ProgressFunc) (*FileMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, NewProgressReader(f, info.Size(), progress))
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.userPath(tok, "/"+string(kind)+"/upload"), tok, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, classify("upload", err, nil)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	data, err := c.send(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, classify("upload", err, nil)
	}

	meta := &FileMeta{Name: filepath.Base(path), Size: info.Size()}
	if len(data) > 0 {
		if err := json.Unmarshal(data, meta); err != nil {
			return nil, classify("upload", err, nil)
		}
	}
	return meta, nil
}

func (c *UploadClient) ListFiles(ctx context.Context, tok *token.Token, kind FileKind) ([]FileMeta, error) {
	var files []FileMeta
	if err := c.doJSON(ctx, http.MethodGet, c.userPath(tok, "/"+string(kind)), tok, nil, &files); err != nil {
		return nil, classify("list files", err, nil)
	}
	return files, nil
}
