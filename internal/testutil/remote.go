package testutil

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qs3c/hpc_job_server/internal/model"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
	"github.com/qs3c/hpc_job_server/internal/pkg/token"
)

// FakeAuthenticator 假的远端认证服务
type FakeAuthenticator struct {
	Calls     int32
	Err       error
	WallTimes []string
}

func (a *FakeAuthenticator) Authenticate(ctx context.Context, account *model.AccountProfile) (*token.Token, error) {
	atomic.AddInt32(&a.Calls, 1)
	if a.Err != nil {
		return nil, a.Err
	}
	return &token.Token{Value: "good", RemoteUserID: 7, WallTimes: a.WallTimes}, nil
}

func (a *FakeAuthenticator) CallCount() int {
	return int(atomic.LoadInt32(&a.Calls))
}

// FakeRemote implements every remote service in memory.
type FakeRemote struct {
	mu sync.Mutex

	nextPid int64
	active  map[int64]model.JobStatus
	files   map[hpc.FileKind][]hpc.FileMeta

	results      map[string][]byte
	errorResults map[string][]byte

	Submitted []hpc.SubmitRequest

	SubmitCalls int
	KillCalls   int
	ListCalls   int
	UploadCalls int

	// KillStatus 远端对取消请求的应答状态，默认 Killed
	KillStatus model.JobStatus

	SubmitErr error
	KillErr   error
	ListErr   error
	UploadErr error

	// OnUpload/OnSubmit 在调用完成前执行，用于模拟并发操作
	OnUpload func()
	OnSubmit func(pid int64)
}

func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		nextPid:      100,
		active:       make(map[int64]model.JobStatus),
		files:        make(map[hpc.FileKind][]hpc.FileMeta),
		results:      make(map[string][]byte),
		errorResults: make(map[string][]byte),
		KillStatus:   model.StatusKilled,
	}
}

// Bundle 以假服务组装
func (r *FakeRemote) Bundle() *hpc.Bundle {
	return &hpc.Bundle{Upload: r, Jobs: r, Results: r}
}

// Factory returns a connection factory that always yields this remote.
func (r *FakeRemote) Factory() *hpc.Factory {
	return hpc.NewFactory(func(ctx context.Context, account *model.AccountProfile) (*hpc.Bundle, error) {
		return r.Bundle(), nil
	})
}

func (r *FakeRemote) Upload(ctx context.Context, tok *token.Token, kind hpc.FileKind, path string, progress hpc.ProgressFunc) (*hpc.FileMeta, error) {
	r.mu.Lock()
	r.UploadCalls++
	err := r.UploadErr
	hook := r.OnUpload
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook()
	}

	if progress != nil {
		progress(50)
		progress(100)
	}
	meta := hpc.FileMeta{Name: filepath.Base(path), CreationTime: time.Now()}

	r.mu.Lock()
	r.files[kind] = append(r.files[kind], meta)
	r.mu.Unlock()
	return &meta, nil
}

func (r *FakeRemote) ListFiles(ctx context.Context, tok *token.Token, kind hpc.FileKind) ([]hpc.FileMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hpc.FileMeta(nil), r.files[kind]...), nil
}

// AddFile 预置远端已有的文件
func (r *FakeRemote) AddFile(kind hpc.FileKind, meta hpc.FileMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[kind] = append(r.files[kind], meta)
}

func (r *FakeRemote) Submit(ctx context.Context, tok *token.Token, req *hpc.SubmitRequest) (int64, error) {
	r.mu.Lock()
	r.SubmitCalls++
	if r.SubmitErr != nil {
		err := r.SubmitErr
		r.mu.Unlock()
		return 0, err
	}
	pid := r.nextPid
	r.nextPid++
	r.active[pid] = model.StatusSubmitted
	r.Submitted = append(r.Submitted, *req)
	hook := r.OnSubmit
	r.mu.Unlock()

	if hook != nil {
		hook(pid)
	}
	return pid, nil
}

// IsActive 远端活动列表中是否有该作业
func (r *FakeRemote) IsActive(pid int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[pid]
	return ok
}

func (r *FakeRemote) Status(ctx context.Context, tok *token.Token, pid int64) (*hpc.RemoteJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.active[pid]
	if !ok {
		return nil, fmt.Errorf("job %d not found", pid)
	}
	return &hpc.RemoteJob{ID: pid, Status: st}, nil
}

func (r *FakeRemote) Kill(ctx context.Context, tok *token.Token, pid int64) (*hpc.RemoteJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.KillCalls++
	if r.KillErr != nil {
		return nil, r.KillErr
	}
	if r.KillStatus == model.StatusKilled {
		delete(r.active, pid)
	} else {
		r.active[pid] = r.KillStatus
	}
	return &hpc.RemoteJob{ID: pid, Status: r.KillStatus}, nil
}

func (r *FakeRemote) ListActive(ctx context.Context, tok *token.Token) ([]hpc.RemoteJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListCalls++
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	jobs := make([]hpc.RemoteJob, 0, len(r.active))
	for pid, st := range r.active {
		jobs = append(jobs, hpc.RemoteJob{ID: pid, Status: st})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// SetStatus 修改远端作业状态
func (r *FakeRemote) SetStatus(pid int64, status model.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[pid] = status
}

// Finish 作业从远端活动列表消失
func (r *FakeRemote) Finish(pid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, pid)
}

func (r *FakeRemote) SetListErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListErr = err
}

func (r *FakeRemote) AddResult(name string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[name] = data
}

func (r *FakeRemote) AddErrorResult(name string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorResults[name] = data
}

func (r *FakeRemote) ListResultFiles(ctx context.Context, tok *token.Token) ([]hpc.FileMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return metas(r.results), nil
}

func (r *FakeRemote) ListErrorFiles(ctx context.Context, tok *token.Token) ([]hpc.FileMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return metas(r.errorResults), nil
}

func (r *FakeRemote) Download(ctx context.Context, tok *token.Token, name string, isError bool) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.results
	if isError {
		src = r.errorResults
	}
	data, ok := src[name]
	if !ok {
		return nil, errors.New("file not found: " + name)
	}
	return data, nil
}

// Counts 读取调用计数
func (r *FakeRemote) Counts() (submit, kill, list, upload int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SubmitCalls, r.KillCalls, r.ListCalls, r.UploadCalls
}

func metas(m map[string][]byte) []hpc.FileMeta {
	out := make([]hpc.FileMeta, 0, len(m))
	for name, data := range m {
		out = append(out, hpc.FileMeta{Name: name, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
