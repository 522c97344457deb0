// Package hpcerr classifies failures of remote cluster and store calls.
package hpcerr

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication 凭据错误或令牌无法获取，需要用户介入
	ErrAuthentication = errors.New("authentication failed")
	// ErrConnection 网络或远端不可达，可重试
	ErrConnection = errors.New("connection failed")
	// ErrSubmission 远端拒绝了作业
	ErrSubmission = errors.New("submission rejected")
	// ErrPersistence 持久化失败，本次状态迁移未发生
	ErrPersistence = errors.New("persistence failed")
)

// Error carries the kind, the operation and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func wrap(kind error, op string, err error) error {
	// 已分类的错误保持原分类
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Authentication(op string, err error) error { return wrap(ErrAuthentication, op, err) }
func Connection(op string, err error) error     { return wrap(ErrConnection, op, err) }
func Submission(op string, err error) error     { return wrap(ErrSubmission, op, err) }
func Persistence(op string, err error) error    { return wrap(ErrPersistence, op, err) }

// Retryable reports whether the caller may retry the same call later.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection)
}
