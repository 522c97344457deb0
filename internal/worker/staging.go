package worker

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
)

// StageError 预处理错误，包含用户可读的说明和原始错误
type StageError struct {
	UserMessage string // 写入作业日志
	RawError    error  // 原始错误，写日志
}

func (e *StageError) Error() string {
	if e.RawError == nil {
		return e.UserMessage
	}
	return e.UserMessage + ": " + e.RawError.Error()
}

func (e *StageError) Unwrap() error {
	return e.RawError
}

// classifyFailure 根据错误类型生成作业日志里的提示
func classifyFailure(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, hpcerr.ErrAuthentication):
		return &StageError{UserMessage: "Preprocessing failed: cluster rejected the account credentials", RawError: err}
	case errors.Is(err, hpcerr.ErrConnection):
		return &StageError{UserMessage: "Preprocessing failed: cluster unreachable", RawError: err}
	case errors.Is(err, hpcerr.ErrSubmission):
		return &StageError{UserMessage: "Preprocessing failed: cluster refused the job", RawError: err}
	case errors.Is(err, hpcerr.ErrPersistence):
		return &StageError{UserMessage: "Preprocessing failed: could not record submission", RawError: err}
	default:
		return &StageError{UserMessage: "Preprocessing failed", RawError: err}
	}
}

// ValidateDataset 数据集必须是可读的普通文件
func ValidateDataset(path string) error {
	if path == "" {
		return &StageError{UserMessage: "Dataset path is empty"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &StageError{UserMessage: "Dataset file not found", RawError: err}
	}
	if !info.Mode().IsRegular() {
		return &StageError{UserMessage: "Dataset path is not a regular file"}
	}
	return nil
}

// StageDir 作业的临时目录
func StageDir(workDir string, jobID int64) string {
	return filepath.Join(workDir, fmt.Sprintf("job_%d", jobID))
}

// StageFile places a stable snapshot of src in dir and returns its path and
// MD5. A hard link is used when possible.
func StageFile(dir, src string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create stage dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	_ = os.Remove(dst)

	if err := os.Link(src, dst); err != nil {
		if err := copyFile(src, dst); err != nil {
			return "", "", err
		}
	}

	sum, err := FileMd5(dst)
	if err != nil {
		return "", "", err
	}
	return dst, sum, nil
}

// FileMd5 计算文件 MD5（十六进制）
func FileMd5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CleanupStage 清理作业临时目录；只允许删除 workDir 下的目录
func CleanupStage(workDir, dir string) error {
	if dir == "" {
		return nil
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	absRoot, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if absDir == absRoot || !strings.HasPrefix(absDir, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete directory outside work dir: %s", absDir)
	}

	return os.RemoveAll(absDir)
}
