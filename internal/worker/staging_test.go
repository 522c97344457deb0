package worker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/hpc_job_server/internal/pkg/hpcerr"
)

func TestValidateDataset(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "d.txt")
	require.NoError(t, os.WriteFile(file, []byte("a\tb\n1\t2\n"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "regular file", path: file},
		{name: "empty path", path: "", wantErr: true},
		{name: "missing file", path: filepath.Join(dir, "nope.txt"), wantErr: true},
		{name: "directory", path: dir, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDataset(tt.path)
			if tt.wantErr {
				var se *StageError
				assert.True(t, errors.As(err, &se))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileMd5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := FileMd5(path)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)

	_, err = FileMd5(path + ".missing")
	assert.Error(t, err)
}

func TestStageFile(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(t.TempDir(), "d.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	dir := StageDir(work, 3)
	staged, sum, err := StageFile(dir, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "d.txt"), staged)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)

	// 再次暂存覆盖旧文件
	_, _, err = StageFile(dir, src)
	require.NoError(t, err)
}

func TestCleanupStage(t *testing.T) {
	work := t.TempDir()
	dir := StageDir(work, 1)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.NoError(t, CleanupStage(work, dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, CleanupStage(work, ""))
	assert.Error(t, CleanupStage(work, work))
	assert.Error(t, CleanupStage(work, t.TempDir()))
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", hpcerr.Authentication("get token", errors.New("401")), "Preprocessing failed: cluster rejected the account credentials"},
		{"connection", hpcerr.Connection("ping", errors.New("refused")), "Preprocessing failed: cluster unreachable"},
		{"submission", hpcerr.Submission("submit", errors.New("bad")), "Preprocessing failed: cluster refused the job"},
		{"persistence", hpcerr.Persistence("transition", errors.New("locked")), "Preprocessing failed: could not record submission"},
		{"other", errors.New("boom"), "Preprocessing failed"},
		{"stage", &StageError{UserMessage: "Dataset file not found"}, "Dataset file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFailure(tt.err).UserMessage)
		})
	}
}
