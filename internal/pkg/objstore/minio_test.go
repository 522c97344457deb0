package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/pkg/hpc"
)

func TestNewMinioClient(t *testing.T) {
	c, err := NewMinioClient(&config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "datasets"})
	require.NoError(t, err)
	assert.Equal(t, "datasets", c.bucket)
	assert.Equal(t, "hpc/alice", c.ForAccount("alice").prefix)
	assert.Equal(t, "hpc", c.prefix)
}

func TestProgressAdapter(t *testing.T) {
	var got []int
	p := progressAdapter{hpc.NewProgressReader(nil, 10, func(pct int) { got = append(got, pct) })}

	n, err := p.Read(make([]byte, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, _ = p.Read(make([]byte, 5))

	assert.Equal(t, []int{50, 100}, got)
}
