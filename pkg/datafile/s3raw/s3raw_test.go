package s3raw

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
)

func TestSplitPath(t *testing.T) {
	bucket, key, err := splitPath("recordings/session1/rec.dat")
	require.NoError(t, err)
	assert.Equal(t, "recordings", bucket)
	assert.Equal(t, "session1/rec.dat", key)

	bucket, key, err = splitPath("s3://recordings/rec.dat")
	require.NoError(t, err)
	assert.Equal(t, "recordings", bucket)
	assert.Equal(t, "rec.dat", key)

	for _, bad := range []string{"just-a-bucket", "/key-only", "bucket/", ""} {
		_, _, err := splitPath(bad)
		require.Error(t, err, "path %q", bad)
	}
}

func TestNewBackendValidation(t *testing.T) {
	_, err := NewBackend(nil, "bucket/key", Config{DataDtype: "int7", NbChannels: 2})
	require.Error(t, err)

	_, err = NewBackend(nil, "bucket/key", Config{DataDtype: "int16", NbChannels: 0})
	require.Error(t, err)

	b, err := NewBackend(nil, "bucket/key", Config{DataDtype: "int16", NbChannels: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), b.rowBytes())
}

func TestWriteOperationsAreRejected(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackend(nil, "bucket/key", Config{DataDtype: "int16", NbChannels: 2})
	require.NoError(t, err)

	var nwErr *datafile.NotWritableError

	err = b.Open(ctx, datafile.ModeWrite)
	require.True(t, errors.As(err, &nwErr))

	err = b.SetData(ctx, 0, datafile.NewBlock(1, 2))
	require.True(t, errors.As(err, &nwErr))

	err = b.Allocate(ctx, 10, 2, "int16")
	require.True(t, errors.As(err, &nwErr))

	require.NoError(t, b.Open(ctx, datafile.ModeRead))
	require.NoError(t, b.Close())
}

func TestClientConfigRequiresRegion(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{})
	require.Error(t, err)
}
