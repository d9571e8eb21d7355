package xv6test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opfs-go/opfs/xv6fs"
)

func TestCompressThenLoadCompressed_RoundTrips(t *testing.T) {
	fx := New(t, 256, 64, 8)
	_, err := fx.FS.Create("/hello", xv6fs.TypeFile)
	require.NoError(t, err)
	_, err = fx.FS.Write("/hello", 0, []byte("world"))
	require.NoError(t, err)

	packed := fx.Compress(t)

	reloaded := LoadCompressed(t, packed, fx.FS.SB.Size)

	buf := make([]byte, 5)
	n, err := reloaded.FS.Read("/hello", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
}
