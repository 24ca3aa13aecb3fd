package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLogFile writes through an open log file and checks that the lines land
// on disk once it is closed.
func TestLogFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "signet")
	cfg := DefaultLogConfig().File

	f := NewLogFile()

	// Nothing is backing the file yet.
	n, err := f.Write([]byte("dropped\n"))
	require.NoError(t, err)
	require.Equal(t, 8, n)

	require.NoError(t, f.Open(cfg, dir, "rasund.log"))
	require.Error(t, f.Open(cfg, dir, "rasund.log"))

	_, err = f.Write([]byte("issued address 0\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	content, err := os.ReadFile(filepath.Join(dir, "rasund.log"))
	require.NoError(t, err)
	require.Contains(t, string(content), "issued address 0")
	require.NotContains(t, string(content), "dropped")
}

// TestLogFileCompressor checks that only known compressors are accepted.
func TestLogFileCompressor(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig().File
	cfg.Compressor = "lz4"

	f := NewLogFile()
	err := f.Open(cfg, t.TempDir(), "rasund.log")
	require.ErrorContains(t, err, "unknown log compressor")
	require.NoError(t, f.Close())

	for _, name := range []string{Gzip, Zstd} {
		_, suffix, err := newCompressor(name)
		require.NoError(t, err)
		require.Equal(t, logCompressors[name], suffix)
	}
}
