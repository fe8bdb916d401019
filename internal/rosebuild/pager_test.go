package rosebuild

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLinesFromCompressedLog(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "session-20240101-000000.log")
	require.NoError(t, os.WriteFile(plain, []byte("first\nsecond\n"), 0o644))
	require.NoError(t, compressXZ(plain, plain+".xz"))

	for _, p := range []string{plain, plain + ".xz"} {
		rc, err := openLog(p)
		require.NoError(t, err)
		lines, err := readLines(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, lines)
	}
}

func TestPrintLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printLines(&buf, []string{"a", "b"}))
	assert.Equal(t, "a\nb\n", buf.String())
}

func TestReadLinesLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	lines, err := readLines(strings.NewReader(long + "\nshort\n"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], len(long))
}
