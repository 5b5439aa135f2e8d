package toolrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *Executor {
	return NewExecutor(config.NewNopLogger())
}

func TestExecutor_StdoutRedirect(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "out.txt")

	res, err := newTestExecutor().Run(context.Background(), Command{
		Name:       "sh",
		Args:       []string{"-c", "echo '[+] APKiD 2.1.5'"},
		StdoutPath: out,
	}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "[+] APKiD 2.1.5\n", string(data))
}

func TestExecutor_NonZeroExit(t *testing.T) {
	res, err := newTestExecutor().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	}, 5*time.Second)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "boom", exitErr.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, 3, ExitCode(err))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestExecutor_Timeout(t *testing.T) {
	start := time.Now()
	res, err := newTestExecutor().Run(context.Background(), Command{
		Name: "sleep",
		Args: []string{"5"},
	}, 100*time.Millisecond)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecutor_NotFound(t *testing.T) {
	_, err := newTestExecutor().Run(context.Background(), Command{
		Name: "apkbench-no-such-binary",
	}, time.Second)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 127, ExitCode(err))
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := newTailBuffer(4)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}

func TestCommand_String(t *testing.T) {
	c := Command{Name: "apkid", Args: []string{"-v", "a.apk"}}
	assert.Equal(t, "apkid -v a.apk", c.String())
}
