package execx

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

func TestRunCapturesStdout(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Cmd{
		Bin:     "sh",
		Args:    []string{"-c", "printf hello"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hello", res.Stdout)
}

func TestRunStreamsStdoutToWriter(t *testing.T) {
	var out strings.Builder
	res, err := NewRunner().Run(context.Background(), Cmd{
		Bin:     "sh",
		Args:    []string{"-c", "printf streamed"},
		Stdout:  &out,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "streamed", out.String())
	require.Empty(t, res.Stdout, "streamed output is not double-captured")
}

func TestRunWiresStdin(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Cmd{
		Bin:     "cat",
		Stdin:   strings.NewReader("piped input"),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "piped input", res.Stdout)
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Cmd{
		Bin:     "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeExternalToolFailure))
	require.Equal(t, 3, res.ExitCode)
	require.Contains(t, res.Stderr, "boom")
	require.Contains(t, err.Error(), "boom")
}

func TestRunTimeout(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Cmd{
		Bin:     "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeExternalToolTimeout))
	require.True(t, res.TimedOut)
}

func TestRunMissingBinary(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Cmd{
		Bin:     "definitely-not-installed-anywhere",
		Timeout: time.Second,
	})
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeExternalToolFailure))
	require.Equal(t, -1, res.ExitCode)
}

func TestTail(t *testing.T) {
	require.Equal(t, "short", Tail("  short \n", 100))
	long := strings.Repeat("x", 100) + "END"
	got := Tail(long, 10)
	require.True(t, strings.HasPrefix(got, "..."))
	require.True(t, strings.HasSuffix(got, "END"))
	require.Len(t, got, 13)
}
