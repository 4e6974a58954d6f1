package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apployd/engine/internal/apperr"
)

func TestRun_Success(t *testing.T) {
	e := New()
	result, err := e.Run(context.Background(), "echo", []string{"hello"}, Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRun_NonZeroExit(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), "sh", []string{"-c", "exit 3"}, Options{Timeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrCommandFailed))
	var cmdErr *apperr.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
}

func TestRun_Timeout(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), "sleep", []string{"5"}, Options{Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrCommandTimeout))
}

func TestRunStreaming_EmitsLines(t *testing.T) {
	e := New()
	var lines []string
	err := e.RunStreaming(context.Background(), "printf", []string{"a\\nb\\n"}, Options{Timeout: time.Second}, func(l string) {
		lines = append(lines, l)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}
