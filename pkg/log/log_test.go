package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit_RejectsUnknownLevel(t *testing.T) {
	err := Init(Config{Level: "verbose", Output: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestInit_EmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Output: &buf}))

	Logger.Debug().Msg("should not appear")
	Logger.Info().Msg("should appear")

	require.NotContains(t, buf.String(), "should not appear")
	require.Contains(t, buf.String(), "should appear")
}

func TestWithComponent_PreservesBaseFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{JSONOutput: true, Output: &buf}))

	base := WithWorkerID("worker-7")
	scoped := WithComponent(base, "manager")
	scoped.Info().Msg("hello")

	out := buf.String()
	require.Contains(t, out, `"worker_id":"worker-7"`)
	require.Contains(t, out, `"component":"manager"`)
}

func TestWithVmID_DoesNotMutateBase(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{JSONOutput: true, Output: &buf}))

	base := WithComponent(WithWorkerID("worker-1"), "manager")
	scoped := WithVmID(base, "vm-123")
	scoped.Info().Msg("scoped")
	buf.Reset()
	base.Info().Msg("unscoped")

	require.NotContains(t, buf.String(), "vm-123")
	require.Contains(t, buf.String(), `"component":"manager"`)
}
