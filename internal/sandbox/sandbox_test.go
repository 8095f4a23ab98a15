package sandbox

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/internal/tools"
)

func requireInterpreter(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available on this host", name)
	}
}

func TestExecuteCodeRunsPython(t *testing.T) {
	requireInterpreter(t, "python3")

	reg := tools.NewRegistry()
	require.NoError(t, New(Config{}).Register(reg))

	out := reg.Dispatch(context.Background(), "execute_code", []byte(`{"code":"print('hi')","language":"python"}`))
	assert.Contains(t, out, "hi")
}

func TestExecuteCodeCapturesStderr(t *testing.T) {
	requireInterpreter(t, "python3")

	reg := tools.NewRegistry()
	require.NoError(t, New(Config{}).Register(reg))

	out := reg.Dispatch(context.Background(), "execute_code",
		[]byte(`{"code":"import sys; sys.stderr.write('boom')","language":"python"}`))
	assert.Contains(t, out, "boom")
}

func TestExecuteCodeRejectsUnsupportedLanguage(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, New(Config{}).Register(reg))

	out := reg.Dispatch(context.Background(), "execute_code", []byte(`{"code":"1","language":"ruby"}`))
	assert.Contains(t, out, "error")
}

func TestPrepareInterpreterRejectsUnknownLanguage(t *testing.T) {
	_, _, _, err := prepareInterpreter(Language("ruby"), "puts 1")
	assert.Error(t, err)
}

func TestNewFillsDefaults(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, int64(defaultMemoryMB), s.memoryMB)
	assert.Equal(t, defaultCPUQuota, s.cpuQuota)
	assert.Equal(t, defaultTimeout, s.timeout)
}
