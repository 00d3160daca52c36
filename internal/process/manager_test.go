package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	m := NewManager(dir)

	assert.Zero(t, m.ReadPID())
	assert.False(t, m.IsRunning())

	require.NoError(t, m.WritePID())
	assert.Equal(t, os.Getpid(), m.ReadPID())
	assert.True(t, m.IsRunning())

	require.NoError(t, m.CleanupPID())
	assert.Zero(t, m.ReadPID())
	require.NoError(t, m.CleanupPID())
}

func TestIsRunningRemovesStalePID(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	// PIDs are capped well below this on every supported platform.
	require.NoError(t, os.WriteFile(filepath.Join(dir, PIDFilename), []byte("99999999"), 0o600))

	assert.False(t, m.IsRunning())
	_, err := os.Stat(filepath.Join(dir, PIDFilename))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInvalidPIDFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PIDFilename), []byte("not-a-pid"), 0o600))

	assert.Zero(t, NewManager(dir).ReadPID())
}

func TestRefCounting(t *testing.T) {
	m := NewManager(t.TempDir())

	require.NoError(t, m.IncrementRef())
	require.NoError(t, m.IncrementRef())
	assert.Equal(t, 2, m.ReadRef())

	remaining, err := m.DecrementRef()
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = m.DecrementRef()
	require.NoError(t, err)
	assert.Zero(t, remaining)

	remaining, err = m.DecrementRef()
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.NoError(t, m.CleanupRef())
	assert.Zero(t, m.ReadRef())
}

func TestStartServiceIfNeeded(t *testing.T) {
	t.Run("already running", func(t *testing.T) {
		m := NewManager(t.TempDir())
		require.NoError(t, m.WritePID())
		m.Command = func() *exec.Cmd {
			t.Fatal("must not spawn")
			return nil
		}

		started, err := m.StartServiceIfNeeded()
		require.NoError(t, err)
		assert.False(t, started)
	})

	t.Run("spawn failure", func(t *testing.T) {
		m := NewManager(t.TempDir())
		m.Command = func() *exec.Cmd { return exec.Command(filepath.Join(t.TempDir(), "missing-binary")) }

		started, err := m.StartServiceIfNeeded()
		assert.Error(t, err)
		assert.False(t, started)
	})
}
